// session.go: Fuzz session controller
//
// A Session drives the generate/invoke/classify loop for one member of
// the target interface. The model is strictly single-threaded and
// synchronous: one in-flight call at a time, value i fully formed before
// call i is issued, call i classified before value i+1 is generated, so
// every log entry is attributable to exactly one call. Cancellation is
// cooperative via context, polled once per completed iteration and never
// mid-call.
//
// A Runner sequences sessions over every method (and, when enabled,
// every writable property) of an interface. Failures local to one member
// never abort the run; a target disconnect does, since there is nothing
// left to call.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package charybdis

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/agilira/go-errors"
	"github.com/agilira/go-timecache"
)

// Outcome classifies how testing of one member ended.
type Outcome int

const (
	// OutcomeSuppressed means a suppression rule matched; no call was made.
	OutcomeSuppressed Outcome = iota
	// OutcomeCancelled means the run was cancelled; a normal termination.
	OutcomeCancelled
	// OutcomeDisconnected means the target stopped responding on the bus
	// mid-loop. This is the finding the fuzzer exists to surface.
	OutcomeDisconnected
	// OutcomeGenerationError means argument values could not be produced.
	OutcomeGenerationError
	// OutcomeCallFailed means the transport failed in a way that is not a
	// target disconnect.
	OutcomeCallFailed
	// OutcomeCompleted means the configured iteration bound was reached.
	OutcomeCompleted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuppressed:
		return "suppressed"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeDisconnected:
		return "disconnected"
	case OutcomeGenerationError:
		return "generation-error"
	case OutcomeCallFailed:
		return "call-failed"
	case OutcomeCompleted:
		return "completed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// MethodDescriptor is one callable method of the target interface, as
// reported by introspection.
type MethodDescriptor struct {
	Name string
	// Inputs holds one parsed node per "in" argument, in declaration order.
	Inputs []SigNode
	// Signature is the concatenated input signature string, kept for logs.
	Signature string
	HasOutput bool
	// ParseErr marks a method whose declared signature did not parse. The
	// method is reported and skipped; it cannot be called without values.
	ParseErr error
}

// PropertyDescriptor is one property of the target interface.
type PropertyDescriptor struct {
	Name      string
	Type      SigNode
	Signature string
	Writable  bool
	ParseErr  error
}

// Caller dispatches one synchronous call to the target. Implementations
// must return an error carrying ErrCodeTargetDisconnected when the target
// is no longer reachable on the bus, so the session can tell a crashed
// target from an ordinary failure.
type Caller interface {
	Call(ctx context.Context, member string, args []interface{}) error
}

// RunLog is the append-only textual log of one run, flushed to a writer
// when a session (or the whole run) finishes.
type RunLog struct {
	buf bytes.Buffer
}

// NewRunLog returns an empty run log.
func NewRunLog() *RunLog { return &RunLog{} }

// Logf appends one timestamped line.
func (l *RunLog) Logf(format string, args ...interface{}) {
	l.buf.WriteString(timecache.CachedTime().Format("2006-01-02 15:04:05.000"))
	l.buf.WriteByte(' ')
	fmt.Fprintf(&l.buf, format, args...)
	l.buf.WriteByte('\n')
}

// Len returns the buffered size in bytes.
func (l *RunLog) Len() int { return l.buf.Len() }

// String returns the buffered log text.
func (l *RunLog) String() string { return l.buf.String() }

// Flush writes the buffered log to w and resets the buffer.
func (l *RunLog) Flush(w io.Writer) error {
	if w == nil || l.buf.Len() == 0 {
		l.buf.Reset()
		return nil
	}
	_, err := w.Write(l.buf.Bytes())
	l.buf.Reset()
	return err
}

// Session tests one member of the target interface.
type Session struct {
	Object    string
	Interface string
	Member    string
	Inputs    []SigNode
	Signature string

	State  *GeneratorState
	Caller Caller
	Rules  Rules
	Log    *RunLog

	// Monitor is optional; without it no memory checks run.
	Monitor *Monitor
	// Audit is optional; findings are still always written to Log.
	Audit *AuditLogger

	// MaxIterations bounds the loop; 0 runs until disconnect or cancel.
	MaxIterations uint64

	iterations uint64
}

// Iterations returns the number of successfully completed iterations.
func (s *Session) Iterations() uint64 { return s.iterations }

// Run executes the fuzz loop for the session's member until suppression,
// cancellation, disconnect, a member-fatal error or the iteration bound.
// The returned error carries the classification detail for outcomes
// OutcomeDisconnected, OutcomeGenerationError and OutcomeCallFailed.
func (s *Session) Run(ctx context.Context) (Outcome, error) {
	if rule, ok := s.Rules.Match(s.Object, s.Interface, s.Member); ok {
		if rule.Description != "" {
			s.Log.Logf("SKIP %s.%s suppressed: %s", s.Interface, s.Member, rule.Description)
		} else {
			s.Log.Logf("SKIP %s.%s suppressed", s.Interface, s.Member)
		}
		if s.Audit != nil {
			s.Audit.LogSuppressed(s.Object, s.Interface, s.Member, rule.Description)
		}
		return OutcomeSuppressed, nil
	}

	s.Log.Logf("FUZZ %s.%s(%s) on %s", s.Interface, s.Member, s.Signature, s.Object)

	for {
		if ctx.Err() != nil {
			s.Log.Logf("STOP %s.%s cancelled after %d iterations", s.Interface, s.Member, s.iterations)
			return OutcomeCancelled, nil
		}
		if s.MaxIterations > 0 && s.iterations >= s.MaxIterations {
			s.Log.Logf("DONE %s.%s after %d iterations", s.Interface, s.Member, s.iterations)
			return OutcomeCompleted, nil
		}

		args, err := s.State.GenerateArgs(s.Inputs)
		if err != nil {
			s.Log.Logf("FAIL %s.%s value generation: %v", s.Interface, s.Member, err)
			if s.Audit != nil {
				s.Audit.LogGenerationFailure(s.Object, s.Interface, s.Member, err)
			}
			return OutcomeGenerationError, err
		}

		callErr := s.Caller.Call(ctx, s.Member, args)
		if callErr != nil {
			// A call aborted by our own cancellation is not a finding.
			if ctx.Err() != nil {
				s.Log.Logf("STOP %s.%s cancelled after %d iterations", s.Interface, s.Member, s.iterations)
				return OutcomeCancelled, nil
			}
			if IsDisconnected(callErr) {
				s.Log.Logf("HIT  %s.%s target disconnected on iteration %d, args: %s",
					s.Interface, s.Member, s.iterations+1, formatArgs(args))
				if s.Audit != nil {
					s.Audit.LogDisconnected(s.Object, s.Interface, s.Member, s.iterations+1, formatArgs(args))
				}
				return OutcomeDisconnected, callErr
			}
			s.Log.Logf("FAIL %s.%s call failed on iteration %d: %v",
				s.Interface, s.Member, s.iterations+1, callErr)
			return OutcomeCallFailed, errors.Wrap(callErr, ErrCodeCallFailed, "dispatching call")
		}

		s.iterations++
		s.Log.Logf("call %d %s.%s ok", s.iterations, s.Interface, s.Member)

		if s.Monitor != nil {
			kb, err := s.Monitor.Sample()
			if err != nil {
				// A failed sample skips this iteration's memory check only.
				s.Log.Logf("WARN memory sample failed: %v", err)
			} else if s.Monitor.Exceeds(kb) {
				s.Log.Logf("MEM  %s.%s target at %d kB exceeds limit %d kB on iteration %d",
					s.Interface, s.Member, kb, s.Monitor.Limit(), s.iterations)
				if s.Audit != nil {
					s.Audit.LogMemoryExceeded(s.Object, s.Interface, s.Member, s.iterations, kb, s.Monitor.Limit())
				}
				s.Monitor.EscalateLimit()
			}
		}
	}
}

// maxLoggedArg caps how much of one argument value is rendered into the
// log; generated strings run to tens of kilobytes.
const maxLoggedArg = 256

func formatArgs(args []interface{}) string {
	var b bytes.Buffer
	b.WriteByte('(')
	for i, a := range args {
		if i > 0 {
			b.WriteString(", ")
		}
		s := fmt.Sprintf("%+v", a)
		if len(s) > maxLoggedArg {
			s = fmt.Sprintf("%s... [%d bytes]", s[:maxLoggedArg], len(s))
		}
		b.WriteString(s)
	}
	b.WriteByte(')')
	return b.String()
}

// MemberResult records how testing of one member ended.
type MemberResult struct {
	Member     string
	Outcome    Outcome
	Iterations uint64
	Err        error
}

// Runner sequences fuzz sessions over all methods, and optionally all
// writable properties, of one interface.
type Runner struct {
	Service   string
	Object    string
	Interface string

	Methods    []MethodDescriptor
	Properties []PropertyDescriptor

	State  *GeneratorState
	Caller Caller
	// PropertySetter dispatches property writes; nil disables property
	// fuzzing.
	PropertySetter Caller

	Rules   Rules
	Monitor *Monitor
	Audit   *AuditLogger

	// LogWriter receives each session's flushed log; nil discards.
	LogWriter io.Writer

	// MaxIterations bounds each member's loop; 0 is unbounded.
	MaxIterations uint64
}

// Run tests every method, then every writable property, in declaration
// order. Member-local failures are recorded and the run continues; a
// disconnect or cancellation stops the run, since no further member can
// be tested.
func (r *Runner) Run(ctx context.Context) []MemberResult {
	results := make([]MemberResult, 0, len(r.Methods)+len(r.Properties))

	for _, m := range r.Methods {
		if m.ParseErr != nil {
			results = append(results, r.skipUnparsable(m.Name, m.ParseErr))
			continue
		}
		res := r.runMember(ctx, m.Name, m.Inputs, m.Signature, r.Caller)
		results = append(results, res)
		if res.Outcome == OutcomeDisconnected || res.Outcome == OutcomeCancelled {
			return results
		}
	}

	if r.PropertySetter != nil {
		for _, p := range r.Properties {
			if !p.Writable {
				continue
			}
			if p.ParseErr != nil {
				results = append(results, r.skipUnparsable(p.Name, p.ParseErr))
				continue
			}
			res := r.runMember(ctx, p.Name, []SigNode{p.Type}, p.Signature, r.PropertySetter)
			results = append(results, res)
			if res.Outcome == OutcomeDisconnected || res.Outcome == OutcomeCancelled {
				return results
			}
		}
	}
	return results
}

// skipUnparsable records a member whose signature did not parse. Fatal to
// that member only: the run moves on.
func (r *Runner) skipUnparsable(name string, parseErr error) MemberResult {
	log := NewRunLog()
	log.Logf("FAIL %s.%s signature unusable: %v", r.Interface, name, parseErr)
	_ = log.Flush(r.LogWriter)
	if r.Audit != nil {
		r.Audit.LogGenerationFailure(r.Object, r.Interface, name, parseErr)
	}
	return MemberResult{Member: name, Outcome: OutcomeGenerationError, Err: parseErr}
}

func (r *Runner) runMember(ctx context.Context, name string, inputs []SigNode, sig string, caller Caller) MemberResult {
	s := &Session{
		Object:        r.Object,
		Interface:     r.Interface,
		Member:        name,
		Inputs:        inputs,
		Signature:     sig,
		State:         r.State,
		Caller:        caller,
		Rules:         r.Rules,
		Log:           NewRunLog(),
		Monitor:       r.Monitor,
		Audit:         r.Audit,
		MaxIterations: r.MaxIterations,
	}

	outcome, err := s.Run(ctx)
	if flushErr := s.Log.Flush(r.LogWriter); flushErr != nil && err == nil {
		err = flushErr
	}
	return MemberResult{
		Member:     name,
		Outcome:    outcome,
		Iterations: s.Iterations(),
		Err:        err,
	}
}
