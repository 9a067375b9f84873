// session_test.go: Tests for the fuzz session controller
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package charybdis

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/agilira/go-errors"
)

// scriptedCaller counts calls and fails on a chosen one.
type scriptedCaller struct {
	calls       int
	failOn      int
	failErr     error
	cancelAfter int
	cancel      context.CancelFunc
}

func (c *scriptedCaller) Call(ctx context.Context, member string, args []interface{}) error {
	c.calls++
	if c.cancelAfter > 0 && c.calls >= c.cancelAfter {
		c.cancel()
	}
	if c.failOn > 0 && c.calls == c.failOn {
		return c.failErr
	}
	return nil
}

func newTestSession(t *testing.T, caller Caller) *Session {
	t.Helper()
	inputs, err := ParseSignature("is")
	if err != nil {
		t.Fatalf("ParseSignature failed: %v", err)
	}
	return &Session{
		Object:    "/org/example/Obj",
		Interface: "org.example.Iface",
		Member:    "Method",
		Inputs:    inputs,
		Signature: "is",
		State:     NewSeededGeneratorState(GeneratorConfig{}, 42),
		Caller:    caller,
		Log:       NewRunLog(),
	}
}

// A disconnect on the 7th call terminates the session in Disconnected
// after exactly 6 completed iterations.
func TestSessionDisconnectOnSeventhCall(t *testing.T) {
	caller := &scriptedCaller{
		failOn:  7,
		failErr: errors.New(ErrCodeTargetDisconnected, "target gone"),
	}
	s := newTestSession(t, caller)

	outcome, err := s.Run(context.Background())
	if outcome != OutcomeDisconnected {
		t.Fatalf("outcome = %v, want disconnected", outcome)
	}
	if !IsDisconnected(err) {
		t.Fatalf("err = %v, want disconnect classification", err)
	}
	if s.Iterations() != 6 {
		t.Fatalf("iterations = %d, want 6", s.Iterations())
	}
	if !strings.Contains(s.Log.String(), "HIT") {
		t.Error("disconnect finding missing from log")
	}
	if !strings.Contains(s.Log.String(), "iteration 7") {
		t.Error("finding does not name the fatal iteration")
	}
}

func TestSessionSuppressed(t *testing.T) {
	caller := &scriptedCaller{}
	s := newTestSession(t, caller)
	s.Rules = Rules{{Description: "known bad"}}

	outcome, err := s.Run(context.Background())
	if outcome != OutcomeSuppressed || err != nil {
		t.Fatalf("outcome = %v, err = %v, want suppressed", outcome, err)
	}
	if caller.calls != 0 {
		t.Fatalf("suppressed member was called %d times", caller.calls)
	}
	if !strings.Contains(s.Log.String(), "known bad") {
		t.Error("suppression description missing from log")
	}
}

func TestSessionCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	caller := &scriptedCaller{cancelAfter: 3, cancel: cancel}
	s := newTestSession(t, caller)

	outcome, err := s.Run(ctx)
	if outcome != OutcomeCancelled || err != nil {
		t.Fatalf("outcome = %v, err = %v, want cancelled", outcome, err)
	}
	// Cancellation is polled per completed iteration, never mid-call.
	if s.Iterations() != 3 {
		t.Fatalf("iterations = %d, want 3", s.Iterations())
	}
}

func TestSessionIterationBound(t *testing.T) {
	caller := &scriptedCaller{}
	s := newTestSession(t, caller)
	s.MaxIterations = 5

	outcome, err := s.Run(context.Background())
	if outcome != OutcomeCompleted || err != nil {
		t.Fatalf("outcome = %v, err = %v, want completed", outcome, err)
	}
	if caller.calls != 5 {
		t.Fatalf("calls = %d, want 5", caller.calls)
	}
}

func TestSessionGenerationError(t *testing.T) {
	caller := &scriptedCaller{}
	s := newTestSession(t, caller)
	s.Inputs = []SigNode{DictEntryNode{Key: BasicNode{Code: TypeString}, Value: BasicNode{Code: TypeInt32}}}

	outcome, err := s.Run(context.Background())
	if outcome != OutcomeGenerationError {
		t.Fatalf("outcome = %v, want generation error", outcome)
	}
	if ErrorCode(err) != ErrCodeGeneration {
		t.Fatalf("error code = %q, want %q", ErrorCode(err), ErrCodeGeneration)
	}
	if caller.calls != 0 {
		t.Fatalf("call issued without generated values")
	}
}

func TestSessionCallFailed(t *testing.T) {
	caller := &scriptedCaller{
		failOn:  2,
		failErr: errors.New(ErrCodeBus, "transport hiccup"),
	}
	s := newTestSession(t, caller)

	outcome, err := s.Run(context.Background())
	if outcome != OutcomeCallFailed {
		t.Fatalf("outcome = %v, want call failed", outcome)
	}
	if ErrorCode(err) != ErrCodeCallFailed {
		t.Fatalf("error code = %q, want %q", ErrorCode(err), ErrCodeCallFailed)
	}
	if s.Iterations() != 1 {
		t.Fatalf("iterations = %d, want 1", s.Iterations())
	}
}

func TestSessionMemoryAnomaly(t *testing.T) {
	m := NewMonitor(newFakeStatus("100", "100", "400"))
	if err := m.Prime(0); err != nil {
		t.Fatalf("Prime failed: %v", err)
	}

	s := newTestSession(t, &scriptedCaller{})
	s.Monitor = m
	s.MaxIterations = 2

	outcome, err := s.Run(context.Background())
	if outcome != OutcomeCompleted || err != nil {
		t.Fatalf("outcome = %v, err = %v, want completed", outcome, err)
	}
	log := s.Log.String()
	if !strings.Contains(log, "MEM") {
		t.Error("memory anomaly missing from log")
	}
	if !strings.Contains(log, "400 kB") {
		t.Error("anomaly entry does not name the sample")
	}
	// The limit re-escalates after a breach so the log is not flooded.
	if m.Limit() != 900 {
		t.Errorf("limit after breach = %d, want 900", m.Limit())
	}
}

func TestSessionMonitorErrorIsNonFatal(t *testing.T) {
	// One good sample for priming, then the source goes quiet: each
	// failed sample logs a warning and the loop keeps going.
	m := NewMonitor(newFakeStatus("100"))
	if err := m.Prime(0); err != nil {
		t.Fatalf("Prime failed: %v", err)
	}

	s := newTestSession(t, &scriptedCaller{})
	s.Monitor = m
	s.MaxIterations = 3

	outcome, err := s.Run(context.Background())
	if outcome != OutcomeCompleted || err != nil {
		t.Fatalf("outcome = %v, err = %v, want completed", outcome, err)
	}
	if s.Iterations() != 3 {
		t.Fatalf("iterations = %d, want 3", s.Iterations())
	}
	if !strings.Contains(s.Log.String(), "WARN") {
		t.Error("failed samples left no warning in log")
	}
}

func TestRunnerStopsOnDisconnect(t *testing.T) {
	inputs, err := ParseSignature("i")
	if err != nil {
		t.Fatalf("ParseSignature failed: %v", err)
	}

	var out bytes.Buffer
	r := &Runner{
		Service:   "org.example.Daemon",
		Object:    "/org/example/Obj",
		Interface: "org.example.Iface",
		Methods: []MethodDescriptor{
			{Name: "First", Inputs: inputs, Signature: "i"},
			{Name: "Second", Inputs: inputs, Signature: "i"},
			{Name: "Never", Inputs: inputs, Signature: "i"},
		},
		State: NewSeededGeneratorState(GeneratorConfig{}, 42),
		Caller: &scriptedCaller{
			// First completes its 2 iterations; Second dies on its first call.
			failOn:  3,
			failErr: errors.New(ErrCodeTargetDisconnected, "target gone"),
		},
		LogWriter:     &out,
		MaxIterations: 2,
	}

	results := r.Run(context.Background())
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2 (run must stop on disconnect)", len(results))
	}
	if results[0].Outcome != OutcomeCompleted || results[0].Iterations != 2 {
		t.Fatalf("First: %+v", results[0])
	}
	if results[1].Outcome != OutcomeDisconnected || results[1].Iterations != 0 {
		t.Fatalf("Second: %+v", results[1])
	}
	if !strings.Contains(out.String(), "HIT") {
		t.Error("flushed log missing the finding")
	}
}

func TestRunnerFuzzesWritableProperties(t *testing.T) {
	setter := &scriptedCaller{}
	r := &Runner{
		Service:   "org.example.Daemon",
		Object:    "/org/example/Obj",
		Interface: "org.example.Iface",
		Properties: []PropertyDescriptor{
			{Name: "Writable", Type: BasicNode{Code: TypeString}, Signature: "s", Writable: true},
			{Name: "ReadOnly", Type: BasicNode{Code: TypeInt32}, Signature: "i", Writable: false},
		},
		State:          NewSeededGeneratorState(GeneratorConfig{}, 42),
		Caller:         &scriptedCaller{},
		PropertySetter: setter,
		MaxIterations:  2,
	}

	results := r.Run(context.Background())
	if len(results) != 1 {
		t.Fatalf("got %d results, want only the writable property", len(results))
	}
	if results[0].Member != "Writable" || results[0].Outcome != OutcomeCompleted {
		t.Fatalf("result: %+v", results[0])
	}
	if setter.calls != 2 {
		t.Fatalf("setter called %d times, want 2", setter.calls)
	}
}

func TestRunnerContinuesAfterMemberError(t *testing.T) {
	badInputs := []SigNode{DictEntryNode{Key: BasicNode{Code: TypeString}, Value: BasicNode{Code: TypeInt32}}}
	goodInputs, err := ParseSignature("i")
	if err != nil {
		t.Fatalf("ParseSignature failed: %v", err)
	}

	r := &Runner{
		Service:   "org.example.Daemon",
		Object:    "/org/example/Obj",
		Interface: "org.example.Iface",
		Methods: []MethodDescriptor{
			{Name: "Broken", Inputs: badInputs, Signature: "{si}"},
			{Name: "Fine", Inputs: goodInputs, Signature: "i"},
		},
		State:         NewSeededGeneratorState(GeneratorConfig{}, 42),
		Caller:        &scriptedCaller{},
		MaxIterations: 1,
	}

	results := r.Run(context.Background())
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2 (member errors must not abort the run)", len(results))
	}
	if results[0].Outcome != OutcomeGenerationError {
		t.Fatalf("Broken: %+v", results[0])
	}
	if results[1].Outcome != OutcomeCompleted {
		t.Fatalf("Fine: %+v", results[1])
	}
}
