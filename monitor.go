// monitor.go: Target process resident-memory monitoring
//
// The monitor samples the fuzz target's VmRSS from a process status
// source (normally /proc/<pid>/status, an io.ReadSeeker so the same
// handle is rewound and re-read between samples). The first sample taken
// before fuzzing starts is the baseline; unless the operator supplies an
// explicit limit, the working limit is three times that baseline.
// Exceeding the limit is a reportable finding, never fatal: after each
// breach the limit triples again so the log records the growth curve
// instead of flooding.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package charybdis

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/agilira/go-errors"
)

// memoryLimitFactor scales the baseline into the default limit, and
// re-scales the limit after every breach.
const memoryLimitFactor = 3

// Monitor samples resident memory from a process status source. Not safe
// for concurrent use.
type Monitor struct {
	status   io.ReadSeeker
	baseline int64
	limit    int64
	primed   bool
}

// NewMonitor wraps an open process status source, normally the target's
// /proc/<pid>/status file.
func NewMonitor(status io.ReadSeeker) *Monitor {
	return &Monitor{status: status}
}

// Sample reads the target's current resident memory in kilobytes. The
// whole source is drained on every call, so a VmRSS line split across
// underlying reads is still found. Fails explicitly when the field is
// absent or the source is unreadable; it never reports a stale value.
func (m *Monitor) Sample() (int64, error) {
	if _, err := m.status.Seek(0, io.SeekStart); err != nil {
		return 0, errors.Wrap(err, ErrCodeMonitor, "rewinding process status")
	}
	data, err := io.ReadAll(m.status)
	if err != nil {
		return 0, errors.Wrap(err, ErrCodeMonitor, "reading process status")
	}

	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "VmRSS:") {
			continue
		}
		fields := strings.Fields(line[len("VmRSS:"):])
		if len(fields) == 0 {
			break
		}
		kb, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return 0, errors.Wrap(err, ErrCodeMonitor,
				fmt.Sprintf("malformed VmRSS field %q", fields[0]))
		}
		return kb, nil
	}
	return 0, errors.New(ErrCodeMonitor, "VmRSS field not found in process status")
}

// Prime takes the pre-run baseline sample and fixes the working limit:
// explicitLimitKB when it exceeds the baseline, three times the baseline
// otherwise. Must be called once before fuzzing begins.
func (m *Monitor) Prime(explicitLimitKB int64) error {
	kb, err := m.Sample()
	if err != nil {
		return err
	}
	m.baseline = kb
	if explicitLimitKB > kb {
		m.limit = explicitLimitKB
	} else {
		m.limit = kb * memoryLimitFactor
	}
	m.primed = true
	return nil
}

// Baseline returns the pre-run sample taken by Prime.
func (m *Monitor) Baseline() int64 { return m.baseline }

// Limit returns the current working limit in kilobytes.
func (m *Monitor) Limit() int64 { return m.limit }

// Exceeds reports whether a sample breaches the current limit. Always
// false before Prime.
func (m *Monitor) Exceeds(kb int64) bool {
	return m.primed && kb >= m.limit
}

// EscalateLimit triples the working limit after a reported breach.
func (m *Monitor) EscalateLimit() {
	m.limit *= memoryLimitFactor
}
