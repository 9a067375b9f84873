// utils.go: Shared helpers for the charybdis CLI
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/agilira/charybdis"
	"github.com/agilira/go-errors"
	"github.com/godbus/dbus/v5/introspect"
)

// openLogWriter opens the run log destination: stdout when path is empty,
// an append-mode file otherwise. The returned func closes the file.
func openLogWriter(path string) (io.Writer, func(), error) {
	if path == "" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, errors.Wrap(err, charybdis.ErrCodeInvalidConfig, "opening log file")
	}
	return f, func() { _ = f.Close() }, nil
}

// methodInputSignature concatenates a method's "in" argument types.
func methodInputSignature(m introspect.Method) string {
	var b strings.Builder
	for _, arg := range m.Args {
		if arg.Direction == "out" {
			continue
		}
		b.WriteString(arg.Type)
	}
	return b.String()
}

// reportResults prints the per-member summary and turns findings into the
// process exit status: a disconnected target makes the command fail.
func reportResults(results []charybdis.MemberResult, w io.Writer) error {
	var finding *charybdis.MemberResult
	for i := range results {
		r := results[i]
		switch r.Outcome {
		case charybdis.OutcomeDisconnected:
			finding = &results[i]
			fmt.Fprintf(w, "RESULT %-9s %s after %d iterations\n", r.Outcome, r.Member, r.Iterations)
		case charybdis.OutcomeGenerationError, charybdis.OutcomeCallFailed:
			fmt.Fprintf(w, "RESULT %-9s %s: %v\n", r.Outcome, r.Member, r.Err)
		default:
			fmt.Fprintf(w, "RESULT %-9s %s (%d iterations)\n", r.Outcome, r.Member, r.Iterations)
		}
	}

	if finding != nil {
		return errors.New(charybdis.ErrCodeTargetDisconnected,
			fmt.Sprintf("target disconnected while fuzzing %s", finding.Member))
	}
	return nil
}
