// manager_test.go: Tests for CLI command routing and helpers
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/agilira/charybdis"
	"github.com/godbus/dbus/v5/introspect"
)

func TestNewManager(t *testing.T) {
	m := NewManager()
	if m == nil || m.app == nil {
		t.Fatal("NewManager returned incomplete manager")
	}
}

func TestInfoCommand(t *testing.T) {
	m := NewManager()
	if err := m.Run([]string{"info"}); err != nil {
		t.Fatalf("info failed: %v", err)
	}
}

func TestFuzzCommandRejectsMissingArgs(t *testing.T) {
	m := NewManager()
	err := m.Run([]string{"fuzz", "org.example.Daemon"})
	if err == nil {
		t.Fatal("fuzz with missing args accepted")
	}
}

func TestMethodInputSignature(t *testing.T) {
	m := introspect.Method{
		Name: "Configure",
		Args: []introspect.Arg{
			{Type: "s", Direction: "in"},
			{Type: "a{sv}", Direction: "in"},
			{Type: "b", Direction: "out"},
			{Type: "u"},
		},
	}
	if got := methodInputSignature(m); got != "sa{sv}u" {
		t.Fatalf("got %q, want sa{sv}u", got)
	}
}

func TestReportResults(t *testing.T) {
	var out bytes.Buffer
	results := []charybdis.MemberResult{
		{Member: "Fine", Outcome: charybdis.OutcomeCompleted, Iterations: 100},
		{Member: "Skipped", Outcome: charybdis.OutcomeSuppressed},
		{Member: "Boom", Outcome: charybdis.OutcomeDisconnected, Iterations: 6},
	}

	err := reportResults(results, &out)
	if err == nil {
		t.Fatal("a disconnect finding must fail the command")
	}
	if !charybdis.IsDisconnected(err) {
		t.Fatalf("err = %v, want disconnect classification", err)
	}

	text := out.String()
	for _, want := range []string{"Fine", "Skipped", "Boom", "completed", "suppressed", "disconnected"} {
		if !strings.Contains(text, want) {
			t.Errorf("summary missing %q:\n%s", want, text)
		}
	}
}

func TestReportResultsCleanRun(t *testing.T) {
	var out bytes.Buffer
	results := []charybdis.MemberResult{
		{Member: "Fine", Outcome: charybdis.OutcomeCompleted, Iterations: 10},
		{Member: "Stopped", Outcome: charybdis.OutcomeCancelled, Iterations: 4},
	}
	if err := reportResults(results, &out); err != nil {
		t.Fatalf("clean run reported failure: %v", err)
	}
}
