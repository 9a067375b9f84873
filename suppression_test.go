// suppression_test.go: Tests for suppression rule loading and matching
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package charybdis

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRulesMatchWildcards(t *testing.T) {
	allWild := Rules{{Description: "everything"}}

	targets := [][3]string{
		{"/", "org.example.Iface", "Method"},
		{"/com/example/Obj", "com.example.Other", "Anything"},
		{"", "", ""},
	}
	for _, tgt := range targets {
		rule, ok := allWild.Match(tgt[0], tgt[1], tgt[2])
		if !ok {
			t.Fatalf("all-wildcard rule missed %v", tgt)
		}
		if rule.Description != "everything" {
			t.Fatalf("wrong rule matched: %+v", rule)
		}
	}
}

func TestRulesMatchExactFields(t *testing.T) {
	rs := Rules{{
		Interface: "org.example.Iface",
		Method:    "Method",
	}}

	if _, ok := rs.Match("/any/object", "org.example.Iface", "Method"); !ok {
		t.Error("rule with wildcard object should match any object")
	}
	if _, ok := rs.Match("/any/object", "org.example.Other", "Method"); ok {
		t.Error("interface mismatch matched")
	}
	if _, ok := rs.Match("/any/object", "org.example.Iface", "Other"); ok {
		t.Error("method mismatch matched")
	}
	if _, ok := rs.Match("/any/object", "org.example.iface", "Method"); ok {
		t.Error("matching is case-sensitive")
	}
}

func TestRulesMatchFirstWins(t *testing.T) {
	rs := Rules{
		{Method: "Halt", Description: "first"},
		{Method: "Halt", Description: "second"},
	}
	rule, ok := rs.Match("/", "any.Iface", "Halt")
	if !ok || rule.Description != "first" {
		t.Fatalf("got %+v, want first rule", rule)
	}
}

func TestParseSuppressionsSections(t *testing.T) {
	conf := `# fleet-wide suppressions
[org.example.Daemon]
:org.example.Iface:Method some note
Halt known to stop the host
/obj/path:com.example.X:Slow takes minutes

[org.other.Daemon]
Reboot
`

	rules, err := ParseSuppressions(strings.NewReader(conf), "org.example.Daemon")
	if err != nil {
		t.Fatalf("ParseSuppressions failed: %v", err)
	}
	if len(rules) != 3 {
		t.Fatalf("got %d rules, want 3", len(rules))
	}

	// ":org.example.Iface:Method some note" wildcards the object.
	rule, ok := rules.Match("/whatever", "org.example.Iface", "Method")
	if !ok {
		t.Fatal("colon-prefixed rule did not match")
	}
	if rule.Object != "" || rule.Interface != "org.example.Iface" || rule.Method != "Method" {
		t.Fatalf("parsed fields wrong: %+v", rule)
	}
	if rule.Description != "some note" {
		t.Fatalf("description = %q, want %q", rule.Description, "some note")
	}

	// Bare method name wildcards object and interface.
	if _, ok := rules.Match("/x", "any.Iface", "Halt"); !ok {
		t.Error("bare method rule did not match")
	}

	// Fully qualified rule matches only its own object.
	if _, ok := rules.Match("/obj/path", "com.example.X", "Slow"); !ok {
		t.Error("fully qualified rule did not match")
	}
	if _, ok := rules.Match("/other", "com.example.X", "Slow"); ok {
		t.Error("fully qualified rule matched wrong object")
	}

	// Rules from the other section must not leak in.
	if _, ok := rules.Match("/x", "any.Iface", "Reboot"); ok {
		t.Error("rule from foreign section matched")
	}
}

func TestParseSuppressionsNoSection(t *testing.T) {
	conf := "[org.other.Daemon]\nHalt\n"
	rules, err := ParseSuppressions(strings.NewReader(conf), "org.example.Daemon")
	if err != nil {
		t.Fatalf("ParseSuppressions failed: %v", err)
	}
	if len(rules) != 0 {
		t.Fatalf("got %d rules, want none", len(rules))
	}
}

func TestParseSuppressionsRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		conf string
	}{
		{"TooManyColons", "[svc]\na:b:c:d\n"},
		{"UnterminatedHeader", "[svc\nHalt\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSuppressions(strings.NewReader(tt.conf), "svc")
			if err == nil {
				t.Fatal("malformed input accepted")
			}
			if code := ErrorCode(err); code != ErrCodeSuppression {
				t.Errorf("error code = %q, want %q", code, ErrCodeSuppression)
			}
		})
	}
}

func TestLoadSuppressionsExplicitPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "charybdis.conf")
	conf := "[org.example.Daemon]\n:org.example.Iface:Method some note\n"
	if err := os.WriteFile(path, []byte(conf), 0o600); err != nil {
		t.Fatalf("writing temp file: %v", err)
	}

	rules, err := LoadSuppressions("org.example.Daemon", path)
	if err != nil {
		t.Fatalf("LoadSuppressions failed: %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("got %d rules, want 1", len(rules))
	}
	if _, ok := rules.Match("", "org.example.Iface", "Method"); !ok {
		t.Error("loaded rule did not match")
	}
}

func TestLoadSuppressionsMissingExplicitPath(t *testing.T) {
	_, err := LoadSuppressions("svc", filepath.Join(t.TempDir(), "absent.conf"))
	if err == nil {
		t.Fatal("missing explicit path accepted")
	}
	if code := ErrorCode(err); code != ErrCodeSuppression {
		t.Errorf("error code = %q, want %q", code, ErrCodeSuppression)
	}
}
