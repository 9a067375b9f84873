// bus_test.go: Tests for call classification and introspection mapping
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package charybdis

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
)

func TestClassifyCallError(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		disconnected bool
		success      bool
	}{
		{"NilIsSuccess", nil, false, true},
		{"ClosedConn", dbus.ErrClosed, true, false},
		{"CallTimeout", context.DeadlineExceeded, true, false},
		{"NoReply", dbus.Error{Name: "org.freedesktop.DBus.Error.NoReply"}, true, false},
		{"ServiceUnknown", dbus.Error{Name: "org.freedesktop.DBus.Error.ServiceUnknown"}, true, false},
		{"NameHasNoOwner", dbus.Error{Name: "org.freedesktop.DBus.Error.NameHasNoOwner"}, true, false},
		// The target answered with an error: it is alive, the input was
		// merely rejected. That is a successful iteration.
		{"ApplicationError", dbus.Error{Name: "org.example.Error.BadInput"}, false, true},
		{"InvalidArgs", dbus.Error{Name: "org.freedesktop.DBus.Error.InvalidArgs"}, false, true},
		{"TransportError", stderrors.New("write: broken pipe"), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyCallError(tt.err)
			if tt.success {
				if got != nil {
					t.Fatalf("classifyCallError(%v) = %v, want success", tt.err, got)
				}
				return
			}
			if got == nil {
				t.Fatalf("classifyCallError(%v) = nil, want error", tt.err)
			}
			if IsDisconnected(got) != tt.disconnected {
				t.Errorf("IsDisconnected = %v, want %v (err: %v)", IsDisconnected(got), tt.disconnected, got)
			}
		})
	}
}

func TestClassifyCallErrorKeepsCancellation(t *testing.T) {
	// Cancellation must pass through untouched so the session can tell
	// its own shutdown from a dead target.
	if got := classifyCallError(context.Canceled); got != context.Canceled {
		t.Fatalf("got %v, want context.Canceled unchanged", got)
	}
}

func TestDescribeMethods(t *testing.T) {
	methods := []introspect.Method{
		{
			Name: "Echo",
			Args: []introspect.Arg{
				{Name: "in", Type: "s", Direction: "in"},
				{Name: "out", Type: "s", Direction: "out"},
			},
		},
		{
			Name: "Configure",
			Args: []introspect.Arg{
				{Name: "options", Type: "a{sv}", Direction: "in"},
				{Name: "flags", Type: "u"}, // unmarked direction means "in"
			},
		},
		{Name: "Ping"},
		{
			Name: "Broken",
			Args: []introspect.Arg{{Name: "bad", Type: "a{vs}", Direction: "in"}},
		},
	}

	got := describeMethods(methods)
	if len(got) != 4 {
		t.Fatalf("got %d descriptors, want 4", len(got))
	}

	echo := got[0]
	if echo.Signature != "s" || len(echo.Inputs) != 1 || !echo.HasOutput {
		t.Fatalf("Echo: %+v", echo)
	}

	conf := got[1]
	if conf.Signature != "a{sv}u" || len(conf.Inputs) != 2 || conf.HasOutput {
		t.Fatalf("Configure: %+v", conf)
	}

	ping := got[2]
	if ping.Signature != "" || len(ping.Inputs) != 0 {
		t.Fatalf("Ping: %+v", ping)
	}

	broken := got[3]
	if broken.ParseErr == nil {
		t.Fatal("Broken's bad signature went undetected")
	}
	if ErrorCode(broken.ParseErr) != ErrCodeSignatureParse {
		t.Errorf("parse error code = %q", ErrorCode(broken.ParseErr))
	}
}

func TestDescribeProperties(t *testing.T) {
	props := []introspect.Property{
		{Name: "Volume", Type: "u", Access: "readwrite"},
		{Name: "Version", Type: "s", Access: "read"},
		{Name: "Knobs", Type: "a{sd}", Access: "write"},
		{Name: "Broken", Type: "(", Access: "readwrite"},
	}

	got := describeProperties(props)
	if len(got) != 4 {
		t.Fatalf("got %d descriptors, want 4", len(got))
	}

	if !got[0].Writable || got[0].Signature != "u" {
		t.Fatalf("Volume: %+v", got[0])
	}
	if node, ok := got[0].Type.(BasicNode); !ok || node.Code != TypeUint32 {
		t.Fatalf("Volume type: %v", got[0].Type)
	}
	if got[1].Writable {
		t.Error("read-only property marked writable")
	}
	if !got[2].Writable {
		t.Error("write-only property not marked writable")
	}
	if got[3].ParseErr == nil {
		t.Error("Broken's bad type went undetected")
	}
}
