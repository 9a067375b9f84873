// bus.go: D-Bus collaborators - connection, introspection, dispatch
//
// Everything that touches the wire lives here and delegates to
// github.com/godbus/dbus/v5. The rest of the engine sees only the Caller
// interface and plain descriptors, so it can be driven by fakes in tests.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package charybdis

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/agilira/go-errors"
	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
)

// Target identifies what is being fuzzed on the bus.
type Target struct {
	Service   string
	Object    dbus.ObjectPath
	Interface string
}

// Connect opens a connection to the session or system bus.
func Connect(bus string) (*dbus.Conn, error) {
	switch bus {
	case "", "session":
		conn, err := dbus.SessionBus()
		if err != nil {
			return nil, errors.Wrap(err, ErrCodeBus, "connecting to session bus")
		}
		return conn, nil
	case "system":
		conn, err := dbus.SystemBus()
		if err != nil {
			return nil, errors.Wrap(err, ErrCodeBus, "connecting to system bus")
		}
		return conn, nil
	default:
		return nil, errors.New(ErrCodeBus, fmt.Sprintf("unknown bus %q (want session or system)", bus))
	}
}

// ResolvePID asks the bus daemon for the process id owning a bus name.
func ResolvePID(conn *dbus.Conn, service string) (uint32, error) {
	var pid uint32
	call := conn.BusObject().Call("org.freedesktop.DBus.GetConnectionUnixProcessID", 0, service)
	if call.Err != nil {
		return 0, errors.Wrap(call.Err, ErrCodeBus,
			fmt.Sprintf("resolving pid of %s", service))
	}
	if err := call.Store(&pid); err != nil {
		return 0, errors.Wrap(err, ErrCodeBus, "decoding pid reply")
	}
	return pid, nil
}

// OpenProcessStatus opens the target's /proc status file for the resource
// monitor. The caller owns the handle for the run's lifetime.
func OpenProcessStatus(pid uint32) (*os.File, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/status", pid))
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeMonitor,
			fmt.Sprintf("opening status of pid %d", pid))
	}
	return f, nil
}

// IntrospectTarget enumerates the target interface's methods and
// properties. A member whose declared signature does not parse is still
// returned, carrying its parse error, so the runner can report it without
// aborting the run.
func IntrospectTarget(conn *dbus.Conn, target Target) ([]MethodDescriptor, []PropertyDescriptor, error) {
	node, err := introspect.Call(conn.Object(target.Service, target.Object))
	if err != nil {
		return nil, nil, errors.Wrap(err, ErrCodeBus,
			fmt.Sprintf("introspecting %s %s", target.Service, target.Object))
	}

	for _, iface := range node.Interfaces {
		if iface.Name != target.Interface {
			continue
		}
		return describeMethods(iface.Methods), describeProperties(iface.Properties), nil
	}
	return nil, nil, errors.New(ErrCodeBus,
		fmt.Sprintf("interface %s not found on %s %s", target.Interface, target.Service, target.Object))
}

func describeMethods(methods []introspect.Method) []MethodDescriptor {
	out := make([]MethodDescriptor, 0, len(methods))
	for _, m := range methods {
		d := MethodDescriptor{Name: m.Name}
		var sig strings.Builder
		for _, arg := range m.Args {
			if arg.Direction == "out" {
				d.HasOutput = true
				continue
			}
			// Unmarked direction means "in" for methods.
			nodes, err := ParseSignature(arg.Type)
			if err != nil {
				d.ParseErr = err
				break
			}
			d.Inputs = append(d.Inputs, nodes...)
			sig.WriteString(arg.Type)
		}
		d.Signature = sig.String()
		out = append(out, d)
	}
	return out
}

func describeProperties(properties []introspect.Property) []PropertyDescriptor {
	out := make([]PropertyDescriptor, 0, len(properties))
	for _, p := range properties {
		d := PropertyDescriptor{
			Name:      p.Name,
			Signature: p.Type,
			Writable:  strings.Contains(p.Access, "write"),
		}
		nodes, err := ParseSignature(p.Type)
		switch {
		case err != nil:
			d.ParseErr = err
		case len(nodes) != 1:
			d.ParseErr = errors.New(ErrCodeSignatureParse,
				fmt.Sprintf("property %s declares %d types", p.Name, len(nodes)))
		default:
			d.Type = nodes[0]
		}
		out = append(out, d)
	}
	return out
}

// disconnectErrorNames are bus error replies meaning the target is gone or
// never answered: the absence of any response from a process that was
// alive a moment ago.
var disconnectErrorNames = map[string]bool{
	"org.freedesktop.DBus.Error.NoReply":        true,
	"org.freedesktop.DBus.Error.Timeout":        true,
	"org.freedesktop.DBus.Error.Disconnected":   true,
	"org.freedesktop.DBus.Error.ServiceUnknown": true,
	"org.freedesktop.DBus.Error.NameHasNoOwner": true,
}

// classifyCallError maps a transport result onto the session's taxonomy.
// A named bus error outside disconnectErrorNames is a response: the target
// is alive and rejected the fuzzed input, which counts as success here.
func classifyCallError(err error) error {
	switch {
	case err == nil:
		return nil
	case err == dbus.ErrClosed:
		return errors.Wrap(err, ErrCodeTargetDisconnected, "bus connection closed")
	case err == context.DeadlineExceeded:
		return errors.Wrap(err, ErrCodeTargetDisconnected, "no reply within call timeout")
	case err == context.Canceled:
		return err
	}

	if dbusErr, ok := err.(dbus.Error); ok {
		if disconnectErrorNames[dbusErr.Name] {
			return errors.Wrap(err, ErrCodeTargetDisconnected, dbusErr.Name)
		}
		return nil
	}
	return err
}

// dbusCaller invokes methods of one interface on one object.
type dbusCaller struct {
	obj     dbus.BusObject
	iface   string
	timeout time.Duration
}

// NewMethodCaller returns a Caller dispatching method calls to the target.
// A positive timeout bounds each call; an expired timeout classifies as a
// disconnect, since the target gave no reply while holding the connection.
func NewMethodCaller(conn *dbus.Conn, target Target, timeout time.Duration) Caller {
	return &dbusCaller{
		obj:     conn.Object(target.Service, target.Object),
		iface:   target.Interface,
		timeout: timeout,
	}
}

func (c *dbusCaller) Call(ctx context.Context, member string, args []interface{}) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	call := c.obj.CallWithContext(ctx, c.iface+"."+member, 0, args...)
	return classifyCallError(call.Err)
}

// propertySetter writes properties of one interface through
// org.freedesktop.DBus.Properties.Set.
type propertySetter struct {
	obj     dbus.BusObject
	iface   string
	timeout time.Duration
}

// NewPropertySetter returns a Caller that fuzzes property writes.
func NewPropertySetter(conn *dbus.Conn, target Target, timeout time.Duration) Caller {
	return &propertySetter{
		obj:     conn.Object(target.Service, target.Object),
		iface:   target.Interface,
		timeout: timeout,
	}
}

func (p *propertySetter) Call(ctx context.Context, member string, args []interface{}) error {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	if len(args) != 1 {
		return errors.New(ErrCodeGeneration,
			fmt.Sprintf("property write needs exactly one value, got %d", len(args)))
	}
	call := p.obj.CallWithContext(ctx, "org.freedesktop.DBus.Properties.Set", 0,
		p.iface, member, dbus.MakeVariant(args[0]))
	return classifyCallError(call.Err)
}
