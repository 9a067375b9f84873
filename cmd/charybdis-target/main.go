// main.go: charybdis-target, a deliberately fragile D-Bus test server
//
// The target exports one interface covering every family of argument
// types the generator produces, plus members that misbehave on purpose:
// Crash exits the process, Hang blocks the dispatcher, Leak grows
// resident memory. Point charybdis at it to watch every detector fire:
//
//	charybdis-target --bus session &
//	charybdis fuzz org.agilira.CharybdisTarget /org/agilira/CharybdisTarget org.agilira.CharybdisTarget
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	flashflags "github.com/agilira/flash-flags"
	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
)

const targetInterface = "org.agilira.CharybdisTarget"

// target implements the exported interface. Exported methods follow the
// godbus convention: typed arguments in, *dbus.Error out.
type target struct {
	// retained keeps Leak's allocations reachable so VmRSS actually grows.
	retained [][]byte
	volume   uint32
}

func (t *target) Echo(s string) (string, *dbus.Error) {
	return s, nil
}

func (t *target) Sum(a, b int32) (int32, *dbus.Error) {
	return a + b, nil
}

func (t *target) Scale(factor float64, values []int32) ([]float64, *dbus.Error) {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = float64(v) * factor
	}
	return out, nil
}

func (t *target) Bytes(data []byte) (uint32, *dbus.Error) {
	return uint32(len(data)), nil
}

func (t *target) Dict(entries map[string]string) (uint32, *dbus.Error) {
	return uint32(len(entries)), nil
}

func (t *target) Unwrap(v dbus.Variant) (string, *dbus.Error) {
	return v.String(), nil
}

// Pedantic rejects anything but a narrow happy path, exercising the
// "error reply counts as a response" classification.
func (t *target) Pedantic(name string) (string, *dbus.Error) {
	if !strings.HasPrefix(name, "charybdis") {
		return "", dbus.NewError(targetInterface+".Error.BadName", []interface{}{name})
	}
	return "hello " + name, nil
}

// Crash terminates the process mid-call: the fuzzer should classify the
// next call (or this one's missing reply) as a disconnect.
func (t *target) Crash() *dbus.Error {
	fmt.Fprintln(os.Stderr, "charybdis-target: crashing on request")
	os.Exit(1)
	return nil
}

// Hang blocks the dispatcher long enough to trip any sane call timeout.
func (t *target) Hang(seconds uint32) *dbus.Error {
	time.Sleep(time.Duration(seconds) * time.Second)
	return nil
}

// Leak retains kilobytes of memory per call so the resource monitor has
// something to flag.
func (t *target) Leak(kb uint32) *dbus.Error {
	buf := make([]byte, int(kb)*1024)
	for i := range buf {
		buf[i] = byte(i)
	}
	t.retained = append(t.retained, buf)
	return nil
}

// properties implements org.freedesktop.DBus.Properties just far enough
// for property fuzzing: Set accepts Volume, everything else errors.
type properties struct {
	t *target
}

func (p *properties) Get(iface, prop string) (dbus.Variant, *dbus.Error) {
	if iface != targetInterface || prop != "Volume" {
		return dbus.Variant{}, dbus.NewError("org.freedesktop.DBus.Error.UnknownProperty", nil)
	}
	return dbus.MakeVariant(p.t.volume), nil
}

func (p *properties) Set(iface, prop string, value dbus.Variant) *dbus.Error {
	if iface != targetInterface || prop != "Volume" {
		return dbus.NewError("org.freedesktop.DBus.Error.UnknownProperty", nil)
	}
	v, ok := value.Value().(uint32)
	if !ok {
		return dbus.NewError("org.freedesktop.DBus.Error.InvalidArgs", nil)
	}
	p.t.volume = v
	return nil
}

func (p *properties) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	if iface != targetInterface {
		return nil, dbus.NewError("org.freedesktop.DBus.Error.UnknownInterface", nil)
	}
	return map[string]dbus.Variant{"Volume": dbus.MakeVariant(p.t.volume)}, nil
}

// introspectionNode declares the exported surface so charybdis can
// enumerate it.
func introspectionNode(objectPath string) *introspect.Node {
	return &introspect.Node{
		Name: objectPath,
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{
				Name: targetInterface,
				Methods: []introspect.Method{
					{Name: "Echo", Args: []introspect.Arg{
						{Name: "in", Type: "s", Direction: "in"},
						{Name: "out", Type: "s", Direction: "out"},
					}},
					{Name: "Sum", Args: []introspect.Arg{
						{Name: "a", Type: "i", Direction: "in"},
						{Name: "b", Type: "i", Direction: "in"},
						{Name: "sum", Type: "i", Direction: "out"},
					}},
					{Name: "Scale", Args: []introspect.Arg{
						{Name: "factor", Type: "d", Direction: "in"},
						{Name: "values", Type: "ai", Direction: "in"},
						{Name: "scaled", Type: "ad", Direction: "out"},
					}},
					{Name: "Bytes", Args: []introspect.Arg{
						{Name: "data", Type: "ay", Direction: "in"},
						{Name: "size", Type: "u", Direction: "out"},
					}},
					{Name: "Dict", Args: []introspect.Arg{
						{Name: "entries", Type: "a{ss}", Direction: "in"},
						{Name: "count", Type: "u", Direction: "out"},
					}},
					{Name: "Unwrap", Args: []introspect.Arg{
						{Name: "value", Type: "v", Direction: "in"},
						{Name: "text", Type: "s", Direction: "out"},
					}},
					{Name: "Pedantic", Args: []introspect.Arg{
						{Name: "name", Type: "s", Direction: "in"},
						{Name: "greeting", Type: "s", Direction: "out"},
					}},
					{Name: "Crash"},
					{Name: "Hang", Args: []introspect.Arg{
						{Name: "seconds", Type: "u", Direction: "in"},
					}},
					{Name: "Leak", Args: []introspect.Arg{
						{Name: "kb", Type: "u", Direction: "in"},
					}},
				},
				Properties: []introspect.Property{
					{Name: "Volume", Type: "u", Access: "readwrite"},
				},
			},
		},
	}
}

func main() {
	flags := flashflags.New("charybdis-target")
	flags.SetDescription("Deliberately fragile D-Bus service for exercising charybdis")
	bus := flags.String("bus", "session", "Bus to attach to (session|system)")
	name := flags.String("name", "org.agilira.CharybdisTarget", "Bus name to claim")
	objectPath := flags.String("object", "/org/agilira/CharybdisTarget", "Object path to export")

	if err := flags.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "charybdis-target: %v\n", err)
		os.Exit(1)
	}

	var conn *dbus.Conn
	var err error
	switch *bus {
	case "session":
		conn, err = dbus.SessionBus()
	case "system":
		conn, err = dbus.SystemBus()
	default:
		err = fmt.Errorf("unknown bus %q", *bus)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "charybdis-target: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	t := &target{}
	path := dbus.ObjectPath(*objectPath)
	if err := conn.Export(t, path, targetInterface); err != nil {
		fmt.Fprintf(os.Stderr, "charybdis-target: exporting interface: %v\n", err)
		os.Exit(1)
	}
	if err := conn.Export(&properties{t: t}, path, "org.freedesktop.DBus.Properties"); err != nil {
		fmt.Fprintf(os.Stderr, "charybdis-target: exporting properties: %v\n", err)
		os.Exit(1)
	}
	intro := introspect.NewIntrospectable(introspectionNode(*objectPath))
	if err := conn.Export(intro, path, "org.freedesktop.DBus.Introspectable"); err != nil {
		fmt.Fprintf(os.Stderr, "charybdis-target: exporting introspection: %v\n", err)
		os.Exit(1)
	}

	reply, err := conn.RequestName(*name, dbus.NameFlagDoNotQueue)
	if err != nil {
		fmt.Fprintf(os.Stderr, "charybdis-target: requesting name: %v\n", err)
		os.Exit(1)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		fmt.Fprintf(os.Stderr, "charybdis-target: name %s already taken\n", *name)
		os.Exit(1)
	}

	fmt.Printf("charybdis-target serving %s at %s on the %s bus\n", *name, *objectPath, *bus)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}
