// handlers.go: Command implementations for the charybdis CLI
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/agilira/charybdis"
	"github.com/agilira/go-errors"
	"github.com/agilira/orpheus/pkg/orpheus"
	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
)

// handleFuzz wires the whole engine together: connect, resolve the target
// process, load suppressions, introspect, then run the fuzz loop until
// disconnect, interrupt or the iteration bound.
func (m *Manager) handleFuzz(ctx *orpheus.Context) error {
	service := ctx.GetArg(0)
	object := ctx.GetArg(1)
	iface := ctx.GetArg(2)
	if service == "" || object == "" || iface == "" {
		return errors.New(charybdis.ErrCodeInvalidConfig,
			"usage: charybdis fuzz <service> <object> <interface>")
	}

	cfg, err := m.effectiveConfig(ctx)
	if err != nil {
		return err
	}

	conn, err := charybdis.Connect(cfg.Bus)
	if err != nil {
		return err
	}
	defer conn.Close()

	target := charybdis.Target{
		Service:   service,
		Object:    dbus.ObjectPath(object),
		Interface: iface,
	}
	if !target.Object.IsValid() {
		return errors.New(charybdis.ErrCodeInvalidConfig,
			fmt.Sprintf("invalid object path %q", object))
	}

	rules, err := charybdis.LoadSuppressions(service, cfg.SuppressionFile)
	if err != nil {
		return err
	}

	monitor, statusFile := m.attachMonitor(conn, service, cfg.MemoryLimitKB)
	if statusFile != nil {
		defer statusFile.Close()
	}

	methods, properties, err := charybdis.IntrospectTarget(conn, target)
	if err != nil {
		return err
	}
	if len(methods) == 0 && len(properties) == 0 {
		return errors.New(charybdis.ErrCodeBus,
			fmt.Sprintf("interface %s exposes nothing to fuzz", iface))
	}

	logWriter, closeLog, err := openLogWriter(cfg.LogFile)
	if err != nil {
		return err
	}
	defer closeLog()

	audit := m.auditLogger
	if audit == nil && cfg.Audit.Enabled {
		audit, err = charybdis.NewAuditLogger(cfg.Audit)
		if err != nil {
			return err
		}
		defer audit.Close()
	}
	audit.LogRunStarted(service, object, iface)

	seed := int64(ctx.GetFlagInt("seed"))
	var state *charybdis.GeneratorState
	if seed != 0 {
		state = charybdis.NewSeededGeneratorState(cfg.GeneratorConfig(), seed)
	} else {
		state = charybdis.NewGeneratorState(cfg.GeneratorConfig())
	}

	runner := &charybdis.Runner{
		Service:       service,
		Object:        object,
		Interface:     iface,
		Methods:       methods,
		Properties:    properties,
		State:         state,
		Caller:        charybdis.NewMethodCaller(conn, target, cfg.CallTimeout),
		Rules:         rules,
		Monitor:       monitor,
		Audit:         audit,
		LogWriter:     logWriter,
		MaxIterations: cfg.MaxIterations,
	}
	if cfg.FuzzProperties {
		runner.PropertySetter = charybdis.NewPropertySetter(conn, target, cfg.CallTimeout)
	}

	// Interrupt and hangup stop the run between iterations, never mid-call.
	runCtx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	results := runner.Run(runCtx)
	return reportResults(results, logWriter)
}

// effectiveConfig merges config file, environment and command flags, flags
// last.
func (m *Manager) effectiveConfig(ctx *orpheus.Context) (charybdis.Config, error) {
	cfg, err := charybdis.LoadConfig(ctx.GetFlagString("config"))
	if err != nil {
		return charybdis.Config{}, err
	}

	if v := ctx.GetFlagString("bus"); v != "" {
		cfg.Bus = v
	}
	if v := ctx.GetFlagInt("mem-limit"); v > 0 {
		cfg.MemoryLimitKB = int64(v)
	}
	if v := ctx.GetFlagInt("max-iterations"); v > 0 {
		cfg.MaxIterations = uint64(v)
	}
	if v := ctx.GetFlagString("timeout"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return charybdis.Config{}, errors.New(charybdis.ErrCodeInvalidConfig,
				fmt.Sprintf("invalid timeout %q", v))
		}
		cfg.CallTimeout = d
	}
	if v := ctx.GetFlagString("log-file"); v != "" {
		cfg.LogFile = v
	}
	if v := ctx.GetFlagString("suppressions"); v != "" {
		cfg.SuppressionFile = v
	}
	if ctx.GetFlagBool("properties") {
		cfg.FuzzProperties = true
	}

	if err := cfg.Validate(); err != nil {
		return charybdis.Config{}, err
	}
	return cfg, nil
}

// attachMonitor resolves the target's pid and opens its status file. A
// target outside this machine's procfs (or a bus daemon refusing the pid
// query) downgrades to running without memory checks.
func (m *Manager) attachMonitor(conn *dbus.Conn, service string, limitKB int64) (*charybdis.Monitor, *os.File) {
	pid, err := charybdis.ResolvePID(conn, service)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: memory monitoring disabled: %v\n", err)
		return nil, nil
	}
	statusFile, err := charybdis.OpenProcessStatus(pid)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: memory monitoring disabled: %v\n", err)
		return nil, nil
	}

	monitor := charybdis.NewMonitor(statusFile)
	if err := monitor.Prime(limitKB); err != nil {
		fmt.Fprintf(os.Stderr, "warning: memory monitoring disabled: %v\n", err)
		_ = statusFile.Close()
		return nil, nil
	}
	fmt.Printf("target pid %d, memory baseline %d kB, limit %d kB\n",
		pid, monitor.Baseline(), monitor.Limit())
	return monitor, statusFile
}

// handleList prints the interfaces, methods and properties of a bus object.
func (m *Manager) handleList(ctx *orpheus.Context) error {
	service := ctx.GetArg(0)
	object := ctx.GetArg(1)
	if service == "" || object == "" {
		return errors.New(charybdis.ErrCodeInvalidConfig,
			"usage: charybdis list <service> <object>")
	}

	conn, err := charybdis.Connect(ctx.GetFlagString("bus"))
	if err != nil {
		return err
	}
	defer conn.Close()

	node, err := introspect.Call(conn.Object(service, dbus.ObjectPath(object)))
	if err != nil {
		return errors.Wrap(err, charybdis.ErrCodeBus,
			fmt.Sprintf("introspecting %s %s", service, object))
	}

	for _, iface := range node.Interfaces {
		fmt.Printf("%s\n", iface.Name)
		for _, method := range iface.Methods {
			fmt.Printf("  %s(%s)\n", method.Name, methodInputSignature(method))
		}
		for _, prop := range iface.Properties {
			fmt.Printf("  %s %s [%s]\n", prop.Name, prop.Type, prop.Access)
		}
	}
	for _, child := range node.Children {
		fmt.Printf("node %s\n", child.Name)
	}
	return nil
}

// handleSuppressions prints the rules that would apply to a service.
func (m *Manager) handleSuppressions(ctx *orpheus.Context) error {
	service := ctx.GetArg(0)
	if service == "" {
		return errors.New(charybdis.ErrCodeInvalidConfig,
			"usage: charybdis suppressions <service>")
	}

	rules, err := charybdis.LoadSuppressions(service, ctx.GetFlagString("file"))
	if err != nil {
		return err
	}
	if len(rules) == 0 {
		fmt.Printf("no suppression rules for %s\n", service)
		return nil
	}

	for _, rule := range rules {
		fmt.Printf("%s:%s:%s", rule.Object, rule.Interface, rule.Method)
		if rule.Description != "" {
			fmt.Printf("  (%s)", rule.Description)
		}
		fmt.Println()
	}
	return nil
}

// handleInfo prints version and environment diagnostics.
func (m *Manager) handleInfo(ctx *orpheus.Context) error {
	fmt.Printf("charybdis %s\n", cliVersion)
	fmt.Printf("go: %s (%s/%s)\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	fmt.Printf("session bus: %s\n", os.Getenv("DBUS_SESSION_BUS_ADDRESS"))
	return nil
}
