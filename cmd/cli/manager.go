// Package cli provides the command-line interface for the charybdis D-Bus
// fuzzer.
//
// Built on the Orpheus framework with git-style subcommands:
//
//	charybdis fuzz <service> <object> <interface> [flags]
//	charybdis list <service> <object>
//	charybdis suppressions <service> [flags]
//	charybdis info
//
// Architecture:
// - Manager: command routing and shared wiring
// - Handlers: per-command implementations
// - Utils: shared helpers for output and target assembly
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0
package cli

import (
	"github.com/agilira/charybdis"
	"github.com/agilira/orpheus/pkg/orpheus"
)

const cliVersion = "1.0.0"

// Manager routes CLI commands to the fuzz engine.
type Manager struct {
	app         *orpheus.App
	auditLogger *charybdis.AuditLogger // Optional audit integration
}

// NewManager creates the CLI manager with all commands registered.
func NewManager() *Manager {
	app := orpheus.New("charybdis").
		SetDescription("Protocol-level D-Bus fuzzer: boundary values first, chaos later").
		SetVersion(cliVersion)

	manager := &Manager{
		app: app,
	}

	manager.setupFuzzCommand()
	manager.setupInspectionCommands()
	manager.setupUtilityCommands()

	return manager
}

// WithAudit enables audit logging for all CLI operations.
func (m *Manager) WithAudit(auditLogger *charybdis.AuditLogger) *Manager {
	m.auditLogger = auditLogger
	return m
}

// Run executes the CLI application with the provided arguments.
func (m *Manager) Run(args []string) error {
	return m.app.Run(args)
}

// setupFuzzCommand registers the main fuzz command.
func (m *Manager) setupFuzzCommand() {
	// fuzz <service> <object> <interface> [flags]
	fuzzCmd := orpheus.NewCommand("fuzz", "Fuzz every method of a D-Bus interface")
	fuzzCmd.SetHandler(m.handleFuzz)
	fuzzCmd.AddFlag("bus", "b", "", "Bus to connect to (session|system)")
	fuzzCmd.AddFlag("config", "c", "", "YAML configuration file")
	fuzzCmd.AddIntFlag("mem-limit", "m", 0, "Target memory limit in kB (0 derives 3x baseline)")
	fuzzCmd.AddIntFlag("max-iterations", "n", 0, "Iterations per member (0 runs until disconnect)")
	fuzzCmd.AddFlag("timeout", "t", "", "Per-call timeout (e.g. 20s)")
	fuzzCmd.AddFlag("log-file", "l", "", "Run log file (default stdout)")
	fuzzCmd.AddFlag("suppressions", "s", "", "Suppression file (default standard locations)")
	fuzzCmd.AddBoolFlag("properties", "p", false, "Also fuzz writable properties")
	fuzzCmd.AddIntFlag("seed", "", 0, "Generator seed (0 seeds from the clock)")
	m.app.AddCommand(fuzzCmd)
}

// setupInspectionCommands registers the read-only target inspection
// commands.
func (m *Manager) setupInspectionCommands() {
	// list <service> <object> [--bus=session]
	listCmd := orpheus.NewCommand("list", "List interfaces and methods of a bus object")
	listCmd.SetHandler(m.handleList)
	listCmd.AddFlag("bus", "b", "", "Bus to connect to (session|system)")
	m.app.AddCommand(listCmd)

	// suppressions <service> [--file=path]
	suppCmd := orpheus.NewCommand("suppressions", "Show the suppression rules loaded for a service")
	suppCmd.SetHandler(m.handleSuppressions)
	suppCmd.AddFlag("file", "f", "", "Suppression file (default standard locations)")
	m.app.AddCommand(suppCmd)
}

// setupUtilityCommands registers diagnostics commands.
func (m *Manager) setupUtilityCommands() {
	infoCmd := orpheus.NewCommand("info", "Version and environment information")
	infoCmd.SetHandler(m.handleInfo)
	m.app.AddCommand(infoCmd)
}
