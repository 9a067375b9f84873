// Package charybdis is a protocol-level fuzz tester for D-Bus services.
//
// Given a bus name, an object path and an interface, charybdis enumerates
// the interface's methods and writable properties, synthesizes increasingly
// adversarial argument values from each member's declared type signature,
// invokes the member in a tight synchronous loop and watches the target
// process for crashes, hangs, disconnects and memory blow-ups.
//
// The engine is built from five parts:
//
//   - the signature grammar (ParseSignature), a recursive tree model of
//     D-Bus type signatures
//   - the value generator (GeneratorState), which escalates from boundary
//     values to randomized values as per-type counters grow
//   - the suppression matcher (Rules), which excludes known-bad members
//   - the resource monitor (Monitor), which samples the target's resident
//     memory from its process status file
//   - the session controller (Session, Runner), which drives the
//     generate/invoke/classify loop per member
//
// Bus transport, introspection and invocation are delegated to
// github.com/godbus/dbus/v5; charybdis never speaks the wire protocol
// itself.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0
package charybdis
