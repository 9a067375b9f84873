// main.go: charybdis binary entry point
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"
	"os"

	"github.com/agilira/charybdis/cmd/cli"
)

func main() {
	if err := cli.NewManager().Run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "charybdis: %v\n", err)
		os.Exit(1)
	}
}
