// sharedctl - command-line diagnostics for shared pointers
//
// Configuration is read from the file named by SHARED_CONFIG_FILE (if any)
// and SHARED_* environment variables. When auditing is enabled every
// command is recorded in the audit trail.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"
	"os"

	"github.com/agilira/shared"
	"github.com/agilira/shared/cmd/cli"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	config, err := shared.LoadConfigMultiSource(os.Getenv("SHARED_CONFIG_FILE"))
	if err != nil {
		return err
	}

	manager := cli.NewManager().WithConfig(config)

	if config.Audit.Enabled {
		auditLogger, err := shared.NewAuditLogger(config.Audit)
		if err != nil {
			return err
		}
		defer func() { _ = auditLogger.Close() }()
		manager.WithAudit(auditLogger)
	}

	return manager.Run(args)
}
