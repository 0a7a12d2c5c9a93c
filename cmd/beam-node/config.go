// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"os"
	"path/filepath"

	flags "github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
)

const (
	appName            = "beam-node"
	defaultLogFilename = "beam.log"
	defaultErrFilename = "beam_err.log"
	defaultLogLevel    = "info"
)

var defaultDataDir = filepath.Join(".", "data", appName)

// configFlags defines the command-line options for beam-node, in the
// style of the teacher's cmd/*/config.go: a flat struct parsed once at
// startup and never re-parsed.
type configFlags struct {
	DataDir     string `long:"datadir" description:"Directory to store the chain state in"`
	ResetCursor bool   `long:"reset-cursor" description:"Discard the persisted cursor and rebuild from genesis on startup"`
	LogLevel    string `long:"loglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical}"`
}

func loadConfig() (*configFlags, error) {
	cfg := &configFlags{
		DataDir:  defaultDataDir,
		LogLevel: defaultLogLevel,
	}

	parser := flags.NewParser(cfg, flags.Default)
	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if ok := errors.As(err, &flagsErr); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		return nil, err
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, errors.Wrap(err, "creating data directory")
	}

	return cfg, nil
}
