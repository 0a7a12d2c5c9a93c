// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/1M15M3/beam/domain/consensus"
	"github.com/1M15M3/beam/domain/consensus/model/externalapi"
	"github.com/1M15M3/beam/domain/consensus/rules"
	"github.com/1M15M3/beam/infrastructure/db/ldb"
	"github.com/1M15M3/beam/infrastructure/logger"
)

var log = logger.RegisterSubSystem("MAIN")

// noopHooks satisfies consensus.Hooks with no-op collaborator callbacks,
// enough to run a store that only serves on_state/on_block. A real
// deployment supplies a Hooks implementation wired to its own peer
// manager and mempool.
type noopHooks struct{}

func (noopHooks) OnNewState()                         {}
func (noopHooks) OnRolledBack(externalapi.DomainHash) {}
func (noopHooks) OnPeerInsane(externalapi.PeerID)     {}
func (noopHooks) OnStateData()                        {}
func (noopHooks) OnBlockData()                        {}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logLevel, ok := logger.LevelFromString(cfg.LogLevel)
	if !ok {
		return fmt.Errorf("invalid log level %q", cfg.LogLevel)
	}
	logger.SetLogLevels(logLevel)
	if err := logger.DefaultBackend().AddLogFile(filepath.Join(cfg.DataDir, defaultLogFilename), logger.LevelInfo); err != nil {
		return err
	}
	if err := logger.DefaultBackend().AddLogFile(filepath.Join(cfg.DataDir, defaultErrFilename), logger.LevelWarn); err != nil {
		return err
	}
	if err := logger.DefaultBackend().Run(); err != nil {
		return err
	}
	defer logger.DefaultBackend().Close()

	storePath := filepath.Join(cfg.DataDir, "chain")
	manager, err := ldb.Open(storePath)
	if err != nil {
		return err
	}
	defer manager.Close()

	r := rules.Mainnet()
	proc, err := consensus.New(manager, &consensus.Config{
		Rules:   r,
		Genesis: func() *externalapi.DomainBlockHeader { return consensus.DefaultGenesis(r) },
		Hooks:   noopHooks{},
	}, cfg.ResetCursor)
	if err != nil {
		return err
	}
	defer proc.Close()

	log.Infof("beam-node ready, datadir %s", cfg.DataDir)

	// A real deployment drives proc from a peer manager and RPC server;
	// this entry point only exercises startup end to end.
	select {}
}
