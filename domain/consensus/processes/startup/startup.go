// Package startup implements initialize (spec §4.8): open the store,
// verify the compiled Rules against what was persisted, rebuild the
// in-memory accumulators by replaying stored history, and run TryGoUp
// once to reach a consistent cursor. Grounded on
// original_source/node/processor.cpp's NodeProcessor::Init, kept as its
// own package the way the teacher separates one-shot startup wiring
// (e.g. blockprocessor's initial DAG load) from steady-state processing.
package startup

import (
	"github.com/1M15M3/beam/domain/consensus/corruption"
	"github.com/1M15M3/beam/domain/consensus/datastructures/bodystore"
	"github.com/1M15M3/beam/domain/consensus/datastructures/cursorstore"
	"github.com/1M15M3/beam/domain/consensus/datastructures/headergraphstore"
	"github.com/1M15M3/beam/domain/consensus/datastructures/paramsstore"
	"github.com/1M15M3/beam/domain/consensus/hashdomain"
	"github.com/1M15M3/beam/domain/consensus/model/externalapi"
	"github.com/1M15M3/beam/domain/consensus/processes/accumulators"
	"github.com/1M15M3/beam/domain/consensus/processes/blockinterpreter"
	"github.com/1M15M3/beam/domain/consensus/processes/reorg"
	"github.com/1M15M3/beam/domain/consensus/rules"
	"github.com/1M15M3/beam/domain/consensus/utils/mmr"
	"github.com/1M15M3/beam/infrastructure/db"
	"github.com/1M15M3/beam/infrastructure/logger"
)

var log = logger.RegisterSubSystem("STRT")

// Genesis supplies the fixed first header a fresh store starts from.
type Genesis func() *externalapi.DomainBlockHeader

// Initializer runs initialize(path, reset_cursor).
type Initializer struct {
	Manager     db.DBManager
	Graph       *headergraphstore.Store
	Cursors     *cursorstore.Store
	Bodies      *bodystore.Store
	Params      *paramsstore.Store
	Interpreter *blockinterpreter.Interpreter
	Rules       *rules.Rules
	Reorg       *reorg.Engine
	Genesis     Genesis
}

// Run is initialize(path, reset_cursor) (spec §4.8), with reset_cursor
// supplied by the caller as resetCursor. accs, extra,
// and history are the shared, empty-at-call-time in-memory state the
// processor owns for the rest of its life; Run rebuilds them in place.
func (in *Initializer) Run(resetCursor bool, accs *accumulators.Accumulators, extra *externalapi.Extra, history *mmr.MMR) error {
	dbTx, err := in.Manager.Begin()
	if err != nil {
		return err
	}
	defer dbTx.RollbackUnlessClosed()

	fresh, err := in.ensureChecksum(dbTx)
	if err != nil {
		return err
	}

	if fresh || resetCursor {
		if err := in.seedGenesis(dbTx); err != nil {
			return err
		}
	}

	if err := in.rebuild(dbTx, accs, extra, history); err != nil {
		return err
	}

	if _, err := in.Reorg.TryGoUp(dbTx); err != nil {
		return err
	}

	return dbTx.Commit()
}

// ensureChecksum verifies (or, on a fresh store, seeds) the persisted
// config checksum against rules.Rules.Checksum, failing loudly on
// disagreement (spec §4.8, §6.4).
func (in *Initializer) ensureChecksum(dbTx db.DBTransaction) (fresh bool, err error) {
	want := in.Rules.Checksum()
	has, err := in.Params.Has(dbTx, paramsstore.CfgChecksum)
	if err != nil {
		return false, err
	}
	if !has {
		if err := in.Params.Set(dbTx, paramsstore.CfgChecksum, want); err != nil {
			return false, err
		}
		return true, nil
	}
	got, err := in.Params.Get(dbTx, paramsstore.CfgChecksum)
	if err != nil {
		return false, err
	}
	if got != want {
		return false, corruption.New("startup", "on-disk config checksum disagrees with compiled Rules")
	}
	return false, nil
}

func (in *Initializer) seedGenesis(dbTx db.DBTransaction) error {
	header := in.Genesis()
	hash := hashdomain.HeaderHash(header)
	node := &headergraphstore.Node{
		Row:    0,
		Header: header,
		Flags:  externalapi.FlagReachable | externalapi.FlagFunctional | externalapi.FlagActive,
	}
	if err := in.Graph.Insert(dbTx, hash, node); err != nil {
		return err
	}
	if err := in.Params.Set(dbTx, paramsstore.NextRow, 1); err != nil {
		return err
	}
	if err := in.Bodies.SetJournal(dbTx, hash, &bodystore.Journal{}); err != nil {
		return err
	}
	cursor := &externalapi.Cursor{
		SID:             externalapi.StateID{Row: 0, Height: header.Height},
		FullHeader:      header,
		ID:              externalapi.ChainID{Height: header.Height, Hash: hash},
		HistoryRoot:     mmr.RootAt(nil),
		HistoryRootNext: mmr.RootAt([]externalapi.DomainHash{hash}),
		LoHorizon:       0,
		DifficultyNext:  in.Rules.GenesisDifficultyBits,
	}
	if err := in.Cursors.Set(dbTx, cursor); err != nil {
		return err
	}
	return in.Cursors.SetExtra(dbTx, &externalapi.Extra{SubsidyOpen: true})
}

// rebuild replays stored history into fresh accumulators (spec §4.8):
// walk from genesis to the current cursor, applying each block via the
// interpreter's journal-skipping replay path. This system carries no
// macroblock index separate from the header graph, so "at most one
// selected macroblock plus the tail of individual blocks" collapses to a
// single linear replay of the Active chain — a macroblock import already
// leaves only Active, journal-bearing states behind it (spec §4.7), so
// the replay loop cannot tell the difference between a macroblock's
// former range and a chain of ordinary blocks.
func (in *Initializer) rebuild(dbTx db.DBTransaction, accs *accumulators.Accumulators, extra *externalapi.Extra, history *mmr.MMR) error {
	cursor, err := in.Cursors.Get(dbTx)
	if err != nil {
		return err
	}

	var chain []externalapi.DomainHash
	hash := cursor.ID.Hash
	for {
		chain = append(chain, hash)
		node, err := in.Graph.Get(dbTx, hash)
		if err != nil {
			return err
		}
		if node.Header.PrevHash.IsZero() {
			break
		}
		hash = node.Header.PrevHash
	}

	extra.SubsidyOpen = true
	extra.SubsidyTotal = 0
	extra.Offset = [32]byte{}
	history.Truncate(0)

	for i := len(chain) - 1; i >= 0; i-- {
		h := chain[i]
		node, err := in.Graph.Get(dbTx, h)
		if err != nil {
			return err
		}
		if node.Header.Height == 0 {
			history.Append(h)
			continue
		}
		ok, err := in.Interpreter.HandleBlock(dbTx, h, node.Header, node.Header.Height, true, nil, accs, extra)
		if err != nil {
			return err
		}
		if !ok {
			return corruption.New("startup", "replay of previously-accepted block failed")
		}
		history.Append(h)
	}

	definition := hashdomain.HeaderDefinition(accs.UTXORoot(), accs.KernelRoot(), history.RootAtLen(history.Len()-1))
	if definition != cursor.FullHeader.DefinitionHash {
		return corruption.New("startup", "recomputed definition disagrees with cursor header after replay")
	}
	log.Infof("replayed %d blocks up to height %d", len(chain), cursor.SID.Height)
	return nil
}
