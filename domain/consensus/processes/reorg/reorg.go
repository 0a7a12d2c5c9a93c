// Package reorg implements TryGoUp (spec §4.3): advance the cursor to the
// Functional tip of greatest chainwork, rolling the cursor back and
// reapplying forward as needed. Grounded on
// original_source/node/processor.cpp's NodeProcessor::TryGoUp, kept as its
// own package the way the teacher separates each GHOSTDAG-era concern
// (reachabilitymanager, finalitymanager) into its own process even though
// all of them mutate the same underlying store.
package reorg

import (
	"sort"

	"github.com/1M15M3/beam/domain/consensus/corruption"
	"github.com/1M15M3/beam/domain/consensus/datastructures/bodystore"
	"github.com/1M15M3/beam/domain/consensus/datastructures/cursorstore"
	"github.com/1M15M3/beam/domain/consensus/datastructures/headergraphstore"
	"github.com/1M15M3/beam/domain/consensus/datastructures/paramsstore"
	"github.com/1M15M3/beam/domain/consensus/model/externalapi"
	"github.com/1M15M3/beam/domain/consensus/processes/accumulators"
	"github.com/1M15M3/beam/domain/consensus/processes/blockinterpreter"
	"github.com/1M15M3/beam/domain/consensus/rules"
	"github.com/1M15M3/beam/domain/consensus/utils/mmr"
	"github.com/1M15M3/beam/infrastructure/db"
	"github.com/1M15M3/beam/infrastructure/logger"
)

var log = logger.RegisterSubSystem("REOR")

// Hooks are the collaborator callbacks of spec §6.3 this engine fires.
type Hooks interface {
	OnNewState()
	OnRolledBack(hash externalapi.DomainHash)
	OnPeerInsane(peer externalapi.PeerID)
}

// Engine advances the shared, in-memory Cursor/Accumulators/history state
// against the persisted header graph.
type Engine struct {
	Graph       *headergraphstore.Store
	Cursors     *cursorstore.Store
	Bodies      *bodystore.Store
	Params      *paramsstore.Store
	Interpreter *blockinterpreter.Interpreter
	Rules       *rules.Rules
	Hooks       Hooks

	Accs    *accumulators.Accumulators
	Extra   *externalapi.Extra
	History *mmr.MMR
}

// TryGoUp is the algorithm of spec §4.3. It returns whether the cursor
// moved at all (callers run pruning and fire OnNewState only if so).
func (e *Engine) TryGoUp(dbTx db.DBTransaction) (bool, error) {
	changed := false
	for {
		tipHash, tipNode, found, err := e.bestFunctionalTip(dbTx)
		if err != nil {
			return changed, err
		}
		cursor, err := e.Cursors.Get(dbTx)
		if err != nil {
			return changed, err
		}
		if !found || tipNode.Header.ChainworkCum.Cmp(cursor.FullHeader.ChainworkCum) == 0 {
			return changed, nil
		}

		var path []externalapi.DomainHash
		curHash, curNode := tipHash, tipNode
		pathFailed := false
		for curNode.Row != cursor.SID.Row {
			cursor, err = e.Cursors.Get(dbTx)
			if err != nil {
				return changed, err
			}
			if cursor.FullHeader.ChainworkCum.Cmp(curNode.Header.ChainworkCum) > 0 {
				if err := e.rollback(dbTx); err != nil {
					return changed, err
				}
				changed = true
				cursor, err = e.Cursors.Get(dbTx)
				if err != nil {
					return changed, err
				}
				continue
			}
			path = append(path, curHash)
			if curNode.Header.PrevHash.IsZero() {
				break
			}
			curHash = curNode.Header.PrevHash
			curNode, err = e.Graph.Get(dbTx, curHash)
			if err != nil {
				return changed, err
			}
		}

		for i := len(path) - 1; i >= 0; i-- {
			ok, err := e.goForward(dbTx, path[i])
			if err != nil {
				return changed, err
			}
			changed = true
			if !ok {
				pathFailed = true
				break
			}
		}
		if !pathFailed {
			return changed, nil
		}
	}
}

func (e *Engine) bestFunctionalTip(dbContext db.DBReader) (externalapi.DomainHash, *headergraphstore.Node, bool, error) {
	var bestHash externalapi.DomainHash
	var bestNode *headergraphstore.Node
	found := false
	err := e.Graph.EnumFunctionalTips(dbContext, func(hash externalapi.DomainHash, node *headergraphstore.Node) bool {
		if !found {
			bestHash, bestNode, found = hash, node, true
			return true
		}
		cmp := node.Header.ChainworkCum.Cmp(bestNode.Header.ChainworkCum)
		if cmp > 0 || (cmp == 0 && node.Row < bestNode.Row) {
			bestHash, bestNode = hash, node
		}
		return true
	})
	return bestHash, bestNode, found, err
}

// rollback moves the cursor back one block, unapplying via the
// interpreter. An unapply failure is a fatal corruption (spec §4.3).
func (e *Engine) rollback(dbTx db.DBTransaction) error {
	cursor, err := e.Cursors.Get(dbTx)
	if err != nil {
		return err
	}
	if cursor.SID.Height <= cursor.LoHorizon || e.Rules.MaxRollback(cursor.SID.Height, cursor.LoHorizon) {
		return corruption.New("reorg", "rollback would cross lo_horizon")
	}
	ok, err := e.Interpreter.HandleBlock(dbTx, cursor.ID.Hash, cursor.FullHeader, cursor.SID.Height, false, nil, e.Accs, e.Extra)
	if err != nil {
		return err
	}
	if !ok {
		return corruption.New("reorg", "unapply reported failure during rollback")
	}

	if err := e.Graph.SetFlags(dbTx, cursor.ID.Hash, clearFlag(currentFlags(dbTx, e.Graph, cursor.ID.Hash), externalapi.FlagActive)); err != nil {
		return err
	}

	if cursor.SID.Height == 0 {
		return corruption.New("reorg", "attempted to roll back below genesis")
	}
	parentHash := cursor.FullHeader.PrevHash
	parentNode, err := e.Graph.Get(dbTx, parentHash)
	if err != nil {
		return err
	}

	e.History.Truncate(int(cursor.SID.Height))
	newCursor := &externalapi.Cursor{
		SID:             externalapi.StateID{Row: parentNode.Row, Height: cursor.SID.Height - 1},
		FullHeader:      parentNode.Header,
		ID:              externalapi.ChainID{Height: cursor.SID.Height - 1, Hash: parentHash},
		HistoryRoot:     e.History.RootAtLen(e.History.Len() - 1),
		HistoryRootNext: e.History.Root(),
		LoHorizon:       cursor.LoHorizon,
		DifficultyNext:  cursor.DifficultyNext,
	}
	if err := e.Cursors.Set(dbTx, newCursor); err != nil {
		return err
	}
	if err := e.Cursors.SetExtra(dbTx, e.Extra); err != nil {
		return err
	}
	if e.Hooks != nil {
		e.Hooks.OnRolledBack(cursor.ID.Hash)
	}
	return nil
}

// goForward applies the block at hash on top of the current cursor. On
// success it advances the cursor; on failure it marks the body
// non-functional, deletes it, and penalizes the delivering peer, so the
// next outer TryGoUp iteration picks a different tip.
func (e *Engine) goForward(dbTx db.DBTransaction, hash externalapi.DomainHash) (bool, error) {
	node, err := e.Graph.Get(dbTx, hash)
	if err != nil {
		return false, err
	}
	cursor, err := e.Cursors.Get(dbTx)
	if err != nil {
		return false, err
	}

	window, err := e.collectActiveWindow(dbTx, cursor.ID.Hash, uint64(e.Rules.MovingMedianWindow))
	if err != nil {
		return false, err
	}
	hctx := &blockinterpreter.HeaderContext{
		CursorChainwork:       cursor.FullHeader.ChainworkCum,
		DifficultyNext:        cursor.DifficultyNext,
		MovingMedianTimestamp: movingMedian(window),
		HistoryRootNext:       cursor.HistoryRootNext,
	}

	ok, err := e.Interpreter.HandleBlock(dbTx, hash, node.Header, node.Header.Height, true, hctx, e.Accs, e.Extra)
	if err != nil {
		return false, err
	}
	if !ok {
		log.Infof("block %s rejected during go_forward, penalizing peer", hash)
		if err := e.Graph.SetFlags(dbTx, hash, clearFlag(node.Flags, externalapi.FlagFunctional)); err != nil {
			return false, err
		}
		if err := e.Bodies.DeleteBody(dbTx, hash); err != nil {
			return false, err
		}
		if e.Hooks != nil && node.BodyPeer != "" {
			e.Hooks.OnPeerInsane(node.BodyPeer)
		}
		return false, nil
	}

	e.History.Append(hash)
	diffWindow, err := e.collectActiveWindow(dbTx, hash, e.Rules.DifficultyWindow)
	if err != nil {
		return false, err
	}
	newLoHorizon := cursor.LoHorizon
	if node.Header.Height > e.Rules.MaxRollbackHeight {
		if advanced := node.Header.Height - e.Rules.MaxRollbackHeight; advanced > newLoHorizon {
			newLoHorizon = advanced
		}
	}
	newCursor := &externalapi.Cursor{
		SID:             externalapi.StateID{Row: node.Row, Height: node.Header.Height},
		FullHeader:      node.Header,
		ID:              externalapi.ChainID{Height: node.Header.Height, Hash: hash},
		HistoryRoot:     cursor.HistoryRootNext,
		HistoryRootNext: e.History.Root(),
		LoHorizon:       newLoHorizon,
		DifficultyNext:  e.Rules.NextDifficultyBits(diffWindow),
	}
	if err := e.Cursors.Set(dbTx, newCursor); err != nil {
		return false, err
	}
	if err := e.Cursors.SetExtra(dbTx, e.Extra); err != nil {
		return false, err
	}
	if e.Params != nil {
		if err := e.Params.Set(dbTx, paramsstore.LoHorizon, newLoHorizon); err != nil {
			return false, err
		}
	}
	if err := e.Graph.SetFlags(dbTx, hash, node.Flags|externalapi.FlagActive); err != nil {
		return false, err
	}
	return true, nil
}

// collectActiveWindow walks n headers backward from tipHash over PrevHash
// links, oldest first, stopping early at genesis.
func (e *Engine) collectActiveWindow(dbContext db.DBReader, tipHash externalapi.DomainHash, n uint64) ([]*externalapi.DomainBlockHeader, error) {
	var reversed []*externalapi.DomainBlockHeader
	hash := tipHash
	for i := uint64(0); i < n; i++ {
		node, err := e.Graph.Get(dbContext, hash)
		if err != nil {
			return nil, err
		}
		reversed = append(reversed, node.Header)
		if node.Header.PrevHash.IsZero() {
			break
		}
		hash = node.Header.PrevHash
	}
	out := make([]*externalapi.DomainBlockHeader, len(reversed))
	for i, h := range reversed {
		out[len(reversed)-1-i] = h
	}
	return out, nil
}

func movingMedian(window []*externalapi.DomainBlockHeader) int64 {
	if len(window) == 0 {
		return -1
	}
	timestamps := make([]int64, len(window))
	for i, h := range window {
		timestamps[i] = h.TimestampUnixMs
	}
	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i] < timestamps[j] })
	return timestamps[len(timestamps)/2]
}

func clearFlag(flags externalapi.NodeFlags, remove externalapi.NodeFlags) externalapi.NodeFlags {
	return flags &^ remove
}

func currentFlags(dbContext db.DBReader, graph *headergraphstore.Store, hash externalapi.DomainHash) externalapi.NodeFlags {
	node, err := graph.Get(dbContext, hash)
	if err != nil {
		return 0
	}
	return node.Flags
}

