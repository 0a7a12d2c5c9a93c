// Package pruning implements the two horizons of spec §4.5: the branching
// horizon (delete state chains whose tip has fallen too far behind the
// cursor to ever contend for best-tip) and the fossil horizon
// (deactivate and drop bodies for heights old enough that a reorg past
// them is assumed impossible). Grounded on original_source's
// NodeProcessor::PruneOld / PruneBranch, kept as its own process the way
// the teacher separates pruning managers from the processor loop that
// triggers them.
package pruning

import (
	"github.com/1M15M3/beam/domain/consensus/datastructures/bodystore"
	"github.com/1M15M3/beam/domain/consensus/datastructures/cursorstore"
	"github.com/1M15M3/beam/domain/consensus/datastructures/headergraphstore"
	"github.com/1M15M3/beam/domain/consensus/datastructures/paramsstore"
	"github.com/1M15M3/beam/domain/consensus/model/externalapi"
	"github.com/1M15M3/beam/domain/consensus/rules"
	"github.com/1M15M3/beam/infrastructure/db"
	"github.com/1M15M3/beam/infrastructure/logger"
)

var log = logger.RegisterSubSystem("PRUN")

// Pruner runs the branching and fossil horizons.
type Pruner struct {
	Graph   *headergraphstore.Store
	Cursors *cursorstore.Store
	Bodies  *bodystore.Store
	Params  *paramsstore.Store
	Rules   *rules.Rules
}

// Run applies both horizons; callers invoke this after TryGoUp moves the
// cursor (spec §4.5 runs pruning "after every successful TryGoUp").
func (p *Pruner) Run(dbTx db.DBTransaction) error {
	if err := p.pruneBranches(dbTx); err != nil {
		return err
	}
	return p.pruneFossils(dbTx)
}

// pruneBranches deletes state chains whose tip height has fallen more
// than branching_horizon behind the cursor: such a chain can never again
// out-chainwork the cursor's descendants (spec §4.5).
func (p *Pruner) pruneBranches(dbTx db.DBTransaction) error {
	cursor, err := p.Cursors.Get(dbTx)
	if err != nil {
		return err
	}
	if cursor.SID.Height < p.Rules.BranchingHorizon {
		return nil
	}
	cutoff := cursor.SID.Height - p.Rules.BranchingHorizon

	var deadTips []externalapi.DomainHash
	err = p.Graph.EnumTips(dbTx, func(hash externalapi.DomainHash, node *headergraphstore.Node) bool {
		if node.Flags.Has(externalapi.FlagActive) {
			return true
		}
		if node.Header.Height < cutoff {
			deadTips = append(deadTips, hash)
		}
		return true
	})
	if err != nil {
		return err
	}

	for _, tip := range deadTips {
		if err := p.deleteChain(dbTx, tip); err != nil {
			return err
		}
	}
	return nil
}

// deleteChain walks backward from tip deleting nodes and bodies until it
// hits a node another surviving chain still references (in-degree > 0
// after this tip's removal) or genesis.
func (p *Pruner) deleteChain(dbTx db.DBTransaction, tip externalapi.DomainHash) error {
	hash := tip
	for {
		node, err := p.Graph.Get(dbTx, hash)
		if err != nil {
			if db.IsNotFoundError(err) {
				return nil
			}
			return err
		}
		parent := node.Header.PrevHash

		if node.Flags.Has(externalapi.FlagFunctional) {
			if err := p.Bodies.DeleteState(dbTx, hash); err != nil {
				return err
			}
		}
		if err := p.Graph.Delete(dbTx, hash, node.Row); err != nil {
			return err
		}
		log.Debugf("pruned branch node %s at height %d", hash, node.Header.Height)

		if parent.IsZero() {
			return nil
		}
		hasSibling, err := p.hasOtherChild(dbTx, parent, hash)
		if err != nil {
			return err
		}
		if hasSibling {
			return nil
		}
		hash = parent
	}
}

// hasOtherChild reports whether any surviving node still names parent as
// its PrevHash, after exclude has already been deleted from the graph.
// Without a reverse child index this requires a scan, acceptable at
// pruning's low frequency and small live-set size.
func (p *Pruner) hasOtherChild(dbContext db.DBReader, parent, exclude externalapi.DomainHash) (bool, error) {
	top, err := p.Params.Get(dbContext, paramsstore.NextRow)
	if err != nil {
		if db.IsNotFoundError(err) {
			return false, nil
		}
		return false, err
	}
	for row := externalapi.RowID(0); row < externalapi.RowID(top); row++ {
		hash, node, err := p.Graph.GetByRow(dbContext, row)
		if err != nil {
			if db.IsNotFoundError(err) {
				continue // row belongs to an already-pruned node
			}
			return false, err
		}
		if hash != exclude && node.Header.PrevHash == parent {
			return true, nil
		}
	}
	return false, nil
}

// pruneFossils advances fossil_height (spec §4.5): heights below
// min(cursor.height - EffectiveSchwarzschildHorizon, lo_horizon) are
// beyond any possible future rollback, so their non-Active bodies are
// dropped and marked non-Functional, freeing storage while the header
// itself (needed for history-root recomputation) stays.
func (p *Pruner) pruneFossils(dbTx db.DBTransaction) error {
	cursor, err := p.Cursors.Get(dbTx)
	if err != nil {
		return err
	}
	horizon := p.Rules.EffectiveSchwarzschildHorizon()
	if cursor.SID.Height < horizon {
		return nil
	}
	target := cursor.SID.Height - horizon
	if cursor.LoHorizon < target {
		target = cursor.LoHorizon
	}

	fossilHeight, err := p.Params.Get(dbTx, paramsstore.FossilHeight)
	if err != nil {
		if !db.IsNotFoundError(err) {
			return err
		}
		fossilHeight = 0
	}
	if target <= fossilHeight {
		return nil
	}

	hash := cursor.ID.Hash
	activeAtHeight := map[uint64]externalapi.DomainHash{}
	for {
		node, err := p.Graph.Get(dbTx, hash)
		if err != nil {
			return err
		}
		activeAtHeight[node.Header.Height] = hash
		if node.Header.Height <= fossilHeight || node.Header.PrevHash.IsZero() {
			break
		}
		hash = node.Header.PrevHash
	}

	for h := fossilHeight; h < target; h++ {
		activeHash, ok := activeAtHeight[h]
		if !ok {
			continue
		}
		if err := p.demoteNonActiveAt(dbTx, h, activeHash); err != nil {
			return err
		}
	}

	if err := p.Params.Set(dbTx, paramsstore.FossilHeight, target); err != nil {
		return err
	}
	log.Infof("fossil horizon advanced to height %d", target)
	return nil
}

// demoteNonActiveAt marks every node at height h other than keep as
// non-Functional and drops its body, since it can no longer be reached by
// any future TryGoUp once its height falls below the fossil horizon.
func (p *Pruner) demoteNonActiveAt(dbTx db.DBTransaction, h uint64, keep externalapi.DomainHash) error {
	// enum_tips only visits leaves; demotion targets every node at height
	// h, so this walks the row index instead. At this system's scale a
	// direct scan over rows from 0 up to the current counter is
	// acceptable.
	top, err := p.Params.Get(dbTx, paramsstore.NextRow)
	if err != nil {
		if db.IsNotFoundError(err) {
			return nil
		}
		return err
	}

	var toDemote []externalapi.DomainHash
	for row := externalapi.RowID(0); row < externalapi.RowID(top); row++ {
		hash, node, err := p.Graph.GetByRow(dbTx, row)
		if err != nil {
			if db.IsNotFoundError(err) {
				continue // row belongs to an already-pruned node
			}
			return err
		}
		if node.Header.Height == h && hash != keep && node.Flags.Has(externalapi.FlagFunctional) {
			toDemote = append(toDemote, hash)
		}
	}

	for _, hash := range toDemote {
		node, err := p.Graph.Get(dbTx, hash)
		if err != nil {
			return err
		}
		if err := p.Graph.SetFlags(dbTx, hash, node.Flags&^externalapi.FlagFunctional); err != nil {
			return err
		}
		if err := p.Bodies.DeleteBody(dbTx, hash); err != nil {
			return err
		}
	}
	return nil
}
