package pruning

import (
	"os"
	"testing"

	"github.com/1M15M3/beam/domain/consensus/datastructures/bodystore"
	"github.com/1M15M3/beam/domain/consensus/datastructures/cursorstore"
	"github.com/1M15M3/beam/domain/consensus/datastructures/headergraphstore"
	"github.com/1M15M3/beam/domain/consensus/datastructures/paramsstore"
	"github.com/1M15M3/beam/domain/consensus/model/externalapi"
	"github.com/1M15M3/beam/domain/consensus/rules"
	"github.com/1M15M3/beam/infrastructure/db"
	"github.com/1M15M3/beam/infrastructure/db/ldb"
)

type harness struct {
	tx      db.DBTransaction
	graph   *headergraphstore.Store
	cursors *cursorstore.Store
	bodies  *bodystore.Store
	params  *paramsstore.Store
	pruner  *Pruner
	nextRow externalapi.RowID
}

func newHarness(t *testing.T, r *rules.Rules) *harness {
	t.Helper()
	dir, err := os.MkdirTemp("", "beam-pruning-test-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	l, err := ldb.Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { l.Close() })

	tx, err := l.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	t.Cleanup(func() { tx.RollbackUnlessClosed() })

	h := &harness{
		tx:      tx,
		graph:   headergraphstore.New(),
		cursors: cursorstore.New(),
		bodies:  bodystore.New(),
		params:  paramsstore.New(),
	}
	h.pruner = &Pruner{Graph: h.graph, Cursors: h.cursors, Bodies: h.bodies, Params: h.params, Rules: r}
	return h
}

// insert adds a node at height with the given parent, flags and functional
// body, returning its hash. Hashes are just the height byte plus a branch
// tag to keep forks distinguishable without mining.
func (h *harness) insert(height uint64, parent externalapi.DomainHash, branch byte, flags externalapi.NodeFlags) externalapi.DomainHash {
	var hash externalapi.DomainHash
	hash[0] = byte(height)
	hash[1] = branch
	row := h.nextRow
	h.nextRow++
	node := &headergraphstore.Node{
		Row: row,
		Header: &externalapi.DomainBlockHeader{
			Height:       height,
			PrevHash:     parent,
			ChainworkCum: externalapi.NewChainworkFromUint64(height),
			PoW:          &externalapi.ProofOfWork{DifficultyPacked: 1},
		},
		Flags: flags,
	}
	if err := h.graph.Insert(h.tx, hash, node); err != nil {
		panic(err)
	}
	if flags.Has(externalapi.FlagFunctional) {
		if err := h.bodies.SetBody(h.tx, hash, &externalapi.DecodedBody{}); err != nil {
			panic(err)
		}
	}
	if err := h.params.Set(h.tx, paramsstore.NextRow, uint64(h.nextRow)); err != nil {
		panic(err)
	}
	return hash
}

func (h *harness) setCursor(height uint64, hash externalapi.DomainHash, loHorizon uint64) {
	if err := h.cursors.Set(h.tx, &externalapi.Cursor{
		SID:        externalapi.StateID{Height: height},
		FullHeader: &externalapi.DomainBlockHeader{Height: height, PoW: &externalapi.ProofOfWork{DifficultyPacked: 1}, ChainworkCum: externalapi.NewChainworkFromUint64(height)},
		ID:         externalapi.ChainID{Height: height, Hash: hash},
		LoHorizon:  loHorizon,
	}); err != nil {
		panic(err)
	}
}

func testRulesWithHorizons(branching, schwarzschild, rollback uint64) *rules.Rules {
	return &rules.Rules{
		BranchingHorizon:     branching,
		SchwarzschildHorizon: schwarzschild,
		MaxRollbackHeight:    rollback,
	}
}

func TestPruneBranchesLeavesShortChainsAlone(t *testing.T) {
	r := testRulesWithHorizons(100, 1000, 100)
	h := newHarness(t, r)

	genesis := h.insert(0, externalapi.DomainHash{}, 0, externalapi.FlagActive|externalapi.FlagFunctional)
	h.setCursor(0, genesis, 0)

	if err := h.pruner.Run(h.tx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if has, err := h.graph.Has(h.tx, genesis); err != nil || !has {
		t.Fatalf("genesis was pruned on a chain shorter than any horizon")
	}
}

func TestPruneBranchesDeletesStaleDeadEndAndStopsAtSharedAncestor(t *testing.T) {
	r := testRulesWithHorizons(3, 1000, 100)
	h := newHarness(t, r)

	genesis := h.insert(0, externalapi.DomainHash{}, 0, externalapi.FlagActive|externalapi.FlagFunctional)

	// Active chain runs to height 10, far ahead.
	activePrev := genesis
	for height := uint64(1); height <= 10; height++ {
		activePrev = h.insert(height, activePrev, 0, externalapi.FlagActive|externalapi.FlagFunctional)
	}

	// A dead branch forks right after genesis and stalls at height 1:
	// height 1 < cutoff(10-3=7), so it's stale.
	deadTip := h.insert(1, genesis, 1, externalapi.FlagFunctional)

	h.setCursor(10, activePrev, 0)

	if err := h.pruner.Run(h.tx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if has, _ := h.graph.Has(h.tx, deadTip); has {
		t.Fatalf("dead branch tip survived pruning")
	}
	if has, err := h.graph.Has(h.tx, genesis); err != nil || !has {
		t.Fatalf("pruning deleted past the shared ancestor: genesis missing")
	}
	if has, err := h.graph.Has(h.tx, activePrev); err != nil || !has {
		t.Fatalf("pruning deleted the active tip")
	}
}

func TestPruneBranchesKeepsRecentDeadTip(t *testing.T) {
	r := testRulesWithHorizons(100, 1000, 100)
	h := newHarness(t, r)

	genesis := h.insert(0, externalapi.DomainHash{}, 0, externalapi.FlagActive|externalapi.FlagFunctional)
	activePrev := genesis
	for height := uint64(1); height <= 150; height++ {
		activePrev = h.insert(height, activePrev, 0, externalapi.FlagActive|externalapi.FlagFunctional)
	}
	// Dead tip at height 60: cutoff = 150-100 = 50, so 60 >= cutoff, not stale yet.
	deadTip := h.insert(60, activePrev, 1, externalapi.FlagFunctional)

	h.setCursor(150, activePrev, 0)

	if err := h.pruner.Run(h.tx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if has, err := h.graph.Has(h.tx, deadTip); err != nil || !has {
		t.Fatalf("recent dead tip was pruned prematurely")
	}
}

func TestPruneFossilsDemotesNonActiveSiblingKeepsActive(t *testing.T) {
	// All three horizons equal 3, so EffectiveSchwarzschildHorizon is 3;
	// LoHorizon is raised to 7 so the fossil target (cursor.height-3=7)
	// isn't further clamped down by it.
	//
	// The non-active sibling at height 1 is given its own child (a tip at
	// height 8, at/above the branching cutoff of 7) so pruneBranches's
	// tip scan never marks the sibling itself for deletion — only fossil
	// demotion, which scans every row at a height rather than just tips,
	// should touch it.
	r := testRulesWithHorizons(3, 3, 3)
	h := newHarness(t, r)

	genesis := h.insert(0, externalapi.DomainHash{}, 0, externalapi.FlagActive|externalapi.FlagFunctional)
	activePrev := genesis
	var activeAtOne externalapi.DomainHash
	for height := uint64(1); height <= 10; height++ {
		activePrev = h.insert(height, activePrev, 0, externalapi.FlagActive|externalapi.FlagFunctional)
		if height == 1 {
			activeAtOne = activePrev
		}
	}
	sibling := h.insert(1, genesis, 1, externalapi.FlagFunctional)
	siblingChild := sibling
	for height := uint64(2); height <= 8; height++ {
		siblingChild = h.insert(height, siblingChild, 1, externalapi.FlagFunctional)
	}

	h.setCursor(10, activePrev, 7)

	if err := h.pruner.Run(h.tx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if has, err := h.graph.Has(h.tx, sibling); err != nil || !has {
		t.Fatalf("branch pruning deleted the non-tip sibling node it should have left for fossil pruning")
	}
	siblingNode, err := h.graph.Get(h.tx, sibling)
	if err != nil {
		t.Fatalf("Get sibling: %v", err)
	}
	if siblingNode.Flags.Has(externalapi.FlagFunctional) {
		t.Fatalf("fossil pruning did not demote the non-active sibling")
	}
	if has, err := h.bodies.HasBody(h.tx, sibling); err != nil || has {
		t.Fatalf("fossil pruning left the sibling's body in place")
	}

	childNode, err := h.graph.Get(h.tx, siblingChild)
	if err != nil {
		t.Fatalf("Get siblingChild: %v", err)
	}
	if !childNode.Flags.Has(externalapi.FlagFunctional) {
		t.Fatalf("fossil pruning demoted a node above its target height")
	}

	activeNode, err := h.graph.Get(h.tx, activeAtOne)
	if err != nil {
		t.Fatalf("Get active: %v", err)
	}
	if !activeNode.Flags.Has(externalapi.FlagFunctional) {
		t.Fatalf("fossil pruning demoted the active chain's own node")
	}
	if has, err := h.bodies.HasBody(h.tx, activeAtOne); err != nil || !has {
		t.Fatalf("fossil pruning dropped the active chain's own body")
	}
}
