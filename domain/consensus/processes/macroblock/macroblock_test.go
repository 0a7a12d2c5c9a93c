package macroblock

import (
	"math/big"
	"os"
	"testing"

	"github.com/1M15M3/beam/domain/consensus/datastructures/bodystore"
	"github.com/1M15M3/beam/domain/consensus/datastructures/cursorstore"
	"github.com/1M15M3/beam/domain/consensus/datastructures/headergraphstore"
	"github.com/1M15M3/beam/domain/consensus/datastructures/paramsstore"
	"github.com/1M15M3/beam/domain/consensus/hashdomain"
	"github.com/1M15M3/beam/domain/consensus/model/externalapi"
	"github.com/1M15M3/beam/domain/consensus/processes/accumulators"
	"github.com/1M15M3/beam/domain/consensus/processes/blockinterpreter"
	"github.com/1M15M3/beam/domain/consensus/rules"
	"github.com/1M15M3/beam/domain/consensus/utils/mmr"
	"github.com/1M15M3/beam/infrastructure/db"
	"github.com/1M15M3/beam/infrastructure/db/ldb"
)

func testRules() *rules.Rules {
	loose := rules.BigToCompact(new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 255), big.NewInt(1)))
	return &rules.Rules{
		MaxBodySize:                   1 << 20,
		TargetBlockTimeMs:             60_000,
		MaxDifficultyAdjustmentFactor: 4,
		MinMaturity:                   1,
		PowLimitBits:                  loose,
		GenesisDifficultyBits:         loose,
	}
}

func mine(header *externalapi.DomainBlockHeader) externalapi.DomainHash {
	for nonce := uint64(0); nonce < 1_000_000; nonce++ {
		header.PoW.Nonce = nonce
		hash := hashdomain.HeaderHash(header)
		if rules.CheckProofOfWork(hash, header.PoW.DifficultyPacked) {
			return hash
		}
	}
	panic("mine: exhausted nonce space")
}

type harness struct {
	tx      db.DBTransaction
	graph   *headergraphstore.Store
	cursors *cursorstore.Store
	bodies  *bodystore.Store
	params  *paramsstore.Store
	mgr     *Manager
	rules   *rules.Rules
	genesis *externalapi.DomainBlockHeader
	genHash externalapi.DomainHash
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir, err := os.MkdirTemp("", "beam-macroblock-test-*")
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

	graph := headergraphstore.New()
	cursors := cursorstore.New()
	bodies := bodystore.New()
	params := paramsstore.New()
	r := testRules()
	interp := blockinterpreter.New(bodies, r, nil)

	h := &harness{tx: tx, graph: graph, cursors: cursors, bodies: bodies, params: params, rules: r}
	h.mgr = &Manager{Graph: graph, Cursors: cursors, Bodies: bodies, Params: params, Interpreter: interp, Rules: r, Codec: nil}

	genesis := &externalapi.DomainBlockHeader{
		Height:          0,
		ChainworkCum:    externalapi.NewChainworkFromUint64(0),
		PoW:             &externalapi.ProofOfWork{DifficultyPacked: r.GenesisDifficultyBits},
		TimestampUnixMs: 0,
		DefinitionHash:  hashdomain.HeaderDefinition(accumulators.New().UTXORoot(), accumulators.New().KernelRoot(), mmr.RootAt(nil)),
	}
	genHash := mine(genesis)
	h.genesis, h.genHash = genesis, genHash

	if err := graph.Insert(tx, genHash, &headergraphstore.Node{
		Row:    0,
		Header: genesis,
		Flags:  externalapi.FlagReachable | externalapi.FlagFunctional | externalapi.FlagActive,
	}); err != nil {
		t.Fatalf("insert genesis: %v", err)
	}
	if err := params.Set(tx, paramsstore.NextRow, 1); err != nil {
		t.Fatalf("set NextRow: %v", err)
	}
	if err := cursors.Set(tx, &externalapi.Cursor{
		SID:             externalapi.StateID{Row: 0, Height: 0},
		FullHeader:      genesis,
		ID:              externalapi.ChainID{Height: 0, Hash: genHash},
		HistoryRoot:     mmr.RootAt(nil),
		HistoryRootNext: mmr.RootAt([]externalapi.DomainHash{genHash}),
		DifficultyNext:  r.GenesisDifficultyBits,
	}); err != nil {
		t.Fatalf("set cursor: %v", err)
	}
	if err := cursors.SetExtra(tx, &externalapi.Extra{SubsidyOpen: true}); err != nil {
		t.Fatalf("set extra: %v", err)
	}
	return h
}

func TestImportRejectsDiscontinuousPrefix(t *testing.T) {
	h := newHarness(t)
	wrongPrev := &externalapi.DomainBlockHeader{
		Height:          1,
		PrevHash:        externalapi.DomainHash{0xFF},
		ChainworkCum:    externalapi.NewChainworkFromUint64(1),
		PoW:             &externalapi.ProofOfWork{DifficultyPacked: h.rules.GenesisDifficultyBits},
		TimestampUnixMs: h.rules.TargetBlockTimeMs,
	}
	mine(wrongPrev)

	accs := accumulators.New()
	extra := &externalapi.Extra{SubsidyOpen: true}
	history := mmr.New()
	history.Append(h.genHash)

	ok, err := h.mgr.Import(h.tx, accs, extra, history, &ImportRequest{
		PrefixHeader: wrongPrev,
		Body:         &externalapi.DecodedBody{},
	})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if ok {
		t.Fatalf("Import accepted a header whose PrevHash does not chain from the cursor")
	}
}

func TestImportSingleHeaderAdvancesCursor(t *testing.T) {
	h := newHarness(t)

	definition := hashdomain.HeaderDefinition(accumulators.New().UTXORoot(), accumulators.New().KernelRoot(), mmr.RootAt([]externalapi.DomainHash{h.genHash}))
	prefix := &externalapi.DomainBlockHeader{
		Height:          1,
		PrevHash:        h.genHash,
		ChainworkCum:    h.genesis.ChainworkCum.Add(rules.ChainworkForBits(h.rules.GenesisDifficultyBits, h.rules.PowLimitBits)),
		PoW:             &externalapi.ProofOfWork{DifficultyPacked: h.rules.GenesisDifficultyBits},
		TimestampUnixMs: h.rules.TargetBlockTimeMs,
		DefinitionHash:  definition,
	}
	mine(prefix)

	accs := accumulators.New()
	extra := &externalapi.Extra{SubsidyOpen: true}
	history := mmr.New()
	history.Append(h.genHash)

	ok, err := h.mgr.Import(h.tx, accs, extra, history, &ImportRequest{
		PrefixHeader: prefix,
		Body:         &externalapi.DecodedBody{},
	})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if !ok {
		t.Fatalf("Import rejected a well-formed single-header macroblock")
	}

	cursor, err := h.cursors.Get(h.tx)
	if err != nil {
		t.Fatalf("Get cursor: %v", err)
	}
	if cursor.SID.Height != 1 {
		t.Fatalf("cursor height = %d, want 1", cursor.SID.Height)
	}
	if cursor.LoHorizon != 1 {
		t.Fatalf("cursor LoHorizon = %d, want 1 (macroblock import raises it to the import height)", cursor.LoHorizon)
	}

	fossilHeight, err := h.params.Get(h.tx, paramsstore.FossilHeight)
	if err != nil {
		t.Fatalf("Get FossilHeight: %v", err)
	}
	if fossilHeight != 1 {
		t.Fatalf("FossilHeight = %d, want 1", fossilHeight)
	}
}

func TestImportFailingContextFreeCheckTruncatesHistory(t *testing.T) {
	h := newHarness(t)

	prefix := &externalapi.DomainBlockHeader{
		Height:          1,
		PrevHash:        h.genHash,
		ChainworkCum:    h.genesis.ChainworkCum.Add(rules.ChainworkForBits(h.rules.GenesisDifficultyBits, h.rules.PowLimitBits)),
		PoW:             &externalapi.ProofOfWork{DifficultyPacked: h.rules.GenesisDifficultyBits},
		TimestampUnixMs: h.rules.TargetBlockTimeMs,
	}
	mine(prefix)

	accs := accumulators.New()
	extra := &externalapi.Extra{SubsidyOpen: true}
	history := mmr.New()
	history.Append(h.genHash)
	lenBefore := history.Len()

	dup := externalapi.DomainHash{0x01}
	badBody := &externalapi.DecodedBody{
		KernelOutputs: []*externalapi.KernelOutput{{KernelID: dup}, {KernelID: dup}},
	}

	ok, err := h.mgr.Import(h.tx, accs, extra, history, &ImportRequest{
		PrefixHeader: prefix,
		Body:         badBody,
	})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if ok {
		t.Fatalf("Import accepted a body with a duplicate kernel output")
	}
	if history.Len() != lenBefore {
		t.Fatalf("history.Len() = %d after a rejected import, want %d (the appended header hashes must be truncated back out)", history.Len(), lenBefore)
	}

	cursor, err := h.cursors.Get(h.tx)
	if err != nil {
		t.Fatalf("Get cursor: %v", err)
	}
	if cursor.SID.Height != 0 {
		t.Fatalf("cursor advanced to height %d despite the rejected import", cursor.SID.Height)
	}
}

func TestMergeAndCancelRemovesMatchingOutputInputPair(t *testing.T) {
	commitment := externalapi.DomainCommitment{0x11}
	earlier := &externalapi.DecodedBody{
		Outputs: []*externalapi.OutputUTXO{
			{Commitment: commitment, ExplicitMaturity: 5, HasExplicitMaturity: true},
			{Commitment: externalapi.DomainCommitment{0x22}, ExplicitMaturity: 5, HasExplicitMaturity: true},
		},
	}
	later := &externalapi.DecodedBody{
		Inputs: []*externalapi.InputUTXO{
			{Commitment: commitment, Maturity: 5},
		},
	}

	merged := mergeAndCancel(earlier, later)

	if len(merged.Inputs) != 0 {
		t.Fatalf("merged.Inputs = %d, want 0 (the matching input/output pair should cancel)", len(merged.Inputs))
	}
	if len(merged.Outputs) != 1 || merged.Outputs[0].Commitment != (externalapi.DomainCommitment{0x22}) {
		t.Fatalf("merged.Outputs = %+v, want only the non-cancelled output", merged.Outputs)
	}
}

func TestMergeAndCancelKeepsUnmatchedElements(t *testing.T) {
	earlier := &externalapi.DecodedBody{
		Outputs: []*externalapi.OutputUTXO{{Commitment: externalapi.DomainCommitment{0x01}, ExplicitMaturity: 5, HasExplicitMaturity: true}},
	}
	later := &externalapi.DecodedBody{
		Inputs: []*externalapi.InputUTXO{{Commitment: externalapi.DomainCommitment{0x02}, Maturity: 9}},
	}

	merged := mergeAndCancel(earlier, later)

	if len(merged.Inputs) != 1 || len(merged.Outputs) != 1 {
		t.Fatalf("mergeAndCancel cancelled a non-matching pair: %+v", merged)
	}
}
