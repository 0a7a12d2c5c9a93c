package blocktemplate

import (
	"os"
	"testing"

	"github.com/1M15M3/beam/domain/consensus/datastructures/cursorstore"
	"github.com/1M15M3/beam/domain/consensus/hashdomain"
	"github.com/1M15M3/beam/domain/consensus/model/externalapi"
	"github.com/1M15M3/beam/domain/consensus/processes/accumulators"
	"github.com/1M15M3/beam/domain/consensus/processes/blockinterpreter"
	"github.com/1M15M3/beam/domain/consensus/rules"
	"github.com/1M15M3/beam/domain/consensus/utils/mmr"
	"github.com/1M15M3/beam/infrastructure/db"
	"github.com/1M15M3/beam/infrastructure/db/ldb"
)

// fakeEncoder treats a body's "size" as its element count and Merge as
// concatenation, standing in for the real wire encoder this package treats
// as an external concern.
type fakeEncoder struct{}

func (fakeEncoder) Size(body *externalapi.DecodedBody) int {
	return len(body.Inputs) + len(body.Outputs) + len(body.KernelInputs) + len(body.KernelOutputs)
}

func (fakeEncoder) CutThrough(body *externalapi.DecodedBody) *externalapi.DecodedBody { return body }

func (fakeEncoder) Merge(a, b *externalapi.DecodedBody) *externalapi.DecodedBody {
	merged := a.Clone()
	merged.Inputs = append(merged.Inputs, b.Inputs...)
	merged.Outputs = append(merged.Outputs, b.Outputs...)
	merged.KernelInputs = append(merged.KernelInputs, b.KernelInputs...)
	merged.KernelOutputs = append(merged.KernelOutputs, b.KernelOutputs...)
	merged.SubsidyClosing = a.SubsidyClosing || b.SubsidyClosing
	return merged
}

func (fakeEncoder) Serialize(body *externalapi.DecodedBody) []byte { return nil }

type fakeKeys struct{}

func (fakeKeys) CoinbaseOutput(height uint64) *externalapi.OutputUTXO {
	return &externalapi.OutputUTXO{Commitment: externalapi.DomainCommitment{byte(height)}, IsCoinbase: true}
}

func (fakeKeys) CoinbaseKernel(height uint64) *externalapi.KernelOutput {
	return &externalapi.KernelOutput{KernelID: externalapi.DomainHash{0xC0, byte(height)}}
}

func (fakeKeys) FeesOutput(fees, height uint64) *externalapi.OutputUTXO {
	return &externalapi.OutputUTXO{Commitment: externalapi.DomainCommitment{0xFE, byte(height)}}
}

type sliceMempool struct {
	txs    []*MempoolTx
	pos    int
	evicts []*MempoolTx
}

func (m *sliceMempool) Next() (*MempoolTx, bool) {
	if m.pos >= len(m.txs) {
		return nil, false
	}
	tx := m.txs[m.pos]
	m.pos++
	return tx, true
}

func (m *sliceMempool) Evict(tx *MempoolTx) { m.evicts = append(m.evicts, tx) }

func testRules() *rules.Rules {
	return &rules.Rules{
		MaxBodySize: 1000,
		Subsidy:     50,
	}
}

func openTx(t *testing.T) db.DBTransaction {
	t.Helper()
	dir, err := os.MkdirTemp("", "beam-blocktemplate-test-*")
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
	return tx
}

func seedCursor(t *testing.T, tx db.DBTransaction, store *cursorstore.Store, r *rules.Rules) {
	t.Helper()
	genesisHash := externalapi.DomainHash{0x01}
	cursor := &externalapi.Cursor{
		SID: externalapi.StateID{Height: 0},
		FullHeader: &externalapi.DomainBlockHeader{
			Height:       0,
			ChainworkCum: externalapi.NewChainworkFromUint64(0),
			PoW:          &externalapi.ProofOfWork{DifficultyPacked: r.PowLimitBits},
		},
		ID:              externalapi.ChainID{Height: 0, Hash: genesisHash},
		HistoryRoot:     mmr.RootAt(nil),
		HistoryRootNext: mmr.RootAt([]externalapi.DomainHash{genesisHash}),
		DifficultyNext:  r.PowLimitBits,
	}
	if err := store.Set(tx, cursor); err != nil {
		t.Fatalf("Set cursor: %v", err)
	}
}

func TestGenerateWithEmptyMempoolProducesCoinbaseOnlyBlock(t *testing.T) {
	tx := openTx(t)
	cursors := cursorstore.New()
	r := testRules()
	seedCursor(t, tx, cursors, r)

	templater := &Templater{Cursors: cursors, Rules: r, Keys: fakeKeys{}, Codec: fakeEncoder{}, Now: func() int64 { return 1000 }}

	accs := accumulators.New()
	extra := &externalapi.Extra{SubsidyOpen: true}
	accsBefore := accs.UTXORoot()
	extraBefore := *extra

	result, ok, err := templater.Generate(tx, accs, extra, &sliceMempool{}, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !ok {
		t.Fatalf("Generate returned ok=false")
	}
	if result.Fees != 0 {
		t.Fatalf("Fees = %d, want 0", result.Fees)
	}
	if len(result.Body.Outputs) != 1 || !result.Body.Outputs[0].IsCoinbase {
		t.Fatalf("body = %+v, want a single coinbase output", result.Body)
	}
	if result.Header.Height != 1 {
		t.Fatalf("Header.Height = %d, want 1", result.Header.Height)
	}

	if accs.UTXORoot() != accsBefore {
		t.Fatalf("Generate did not undo its accumulator mutation")
	}
	if *extra != extraBefore {
		t.Fatalf("Generate did not undo its Extra mutation: got %+v, want %+v", *extra, extraBefore)
	}
}

func TestGenerateDefinitionHashMatchesHashdomain(t *testing.T) {
	tx := openTx(t)
	cursors := cursorstore.New()
	r := testRules()
	seedCursor(t, tx, cursors, r)

	templater := &Templater{Cursors: cursors, Rules: r, Keys: fakeKeys{}, Codec: fakeEncoder{}}

	accs := accumulators.New()
	extra := &externalapi.Extra{SubsidyOpen: true}

	result, ok, err := templater.Generate(tx, accs, extra, &sliceMempool{}, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !ok {
		t.Fatalf("Generate returned ok=false")
	}

	cursor, err := cursors.Get(tx)
	if err != nil {
		t.Fatalf("Get cursor: %v", err)
	}
	check := accumulators.New()
	if _, err := blockinterpreter.ApplyBody(check, &externalapi.Extra{SubsidyOpen: true}, result.Body, 1, true, 0); err != nil {
		t.Fatalf("ApplyBody on a fresh accumulator: %v", err)
	}
	want := hashdomain.HeaderDefinition(check.UTXORoot(), check.KernelRoot(), cursor.HistoryRootNext)
	if result.Header.DefinitionHash != want {
		t.Fatalf("Header.DefinitionHash = %v, want %v", result.Header.DefinitionHash, want)
	}
}

func TestGenerateIncludesMempoolFeesAndFeesOutput(t *testing.T) {
	tx := openTx(t)
	cursors := cursorstore.New()
	r := testRules()
	seedCursor(t, tx, cursors, r)

	templater := &Templater{Cursors: cursors, Rules: r, Keys: fakeKeys{}, Codec: fakeEncoder{}}

	accs := accumulators.New()
	extra := &externalapi.Extra{SubsidyOpen: true}

	txBody := &externalapi.DecodedBody{
		Outputs:       []*externalapi.OutputUTXO{{Commitment: externalapi.DomainCommitment{0x42}}},
		KernelOutputs: []*externalapi.KernelOutput{{KernelID: externalapi.DomainHash{0x42}}},
	}
	mempool := &sliceMempool{txs: []*MempoolTx{{Body: txBody, Fee: 10}}}

	result, ok, err := templater.Generate(tx, accs, extra, mempool, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !ok {
		t.Fatalf("Generate returned ok=false")
	}
	if result.Fees != 10 {
		t.Fatalf("Fees = %d, want 10", result.Fees)
	}

	sawTxOutput := false
	coinbaseCount := 0
	for _, out := range result.Body.Outputs {
		if out.IsCoinbase {
			coinbaseCount++
		}
		if out.Commitment == (externalapi.DomainCommitment{0x42}) {
			sawTxOutput = true
		}
	}
	if !sawTxOutput {
		t.Fatalf("template did not include the mempool transaction's output")
	}
	if coinbaseCount != 1 {
		t.Fatalf("coinbase output count = %d, want 1", coinbaseCount)
	}
	// coinbase + mempool tx output + fees output = 3 outputs.
	if len(result.Body.Outputs) != 3 {
		t.Fatalf("Outputs = %d, want 3 (coinbase, tx, fees)", len(result.Body.Outputs))
	}
}

func TestGenerateOverflowingMempoolTxIsSkippedNotIncluded(t *testing.T) {
	tx := openTx(t)
	cursors := cursorstore.New()
	r := testRules()
	r.MaxBodySize = 2 // only the coinbase (1 output + 1 kernel output = size 2) fits.
	seedCursor(t, tx, cursors, r)

	templater := &Templater{Cursors: cursors, Rules: r, Keys: fakeKeys{}, Codec: fakeEncoder{}}

	accs := accumulators.New()
	extra := &externalapi.Extra{SubsidyOpen: true}

	txBody := &externalapi.DecodedBody{
		Outputs:       []*externalapi.OutputUTXO{{Commitment: externalapi.DomainCommitment{0x42}}},
		KernelOutputs: []*externalapi.KernelOutput{{KernelID: externalapi.DomainHash{0x42}}},
	}
	mempool := &sliceMempool{txs: []*MempoolTx{{Body: txBody, Fee: 10}}}

	result, ok, err := templater.Generate(tx, accs, extra, mempool, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !ok {
		t.Fatalf("Generate returned ok=false")
	}
	if result.Fees != 0 {
		t.Fatalf("Fees = %d, want 0 (tx should not have fit)", result.Fees)
	}
	if len(result.Body.Outputs) != 1 {
		t.Fatalf("Outputs = %d, want 1 (coinbase only)", len(result.Body.Outputs))
	}
}

func TestGenerateSkipsLateOversizedTxWithoutEvictingIt(t *testing.T) {
	tx := openTx(t)
	cursors := cursorstore.New()
	r := testRules()
	r.MaxBodySize = 5 // coinbase (2) + a fitting first tx (2) + its fees-output allowance (1) = 5.
	seedCursor(t, tx, cursors, r)

	templater := &Templater{Cursors: cursors, Rules: r, Keys: fakeKeys{}, Codec: fakeEncoder{}}

	accs := accumulators.New()
	extra := &externalapi.Extra{SubsidyOpen: true}

	fits := &externalapi.DecodedBody{
		Outputs:       []*externalapi.OutputUTXO{{Commitment: externalapi.DomainCommitment{0x42}}},
		KernelOutputs: []*externalapi.KernelOutput{{KernelID: externalapi.DomainHash{0x42}}},
	}
	// Individually oversized on its own, but the block is no longer
	// seed-only by the time this is considered: it must be skipped for
	// this template, not evicted from the mempool outright.
	tooBig := &externalapi.DecodedBody{
		Outputs: []*externalapi.OutputUTXO{
			{Commitment: externalapi.DomainCommitment{0x01}},
			{Commitment: externalapi.DomainCommitment{0x02}},
			{Commitment: externalapi.DomainCommitment{0x03}},
		},
		KernelOutputs: []*externalapi.KernelOutput{
			{KernelID: externalapi.DomainHash{0x01}},
			{KernelID: externalapi.DomainHash{0x02}},
			{KernelID: externalapi.DomainHash{0x03}},
		},
	}
	mempool := &sliceMempool{txs: []*MempoolTx{
		{Body: fits, Fee: 10},
		{Body: tooBig, Fee: 5},
	}}

	result, ok, err := templater.Generate(tx, accs, extra, mempool, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !ok {
		t.Fatalf("Generate returned ok=false")
	}
	if result.Fees != 10 {
		t.Fatalf("Fees = %d, want 10 (only the first tx should have fit)", result.Fees)
	}
	if len(mempool.evicts) != 0 {
		t.Fatalf("mempool.evicts = %v, want none: an oversized tx arriving after the block stopped being seed-only must only be skipped", mempool.evicts)
	}
}
