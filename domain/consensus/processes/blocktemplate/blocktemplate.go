// Package blocktemplate implements generate_new_block (spec §4.6): fill a
// candidate body from a fee-ordered mempool against a throwaway
// accumulators mutation that is always undone before returning, then
// stamp a header on top of it. Grounded on
// original_source/node/processor.cpp's NodeProcessor::GenerateNewBlock,
// kept as its own process the way the teacher keeps mining template
// construction (mining/manager.go) separate from block acceptance.
package blocktemplate

import (
	"math"

	"github.com/1M15M3/beam/domain/consensus/datastructures/cursorstore"
	"github.com/1M15M3/beam/domain/consensus/hashdomain"
	"github.com/1M15M3/beam/domain/consensus/model/externalapi"
	"github.com/1M15M3/beam/domain/consensus/processes/accumulators"
	"github.com/1M15M3/beam/domain/consensus/processes/blockinterpreter"
	"github.com/1M15M3/beam/domain/consensus/rules"
	"github.com/1M15M3/beam/infrastructure/db"
	"github.com/1M15M3/beam/infrastructure/logger"
	"github.com/pkg/errors"
)

var log = logger.RegisterSubSystem("TMPL")

// MempoolTx is one candidate transaction body plus its fee, sourced from
// the mempool in (fee-descending, size-ascending) order.
type MempoolTx struct {
	Body *externalapi.DecodedBody
	Fee  uint64
}

// Mempool is the fee-ordered iterator input of spec §4.6. Evict is called
// when a transaction is found to be permanently unfit (would not fit even
// in an empty block, spec.md Open Question (ii)) and should never be
// offered again.
type Mempool interface {
	Next() (*MempoolTx, bool)
	Evict(tx *MempoolTx)
}

// KeyDeriver supplies the outputs/kernels this package cannot construct
// itself (spec §4.6 "a key derivation facility"): commitment and kernel
// ID generation is opaque cryptography out of this system's scope.
type KeyDeriver interface {
	CoinbaseOutput(height uint64) *externalapi.OutputUTXO
	CoinbaseKernel(height uint64) *externalapi.KernelOutput
	FeesOutput(fees, height uint64) *externalapi.OutputUTXO
}

// Result is what generate_new_block fills (spec §6.1's ctx.header,
// ctx.body_bytes, ctx.fees).
type Result struct {
	Header *externalapi.DomainBlockHeader
	Body   *externalapi.DecodedBody
	Fees   uint64
}

// Encoder serializes/estimates a body's wire size and cuts through
// matching input/output pairs (spec §4.6 step 7). Kept abstract since the
// wire format for bodies is outside this module's scope.
type Encoder interface {
	Size(body *externalapi.DecodedBody) int
	CutThrough(body *externalapi.DecodedBody) *externalapi.DecodedBody
	Merge(a, b *externalapi.DecodedBody) *externalapi.DecodedBody
	Serialize(body *externalapi.DecodedBody) []byte
}

// Templater generates block templates.
type Templater struct {
	Cursors *cursorstore.Store
	Rules   *rules.Rules
	Keys    KeyDeriver
	Codec   Encoder
	Now     func() int64
	// MovingMedian, when set, returns the moving median timestamp of the
	// current cursor's window; when nil, 0 is used. The Processor leaves
	// it unset.
	MovingMedian func() int64
}

// Generate is generate_new_block(ctx) / generate_new_block(ctx, seed)
// (spec §4.6). seed may be nil. accs and extra are the processor's live
// accumulators; all mutations made here are undone before returning,
// successfully or not (spec §5's "Failure atomicity").
func (t *Templater) Generate(dbContext db.DBReader, accs *accumulators.Accumulators, extra *externalapi.Extra, mempool Mempool, seed *externalapi.DecodedBody) (*Result, bool, error) {
	cursor, err := t.Cursors.Get(dbContext)
	if err != nil {
		return nil, false, err
	}
	nextHeight := cursor.SID.Height + 1

	extraSnapshot := *extra
	appliedMaturities := [][]uint64{}
	appliedBodies := []*externalapi.DecodedBody{}
	undo := func() {
		for i := len(appliedBodies) - 1; i >= 0; i-- {
			body := appliedBodies[i]
			for j, m := range appliedMaturities[i] {
				if j < len(body.Inputs) {
					body.Inputs[j].Maturity = m
				}
			}
			if err := blockinterpreter.UnapplyBody(accs, extra, body, nextHeight); err != nil {
				log.Errorf("block template undo failed: %v", err)
			}
		}
		*extra = extraSnapshot
	}
	applyAndTrack := func(body *externalapi.DecodedBody) error {
		maturities, err := blockinterpreter.ApplyBody(accs, extra, body, nextHeight, true, 0)
		if err != nil {
			return err
		}
		appliedBodies = append(appliedBodies, body)
		appliedMaturities = append(appliedMaturities, maturities)
		return nil
	}
	defer undo()

	coinbase := &externalapi.DecodedBody{
		Outputs:       []*externalapi.OutputUTXO{t.Keys.CoinbaseOutput(nextHeight)},
		KernelOutputs: []*externalapi.KernelOutput{t.Keys.CoinbaseKernel(nextHeight)},
		Subsidy:       t.Rules.Subsidy,
	}
	if err := applyAndTrack(coinbase); err != nil {
		return nil, false, err
	}

	candidate := coinbase
	if seed != nil {
		merged := t.Codec.Merge(candidate, seed)
		if err := applyAndTrack(seed); err != nil {
			return nil, false, err
		}
		candidate = merged
	}

	size := t.Codec.Size(candidate)
	if size > t.Rules.MaxBodySize {
		return nil, false, nil
	}

	fees := uint64(0)
	haveFeesOutput := false
	for {
		tx, ok := mempool.Next()
		if !ok {
			break
		}
		if fees > math.MaxUint64-tx.Fee {
			continue
		}

		txSize := t.Codec.Size(tx.Body)
		feesOutputDelta := 0
		if !haveFeesOutput {
			feesOutputDelta = t.Codec.Size(&externalapi.DecodedBody{
				Outputs: []*externalapi.OutputUTXO{{IsCoinbase: false}},
			})
		}
		newSize := size + txSize + feesOutputDelta

		if txSize+feesOutputDelta > t.Rules.MaxBodySize {
			if candidate.IsSeedOnly() {
				mempool.Evict(tx)
			}
			continue
		}
		if newSize > t.Rules.MaxBodySize {
			continue
		}

		if err := applyAndTrack(tx.Body); err != nil {
			log.Debugf("template: tx rejected by context revalidation: %v", err)
			continue
		}
		candidate = t.Codec.Merge(candidate, tx.Body)
		fees += tx.Fee
		if fees > 0 {
			haveFeesOutput = true
		}
		size = newSize
	}

	if fees > 0 {
		feesBody := &externalapi.DecodedBody{Outputs: []*externalapi.OutputUTXO{t.Keys.FeesOutput(fees, nextHeight)}}
		if err := applyAndTrack(feesBody); err != nil {
			return nil, false, err
		}
		candidate = t.Codec.Merge(candidate, feesBody)
	}

	historyRootNext := cursor.HistoryRootNext
	extra.SubsidyOpen = extraSnapshot.SubsidyOpen
	if candidate.SubsidyClosing {
		extra.SubsidyOpen = !extraSnapshot.SubsidyOpen
	}
	definition := hashdomain.HeaderDefinition(accs.UTXORoot(), accs.KernelRoot(), historyRootNext)

	now := int64(0)
	if t.Now != nil {
		now = t.Now()
	}
	movingMedian := int64(0)
	if t.MovingMedian != nil {
		movingMedian = t.MovingMedian()
	}
	timestamp := now
	if timestamp <= movingMedian {
		timestamp = movingMedian + 1
	}

	chainwork := cursor.FullHeader.ChainworkCum.Add(rules.ChainworkForBits(cursor.DifficultyNext, t.Rules.PowLimitBits))

	header := &externalapi.DomainBlockHeader{
		Height:           nextHeight,
		PrevHash:         cursor.ID.Hash,
		ChainworkCum:     chainwork,
		PoW:              &externalapi.ProofOfWork{DifficultyPacked: cursor.DifficultyNext},
		TimestampUnixMs:  timestamp,
		DefinitionHash:   definition,
	}

	final := t.Codec.CutThrough(candidate)
	finalSize := t.Codec.Size(final)
	if finalSize > size {
		return nil, false, errors.Errorf("cut-through grew a body from %d to %d bytes", size, finalSize)
	}
	final.SizeBytes = finalSize

	result := &Result{Header: header, Body: final, Fees: fees}
	return result, true, nil
}
