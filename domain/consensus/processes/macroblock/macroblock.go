// Package macroblock implements export and import of squashed block
// ranges (spec §4.7): export folds a height range's bodies into one
// cut-through body plus a thin header stream; import replays that stream
// against the accumulators and, on success, fast-forwards the cursor past
// it in one step. Grounded on original_source/node/processor.cpp's
// NodeProcessor::Mmr / ExtractBlockWithExtra macroblock construction,
// generalized here from Beam's compact "compressed history" format to an
// explicit header-stream-plus-body shape.
package macroblock

import (
	"github.com/1M15M3/beam/domain/consensus/datastructures/bodystore"
	"github.com/1M15M3/beam/domain/consensus/datastructures/cursorstore"
	"github.com/1M15M3/beam/domain/consensus/datastructures/headergraphstore"
	"github.com/1M15M3/beam/domain/consensus/datastructures/paramsstore"
	"github.com/1M15M3/beam/domain/consensus/hashdomain"
	"github.com/1M15M3/beam/domain/consensus/model/externalapi"
	"github.com/1M15M3/beam/domain/consensus/processes/accumulators"
	"github.com/1M15M3/beam/domain/consensus/processes/blockinterpreter"
	"github.com/1M15M3/beam/domain/consensus/ruleerrors"
	"github.com/1M15M3/beam/domain/consensus/rules"
	"github.com/1M15M3/beam/domain/consensus/utils/mmr"
	"github.com/1M15M3/beam/infrastructure/db"
	"github.com/1M15M3/beam/infrastructure/logger"
	"github.com/pkg/errors"
)

var log = logger.RegisterSubSystem("MCRO")

// Macroblock is the squashed representation of a contiguous height range
// (spec §4.7): the header at the range's first height, the header stream
// for every subsequent height, and one merge-and-cancel body standing in
// for all of them.
type Macroblock struct {
	MinHeight    uint64
	MaxHeight    uint64
	PrefixHeader *externalapi.DomainBlockHeader
	HeaderStream []*externalapi.DomainBlockHeader
	Body         *externalapi.DecodedBody
}

// Codec merges two bodies and reports serialized size, shared with
// blocktemplate's cut-through contract.
type Codec interface {
	Size(body *externalapi.DecodedBody) int
	Merge(a, b *externalapi.DecodedBody) *externalapi.DecodedBody
}

// Manager exports and imports macroblocks.
type Manager struct {
	Graph       *headergraphstore.Store
	Cursors     *cursorstore.Store
	Bodies      *bodystore.Store
	Params      *paramsstore.Store
	Interpreter *blockinterpreter.Interpreter
	Rules       *rules.Rules
	Codec       Codec
}

// Export implements spec §4.7's export at height range [min, max]: it
// walks the Active chain, restores each body's explicit maturities, and
// folds pairwise with a bottom-up pairing schedule so the total merge
// work is O(N log n) for N elements over n bodies, rather than the naive
// left fold's O(N n).
func (m *Manager) Export(dbContext db.DBReader, minHeight, maxHeight uint64) (*Macroblock, error) {
	if maxHeight < minHeight {
		return nil, errors.Errorf("macroblock: empty range [%d, %d]", minHeight, maxHeight)
	}

	hashes, headers, err := m.collectActiveRange(dbContext, minHeight, maxHeight)
	if err != nil {
		return nil, err
	}

	bodies := make([]*externalapi.DecodedBody, len(hashes))
	for i, hash := range hashes {
		body, journal, err := m.Bodies.GetBody(dbContext, hash)
		if err != nil {
			return nil, err
		}
		restoreExplicitMaturities(body, journal, m.Rules.MinMaturity, headers[i].Height)
		bodies[i] = body
	}

	merged, err := m.pairwiseFold(bodies)
	if err != nil {
		return nil, err
	}

	return &Macroblock{
		MinHeight:    minHeight,
		MaxHeight:    maxHeight,
		PrefixHeader: headers[0],
		HeaderStream: headers[1:],
		Body:         merged,
	}, nil
}

func (m *Manager) collectActiveRange(dbContext db.DBReader, minHeight, maxHeight uint64) ([]externalapi.DomainHash, []*externalapi.DomainBlockHeader, error) {
	cursor, err := m.Cursors.Get(dbContext)
	if err != nil {
		return nil, nil, err
	}
	n := int(maxHeight-minHeight) + 1
	hashes := make([]externalapi.DomainHash, n)
	headers := make([]*externalapi.DomainBlockHeader, n)

	hash := cursor.ID.Hash
	for {
		node, err := m.Graph.Get(dbContext, hash)
		if err != nil {
			return nil, nil, err
		}
		if node.Header.Height >= minHeight && node.Header.Height <= maxHeight {
			idx := node.Header.Height - minHeight
			hashes[idx] = hash
			headers[idx] = node.Header
		}
		if node.Header.Height <= minHeight || node.Header.PrevHash.IsZero() {
			break
		}
		hash = node.Header.PrevHash
	}
	for i, h := range headers {
		if h == nil {
			return nil, nil, errors.Errorf("macroblock: no active state at height %d", minHeight+uint64(i))
		}
	}
	return hashes, headers, nil
}

// restoreExplicitMaturities sets every input's maturity from the journal
// (spec §4.7 "restore explicit maturities onto its inputs, from the
// journal") and every output's from rules.MinMaturity (or the coinbase
// delta), so the exported body carries values that stand alone without a
// live journal on import.
func restoreExplicitMaturities(body *externalapi.DecodedBody, journal *bodystore.Journal, minMaturity, h uint64) {
	if journal != nil {
		for i, mat := range journal.InputMaturities {
			if i < len(body.Inputs) {
				body.Inputs[i].Maturity = mat
			}
		}
	}
	for _, out := range body.Outputs {
		if out.HasExplicitMaturity {
			continue
		}
		base := h
		if out.IsCoinbase {
			base = h + 1
		}
		out.ExplicitMaturity = base + minMaturity
		out.HasExplicitMaturity = true
	}
}

// pairwiseFold merges consecutive bodies with a bottom-up (segment-tree)
// schedule: n-1 merges arranged in about log n levels, each level touching
// every element once, rather than n-1 merges each touching an
// ever-larger accumulator as a naive left fold does.
func (m *Manager) pairwiseFold(bodies []*externalapi.DecodedBody) (*externalapi.DecodedBody, error) {
	if len(bodies) == 0 {
		return &externalapi.DecodedBody{}, nil
	}
	level := bodies
	for len(level) > 1 {
		next := make([]*externalapi.DecodedBody, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			next = append(next, mergeAndCancel(level[i], level[i+1]))
		}
		level = next
	}
	return level[0], nil
}

// mergeAndCancel implements spec §4.7's cancellation rule: an output of
// the earlier body that matches (commitment, maturity) against an input
// of the later body is removed from both sides rather than carried
// through, since the later spend of a within-range output need not
// appear in the squashed body at all.
func mergeAndCancel(earlier, later *externalapi.DecodedBody) *externalapi.DecodedBody {
	type key struct {
		c externalapi.DomainCommitment
		m uint64
	}
	earlyOutputs := map[key]int{}
	for i, out := range earlier.Outputs {
		earlyOutputs[key{out.Commitment, out.ExplicitMaturity}] = i
	}

	cancelledOutIdx := map[int]bool{}
	var survivingLaterInputs []*externalapi.InputUTXO
	for _, in := range later.Inputs {
		if idx, ok := earlyOutputs[key{in.Commitment, in.Maturity}]; ok && !cancelledOutIdx[idx] {
			cancelledOutIdx[idx] = true
			continue
		}
		survivingLaterInputs = append(survivingLaterInputs, in)
	}

	var survivingEarlyOutputs []*externalapi.OutputUTXO
	for i, out := range earlier.Outputs {
		if !cancelledOutIdx[i] {
			survivingEarlyOutputs = append(survivingEarlyOutputs, out)
		}
	}

	merged := &externalapi.DecodedBody{
		Inputs:        append(append([]*externalapi.InputUTXO{}, earlier.Inputs...), survivingLaterInputs...),
		Outputs:       append(survivingEarlyOutputs, later.Outputs...),
		KernelInputs:  append(append([]*externalapi.KernelInput{}, earlier.KernelInputs...), later.KernelInputs...),
		KernelOutputs: append(append([]*externalapi.KernelOutput{}, earlier.KernelOutputs...), later.KernelOutputs...),
		Subsidy:       earlier.Subsidy + later.Subsidy,
	}
	for i := range merged.Offset {
		merged.Offset[i] = earlier.Offset[i] ^ later.Offset[i]
	}
	merged.SubsidyClosing = earlier.SubsidyClosing || later.SubsidyClosing
	return merged
}

// ImportRequest is what a reader supplies to Import (spec §4.7 "reader
// supplies start state + header stream + body").
type ImportRequest struct {
	// PrefixHeader is the header at the range's first height; its PrevHash
	// must equal the current cursor's tip hash.
	PrefixHeader *externalapi.DomainBlockHeader
	HeaderStream []*externalapi.DomainBlockHeader
	Body         *externalapi.DecodedBody
	// SeparatelyDownloadedBodies are hashes of bodies stored individually
	// before the macroblock arrived, dropped on success since the
	// macroblock body now stands for the whole range.
	SeparatelyDownloadedBodies []externalapi.DomainHash
}

// Import implements spec §4.7's import: verify continuity, rebuild the
// history MMR, validate headers standalone, insert accepted ones, verify
// the body context-free, apply it, and check the final definition. Any
// failure unapplies and returns false; success promotes every imported
// state to Active and reinitializes the cursor and horizons.
func (m *Manager) Import(dbTx db.DBTransaction, accs *accumulators.Accumulators, extra *externalapi.Extra, history *mmr.MMR, req *ImportRequest) (bool, error) {
	cursor, err := m.Cursors.Get(dbTx)
	if err != nil {
		return false, err
	}
	if req.PrefixHeader.PrevHash != cursor.ID.Hash {
		log.Debugf("macroblock import: prefix header does not chain from cursor")
		return false, nil
	}

	allHeaders := append([]*externalapi.DomainBlockHeader{req.PrefixHeader}, req.HeaderStream...)
	hashes := make([]externalapi.DomainHash, len(allHeaders))
	for i, h := range allHeaders {
		hashes[i] = hashdomain.HeaderHash(h)
		if i > 0 && h.PrevHash != hashes[i-1] {
			log.Debugf("macroblock import: header stream discontinuous at index %d", i)
			return false, nil
		}
		if !rules.CheckProofOfWork(hashes[i], h.PoW.DifficultyPacked) {
			log.Debugf("macroblock import: bad proof of work at index %d", i)
			return false, nil
		}
	}

	expectedWork := cursor.FullHeader.ChainworkCum
	for i, h := range allHeaders {
		expectedWork = expectedWork.Add(rules.ChainworkForBits(h.PoW.DifficultyPacked, m.Rules.PowLimitBits))
		if expectedWork.Cmp(h.ChainworkCum) != 0 {
			log.Debugf("macroblock import: chainwork mismatch at index %d", i)
			return false, nil
		}
	}

	for _, hash := range hashes {
		history.Append(hash)
	}

	if err := m.verifyBodyContextFree(req.Body); err != nil {
		log.Debugf("macroblock import: body verification failed: %v", err)
		history.Truncate(history.Len() - len(hashes))
		return false, nil
	}

	extraSnapshot := *extra
	maturities, applyErr := blockinterpreter.ApplyBody(accs, extra, req.Body, req.PrefixHeader.Height, false, allHeaders[len(allHeaders)-1].Height)
	if applyErr != nil {
		log.Debugf("macroblock import: apply failed: %v", applyErr)
		history.Truncate(history.Len() - len(hashes))
		return false, nil
	}

	finalHeader := allHeaders[len(allHeaders)-1]
	historyRoot := history.Root()
	computedDefinition := hashdomain.HeaderDefinition(accs.UTXORoot(), accs.KernelRoot(), history.RootAtLen(history.Len()-1))
	if computedDefinition != finalHeader.DefinitionHash {
		for i, mVal := range maturities {
			if i < len(req.Body.Inputs) {
				req.Body.Inputs[i].Maturity = mVal
			}
		}
		if uerr := blockinterpreter.UnapplyBody(accs, extra, req.Body, req.PrefixHeader.Height); uerr != nil {
			return false, errors.Wrap(uerr, "macroblock import: unapply after definition mismatch failed")
		}
		*extra = extraSnapshot
		history.Truncate(history.Len() - len(hashes))
		log.Debugf("macroblock import: final definition mismatch")
		return false, nil
	}

	row, err := m.nextRow(dbTx)
	if err != nil {
		return false, err
	}
	for i, h := range allHeaders {
		node := &headergraphstore.Node{
			Row:    row + externalapi.RowID(i),
			Header: h,
			Flags:  externalapi.FlagReachable | externalapi.FlagFunctional | externalapi.FlagActive,
		}
		if err := m.Graph.Insert(dbTx, hashes[i], node); err != nil {
			return false, err
		}
	}
	if err := m.Params.Set(dbTx, paramsstore.NextRow, uint64(row)+uint64(len(allHeaders))); err != nil {
		return false, err
	}

	for _, hash := range req.SeparatelyDownloadedBodies {
		if err := m.Bodies.DeleteState(dbTx, hash); err != nil {
			return false, err
		}
	}

	newCursor := &externalapi.Cursor{
		SID:             externalapi.StateID{Row: row + externalapi.RowID(len(allHeaders)-1), Height: finalHeader.Height},
		FullHeader:      finalHeader,
		ID:              externalapi.ChainID{Height: finalHeader.Height, Hash: hashes[len(hashes)-1]},
		HistoryRoot:     history.RootAtLen(history.Len() - 1),
		HistoryRootNext: historyRoot,
		LoHorizon:       finalHeader.Height,
		DifficultyNext:  m.Rules.NextDifficultyBits(allHeaders),
	}
	if err := m.Cursors.Set(dbTx, newCursor); err != nil {
		return false, err
	}
	if err := m.Cursors.SetExtra(dbTx, extra); err != nil {
		return false, err
	}
	if err := m.Params.Set(dbTx, paramsstore.LoHorizon, finalHeader.Height); err != nil {
		return false, err
	}
	if err := m.Params.Set(dbTx, paramsstore.FossilHeight, finalHeader.Height); err != nil {
		return false, err
	}

	log.Infof("imported macroblock up to height %d", finalHeader.Height)
	return true, nil
}

// verifyBodyContextFree checks the structural constraints the
// accumulators depend on. Unlike a single block's body (bounded by
// MaxBodySize), a macroblock spans an arbitrary height range and is not
// itself size-limited (spec §4.7).
func (m *Manager) verifyBodyContextFree(body *externalapi.DecodedBody) error {
	seen := map[externalapi.DomainHash]bool{}
	for _, ko := range body.KernelOutputs {
		if seen[ko.KernelID] {
			return ruleerrors.New(ruleerrors.ErrDuplicateKernel)
		}
		seen[ko.KernelID] = true
	}
	return nil
}

func (m *Manager) nextRow(dbTx db.DBTransaction) (externalapi.RowID, error) {
	row, err := m.Params.Get(dbTx, paramsstore.NextRow)
	if err != nil {
		if db.IsNotFoundError(err) {
			return 0, nil
		}
		return 0, err
	}
	return externalapi.RowID(row), nil
}
