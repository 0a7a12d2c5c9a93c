// Package consensus wires the whole chain processing core together (spec
// §5, §6.1): one Processor owns the store, the in-memory accumulators,
// the history MMR, and the Extra accounting state, and exposes the
// single-threaded, transactional entry points every other subsystem
// treats as its inbound API. Grounded on the teacher's top-level
// domain/consensus/consensus.go, which plays the identical role of
// gluing managers and stores behind one facade.
package consensus

import (
	"github.com/1M15M3/beam/domain/consensus/datastructures/bodystore"
	"github.com/1M15M3/beam/domain/consensus/datastructures/cursorstore"
	"github.com/1M15M3/beam/domain/consensus/datastructures/headergraphstore"
	"github.com/1M15M3/beam/domain/consensus/datastructures/paramsstore"
	"github.com/1M15M3/beam/domain/consensus/model/externalapi"
	"github.com/1M15M3/beam/domain/consensus/processes/accumulators"
	"github.com/1M15M3/beam/domain/consensus/processes/blockinterpreter"
	"github.com/1M15M3/beam/domain/consensus/processes/blocktemplate"
	"github.com/1M15M3/beam/domain/consensus/processes/ingress"
	"github.com/1M15M3/beam/domain/consensus/processes/macroblock"
	"github.com/1M15M3/beam/domain/consensus/processes/pruning"
	"github.com/1M15M3/beam/domain/consensus/processes/reorg"
	"github.com/1M15M3/beam/domain/consensus/processes/startup"
	"github.com/1M15M3/beam/domain/consensus/rules"
	"github.com/1M15M3/beam/domain/consensus/utils/mmr"
	"github.com/1M15M3/beam/infrastructure/db"
	"github.com/1M15M3/beam/infrastructure/logger"
)

var log = logger.RegisterSubSystem("CNSS")

// Hooks are the collaborator callbacks the processor calls out to (spec
// §6.3): reorg.Hooks (state change, rollback, peer insanity) plus the
// OnStateData/OnBlockData notifications. The approve_state veto is
// Config.Approve, not a hook.
type Hooks interface {
	reorg.Hooks
	OnStateData()
	OnBlockData()
}

// Config bundles what a Processor needs beyond the store: consensus
// parameters, the genesis header, collaborator hooks, and the domain
// objects block templating needs but this module treats as external
// (key derivation, wire codec). The mempool is passed to each
// GenerateNewBlock call instead.
type Config struct {
	Rules      *rules.Rules
	Genesis    startup.Genesis
	Hooks      Hooks
	Approve    ingress.ApproveHeader
	Keys       blocktemplate.KeyDeriver
	Codec      interface {
		blocktemplate.Encoder
		macroblock.Codec
	}
}

// Processor is the chain processing core: single-threaded, one store
// transaction per public call (spec §5).
type Processor struct {
	manager db.DBManager
	cfg     *Config

	graph   *headergraphstore.Store
	cursors *cursorstore.Store
	bodies  *bodystore.Store
	params  *paramsstore.Store

	interpreter *blockinterpreter.Interpreter
	reorg       *reorg.Engine
	pruner      *pruning.Pruner
	ingress     *ingress.Ingress
	templater   *blocktemplate.Templater
	macros      *macroblock.Manager

	accs    *accumulators.Accumulators
	extra   *externalapi.Extra
	history *mmr.MMR
}

// New wires every manager/store together against manager and runs
// initialize (spec §4.8) before returning, so a *Processor is always
// ready to accept on_state/on_block calls.
func New(manager db.DBManager, cfg *Config, resetCursor bool) (*Processor, error) {
	p := &Processor{
		manager: manager,
		cfg:     cfg,
		graph:   headergraphstore.New(),
		cursors: cursorstore.New(),
		bodies:  bodystore.New(),
		params:  paramsstore.New(),
		accs:    accumulators.New(),
		extra:   &externalapi.Extra{},
		history: mmr.New(),
	}

	p.interpreter = blockinterpreter.New(p.bodies, cfg.Rules, nil)
	p.reorg = &reorg.Engine{
		Graph:       p.graph,
		Cursors:     p.cursors,
		Bodies:      p.bodies,
		Params:      p.params,
		Interpreter: p.interpreter,
		Rules:       cfg.Rules,
		Hooks:       cfg.Hooks,
		Accs:        p.accs,
		Extra:       p.extra,
		History:     p.history,
	}
	p.pruner = &pruning.Pruner{Graph: p.graph, Cursors: p.cursors, Bodies: p.bodies, Params: p.params, Rules: cfg.Rules}
	p.ingress = &ingress.Ingress{
		Graph:   p.graph,
		Cursors: p.cursors,
		Bodies:  p.bodies,
		Params:  p.params,
		Reorg:   p.reorg,
		Rules:   cfg.Rules,
		Approve: cfg.Approve,
	}
	p.templater = &blocktemplate.Templater{Cursors: p.cursors, Rules: cfg.Rules, Keys: cfg.Keys, Codec: cfg.Codec}
	p.macros = &macroblock.Manager{
		Graph:       p.graph,
		Cursors:     p.cursors,
		Bodies:      p.bodies,
		Params:      p.params,
		Interpreter: p.interpreter,
		Rules:       cfg.Rules,
		Codec:       cfg.Codec,
	}

	initializer := &startup.Initializer{
		Manager:     manager,
		Graph:       p.graph,
		Cursors:     p.cursors,
		Bodies:      p.bodies,
		Params:      p.params,
		Interpreter: p.interpreter,
		Rules:       cfg.Rules,
		Reorg:       p.reorg,
		Genesis:     cfg.Genesis,
	}
	if err := initializer.Run(resetCursor, p.accs, p.extra, p.history); err != nil {
		return nil, err
	}
	return p, nil
}

// OnState is on_state(header, peer) (spec §6.1).
func (p *Processor) OnState(header *externalapi.DomainBlockHeader, peer externalapi.PeerID) (externalapi.DataStatus, error) {
	dbTx, err := p.manager.Begin()
	if err != nil {
		return externalapi.StatusInvalid, err
	}
	defer dbTx.RollbackUnlessClosed()

	status, err := p.ingress.OnState(dbTx, header, peer)
	if err != nil {
		return status, err
	}
	if err := dbTx.Commit(); err != nil {
		return externalapi.StatusInvalid, err
	}
	return status, nil
}

// OnBlock is on_block(id, bytes, peer) (spec §6.1). body is the
// caller-decoded form of bytes.
func (p *Processor) OnBlock(id externalapi.DomainHash, body *externalapi.DecodedBody, peer externalapi.PeerID) (externalapi.DataStatus, error) {
	dbTx, err := p.manager.Begin()
	if err != nil {
		return externalapi.StatusInvalid, err
	}
	defer dbTx.RollbackUnlessClosed()

	status, err := p.ingress.OnBlock(dbTx, id, body, peer)
	if err != nil {
		return status, err
	}
	if status == externalapi.StatusAccepted {
		if err := p.pruner.Run(dbTx); err != nil {
			return status, err
		}
	}
	if err := dbTx.Commit(); err != nil {
		return externalapi.StatusInvalid, err
	}
	if p.cfg.Hooks != nil {
		p.cfg.Hooks.OnBlockData()
	}
	return status, nil
}

// GenerateNewBlock is generate_new_block(ctx) / generate_new_block(ctx,
// seeded_body) (spec §6.1): fills header/body/fees, or returns false if
// nothing fits.
func (p *Processor) GenerateNewBlock(mempool blocktemplate.Mempool, seed *externalapi.DecodedBody) (*blocktemplate.Result, bool, error) {
	return p.templater.Generate(p.manager, p.accs, p.extra, mempool, seed)
}

// ImportMacroblock is import_macroblock(reader) -> bool (spec §6.1).
func (p *Processor) ImportMacroblock(req *macroblock.ImportRequest) (bool, error) {
	dbTx, err := p.manager.Begin()
	if err != nil {
		return false, err
	}
	defer dbTx.RollbackUnlessClosed()

	ok, err := p.macros.Import(dbTx, p.accs, p.extra, p.history, req)
	if err != nil {
		return false, err
	}
	if err := dbTx.Commit(); err != nil {
		return false, err
	}
	return ok, nil
}

// ExportMacroblock is export_macroblock(writer, range) (spec §6.1).
func (p *Processor) ExportMacroblock(minHeight, maxHeight uint64) (*macroblock.Macroblock, error) {
	return p.macros.Export(p.manager, minHeight, maxHeight)
}

// ValidateTxContext is validate_tx_context(tx) -> bool (spec §6.1): check
// every input exists at the next height and every kernel — both input
// and output groups — is absent from the live kernel set (spec.md Open
// Question (iii): transaction kernels must all be novel, without
// mutating the accumulators).
func (p *Processor) ValidateTxContext(body *externalapi.DecodedBody) (bool, error) {
	dbTx, err := p.manager.Begin()
	if err != nil {
		return false, err
	}
	defer dbTx.RollbackUnlessClosed()

	cursor, err := p.cursors.Get(dbTx)
	if err != nil {
		return false, err
	}
	nextHeight := cursor.SID.Height + 1

	for _, in := range body.Inputs {
		if !p.accs.HasUTXOMaturingBy(in.Commitment, nextHeight) {
			return false, nil
		}
	}
	for _, ki := range body.KernelInputs {
		if p.accs.IsKernelLive(ki.KernelID) {
			return false, nil
		}
	}
	for _, ko := range body.KernelOutputs {
		if p.accs.IsKernelLive(ko.KernelID) {
			return false, nil
		}
	}
	return true, nil
}

// EnumBlocks is enum_blocks(walker) (spec §6.1): visit every header-graph
// node in row order.
func (p *Processor) EnumBlocks(visit func(hash externalapi.DomainHash, node *headergraphstore.Node) bool) error {
	dbTx, err := p.manager.Begin()
	if err != nil {
		return err
	}
	defer dbTx.RollbackUnlessClosed()
	top, err := p.params.Get(dbTx, paramsstore.NextRow)
	if err != nil {
		if db.IsNotFoundError(err) {
			return nil
		}
		return err
	}
	for row := externalapi.RowID(0); row < externalapi.RowID(top); row++ {
		hash, node, err := p.graph.GetByRow(dbTx, row)
		if err != nil {
			if db.IsNotFoundError(err) {
				continue
			}
			return err
		}
		if !visit(hash, node) {
			return nil
		}
	}
	return nil
}

// ExtractBlockWithExtra is extract_block_with_extra(sid) (spec §6.1):
// return the header, body, and journal for one state.
func (p *Processor) ExtractBlockWithExtra(hash externalapi.DomainHash) (*externalapi.DomainBlockHeader, *externalapi.DecodedBody, *bodystore.Journal, error) {
	dbTx, err := p.manager.Begin()
	if err != nil {
		return nil, nil, nil, err
	}
	defer dbTx.RollbackUnlessClosed()

	node, err := p.graph.Get(dbTx, hash)
	if err != nil {
		return nil, nil, nil, err
	}
	body, journal, err := p.bodies.GetBody(dbTx, hash)
	if err != nil {
		return node.Header, nil, nil, err
	}
	return node.Header, body, journal, nil
}

// EnumCongestions is enum_congestions (spec §4.4).
func (p *Processor) EnumCongestions() ([]externalapi.RequestDataEvent, error) {
	dbTx, err := p.manager.Begin()
	if err != nil {
		return nil, err
	}
	defer dbTx.RollbackUnlessClosed()
	events, err := p.ingress.EnumCongestions(dbTx)
	if err != nil {
		return nil, err
	}
	if p.cfg.Hooks != nil {
		for range events {
			p.cfg.Hooks.OnStateData()
		}
	}
	return events, nil
}

// Close releases the underlying store.
func (p *Processor) Close() error {
	return p.manager.Close()
}
