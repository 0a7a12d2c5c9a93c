package consensus

import (
	"github.com/1M15M3/beam/domain/consensus/hashdomain"
	"github.com/1M15M3/beam/domain/consensus/model/externalapi"
	"github.com/1M15M3/beam/domain/consensus/processes/accumulators"
	"github.com/1M15M3/beam/domain/consensus/rules"
	"github.com/1M15M3/beam/domain/consensus/utils/mmr"
)

// DefaultGenesis builds the canonical height-0 header for r: empty UTXO
// set, empty kernel set, empty history, carrying r.GenesisDifficultyBits
// with nonce 0; no genesis nonce search is done. Grounded on
// the way startup.rebuild recomputes definition == accumulators.New +
// mmr.New's roots for the genesis-only chain.
func DefaultGenesis(r *rules.Rules) *externalapi.DomainBlockHeader {
	accs := accumulators.New()
	definition := hashdomain.HeaderDefinition(accs.UTXORoot(), accs.KernelRoot(), mmr.New().Root())
	return &externalapi.DomainBlockHeader{
		Height:          0,
		ChainworkCum:    externalapi.NewChainworkFromUint64(0),
		PoW:             &externalapi.ProofOfWork{DifficultyPacked: r.GenesisDifficultyBits},
		TimestampUnixMs: 0,
		DefinitionHash:  definition,
	}
}
