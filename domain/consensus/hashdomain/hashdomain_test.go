package hashdomain

import (
	"testing"

	"github.com/1M15M3/beam/domain/consensus/model/externalapi"
)

func TestDomainSeparationAcrossConstructors(t *testing.T) {
	a := externalapi.DomainHash{1}
	b := externalapi.DomainHash{2}

	leaf := MerkleLeafHash(a[:], b[:])
	node := MerkleNodeHash(a, b)
	mmrLeaf := MMRLeafHash(a)
	mmrNode := MMRNodeHash(a, b)

	seen := map[externalapi.DomainHash]string{}
	for name, h := range map[string]externalapi.DomainHash{
		"leaf": leaf, "node": node, "mmrLeaf": mmrLeaf, "mmrNode": mmrNode, "merkleEmpty": MerkleEmptyHash,
	} {
		if other, ok := seen[h]; ok {
			t.Fatalf("%s collided with %s", name, other)
		}
		seen[h] = name
	}
}

func TestCombineHashDistinguishesCombinedFlag(t *testing.T) {
	a := externalapi.DomainHash{1}
	b := externalapi.DomainHash{2}
	if CombineHash(a, b, true) == CombineHash(a, b, false) {
		t.Fatalf("CombineHash ignored the combined flag")
	}
}

func TestHeaderDefinitionIsDeterministic(t *testing.T) {
	utxoRoot := externalapi.DomainHash{1}
	kernelRoot := externalapi.DomainHash{2}
	historyRoot := externalapi.DomainHash{3}

	d1 := HeaderDefinition(utxoRoot, kernelRoot, historyRoot)
	d2 := HeaderDefinition(utxoRoot, kernelRoot, historyRoot)
	if d1 != d2 {
		t.Fatalf("HeaderDefinition is not deterministic")
	}

	if HeaderDefinition(kernelRoot, utxoRoot, historyRoot) == d1 {
		t.Fatalf("HeaderDefinition did not distinguish utxoRoot from kernelRoot ordering")
	}
}

func TestHeaderHashChangesWithDefinitionHash(t *testing.T) {
	h := &externalapi.DomainBlockHeader{
		Height:          5,
		ChainworkCum:    externalapi.NewChainworkFromUint64(100),
		PoW:             &externalapi.ProofOfWork{DifficultyPacked: 0x1d00ffff, Nonce: 7},
		TimestampUnixMs: 1000,
	}
	first := HeaderHash(h)

	h.DefinitionHash[0] ^= 0xff
	second := HeaderHash(h)

	if first == second {
		t.Fatalf("HeaderHash did not change when DefinitionHash changed")
	}
}

func TestHeaderHashExcludesSolutionBytes(t *testing.T) {
	base := &externalapi.DomainBlockHeader{
		Height:          1,
		ChainworkCum:    externalapi.NewChainworkFromUint64(1),
		PoW:             &externalapi.ProofOfWork{DifficultyPacked: 1, Nonce: 42, Solution: []byte{1, 2, 3}},
		TimestampUnixMs: 1,
	}
	withSolution := HeaderHash(base)

	base.PoW.Solution = []byte{9, 9, 9, 9, 9}
	changedSolution := HeaderHash(base)

	if withSolution != changedSolution {
		t.Fatalf("HeaderHash changed when only PoW.Solution changed")
	}
}

func TestKernelIDDeterministic(t *testing.T) {
	if KernelID([]byte("a")) != KernelID([]byte("a")) {
		t.Fatalf("KernelID not deterministic")
	}
	if KernelID([]byte("a")) == KernelID([]byte("b")) {
		t.Fatalf("KernelID collided across distinct inputs")
	}
}
