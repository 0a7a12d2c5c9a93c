package externalapi

// InputUTXO is a decoded consumed output (spec §3, Body blob). Maturity is
// filled in by the interpreter's input handler during forward apply
// (spec §4.2); on macroblock import it is supplied explicitly by the caller.
type InputUTXO struct {
	Commitment DomainCommitment
	// Maturity is populated by HandleBlock on normal forward apply; for
	// macroblock import (AdjustInputMaturity=false) it must already be set.
	Maturity uint64
}

// OutputUTXO is a decoded created output.
type OutputUTXO struct {
	Commitment DomainCommitment
	// ExplicitMaturity, when >= genesis height, overrides rules.MinMaturity.
	// Only legal outside normal block apply (macroblock import). A value of
	// 0 with HasExplicitMaturity false means "derive from rules".
	ExplicitMaturity    uint64
	HasExplicitMaturity bool
	// IsCoinbase marks subsidy/fee outputs, which rules.MinMaturity locks
	// for longer than ordinary transaction outputs.
	IsCoinbase bool
}

// KernelInput is a decoded kernel removed from the live set. In practice
// this only happens on reverse (unapply) of a kernel that was an output in
// forward direction; the body itself never declares kernel inputs for a
// freshly-built block, but the shape exists for orthogonality with the
// input/output handler pairing spec.md describes.
type KernelInput struct {
	KernelID DomainHash
}

// KernelOutput is a decoded kernel introduced by the block.
type KernelOutput struct {
	KernelID DomainHash
}

// DecodedBody is a block body blob decoded into its consensus-relevant
// elements (spec §3, Body blob).
type DecodedBody struct {
	Inputs        []*InputUTXO
	Outputs       []*OutputUTXO
	KernelInputs  []*KernelInput
	KernelOutputs []*KernelOutput
	// Offset is the body's aggregate blinding-factor excess, a scalar
	// treated as an opaque 32-byte value (its arithmetic is CT black box).
	Offset [32]byte
	// Subsidy is the coinbase emission this body contributes; part of the
	// running subsidy_total (spec §3, Extra state).
	Subsidy uint64
	// SubsidyClosing marks the block that closes the open subsidy window
	// (spec §4.2, "Subsidy close").
	SubsidyClosing bool
	// SizeBytes is the encoded size of the body, used by block templating
	// and the max_body_size admission check.
	SizeBytes int
}

// IsSeedOnly implements spec.md §9 Open Question (ii): the exact structural
// predicate for "this is only the coinbase reservation", used to decide
// whether a mempool transaction should be evicted permanently because it
// would not even fit in an empty block.
func (b *DecodedBody) IsSeedOnly() bool {
	return len(b.Inputs) == 0 && len(b.KernelInputs) == 0 &&
		len(b.Outputs) == 1 && b.Outputs[0].IsCoinbase &&
		len(b.KernelOutputs) == 1
}

// Clone returns a deep copy of the decoded body.
func (b *DecodedBody) Clone() *DecodedBody {
	if b == nil {
		return nil
	}
	clone := &DecodedBody{
		Offset:         b.Offset,
		Subsidy:        b.Subsidy,
		SubsidyClosing: b.SubsidyClosing,
		SizeBytes:      b.SizeBytes,
	}
	for _, in := range b.Inputs {
		v := *in
		clone.Inputs = append(clone.Inputs, &v)
	}
	for _, out := range b.Outputs {
		v := *out
		clone.Outputs = append(clone.Outputs, &v)
	}
	for _, ki := range b.KernelInputs {
		v := *ki
		clone.KernelInputs = append(clone.KernelInputs, &v)
	}
	for _, ko := range b.KernelOutputs {
		v := *ko
		clone.KernelOutputs = append(clone.KernelOutputs, &v)
	}
	return clone
}
