package blockinterpreter

import (
	"github.com/1M15M3/beam/domain/consensus/corruption"
	"github.com/1M15M3/beam/domain/consensus/model/externalapi"
	"github.com/1M15M3/beam/domain/consensus/processes/accumulators"
	"github.com/1M15M3/beam/domain/consensus/ruleerrors"
)

// step is one element of the flat sequence handle_validated_tx iterates:
// input UTXOs, then output UTXOs, then input kernels, then output kernels
// (spec §4.2). apply performs the forward-mode mutation and returns the
// maturity to record (only meaningful for UTXO inputs); unapply reverses
// exactly that mutation, used both for !forward calls and for undoing a
// partially-applied block on mid-block failure.
type step struct {
	apply   func() (maturity uint64, err error)
	unapply func(maturity uint64) error
}

// buildSteps lays out every element of body as a step, in the forward
// order spec §4.2 specifies. h is the height the block being interpreted
// occupies; hMax bounds macroblock-mode input maturities.
func buildSteps(accs *accumulators.Accumulators, body *externalapi.DecodedBody, h uint64, adjustInputMaturity bool, hMax uint64) []step {
	steps := make([]step, 0, len(body.Inputs)+len(body.Outputs)+len(body.KernelInputs)+len(body.KernelOutputs))

	for _, in := range body.Inputs {
		in := in
		steps = append(steps, step{
			apply: func() (uint64, error) {
				if adjustInputMaturity {
					return accs.ApplyInputAdjusted(in.Commitment, h)
				}
				m := in.Maturity
				return m, accs.ApplyInputExact(in.Commitment, m, hMax)
			},
			unapply: func(maturity uint64) error {
				return accs.UnapplyInput(in.Commitment, maturity)
			},
		})
	}

	for _, out := range body.Outputs {
		out := out
		maturity := minMaturityFor(out, h)
		if out.HasExplicitMaturity {
			maturity = out.ExplicitMaturity
		}
		steps = append(steps, step{
			apply: func() (uint64, error) {
				if out.HasExplicitMaturity && adjustInputMaturity {
					return 0, ruleerrors.New(ruleerrors.ErrOffsetMismatch)
				}
				if out.HasExplicitMaturity && out.ExplicitMaturity < minMaturityFor(out, h) {
					return 0, ruleerrors.New(ruleerrors.ErrImmatureInput)
				}
				return maturity, accs.ApplyOutput(out.Commitment, maturity)
			},
			unapply: func(uint64) error {
				return accs.UnapplyOutput(out.Commitment, maturity)
			},
		})
	}

	for _, ki := range body.KernelInputs {
		ki := ki
		steps = append(steps, step{
			apply: func() (uint64, error) {
				return 0, accs.UnapplyKernel(ki.KernelID)
			},
			unapply: func(uint64) error {
				return accs.ApplyKernel(ki.KernelID)
			},
		})
	}

	for _, ko := range body.KernelOutputs {
		ko := ko
		steps = append(steps, step{
			apply: func() (uint64, error) {
				return 0, accs.ApplyKernel(ko.KernelID)
			},
			unapply: func(uint64) error {
				return accs.UnapplyKernel(ko.KernelID)
			},
		})
	}

	return steps
}

// handleValidatedTx applies (forward) or unapplies (!forward) every
// element of body against accs and extra. On a mid-block forward failure
// it reverse-unapplies exactly the elements already applied, in reverse
// order, then returns the failure (spec §4.2). It returns the input
// maturities discovered (forward, adjustInputMaturity) or replayed
// (otherwise), so the caller can build or reuse the journal.
func handleValidatedTx(accs *accumulators.Accumulators, extra *externalapi.Extra, body *externalapi.DecodedBody, h uint64, forward, adjustInputMaturity bool, hMax uint64) ([]uint64, error) {
	steps := buildSteps(accs, body, h, adjustInputMaturity, hMax)
	maturities := make([]uint64, len(steps))

	if forward {
		for i, s := range steps {
			m, err := s.apply()
			if err != nil {
				for j := i - 1; j >= 0; j-- {
					_ = steps[j].unapply(maturities[j])
				}
				return nil, err
			}
			maturities[i] = m
		}
	} else {
		// body.Inputs[*].Maturity has already been restored from the
		// journal by the caller before this call.
		for i, in := range body.Inputs {
			maturities[i] = in.Maturity
		}
		for i, s := range steps {
			if err := s.unapply(maturities[i]); err != nil {
				return nil, err
			}
		}
	}

	if body.SubsidyClosing {
		if err := applySubsidyClose(accs, extra, forward); err != nil {
			if forward {
				for j := len(steps) - 1; j >= 0; j-- {
					_ = steps[j].unapply(maturities[j])
				}
			}
			return nil, err
		}
	}

	applyOffsetAndSubsidy(extra, body, forward)

	inputMaturities := maturities[:len(body.Inputs)]
	return inputMaturities, nil
}

// ApplyBody applies body's elements directly against accs/extra, without
// going through a stored journal. Used by blocktemplate (a throwaway
// transaction rolled back via UnapplyBody) and macroblock import (where
// the journal is the imported header stream itself, not a per-block
// entry).
func ApplyBody(accs *accumulators.Accumulators, extra *externalapi.Extra, body *externalapi.DecodedBody, h uint64, adjustInputMaturity bool, hMax uint64) ([]uint64, error) {
	return handleValidatedTx(accs, extra, body, h, true, adjustInputMaturity, hMax)
}

// UnapplyBody reverses a prior ApplyBody call. body.Inputs[*].Maturity
// must already reflect the maturities ApplyBody returned.
func UnapplyBody(accs *accumulators.Accumulators, extra *externalapi.Extra, body *externalapi.DecodedBody, h uint64) error {
	_, err := handleValidatedTx(accs, extra, body, h, false, false, 0)
	return err
}

func minMaturityFor(out *externalapi.OutputUTXO, h uint64) uint64 {
	if out.IsCoinbase {
		return h + coinbaseLockDelta
	}
	return h
}

// coinbaseLockDelta additionally locks a coinbase output past the height
// it was created at; rules.Rules.MinMaturity governs ordinary spends
// through the caller-supplied h (spec glossary: Maturity).
const coinbaseLockDelta = 1

// applySubsidyClose implements spec §4.2's subsidy-close element: forward
// requires open=true and flips it false by inserting the zero-hash
// sentinel into the kernel set (created must equal open); reverse
// requires open=false and flips it true by removing the sentinel.
func applySubsidyClose(accs *accumulators.Accumulators, extra *externalapi.Extra, forward bool) error {
	if forward {
		if !extra.SubsidyOpen {
			return ruleerrors.New(ruleerrors.ErrSubsidyAlreadyClosed)
		}
		if err := accs.ApplyKernel(externalapi.ZeroHash); err != nil {
			return err
		}
		extra.SubsidyOpen = false
		return nil
	}
	if extra.SubsidyOpen {
		return ruleerrors.New(ruleerrors.ErrSubsidyAlreadyClosed)
	}
	if err := accs.UnapplyKernel(externalapi.ZeroHash); err != nil {
		return corruption.Wrap(err, "blockinterpreter", "delete subsidy sentinel")
	}
	extra.SubsidyOpen = true
	return nil
}

func applyOffsetAndSubsidy(extra *externalapi.Extra, body *externalapi.DecodedBody, forward bool) {
	if forward {
		extra.SubsidyTotal += body.Subsidy
	} else {
		extra.SubsidyTotal -= body.Subsidy
	}
	for i := range extra.Offset {
		extra.Offset[i] ^= body.Offset[i]
	}
}
