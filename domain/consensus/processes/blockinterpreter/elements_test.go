package blockinterpreter

import (
	"testing"

	"github.com/1M15M3/beam/domain/consensus/model/externalapi"
	"github.com/1M15M3/beam/domain/consensus/processes/accumulators"
)

func commitment(b byte) externalapi.DomainCommitment {
	var c externalapi.DomainCommitment
	c[0] = b
	return c
}

func kernelID(b byte) externalapi.DomainHash {
	var h externalapi.DomainHash
	h[0] = b
	return h
}

// TestApplyUnapplyBodyIsInverse is property P1: unapplying a body restores
// the accumulators and Extra to their exact pre-apply state.
func TestApplyUnapplyBodyIsInverse(t *testing.T) {
	accs := accumulators.New()
	extra := &externalapi.Extra{SubsidyOpen: true}
	extraBefore := *extra
	utxoRootBefore := accs.UTXORoot()
	kernelRootBefore := accs.KernelRoot()

	body := &externalapi.DecodedBody{
		Outputs:       []*externalapi.OutputUTXO{{Commitment: commitment(1)}},
		KernelOutputs: []*externalapi.KernelOutput{{KernelID: kernelID(1)}},
		Subsidy:       1000,
	}

	maturities, err := ApplyBody(accs, extra, body, 5, true, 0)
	if err != nil {
		t.Fatalf("ApplyBody: %v", err)
	}
	if accs.UTXORoot() == utxoRootBefore {
		t.Fatalf("UTXO root did not change after apply")
	}
	if extra.SubsidyTotal != 1000 {
		t.Fatalf("SubsidyTotal after apply = %d, want 1000", extra.SubsidyTotal)
	}
	_ = maturities

	if err := UnapplyBody(accs, extra, body, 5); err != nil {
		t.Fatalf("UnapplyBody: %v", err)
	}
	if accs.UTXORoot() != utxoRootBefore {
		t.Fatalf("UTXO root did not return to its pre-apply value after unapply")
	}
	if accs.KernelRoot() != kernelRootBefore {
		t.Fatalf("kernel root did not return to its pre-apply value after unapply")
	}
	if *extra != extraBefore {
		t.Fatalf("Extra did not return to its pre-apply value: got %+v, want %+v", *extra, extraBefore)
	}
}

// TestApplyBodyRollsBackOnMidBlockFailure verifies buildSteps' documented
// partial-failure behavior: a duplicate kernel later in the element order
// undoes every earlier element in the same call.
func TestApplyBodyRollsBackOnMidBlockFailure(t *testing.T) {
	accs := accumulators.New()
	extra := &externalapi.Extra{}
	utxoRootBefore := accs.UTXORoot()

	dup := kernelID(9)
	if err := accs.ApplyKernel(dup); err != nil {
		t.Fatalf("seeding duplicate kernel: %v", err)
	}
	kernelRootWithDup := accs.KernelRoot()

	body := &externalapi.DecodedBody{
		Outputs:       []*externalapi.OutputUTXO{{Commitment: commitment(2)}},
		KernelOutputs: []*externalapi.KernelOutput{{KernelID: dup}},
	}

	if _, err := ApplyBody(accs, extra, body, 5, true, 0); err == nil {
		t.Fatalf("expected ApplyBody to fail on a duplicate kernel")
	}

	if accs.UTXORoot() != utxoRootBefore {
		t.Fatalf("UTXO root not rolled back after mid-block failure")
	}
	if accs.KernelRoot() != kernelRootWithDup {
		t.Fatalf("kernel root drifted from its pre-attempt value after rollback")
	}
}

func TestSubsidyCloseTogglesExtraAndInsertsSentinel(t *testing.T) {
	accs := accumulators.New()
	extra := &externalapi.Extra{SubsidyOpen: true}

	body := &externalapi.DecodedBody{SubsidyClosing: true}
	if _, err := ApplyBody(accs, extra, body, 5, true, 0); err != nil {
		t.Fatalf("ApplyBody: %v", err)
	}
	if extra.SubsidyOpen {
		t.Fatalf("SubsidyOpen should be false after a subsidy-closing body")
	}
	if !accs.IsKernelLive(externalapi.ZeroHash) {
		t.Fatalf("subsidy sentinel should be live in the kernel set once closed")
	}

	if err := UnapplyBody(accs, extra, body, 5); err != nil {
		t.Fatalf("UnapplyBody: %v", err)
	}
	if !extra.SubsidyOpen {
		t.Fatalf("SubsidyOpen should be restored to true after unapply")
	}
	if accs.IsKernelLive(externalapi.ZeroHash) {
		t.Fatalf("subsidy sentinel should be gone after unapply")
	}
}

func TestSubsidyCloseRejectsWhenAlreadyClosed(t *testing.T) {
	accs := accumulators.New()
	extra := &externalapi.Extra{SubsidyOpen: false}
	body := &externalapi.DecodedBody{SubsidyClosing: true}
	if _, err := ApplyBody(accs, extra, body, 5, true, 0); err == nil {
		t.Fatalf("expected an error closing the subsidy a second time")
	}
}
