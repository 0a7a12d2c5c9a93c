package bodystore

import (
	"os"
	"testing"

	"github.com/1M15M3/beam/domain/consensus/model/externalapi"
	"github.com/1M15M3/beam/infrastructure/db"
	"github.com/1M15M3/beam/infrastructure/db/ldb"
)

func openTx(t *testing.T) db.DBTransaction {
	t.Helper()
	dir, err := os.MkdirTemp("", "beam-bodystore-test-*")
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

func sampleBody() *externalapi.DecodedBody {
	return &externalapi.DecodedBody{
		Inputs: []*externalapi.InputUTXO{
			{Commitment: externalapi.DomainCommitment{0x01}, Maturity: 5},
		},
		Outputs: []*externalapi.OutputUTXO{
			{Commitment: externalapi.DomainCommitment{0x02}, ExplicitMaturity: 10, HasExplicitMaturity: true, IsCoinbase: true},
		},
		KernelInputs:   []*externalapi.KernelInput{{KernelID: externalapi.DomainHash{0x03}}},
		KernelOutputs:  []*externalapi.KernelOutput{{KernelID: externalapi.DomainHash{0x04}}},
		Offset:         [32]byte{0xAA},
		Subsidy:        50,
		SubsidyClosing: true,
		SizeBytes:      4,
	}
}

func bodiesEqual(a, b *externalapi.DecodedBody) bool {
	if len(a.Inputs) != len(b.Inputs) || len(a.Outputs) != len(b.Outputs) ||
		len(a.KernelInputs) != len(b.KernelInputs) || len(a.KernelOutputs) != len(b.KernelOutputs) {
		return false
	}
	for i := range a.Inputs {
		if a.Inputs[i].Commitment != b.Inputs[i].Commitment || a.Inputs[i].Maturity != b.Inputs[i].Maturity {
			return false
		}
	}
	for i := range a.Outputs {
		if a.Outputs[i].Commitment != b.Outputs[i].Commitment ||
			a.Outputs[i].ExplicitMaturity != b.Outputs[i].ExplicitMaturity ||
			a.Outputs[i].HasExplicitMaturity != b.Outputs[i].HasExplicitMaturity ||
			a.Outputs[i].IsCoinbase != b.Outputs[i].IsCoinbase {
			return false
		}
	}
	return a.Offset == b.Offset && a.Subsidy == b.Subsidy && a.SubsidyClosing == b.SubsidyClosing && a.SizeBytes == b.SizeBytes
}

func TestSetGetBodyRoundTrip(t *testing.T) {
	tx := openTx(t)
	s := New()
	hash := externalapi.DomainHash{0x11}

	if err := s.SetBody(tx, hash, sampleBody()); err != nil {
		t.Fatalf("SetBody: %v", err)
	}

	got, journal, err := s.GetBody(tx, hash)
	if err != nil {
		t.Fatalf("GetBody: %v", err)
	}
	if !bodiesEqual(got, sampleBody()) {
		t.Fatalf("GetBody round trip mismatch: got %+v", got)
	}
	if journal != nil {
		t.Fatalf("GetBody returned a journal before one was ever set")
	}
}

func TestHasBodyReflectsPresence(t *testing.T) {
	tx := openTx(t)
	s := New()
	hash := externalapi.DomainHash{0x22}

	if has, err := s.HasBody(tx, hash); err != nil || has {
		t.Fatalf("HasBody on empty store = %v, %v, want false, nil", has, err)
	}
	if err := s.SetBody(tx, hash, sampleBody()); err != nil {
		t.Fatalf("SetBody: %v", err)
	}
	if has, err := s.HasBody(tx, hash); err != nil || !has {
		t.Fatalf("HasBody after SetBody = %v, %v, want true, nil", has, err)
	}
}

func TestDeleteBodyKeepsJournal(t *testing.T) {
	tx := openTx(t)
	s := New()
	hash := externalapi.DomainHash{0x33}

	if err := s.SetBody(tx, hash, sampleBody()); err != nil {
		t.Fatalf("SetBody: %v", err)
	}
	journal := &Journal{InputMaturities: []uint64{7}}
	if err := s.SetJournal(tx, hash, journal); err != nil {
		t.Fatalf("SetJournal: %v", err)
	}

	if err := s.DeleteBody(tx, hash); err != nil {
		t.Fatalf("DeleteBody: %v", err)
	}

	if has, err := s.HasBody(tx, hash); err != nil || has {
		t.Fatalf("HasBody after DeleteBody = %v, %v, want false, nil", has, err)
	}
	if has, err := s.HasJournal(tx, hash); err != nil || !has {
		t.Fatalf("DeleteBody removed the journal too: HasJournal = %v, %v", has, err)
	}
}

func TestJournalPresenceIsTheAppliedPredicate(t *testing.T) {
	tx := openTx(t)
	s := New()
	hash := externalapi.DomainHash{0x44}

	if has, err := s.HasJournal(tx, hash); err != nil || has {
		t.Fatalf("HasJournal before apply = %v, %v, want false, nil", has, err)
	}

	// A journal with zero inputs is still a present, non-nil marker.
	if err := s.SetJournal(tx, hash, &Journal{}); err != nil {
		t.Fatalf("SetJournal: %v", err)
	}
	if has, err := s.HasJournal(tx, hash); err != nil || !has {
		t.Fatalf("HasJournal after empty SetJournal = %v, %v, want true, nil", has, err)
	}

	got, err := s.GetJournal(tx, hash)
	if err != nil {
		t.Fatalf("GetJournal: %v", err)
	}
	if len(got.InputMaturities) != 0 {
		t.Fatalf("GetJournal InputMaturities = %v, want empty", got.InputMaturities)
	}
}

func TestDeleteStateRemovesBothBodyAndJournal(t *testing.T) {
	tx := openTx(t)
	s := New()
	hash := externalapi.DomainHash{0x55}

	if err := s.SetBody(tx, hash, sampleBody()); err != nil {
		t.Fatalf("SetBody: %v", err)
	}
	if err := s.SetJournal(tx, hash, &Journal{InputMaturities: []uint64{1, 2}}); err != nil {
		t.Fatalf("SetJournal: %v", err)
	}

	if err := s.DeleteState(tx, hash); err != nil {
		t.Fatalf("DeleteState: %v", err)
	}

	if has, err := s.HasBody(tx, hash); err != nil || has {
		t.Fatalf("HasBody after DeleteState = %v, %v, want false, nil", has, err)
	}
	if has, err := s.HasJournal(tx, hash); err != nil || has {
		t.Fatalf("HasJournal after DeleteState = %v, %v, want false, nil", has, err)
	}
}

func TestGetBodyReturnsJournalWhenPresent(t *testing.T) {
	tx := openTx(t)
	s := New()
	hash := externalapi.DomainHash{0x66}

	if err := s.SetBody(tx, hash, sampleBody()); err != nil {
		t.Fatalf("SetBody: %v", err)
	}
	journal := &Journal{InputMaturities: []uint64{42}}
	if err := s.SetJournal(tx, hash, journal); err != nil {
		t.Fatalf("SetJournal: %v", err)
	}

	_, got, err := s.GetBody(tx, hash)
	if err != nil {
		t.Fatalf("GetBody: %v", err)
	}
	if got == nil || len(got.InputMaturities) != 1 || got.InputMaturities[0] != 42 {
		t.Fatalf("GetBody journal = %+v, want {InputMaturities: [42]}", got)
	}
}
