package paramsstore

import (
	"os"
	"testing"

	"github.com/1M15M3/beam/infrastructure/db"
	"github.com/1M15M3/beam/infrastructure/db/ldb"
)

func openTx(t *testing.T) db.DBTransaction {
	t.Helper()
	dir, err := os.MkdirTemp("", "beam-paramsstore-test-*")
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

func TestHasReportsAbsenceOnFreshStore(t *testing.T) {
	tx := openTx(t)
	s := New()

	has, err := s.Has(tx, LoHorizon)
	if err != nil {
		t.Fatalf("Has: %v", err)
	}
	if has {
		t.Fatalf("Has reported true on a fresh store")
	}
}

func TestSetGetRoundTrip(t *testing.T) {
	tx := openTx(t)
	s := New()

	if err := s.Set(tx, FossilHeight, 12345); err != nil {
		t.Fatalf("Set: %v", err)
	}

	has, err := s.Has(tx, FossilHeight)
	if err != nil {
		t.Fatalf("Has: %v", err)
	}
	if !has {
		t.Fatalf("Has reported false after Set")
	}

	got, err := s.Get(tx, FossilHeight)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != 12345 {
		t.Fatalf("Get = %d, want 12345", got)
	}
}

func TestDistinctParamIDsDoNotAlias(t *testing.T) {
	tx := openTx(t)
	s := New()

	if err := s.Set(tx, LoHorizon, 1); err != nil {
		t.Fatalf("Set LoHorizon: %v", err)
	}
	if err := s.Set(tx, FossilHeight, 2); err != nil {
		t.Fatalf("Set FossilHeight: %v", err)
	}

	lo, err := s.Get(tx, LoHorizon)
	if err != nil {
		t.Fatalf("Get LoHorizon: %v", err)
	}
	fossil, err := s.Get(tx, FossilHeight)
	if err != nil {
		t.Fatalf("Get FossilHeight: %v", err)
	}
	if lo != 1 || fossil != 2 {
		t.Fatalf("params aliased: LoHorizon=%d FossilHeight=%d", lo, fossil)
	}
}
