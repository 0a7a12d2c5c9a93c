// Package bodystore persists block bodies and the per-block rollback
// journal (spec §3, Rollback journal). Grounded on the teacher's
// blockstore/blockstatusstore split: body bytes and body-adjacent
// bookkeeping live in their own bucket, addressed by the header hash so
// they can be deleted independently of the header graph node (fossil
// pruning drops a body while keeping the header, spec §4.5).
package bodystore

import (
	"github.com/1M15M3/beam/domain/consensus/corruption"
	"github.com/1M15M3/beam/domain/consensus/datastructures/serialize"
	"github.com/1M15M3/beam/domain/consensus/model/externalapi"
	"github.com/1M15M3/beam/infrastructure/db"
)

var bucketBodies = db.MakeBucket([]byte("bodies"))
var bucketJournals = db.MakeBucket([]byte("journals"))

// Journal is the rollback journal for one applied block: the maturity each
// consumed input had at apply time, in input order. A journal with zero
// inputs is still present, as a single empty-but-non-nil marker — its mere
// presence is the "has been applied" predicate (spec invariant I2).
type Journal struct {
	InputMaturities []uint64
}

// Store persists bodies and journals.
type Store struct{}

func New() *Store { return &Store{} }

func bodyKey(hash externalapi.DomainHash) db.DBKey    { return bucketBodies.Key(hash[:]) }
func journalKey(hash externalapi.DomainHash) db.DBKey { return bucketJournals.Key(hash[:]) }

// SetBody stores a validated block body (spec §6.2 set_state_block).
func (s *Store) SetBody(dbTx db.DBWriter, hash externalapi.DomainHash, body *externalapi.DecodedBody) error {
	buf, err := serializeBody(body)
	if err != nil {
		return corruption.Wrap(err, "bodystore", "serialize body")
	}
	if err := dbTx.Put(bodyKey(hash), buf); err != nil {
		return corruption.Wrap(err, "bodystore", "put body")
	}
	return nil
}

// GetBody returns the stored body plus its journal, if present
// (get_state_block returns both per spec §6.2).
func (s *Store) GetBody(dbContext db.DBReader, hash externalapi.DomainHash) (*externalapi.DecodedBody, *Journal, error) {
	raw, err := dbContext.Get(bodyKey(hash))
	if err != nil {
		return nil, nil, err
	}
	body, err := deserializeBody(raw)
	if err != nil {
		return nil, nil, corruption.Wrap(err, "bodystore", "deserialize body")
	}
	journal, err := s.GetJournal(dbContext, hash)
	if err != nil && !db.IsNotFoundError(err) {
		return nil, nil, err
	}
	return body, journal, nil
}

// HasBody reports whether a body is stored for hash.
func (s *Store) HasBody(dbContext db.DBReader, hash externalapi.DomainHash) (bool, error) {
	return dbContext.Has(bodyKey(hash))
}

// DeleteBody removes only the body blob, used by fossil pruning which
// keeps the header graph node but drops the full body (spec §4.5).
func (s *Store) DeleteBody(dbTx db.DBWriter, hash externalapi.DomainHash) error {
	if err := dbTx.Delete(bodyKey(hash)); err != nil {
		return corruption.Wrap(err, "bodystore", "delete body")
	}
	return nil
}

// SetJournal writes the rollback journal for a first-time apply.
func (s *Store) SetJournal(dbTx db.DBWriter, hash externalapi.DomainHash, j *Journal) error {
	buf := serializeJournal(j)
	if err := dbTx.Put(journalKey(hash), buf); err != nil {
		return corruption.Wrap(err, "bodystore", "put journal")
	}
	return nil
}

// GetJournal returns the persisted journal for hash. Absence, reported via
// db.IsNotFoundError, means the block has never been applied.
func (s *Store) GetJournal(dbContext db.DBReader, hash externalapi.DomainHash) (*Journal, error) {
	raw, err := dbContext.Get(journalKey(hash))
	if err != nil {
		return nil, err
	}
	return deserializeJournal(raw)
}

// HasJournal reports whether the block has ever been applied (spec §3).
func (s *Store) HasJournal(dbContext db.DBReader, hash externalapi.DomainHash) (bool, error) {
	return dbContext.Has(journalKey(hash))
}

// DeleteJournal removes the journal, used when a block is fully unapplied
// past the point it will ever be reapplied (branch pruning, spec §4.5).
func (s *Store) DeleteJournal(dbTx db.DBWriter, hash externalapi.DomainHash) error {
	if err := dbTx.Delete(journalKey(hash)); err != nil {
		return corruption.Wrap(err, "bodystore", "delete journal")
	}
	return nil
}

// DeleteState removes both the body and journal for hash (spec §6.2
// delete_state).
func (s *Store) DeleteState(dbTx db.DBWriter, hash externalapi.DomainHash) error {
	if err := s.DeleteBody(dbTx, hash); err != nil {
		return err
	}
	return s.DeleteJournal(dbTx, hash)
}

func serializeJournal(j *Journal) []byte {
	buf := make([]byte, 0, 8+8*len(j.InputMaturities))
	buf = serialize.AppendUint64(buf, uint64(len(j.InputMaturities)))
	for _, m := range j.InputMaturities {
		buf = serialize.AppendUint64(buf, m)
	}
	return buf
}

func deserializeJournal(data []byte) (*Journal, error) {
	r := serialize.NewReader(data)
	n := r.Uint64()
	maturities := make([]uint64, n)
	for i := range maturities {
		maturities[i] = r.Uint64()
	}
	if r.Err != nil {
		return nil, r.Err
	}
	return &Journal{InputMaturities: maturities}, nil
}

func serializeBody(b *externalapi.DecodedBody) ([]byte, error) {
	buf := make([]byte, 0, 512)
	buf = serialize.AppendUint64(buf, uint64(len(b.Inputs)))
	for _, in := range b.Inputs {
		buf = append(buf, in.Commitment[:]...)
		buf = serialize.AppendUint64(buf, in.Maturity)
	}
	buf = serialize.AppendUint64(buf, uint64(len(b.Outputs)))
	for _, out := range b.Outputs {
		buf = append(buf, out.Commitment[:]...)
		buf = serialize.AppendUint64(buf, out.ExplicitMaturity)
		buf = serialize.AppendBool(buf, out.HasExplicitMaturity)
		buf = serialize.AppendBool(buf, out.IsCoinbase)
	}
	buf = serialize.AppendUint64(buf, uint64(len(b.KernelInputs)))
	for _, ki := range b.KernelInputs {
		buf = append(buf, ki.KernelID[:]...)
	}
	buf = serialize.AppendUint64(buf, uint64(len(b.KernelOutputs)))
	for _, ko := range b.KernelOutputs {
		buf = append(buf, ko.KernelID[:]...)
	}
	buf = append(buf, b.Offset[:]...)
	buf = serialize.AppendUint64(buf, b.Subsidy)
	buf = serialize.AppendBool(buf, b.SubsidyClosing)
	buf = serialize.AppendUint64(buf, uint64(b.SizeBytes))
	return buf, nil
}

func deserializeBody(data []byte) (*externalapi.DecodedBody, error) {
	r := serialize.NewReader(data)
	b := &externalapi.DecodedBody{}

	nIn := r.Uint64()
	b.Inputs = make([]*externalapi.InputUTXO, nIn)
	for i := range b.Inputs {
		in := &externalapi.InputUTXO{}
		in.Commitment = readCommitment(r)
		in.Maturity = r.Uint64()
		b.Inputs[i] = in
	}

	nOut := r.Uint64()
	b.Outputs = make([]*externalapi.OutputUTXO, nOut)
	for i := range b.Outputs {
		out := &externalapi.OutputUTXO{}
		out.Commitment = readCommitment(r)
		out.ExplicitMaturity = r.Uint64()
		out.HasExplicitMaturity = r.Bool()
		out.IsCoinbase = r.Bool()
		b.Outputs[i] = out
	}

	nKIn := r.Uint64()
	b.KernelInputs = make([]*externalapi.KernelInput, nKIn)
	for i := range b.KernelInputs {
		b.KernelInputs[i] = &externalapi.KernelInput{KernelID: r.Hash()}
	}

	nKOut := r.Uint64()
	b.KernelOutputs = make([]*externalapi.KernelOutput, nKOut)
	for i := range b.KernelOutputs {
		b.KernelOutputs[i] = &externalapi.KernelOutput{KernelID: r.Hash()}
	}

	copy(b.Offset[:], r.Bytes(32))
	b.Subsidy = r.Uint64()
	b.SubsidyClosing = r.Bool()
	b.SizeBytes = int(r.Uint64())

	if r.Err != nil {
		return nil, r.Err
	}
	return b, nil
}

func readCommitment(r *serialize.Reader) externalapi.DomainCommitment {
	var c externalapi.DomainCommitment
	copy(c[:], r.Bytes(externalapi.DomainCommitmentSize))
	return c
}
