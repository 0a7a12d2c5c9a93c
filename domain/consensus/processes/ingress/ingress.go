// Package ingress admits headers and bodies from peers (spec §4.4):
// standalone sanity, insertion into the header graph, and handing off to
// the reorg engine once a delivered body makes a Reachable node
// Functional. Grounded on the teacher's blockprocessor entry points
// (ProcessBlock-style admission gates) adapted to this system's
// header/body split.
package ingress

import (
	"time"

	"github.com/1M15M3/beam/domain/consensus/datastructures/bodystore"
	"github.com/1M15M3/beam/domain/consensus/datastructures/cursorstore"
	"github.com/1M15M3/beam/domain/consensus/datastructures/headergraphstore"
	"github.com/1M15M3/beam/domain/consensus/datastructures/paramsstore"
	"github.com/1M15M3/beam/domain/consensus/hashdomain"
	"github.com/1M15M3/beam/domain/consensus/model/externalapi"
	"github.com/1M15M3/beam/domain/consensus/processes/reorg"
	"github.com/1M15M3/beam/domain/consensus/rules"
	"github.com/1M15M3/beam/infrastructure/db"
	"github.com/1M15M3/beam/infrastructure/logger"
)

var log = logger.RegisterSubSystem("INGR")

// AheadThreshold bounds how far into the future a header's timestamp may
// claim to be relative to wall-clock time.
const AheadThreshold = 2 * time.Hour

// ApproveHeader is the external approval hook of spec §6.3's approve_state:
// an operator- or checkpoint-driven veto over otherwise-standalone-valid
// headers. A nil hook approves everything.
type ApproveHeader func(header *externalapi.DomainBlockHeader) bool

// Ingress admits headers and bodies.
type Ingress struct {
	Graph   *headergraphstore.Store
	Cursors *cursorstore.Store
	Bodies  *bodystore.Store
	Params  *paramsstore.Store
	Reorg   *reorg.Engine
	Rules   *rules.Rules
	Approve ApproveHeader
	Now     func() time.Time
}

func (in *Ingress) now() time.Time {
	if in.Now != nil {
		return in.Now()
	}
	return time.Now()
}

// OnState is on_state(header, peer) (spec §4.4).
func (in *Ingress) OnState(dbTx db.DBTransaction, header *externalapi.DomainBlockHeader, peer externalapi.PeerID) (externalapi.DataStatus, error) {
	hash := hashdomain.HeaderHash(header)

	if header.PoW == nil || !rules.CheckProofOfWork(hash, header.PoW.DifficultyPacked) {
		return externalapi.StatusInvalid, nil
	}
	if header.TimestampUnixMs > in.now().Add(AheadThreshold).UnixMilli() {
		return externalapi.StatusInvalid, nil
	}
	if in.Approve != nil && !in.Approve(header) {
		return externalapi.StatusInvalid, nil
	}

	cursor, err := in.Cursors.Get(dbTx)
	if err != nil {
		return externalapi.StatusInvalid, err
	}
	if header.Height < cursor.LoHorizon {
		return externalapi.StatusUnreachable, nil
	}

	has, err := in.Graph.Has(dbTx, hash)
	if err != nil {
		return externalapi.StatusInvalid, err
	}
	if has {
		return externalapi.StatusRejected, nil
	}

	prevExists := header.PrevHash.IsZero()
	if !prevExists {
		prevExists, err = in.Graph.Has(dbTx, header.PrevHash)
		if err != nil {
			return externalapi.StatusInvalid, err
		}
	}

	flags := externalapi.NodeFlags(0)
	if prevExists {
		prevNode, err := in.Graph.Get(dbTx, header.PrevHash)
		if err == nil && prevNode.Flags.Has(externalapi.FlagReachable) {
			flags |= externalapi.FlagReachable
		}
	} else if header.PrevHash.IsZero() {
		flags |= externalapi.FlagReachable
	}

	row, err := in.nextRow(dbTx)
	if err != nil {
		return externalapi.StatusInvalid, err
	}
	node := &headergraphstore.Node{
		Row:        row,
		Header:     header,
		Flags:      flags,
		HeaderPeer: peer,
	}
	if err := in.Graph.Insert(dbTx, hash, node); err != nil {
		return externalapi.StatusInvalid, err
	}
	log.Debugf("accepted header %s at height %d from %s", hash, header.Height, peer)
	return externalapi.StatusAccepted, nil
}

// OnBlock is on_block(id, body_bytes, peer) (spec §4.4): the caller has
// already decoded body_bytes into body and measured its size.
func (in *Ingress) OnBlock(dbTx db.DBTransaction, id externalapi.DomainHash, body *externalapi.DecodedBody, peer externalapi.PeerID) (externalapi.DataStatus, error) {
	if body.SizeBytes > in.Rules.MaxBodySize {
		return externalapi.StatusInvalid, nil
	}

	node, err := in.Graph.Get(dbTx, id)
	if err != nil {
		if db.IsNotFoundError(err) {
			return externalapi.StatusInvalid, nil
		}
		return externalapi.StatusInvalid, err
	}

	has, err := in.Bodies.HasBody(dbTx, id)
	if err != nil {
		return externalapi.StatusInvalid, err
	}
	if has {
		return externalapi.StatusRejected, nil
	}

	cursor, err := in.Cursors.Get(dbTx)
	if err != nil {
		return externalapi.StatusInvalid, err
	}
	if node.Header.Height < cursor.LoHorizon {
		return externalapi.StatusUnreachable, nil
	}

	if err := in.Bodies.SetBody(dbTx, id, body); err != nil {
		return externalapi.StatusInvalid, err
	}
	if err := in.Graph.SetFlags(dbTx, id, node.Flags|externalapi.FlagFunctional); err != nil {
		return externalapi.StatusInvalid, err
	}
	if err := in.Graph.SetPeers(dbTx, id, "", peer); err != nil {
		return externalapi.StatusInvalid, err
	}

	if node.Flags.Has(externalapi.FlagReachable) {
		if _, err := in.Reorg.TryGoUp(dbTx); err != nil {
			return externalapi.StatusInvalid, err
		}
	}
	return externalapi.StatusAccepted, nil
}

// EnumCongestions is enum_congestions (spec §4.4): for each non-Reachable
// tip with chainwork >= cursor, walk back to the first Reachable ancestor
// (or genesis) and emit a request for the boundary.
func (in *Ingress) EnumCongestions(dbContext db.DBReader) ([]externalapi.RequestDataEvent, error) {
	cursor, err := in.Cursors.Get(dbContext)
	if err != nil {
		return nil, err
	}

	var events []externalapi.RequestDataEvent
	err = in.Graph.EnumTips(dbContext, func(hash externalapi.DomainHash, node *headergraphstore.Node) bool {
		if node.Flags.Has(externalapi.FlagReachable) {
			return true
		}
		if node.Header.ChainworkCum.Cmp(cursor.FullHeader.ChainworkCum) < 0 {
			return true
		}

		cur, curHash := node, hash
		for !cur.Flags.Has(externalapi.FlagReachable) && !cur.Header.PrevHash.IsZero() {
			parent, err := in.Graph.Get(dbContext, cur.Header.PrevHash)
			if err != nil {
				if db.IsNotFoundError(err) && cur.Header.Height > cursor.LoHorizon {
					// The boundary is a parent whose header has never arrived.
					events = append(events, externalapi.RequestDataEvent{ID: cur.Header.PrevHash, SuggestedPeer: cur.HeaderPeer})
				}
				return true
			}
			cur, curHash = parent, cur.Header.PrevHash
		}

		if cur.Header.Height < cursor.LoHorizon {
			log.Warnf("congestion boundary %s below lo_horizon, ignoring", curHash)
			return true
		}
		events = append(events, externalapi.RequestDataEvent{
			ID:            curHash,
			WantsBody:     cur.Flags.Has(externalapi.FlagReachable) && !cur.Flags.Has(externalapi.FlagFunctional),
			SuggestedPeer: cur.HeaderPeer,
		})
		return true
	})
	return events, err
}

// nextRow draws and advances the persisted row counter, so header rows
// stay unique and monotonic across process restarts.
func (in *Ingress) nextRow(dbTx db.DBTransaction) (externalapi.RowID, error) {
	row, err := in.Params.Get(dbTx, paramsstore.NextRow)
	if err != nil {
		if db.IsNotFoundError(err) {
			row = 0
		} else {
			return 0, err
		}
	}
	if err := in.Params.Set(dbTx, paramsstore.NextRow, row+1); err != nil {
		return 0, err
	}
	return externalapi.RowID(row), nil
}
