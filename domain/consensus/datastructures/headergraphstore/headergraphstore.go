// Package headergraphstore persists the header graph of spec §3: one node
// per header hash, keyed additionally by RowID so height/chainwork
// comparisons and deterministic tie-breaks don't require decoding a hash.
// Grounded on the teacher's store-per-concern layout (e.g.
// domain/consensus/datastructures/blockstatusstore) built directly on the
// abstract infrastructure/db contract rather than a generated DB layer.
package headergraphstore

import (
	"encoding/binary"

	"github.com/1M15M3/beam/domain/consensus/corruption"
	"github.com/1M15M3/beam/domain/consensus/datastructures/serialize"
	"github.com/1M15M3/beam/domain/consensus/model/externalapi"
	"github.com/1M15M3/beam/infrastructure/db"
	"github.com/pkg/errors"
)

var bucketNodes = db.MakeBucket([]byte("headergraph-nodes"))
var bucketByRow = db.MakeBucket([]byte("headergraph-by-row"))

// Node is one header graph entry (spec §3): the header itself, its flags,
// and the peer(s) that most recently delivered its header/body.
type Node struct {
	Row        externalapi.RowID
	Header     *externalapi.DomainBlockHeader
	Flags      externalapi.NodeFlags
	HeaderPeer externalapi.PeerID
	BodyPeer   externalapi.PeerID
}

// Clone returns a deep copy.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	clone := *n
	clone.Header = n.Header.Clone()
	return &clone
}

// Store is the persisted header graph. It carries no state of its own;
// every method takes the read or write context explicitly, the way the
// teacher's stores are thin wrappers over the abstract db contract.
type Store struct{}

// New creates a Store.
func New() *Store {
	return &Store{}
}

func nodeKey(hash externalapi.DomainHash) db.DBKey {
	return bucketNodes.Key(hash[:])
}

func rowKey(row externalapi.RowID) db.DBKey {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(row))
	return bucketByRow.Key(buf[:])
}

// Insert adds a new node, keyed by its header's hash, and indexes it by
// row for enumeration in row order (GetByRow, used by pruning's scans and
// by EnumBlocks). The tip tie-break compares Node.Row directly.
func (s *Store) Insert(dbTx db.DBWriter, hash externalapi.DomainHash, node *Node) error {
	serialized, err := serializeNode(node)
	if err != nil {
		return corruption.Wrap(err, "headergraphstore", "serialize node")
	}
	if err := dbTx.Put(nodeKey(hash), serialized); err != nil {
		return corruption.Wrap(err, "headergraphstore", "put node")
	}
	if err := dbTx.Put(rowKey(node.Row), hash[:]); err != nil {
		return corruption.Wrap(err, "headergraphstore", "put row index")
	}
	return nil
}

// Get returns the node for hash. Absence is reported via
// db.IsNotFoundError on the returned error, not a corruption — callers
// (e.g. ingress) use this to distinguish "unknown header" from a broken
// store.
func (s *Store) Get(dbContext db.DBReader, hash externalapi.DomainHash) (*Node, error) {
	bytes, err := dbContext.Get(nodeKey(hash))
	if err != nil {
		return nil, err
	}
	node, err := deserializeNode(bytes)
	if err != nil {
		return nil, corruption.Wrap(err, "headergraphstore", "deserialize node")
	}
	return node, nil
}

// Has reports whether a node exists for hash.
func (s *Store) Has(dbContext db.DBReader, hash externalapi.DomainHash) (bool, error) {
	return dbContext.Has(nodeKey(hash))
}

// GetByRow resolves a RowID back to its header hash and node.
func (s *Store) GetByRow(dbContext db.DBReader, row externalapi.RowID) (externalapi.DomainHash, *Node, error) {
	hashBytes, err := dbContext.Get(rowKey(row))
	if err != nil {
		return externalapi.DomainHash{}, nil, err
	}
	hash, err := externalapi.NewDomainHashFromByteSlice(hashBytes)
	if err != nil {
		return externalapi.DomainHash{}, nil, corruption.Wrap(err, "headergraphstore", "row index hash")
	}
	node, err := s.Get(dbContext, *hash)
	if err != nil {
		return externalapi.DomainHash{}, nil, err
	}
	return *hash, node, nil
}

// SetFlags overwrites a node's flags (used by set_state_functional /
// set_state_not_functional and reachability/activity updates).
func (s *Store) SetFlags(dbTx db.DBWriter, hash externalapi.DomainHash, flags externalapi.NodeFlags) error {
	node, err := s.Get(dbTx, hash)
	if err != nil {
		return err
	}
	node.Flags = flags
	return s.Insert(dbTx, hash, node)
}

// SetPeers records the peers that delivered the header and/or body,
// supplementing spec §6.3's on_peer_insane with the "last header peer vs
// last body peer" split the original tracks separately.
func (s *Store) SetPeers(dbTx db.DBWriter, hash externalapi.DomainHash, headerPeer, bodyPeer externalapi.PeerID) error {
	node, err := s.Get(dbTx, hash)
	if err != nil {
		return err
	}
	if headerPeer != "" {
		node.HeaderPeer = headerPeer
	}
	if bodyPeer != "" {
		node.BodyPeer = bodyPeer
	}
	return s.Insert(dbTx, hash, node)
}

// Delete removes a node and its row index entry.
func (s *Store) Delete(dbTx db.DBTransaction, hash externalapi.DomainHash, row externalapi.RowID) error {
	if err := dbTx.Delete(nodeKey(hash)); err != nil {
		return corruption.Wrap(err, "headergraphstore", "delete node")
	}
	if err := dbTx.Delete(rowKey(row)); err != nil {
		return corruption.Wrap(err, "headergraphstore", "delete row index")
	}
	return nil
}

// EnumTips walks every node and calls visit for those with no known child
// (spec §6.2 enum_tips): a straightforward full scan, acceptable given the
// header graph is periodically pruned (spec §4.5).
func (s *Store) EnumTips(dbContext db.DBReader, visit func(hash externalapi.DomainHash, node *Node) bool) error {
	hasChild := map[externalapi.DomainHash]bool{}
	nodes := map[externalapi.DomainHash]*Node{}
	cursor, err := dbContext.Cursor(bucketNodes)
	if err != nil {
		return corruption.Wrap(err, "headergraphstore", "open cursor")
	}
	defer cursor.Close()
	for ok := cursor.First(); ok; ok = cursor.Next() {
		key, err := cursor.Key()
		if err != nil {
			return corruption.Wrap(err, "headergraphstore", "cursor key")
		}
		keyBytes := key.Bytes()
		var hash externalapi.DomainHash
		copy(hash[:], keyBytes[len(keyBytes)-externalapi.DomainHashSize:])
		value, err := cursor.Value()
		if err != nil {
			return corruption.Wrap(err, "headergraphstore", "cursor value")
		}
		node, err := deserializeNode(value)
		if err != nil {
			return corruption.Wrap(err, "headergraphstore", "deserialize during scan")
		}
		nodes[hash] = node
		if !node.Header.PrevHash.IsZero() {
			hasChild[node.Header.PrevHash] = true
		}
	}
	for hash, node := range nodes {
		if hasChild[hash] {
			continue
		}
		if !visit(hash, node) {
			return nil
		}
	}
	return nil
}

// EnumFunctionalTips is EnumTips filtered to nodes carrying FlagFunctional
// (spec §6.2 enum_functional_tips), the candidate set TryGoUp climbs.
func (s *Store) EnumFunctionalTips(dbContext db.DBReader, visit func(hash externalapi.DomainHash, node *Node) bool) error {
	return s.EnumTips(dbContext, func(hash externalapi.DomainHash, node *Node) bool {
		if !node.Flags.Has(externalapi.FlagFunctional) {
			return true
		}
		return visit(hash, node)
	})
}

func serializeNode(n *Node) ([]byte, error) {
	if n.Header == nil {
		return nil, errors.New("headergraphstore: nil header")
	}
	buf := make([]byte, 0, 256)
	buf = serialize.AppendUint64(buf, uint64(n.Row))
	buf = serialize.AppendUint64(buf, n.Header.Height)
	buf = append(buf, n.Header.PrevHash[:]...)
	buf = serialize.AppendBig(buf, n.Header.ChainworkCum)
	buf = serialize.AppendUint32(buf, n.Header.PoW.DifficultyPacked)
	buf = serialize.AppendUint64(buf, n.Header.PoW.Nonce)
	buf = serialize.AppendBytes(buf, n.Header.PoW.Solution)
	buf = serialize.AppendUint64(buf, uint64(n.Header.TimestampUnixMs))
	buf = append(buf, n.Header.DefinitionHash[:]...)
	buf = append(buf, n.Header.KernelCommitment[:]...)
	buf = append(buf, byte(n.Flags))
	buf = serialize.AppendString(buf, string(n.HeaderPeer))
	buf = serialize.AppendString(buf, string(n.BodyPeer))
	return buf, nil
}

func deserializeNode(data []byte) (*Node, error) {
	r := serialize.NewReader(data)
	row := externalapi.RowID(r.Uint64())
	h := &externalapi.DomainBlockHeader{}
	h.Height = r.Uint64()
	h.PrevHash = r.Hash()
	h.ChainworkCum = r.Big()
	h.PoW = &externalapi.ProofOfWork{}
	h.PoW.DifficultyPacked = r.Uint32()
	h.PoW.Nonce = r.Uint64()
	h.PoW.Solution = r.BytesPrefixed()
	h.TimestampUnixMs = int64(r.Uint64())
	h.DefinitionHash = r.Hash()
	h.KernelCommitment = r.Hash()
	flags := externalapi.NodeFlags(r.Byte())
	headerPeer := r.String()
	bodyPeer := r.String()
	if r.Err != nil {
		return nil, r.Err
	}
	return &Node{Row: row, Header: h, Flags: flags, HeaderPeer: externalapi.PeerID(headerPeer), BodyPeer: externalapi.PeerID(bodyPeer)}, nil
}
