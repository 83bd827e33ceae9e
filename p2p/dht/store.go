package dht

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/syndtr/goleveldb/leveldb"
)

// nodeRecord is the RLP-encoded on-disk representation of a Node, per
// spec §6's persisted node store schema {id, host, port, seen}. RLP gives
// a compact deterministic encoding, in keeping with the teacher's own use
// of rlp for its validator-set store (consensus/store/store.go).
type nodeRecord struct {
	ID   []byte
	Host string
	Port uint16
	Seen int64
}

func toRecord(n Node) nodeRecord {
	return nodeRecord{ID: n.ID[:], Host: n.Host, Port: n.Port, Seen: n.Seen.Unix()}
}

func (r nodeRecord) toNode() (Node, error) {
	if len(r.ID) != 20 {
		return Node{}, fmt.Errorf("dht: stored node id must be 20 bytes, got %d", len(r.ID))
	}
	var n Node
	copy(n.ID[:], r.ID)
	n.Host = r.Host
	n.Port = r.Port
	n.Seen = time.Unix(r.Seen, 0)
	return n, nil
}

// Store is the single-writer, append-structured persisted node store
// owned exclusively by the Overlay (spec §3: "the persistent node store is
// owned by the DHT"). Grounded on the teacher's p2p.Peerstore, swapped
// from JSON to RLP encoding and from a peer-score record to the spec's
// {id, host, port, seen} node schema.
type Store struct {
	mu sync.Mutex
	db *leveldb.DB
}

// OpenStore opens (or creates) a LevelDB-backed node store at path.
func OpenStore(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("dht: store path required")
	}
	db, err := leveldb.OpenFile(filepath.Clean(path), nil)
	if err != nil {
		return nil, fmt.Errorf("dht: open node store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

const nodeKeyPrefix = "node:"

// Put persists or overwrites a node record.
func (s *Store) Put(n Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return errors.New("dht: store closed")
	}
	blob, err := rlp.EncodeToBytes(toRecord(n))
	if err != nil {
		return err
	}
	return s.db.Put(nodeKey(n.ID), blob, nil)
}

// Delete removes a persisted node record.
func (s *Store) Delete(id [20]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return errors.New("dht: store closed")
	}
	return s.db.Delete(nodeKey(id), nil)
}

// LoadAll returns every persisted node, used at startup to re-add nodes
// before bootstrap completes (spec §4.5).
func (s *Store) LoadAll() ([]Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, errors.New("dht: store closed")
	}
	iter := s.db.NewIterator(nil, nil)
	defer iter.Release()
	var out []Node
	for iter.Next() {
		key := string(iter.Key())
		if len(key) < len(nodeKeyPrefix) || key[:len(nodeKeyPrefix)] != nodeKeyPrefix {
			continue
		}
		var rec nodeRecord
		if err := rlp.DecodeBytes(iter.Value(), &rec); err != nil {
			return nil, fmt.Errorf("dht: decode node record %s: %w", key, err)
		}
		n, err := rec.toNode()
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, iter.Error()
}

func nodeKey(id [20]byte) []byte {
	return append([]byte(nodeKeyPrefix), id[:]...)
}

// FlushSnapshot replaces the entire persisted table with nodes — called
// every SAVE_PEERS_INTERVAL by the Overlay's periodic flush loop.
func (s *Store) FlushSnapshot(nodes []Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return errors.New("dht: store closed")
	}
	batch := new(leveldb.Batch)
	iter := s.db.NewIterator(nil, nil)
	for iter.Next() {
		key := string(iter.Key())
		if len(key) >= len(nodeKeyPrefix) && key[:len(nodeKeyPrefix)] == nodeKeyPrefix {
			batch.Delete(append([]byte(nil), iter.Key()...))
		}
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return err
	}
	for _, n := range nodes {
		blob, err := rlp.EncodeToBytes(toRecord(n))
		if err != nil {
			return err
		}
		batch.Put(nodeKey(n.ID), blob)
	}
	return s.db.Write(batch, nil)
}
