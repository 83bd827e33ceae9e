// Package delegate maps a proposal's generator public key to its position
// in the active delegate ring (spec §4, component C4). The ring membership
// and ordering are decided by the external block production scheduler;
// this package only answers lookups against a snapshot it is handed.
package delegate

import (
	"encoding/hex"
	"fmt"
	"sync"
)

// Index is a read-mostly lookup structure over the active delegate set. It
// holds a single ring snapshot tagged with the height it was built for;
// Update replaces that snapshot atomically, and every lookup sees the
// latest one (earlier snapshots are not kept).
type Index struct {
	mu        sync.RWMutex
	height    uint64
	positions map[string]uint32
	ring      [][]byte
}

// NewIndex builds an Index from an ordered delegate public-key ring.
func NewIndex(height uint64, ring [][]byte) *Index {
	positions := make(map[string]uint32, len(ring))
	cloned := make([][]byte, len(ring))
	for i, pub := range ring {
		key := hex.EncodeToString(pub)
		positions[key] = uint32(i)
		cloned[i] = append([]byte(nil), pub...)
	}
	return &Index{height: height, positions: positions, ring: cloned}
}

// Update atomically replaces the ring snapshot, e.g. when the external
// scheduler rotates delegates at an epoch boundary.
func (idx *Index) Update(height uint64, ring [][]byte) {
	next := NewIndex(height, ring)
	idx.mu.Lock()
	idx.height = next.height
	idx.positions = next.positions
	idx.ring = next.ring
	idx.mu.Unlock()
}

// Height reports the height the current snapshot was built for.
func (idx *Index) Height() uint64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.height
}

// Size returns the active delegate set size ("D" in the spec's threshold
// formulas).
func (idx *Index) Size() uint32 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return uint32(len(idx.ring))
}

// ErrIndexLookupFailed is returned by IndexOf when pubkey is not a member of
// the current ring.
var ErrIndexLookupFailed = fmt.Errorf("delegate: public key is not a member of the active delegate ring")

// IndexOf returns pubkey's position in the active ring.
func (idx *Index) IndexOf(pubkey []byte) (uint32, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	pos, ok := idx.positions[hex.EncodeToString(pubkey)]
	if !ok {
		return 0, ErrIndexLookupFailed
	}
	return pos, nil
}

// At returns the public key at ring position i.
func (idx *Index) At(i uint32) ([]byte, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if int(i) >= len(idx.ring) {
		return nil, false
	}
	return append([]byte(nil), idx.ring[i]...), true
}
