package dht

import (
	"container/list"
	"sort"
	"sync"
	"time"
)

// numBuckets is the number of XOR-distance buckets for a 160-bit id space.
const numBuckets = 160

// bucketSize is "k" in the usual Kademlia literature.
const bucketSize = 20

type bucket struct {
	entries    *list.List // front = most recently seen
	lastRefresh time.Time
}

func newBucket() *bucket {
	return &bucket{entries: list.New()}
}

// Table is the live Kademlia-like routing table keyed by XOR distance from
// self. All mutation is guarded by mu; callers never see torn state.
type Table struct {
	mu      sync.RWMutex
	self    [20]byte
	buckets [numBuckets]*bucket
}

// NewTable constructs an empty table centered on selfID.
func NewTable(selfID [20]byte) *Table {
	t := &Table{self: selfID}
	for i := range t.buckets {
		t.buckets[i] = newBucket()
	}
	return t
}

func (t *Table) bucketIndex(id [20]byte) int {
	d := distance(t.self, id)
	idx := leadingZeroBits(d)
	if idx < 0 {
		return -1 // self
	}
	if idx >= numBuckets {
		idx = numBuckets - 1
	}
	return idx
}

// Insert adds or refreshes node in its bucket. If the bucket is full, the
// least-recently-seen entry is evicted to make room (a simplification of
// the usual Kademlia least-recently-seen ping-before-evict policy, since
// liveness pinging is handled by the overlay's seed-reconnect loop rather
// than per-insert).
func (t *Table) Insert(n Node) bool {
	idx := t.bucketIndex(n.ID)
	if idx < 0 {
		return false // refuse to add self
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.buckets[idx]

	for e := b.entries.Front(); e != nil; e = e.Next() {
		existing := e.Value.(Node)
		if existing.ID == n.ID {
			b.entries.Remove(e)
			b.entries.PushFront(n)
			return true
		}
	}

	if b.entries.Len() >= bucketSize {
		b.entries.Remove(b.entries.Back())
	}
	b.entries.PushFront(n)
	return true
}

// Remove deletes a node by id.
func (t *Table) Remove(id [20]byte) bool {
	idx := t.bucketIndex(id)
	if idx < 0 {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.buckets[idx]
	for e := b.entries.Front(); e != nil; e = e.Next() {
		if e.Value.(Node).ID == id {
			b.entries.Remove(e)
			return true
		}
	}
	return false
}

// All returns every node currently in the table.
func (t *Table) All() []Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []Node
	for _, b := range t.buckets {
		for e := b.entries.Front(); e != nil; e = e.Next() {
			out = append(out, e.Value.(Node))
		}
	}
	return out
}

// Closest returns up to k nodes sorted by XOR distance to target.
func (t *Table) Closest(target [20]byte, k int) []Node {
	all := t.All()
	sort.Slice(all, func(i, j int) bool {
		di := distance(target, all[i].ID)
		dj := distance(target, all[j].ID)
		for b := 0; b < len(di); b++ {
			if di[b] != dj[b] {
				return di[b] < dj[b]
			}
		}
		return false
	})
	if k > len(all) {
		k = len(all)
	}
	return all[:k]
}

// Size returns the total number of tracked nodes.
func (t *Table) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, b := range t.buckets {
		n += b.entries.Len()
	}
	return n
}

// MarkBucketOutdated records that bucket idx was refreshed at now. Per the
// "timeBucketOutdated is advisory" design decision, nothing in the table
// itself consults this beyond bookkeeping for CHECK_BUCKET_OUTDATE
// scheduling in the Overlay.
func (t *Table) MarkBucketOutdated(idx int, now time.Time) {
	if idx < 0 || idx >= numBuckets {
		return
	}
	t.mu.Lock()
	t.buckets[idx].lastRefresh = now
	t.mu.Unlock()
}

// OutdatedBuckets returns the indices of buckets not refreshed since
// before cutoff and that contain at least one entry.
func (t *Table) OutdatedBuckets(cutoff time.Time) []int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []int
	for i, b := range t.buckets {
		if b.entries.Len() == 0 {
			continue
		}
		if b.lastRefresh.Before(cutoff) {
			out = append(out, i)
		}
	}
	return out
}
