package gossip

import (
	"container/list"
	"sync"
	"time"

	"lukechampine.com/blake3"
)

// seenCache is an LRU+TTL cache of recently observed message fingerprints,
// grounded on the teacher's p2p.nonceGuard (p2p/nonce_guard.go) but keyed
// by a blake3 fingerprint of (topic, payload) instead of a handshake
// nonce. blake3 is used purely as an internal dedup fingerprint — it never
// appears in a protocol-visible hash (those remain SHA-256 per the
// consensus codec).
type seenCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[[32]byte]*list.Element
	order   *list.List
	max     int
}

type seenEntry struct {
	key    [32]byte
	expiry time.Time
}

func newSeenCache(ttl time.Duration, max int) *seenCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if max <= 0 {
		max = 50_000
	}
	return &seenCache{
		ttl:     ttl,
		entries: make(map[[32]byte]*list.Element),
		order:   list.New(),
		max:     max,
	}
}

func fingerprint(topic string, payload []byte) [32]byte {
	h := blake3.New(32, nil)
	h.Write([]byte(topic))
	h.Write([]byte{0})
	h.Write(payload)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// SeenBefore records (topic, payload) if new, returning true if this exact
// content was already observed within the TTL window.
func (c *seenCache) SeenBefore(topic string, payload []byte) bool {
	key := fingerprint(topic, payload)
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.evictExpiredLocked(now)

	if elem, ok := c.entries[key]; ok {
		elem.Value.(*seenEntry).expiry = now.Add(c.ttl)
		c.order.MoveToFront(elem)
		return true
	}

	entry := &seenEntry{key: key, expiry: now.Add(c.ttl)}
	elem := c.order.PushFront(entry)
	c.entries[key] = elem

	for c.order.Len() > c.max {
		back := c.order.Back()
		if back == nil {
			break
		}
		c.order.Remove(back)
		delete(c.entries, back.Value.(*seenEntry).key)
	}
	return false
}

func (c *seenCache) evictExpiredLocked(now time.Time) {
	for {
		back := c.order.Back()
		if back == nil {
			return
		}
		entry := back.Value.(*seenEntry)
		if now.Before(entry.expiry) {
			return
		}
		c.order.Remove(back)
		delete(c.entries, entry.key)
	}
}
