package gossip

import "testing"

func TestSeenCacheDedups(t *testing.T) {
	c := newSeenCache(0, 0)
	if c.SeenBefore("propose", []byte("a")) {
		t.Fatalf("first observation should not be marked seen")
	}
	if !c.SeenBefore("propose", []byte("a")) {
		t.Fatalf("second observation of identical content should be seen")
	}
	if c.SeenBefore("votes", []byte("a")) {
		t.Fatalf("same payload on a different topic must be treated as distinct")
	}
}

func TestSeenCacheEvictsOverCapacity(t *testing.T) {
	c := newSeenCache(0, 4)
	for i := 0; i < 10; i++ {
		c.SeenBefore("t", []byte{byte(i)})
	}
	if len(c.entries) > 4 {
		t.Fatalf("expected eviction to bound cache size at 4, got %d", len(c.entries))
	}
}
