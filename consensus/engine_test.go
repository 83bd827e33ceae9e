package consensus

import (
	"context"
	"testing"
	"time"

	"solidus/crypto"
	"solidus/delegate"
	"solidus/propcodec"
	"solidus/slot"
)

func newTestEngine(t *testing.T, delegateCount int, powTimeout time.Duration) (*Engine, []*crypto.PrivateKey) {
	t.Helper()
	keys := make([]*crypto.PrivateKey, delegateCount)
	pubs := make([][]byte, delegateCount)
	for i := 0; i < delegateCount; i++ {
		kp, err := crypto.GeneratePrivateKey()
		if err != nil {
			t.Fatalf("GeneratePrivateKey: %v", err)
		}
		keys[i] = kp
		pubs[i] = kp.PubKey().Bytes()
	}
	idx := delegate.NewIndex(1, pubs)
	clk := slot.New(slot.Config{
		Epoch:      time.Unix(0, 0),
		SlotLength: 3 * time.Second,
		Delegates:  uint32(delegateCount),
		Leading:    2,
		PowTimeout: powTimeout,
	})
	eng := NewEngine(clk, idx, propcodec.EnvContext{EnableLongID: false})
	return eng, keys
}

func testBlock(height uint64, id string, ts time.Time, pub *crypto.PublicKey) BlockHeader {
	return BlockHeader{Height: height, ID: ShortID(parseID(id)), Timestamp: ts, GeneratorPublicKey: pub}
}

func parseID(s string) uint64 {
	var n uint64
	for _, c := range s {
		n = n*10 + uint64(c-'0')
	}
	return n
}

func TestProposeVerifyRoundTrip(t *testing.T) {
	eng, keys := newTestEngine(t, 3, 2*time.Second)
	ts := time.Unix(1_000_000, 0)
	block := testBlock(100, "123456789012345", ts, keys[0].PubKey())

	propose, kind := eng.CreatePropose(context.Background(), keys[0], block, "192.168.0.1:7000")
	if kind != OK {
		t.Fatalf("CreatePropose: %v", kind)
	}
	if kind := eng.AcceptPropose(propose); kind != OK {
		t.Fatalf("AcceptPropose: %v", kind)
	}
}

func TestAcceptProposeRejectsTamperedHash(t *testing.T) {
	eng, keys := newTestEngine(t, 3, 2*time.Second)
	ts := time.Unix(1_000_000, 0)
	block := testBlock(100, "123456789012345", ts, keys[0].PubKey())

	propose, kind := eng.CreatePropose(context.Background(), keys[0], block, "192.168.0.1:7000")
	if kind != OK {
		t.Fatalf("CreatePropose: %v", kind)
	}
	// Flip a bit outside the masked region (leading=2 masks bytes 0-1).
	propose.Hash[10] ^= 0x01
	if kind := eng.AcceptPropose(propose); kind != PowInvalid {
		t.Fatalf("expected PowInvalid, got %v", kind)
	}
}

func TestVoteThresholdStrictMajority(t *testing.T) {
	const delegateCount = 101
	eng, keys := newTestEngine(t, delegateCount, time.Second)
	ts := time.Unix(1, 0)
	block := testBlock(10, "1", ts, keys[0].PubKey())
	eng.SetPendingBlock(&block)

	threshold := (2 * delegateCount) / 3 // 67
	vote, kind := eng.CreateVotes(keys[:threshold], block)
	if kind != OK {
		t.Fatalf("CreateVotes: %v", kind)
	}
	acc, kind := eng.AddPendingVotes(vote)
	if kind != OK {
		t.Fatalf("AddPendingVotes: %v", kind)
	}
	if eng.HasEnoughVotes(acc) {
		t.Fatalf("expected threshold not yet crossed at %d votes", threshold)
	}

	one, kind := eng.CreateVotes(keys[threshold:threshold+1], block)
	if kind != OK {
		t.Fatalf("CreateVotes: %v", kind)
	}
	acc, kind = eng.AddPendingVotes(one)
	if kind != OK {
		t.Fatalf("AddPendingVotes: %v", kind)
	}
	if !eng.HasEnoughVotes(acc) {
		t.Fatalf("expected threshold crossed at %d votes", threshold+1)
	}
	if eng.Phase() != PhaseCommittable {
		t.Fatalf("expected phase COMMITTABLE, got %v", eng.Phase())
	}
}

func TestDuplicateVoteSignerCountsOnce(t *testing.T) {
	eng, keys := newTestEngine(t, 10, time.Second)
	ts := time.Unix(1, 0)
	block := testBlock(10, "1", ts, keys[0].PubKey())
	eng.SetPendingBlock(&block)

	first, _ := eng.CreateVotes(keys[0:5], block)
	acc, kind := eng.AddPendingVotes(first)
	if kind != OK || len(acc.Signatures) != 5 {
		t.Fatalf("expected 5 signatures, got %d (%v)", len(acc.Signatures), kind)
	}

	second, _ := eng.CreateVotes(keys[4:8], block) // keys[4] overlaps with first
	acc, kind = eng.AddPendingVotes(second)
	if kind != OK {
		t.Fatalf("AddPendingVotes: %v", kind)
	}
	if len(acc.Signatures) != 8 {
		t.Fatalf("expected 8 total signatures (one signer deduped), got %d", len(acc.Signatures))
	}
}

func TestStaleVoteLeavesAccumulatorUnchanged(t *testing.T) {
	eng, keys := newTestEngine(t, 10, time.Second)
	ts := time.Unix(1, 0)
	block := testBlock(10, "1", ts, keys[0].PubKey())
	eng.SetPendingBlock(&block)

	valid, _ := eng.CreateVotes(keys[0:3], block)
	acc, kind := eng.AddPendingVotes(valid)
	if kind != OK {
		t.Fatalf("AddPendingVotes: %v", kind)
	}

	otherBlock := testBlock(10, "2", ts, keys[0].PubKey())
	stale, _ := eng.CreateVotes(keys[3:5], otherBlock)
	accAfter, kind := eng.AddPendingVotes(stale)
	if kind != OK {
		t.Fatalf("expected stale vote to be silently dropped, got %v", kind)
	}
	if len(accAfter.Signatures) != len(acc.Signatures) {
		t.Fatalf("expected accumulator unchanged by stale vote, got %d signatures", len(accAfter.Signatures))
	}
}

func TestPowTimeoutLeavesStateUntouched(t *testing.T) {
	eng, keys := newTestEngine(t, 3, time.Nanosecond)
	ts := time.Unix(1, 0)
	block := testBlock(10, "1", ts, keys[0].PubKey())

	_, kind := eng.CreatePropose(context.Background(), keys[0], block, "10.0.0.1:9000")
	if kind != MinerTimeout {
		t.Fatalf("expected MinerTimeout, got %v", kind)
	}
	if eng.HasPendingBlock(ts) {
		t.Fatalf("expected no pending block to be installed after a PoW timeout")
	}
}

func TestSetPendingBlockClearsVotesFromPriorSlot(t *testing.T) {
	eng, keys := newTestEngine(t, 10, time.Second)
	a := testBlock(10, "1", time.Unix(1, 0), keys[0].PubKey())
	eng.SetPendingBlock(&a)
	votes, _ := eng.CreateVotes(keys[0:3], a)
	if _, kind := eng.AddPendingVotes(votes); kind != OK {
		t.Fatalf("AddPendingVotes: %v", kind)
	}

	b := testBlock(11, "2", time.Unix(100, 0), keys[0].PubKey())
	eng.SetPendingBlock(&b)
	_, accVotes, phase := eng.PendingSnapshot()
	if accVotes != nil {
		t.Fatalf("expected vote accumulator cleared after new pending block")
	}
	if phase != PhaseProposed {
		t.Fatalf("expected PROPOSED after SetPendingBlock, got %v", phase)
	}
}

func TestHasEnoughVotesRemoteIsIndependentThreshold(t *testing.T) {
	eng, keys := newTestEngine(t, 101, time.Second)
	block := testBlock(1, "1", time.Unix(1, 0), keys[0].PubKey())
	vote, _ := eng.CreateVotes(keys[0:6], block)
	if !eng.HasEnoughVotesRemote(vote) {
		t.Fatalf("expected 6 signatures to satisfy the remote relay threshold")
	}
	if eng.HasEnoughVotes(vote) {
		t.Fatalf("6 signatures out of 101 delegates must not satisfy local finality")
	}
}
