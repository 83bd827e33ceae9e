package pow

import (
	"context"
	"testing"
	"time"
)

func TestMintVerifyRoundTrip(t *testing.T) {
	difficulty := DifficultyFor(3, 2) // leading=2 -> 2-bit difficulty string
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := Mint(ctx, "deadbeef", difficulty, 2)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if !Verify("deadbeef", res.Nonce, res.Hash, difficulty, 2) {
		t.Fatalf("Verify rejected a hash Mint produced")
	}
}

func TestVerifyRejectsTamperedHash(t *testing.T) {
	difficulty := DifficultyFor(1, 2)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := Mint(ctx, "cafef00d", difficulty, 2)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	tampered := res.Hash
	tampered[10] ^= 0x01
	if Verify("cafef00d", res.Nonce, tampered, difficulty, 2) {
		t.Fatalf("expected tampered hash to fail verification")
	}
}

func TestMintTimesOutOnImpossibleDifficulty(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// A long difficulty string forces many iterations, which combined
	// with a short deadline should trigger ErrTimeout rather than hang.
	difficulty := "0000000000000000000000"
	_, err := Mint(ctx, "slowpath", difficulty, 3)
	if err != ErrTimeout {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestMintVerifyWithLeadingOneDifficulty(t *testing.T) {
	// DifficultyFor(2, 2) == "10": rawIndex=2 has its high bit set, so the
	// difficulty's first character is '1'. This must remain satisfiable —
	// matching is against hex(mask(...)), not a binary bit string, so a
	// masked byte's first hex nibble ranges over 0-7 and can still be 1.
	difficulty := DifficultyFor(2, 2)
	if difficulty != "10" {
		t.Fatalf("expected difficulty %q, got %q", "10", difficulty)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := Mint(ctx, "feedface", difficulty, 2)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if !Verify("feedface", res.Nonce, res.Hash, difficulty, 2) {
		t.Fatalf("Verify rejected a hash Mint produced")
	}
}

func TestDifficultyForSpreadsAcrossDelegates(t *testing.T) {
	a := DifficultyFor(0, 2)
	b := DifficultyFor(1, 2)
	if a == b {
		t.Fatalf("expected distinct difficulty strings for distinct delegate indices")
	}
	if len(a) != 2 || len(b) != 2 {
		t.Fatalf("expected width-2 difficulty strings, got %q / %q", a, b)
	}
}
