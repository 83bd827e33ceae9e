package propcodec

import "testing"

func TestVoteHashBytesDeterministic(t *testing.T) {
	env := EnvContext{EnableLongID: false}
	a, err := VoteHashBytes(env, 100, "123456789012345")
	if err != nil {
		t.Fatalf("VoteHashBytes: %v", err)
	}
	b, err := VoteHashBytes(env, 100, "123456789012345")
	if err != nil {
		t.Fatalf("VoteHashBytes: %v", err)
	}
	if string(a) != string(b) {
		t.Fatalf("expected equal inputs to produce equal byte layouts")
	}
	if len(a) != 16 {
		t.Fatalf("expected 8 (height) + 8 (short id) = 16 bytes, got %d", len(a))
	}
}

func TestVoteHashBytesLongIDMode(t *testing.T) {
	env := EnvContext{EnableLongID: true}
	out, err := VoteHashBytes(env, 5, "not-a-number")
	if err != nil {
		t.Fatalf("long-id mode should accept opaque strings: %v", err)
	}
	if len(out) != 8+len("not-a-number") {
		t.Fatalf("unexpected length %d", len(out))
	}
}

func TestProposeHashBytesRejectsNonIPv4Address(t *testing.T) {
	pub := make([]byte, 32)
	_, err := ProposeHashBytes(EnvContext{}, ProposeInput{
		Height:             100,
		ID:                 "1",
		GeneratorPublicKey: pub,
		Timestamp:          1_000_000,
		Address:            "not-an-address",
	})
	if err == nil {
		t.Fatalf("expected error for malformed address")
	}
}

func TestProposeHashBytesLayout(t *testing.T) {
	pub := make([]byte, 32)
	for i := range pub {
		pub[i] = byte(i)
	}
	out, err := ProposeHashBytes(EnvContext{}, ProposeInput{
		Height:             100,
		ID:                 "123456789012345",
		GeneratorPublicKey: pub,
		Timestamp:          1_000_000,
		Address:            "192.168.0.1:7000",
	})
	if err != nil {
		t.Fatalf("ProposeHashBytes: %v", err)
	}
	want := 8 + 8 + 32 + 4 + 4 + 4
	if len(out) != want {
		t.Fatalf("expected %d bytes, got %d", want, len(out))
	}
}

func TestProposeHashBytesRejectsShortPubkey(t *testing.T) {
	_, err := ProposeHashBytes(EnvContext{}, ProposeInput{
		Height:             1,
		ID:                 "1",
		GeneratorPublicKey: []byte{1, 2, 3},
		Timestamp:          0,
		Address:            "192.168.0.1:7000",
	})
	if err == nil {
		t.Fatalf("expected error for short generator public key")
	}
}
