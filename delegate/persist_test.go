package delegate

import (
	"testing"

	"solidus/storage"
)

func TestPersistAndLoadIndexRoundTrip(t *testing.T) {
	db := storage.NewMemDB()
	ring := [][]byte{[]byte("alpha"), []byte("beta"), []byte("gamma")}
	idx := NewIndex(42, ring)

	if err := Persist(db, idx); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	loaded, err := LoadIndex(db)
	if err != nil {
		t.Fatalf("LoadIndex: %v", err)
	}
	if loaded.Height() != 42 {
		t.Fatalf("expected height 42, got %d", loaded.Height())
	}
	if loaded.Size() != 3 {
		t.Fatalf("expected size 3, got %d", loaded.Size())
	}
	pos, err := loaded.IndexOf([]byte("beta"))
	if err != nil || pos != 1 {
		t.Fatalf("expected beta at position 1, got %d err=%v", pos, err)
	}
}

func TestLoadIndexEmptyWhenUnset(t *testing.T) {
	db := storage.NewMemDB()
	idx, err := LoadIndex(db)
	if err != nil {
		t.Fatalf("LoadIndex: %v", err)
	}
	if idx.Size() != 0 {
		t.Fatalf("expected empty ring, got size %d", idx.Size())
	}
}
