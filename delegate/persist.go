package delegate

import (
	"encoding/json"
	"fmt"

	"solidus/storage"
)

// ringKey is the single storage.Database key the active ring snapshot is
// kept under. Only the latest snapshot survives a restart; history isn't
// needed because the external scheduler recomputes the ring from chain
// state on every rotation.
var ringKey = []byte("delegate:ring")

type ringRecord struct {
	Height uint64   `json:"height"`
	Ring   [][]byte `json:"ring"`
}

// Persist writes the Index's current snapshot to db so a restarted node
// recovers its delegate ring before the external scheduler supplies a
// fresh one.
func Persist(db storage.Database, idx *Index) error {
	idx.mu.RLock()
	rec := ringRecord{Height: idx.height, Ring: idx.ring}
	idx.mu.RUnlock()

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("delegate: encode ring snapshot: %w", err)
	}
	return db.Put(ringKey, payload)
}

// LoadIndex recovers a previously Persisted ring snapshot from db. It
// returns an empty Index (height 0, no members) if none was ever saved.
func LoadIndex(db storage.Database) (*Index, error) {
	payload, err := db.Get(ringKey)
	if err != nil {
		return NewIndex(0, nil), nil
	}
	var rec ringRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("delegate: decode ring snapshot: %w", err)
	}
	return NewIndex(rec.Height, rec.Ring), nil
}
