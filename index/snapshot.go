package index

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/movne/advisor-backend/core"
)

// snapshot is the on-disk representation of the index: the fixed
// dimension plus every entry with its vector and insertion sequence.
type snapshot struct {
	Dimension int      `json:"dimension"`
	Entries   []*entry `json:"entries"`
}

// writeSnapshot persists the current state atomically: the snapshot is
// written to a temp file in the same directory and renamed over the
// target, so a crash mid-write never leaves a truncated snapshot behind.
// Callers hold the write lock.
func (idx *Index) writeSnapshot() error {
	snap := snapshot{Dimension: idx.dim, Entries: make([]*entry, 0, len(idx.entries))}
	for _, ent := range idx.entries {
		snap.Entries = append(snap.Entries, ent)
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	dir := filepath.Dir(idx.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".index-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close snapshot: %w", err)
	}

	if err := os.Rename(tmpName, idx.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// loadSnapshot restores state from the snapshot file. A missing file is
// not an error: the index simply starts empty. A snapshot that cannot be
// parsed, or whose dimension disagrees with the embedder, is corrupt and
// fails with an index error.
func (idx *Index) loadSnapshot() (int, error) {
	data, err := os.ReadFile(idx.path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: read index snapshot: %v", core.ErrStorage, err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return 0, fmt.Errorf("%w: corrupt index snapshot %s: %v", core.ErrIndex, idx.path, err)
	}
	if snap.Dimension != idx.dim {
		return 0, fmt.Errorf("%w: snapshot dimension %d, embedder produces %d",
			core.ErrIndex, snap.Dimension, idx.dim)
	}

	for _, ent := range snap.Entries {
		if len(ent.Vector) != idx.dim {
			return 0, fmt.Errorf("%w: corrupt snapshot: entry %s has dimension %d",
				core.ErrIndex, ent.Chunk.Key(), len(ent.Vector))
		}
		idx.entries[ent.Chunk.Key()] = ent
		if ent.Seq >= idx.nextSeq {
			idx.nextSeq = ent.Seq + 1
		}
	}

	return len(snap.Entries), nil
}
