// Package storemeta holds the small amount of bookkeeping a store
// directory needs beyond what fileset/btree/docmap persist on their
// own: principally the vocabulary B+tree's root location, which
// (unlike docmap's cache pages) has nowhere else to live between
// process runs. It plays the same role for the mgstore-* tools that
// IndexMetadata plays for a zoekt shard: a JSON sidecar a reader loads
// before touching the rest of the store.
package storemeta

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/mgtoolkit/mgstore/page"
)

const fileName = "store.json"

// Meta describes one store directory's sizing and the vocabulary
// tree's current root.
type Meta struct {
	PageSize      int
	BufferPages   int
	MaxFileSize   int64
	CacheMask     uint8
	VocabRoot     page.Location
	VocabEntries  int
	Pivot         float64
	Slope         float64
	QuantBits     uint
	ImpactApplied bool
}

func path(dir string) string { return filepath.Join(dir, fileName) }

// Save writes m to dir/store.json, overwriting any previous contents.
func Save(dir string, m Meta) error {
	blob, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path(dir), blob, 0o644)
}

// Load reads dir/store.json.
func Load(dir string) (Meta, error) {
	blob, err := os.ReadFile(path(dir))
	if err != nil {
		return Meta{}, err
	}
	var m Meta
	if err := json.Unmarshal(blob, &m); err != nil {
		return Meta{}, err
	}
	return m, nil
}
