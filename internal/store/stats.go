package store

import (
	"context"
	"io/fs"
	"path/filepath"

	"github.com/rcliao/slotmem/internal/model"
)

// Stats holds store statistics.
type Stats struct {
	Dir            string            `json:"dir"`
	SizeBytes      int64             `json:"size_bytes"`
	TotalMemories  int               `json:"total_memories"`
	ActiveMemories int               `json:"active_memories"`
	Collections    []CollectionStats `json:"collections"`
}

// CollectionStats holds per-collection counts.
type CollectionStats struct {
	Name       string `json:"name"`
	Count      int    `json:"count"`
	Active     int    `json:"active"`
	Superseded int    `json:"superseded"`
	Deleted    int    `json:"deleted"`
	Slots      int    `json:"slots"`
}

// CollectStats counts records by status across every collection in db.
func CollectStats(ctx context.Context, db DB) (*Stats, error) {
	st := &Stats{Dir: db.Dir(), SizeBytes: dirSize(db.Dir())}

	names, err := db.Collections(ctx)
	if err != nil {
		return st, err
	}
	for _, name := range names {
		col, err := db.Collection(ctx, name, false)
		if err != nil {
			return st, err
		}
		records, err := col.Find(ctx, Filter{})
		if err != nil {
			return st, err
		}
		cs := CollectionStats{Name: name, Count: len(records)}
		slots := make(map[string]bool)
		for _, r := range records {
			switch r.Status {
			case model.StatusActive:
				cs.Active++
			case model.StatusSuperseded:
				cs.Superseded++
			case model.StatusDeleted:
				cs.Deleted++
			}
			slots[string(r.Scope)+":"+r.SlotKey] = true
		}
		cs.Slots = len(slots)
		st.TotalMemories += cs.Count
		st.ActiveMemories += cs.Active
		st.Collections = append(st.Collections, cs)
	}
	return st, nil
}

func dirSize(dir string) int64 {
	var size int64
	filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			size += info.Size()
		}
		return nil
	})
	return size
}
