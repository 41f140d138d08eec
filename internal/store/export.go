package store

import (
	"context"
	"sort"

	"github.com/rcliao/slotmem/internal/model"
)

// ExportAll returns every record in col regardless of status, ordered by
// slot and then creation time.
func ExportAll(ctx context.Context, col Collection) ([]model.Record, error) {
	records, err := col.Find(ctx, Filter{})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.Scope != b.Scope {
			return a.Scope < b.Scope
		}
		if a.SlotKey != b.SlotKey {
			return a.SlotKey < b.SlotKey
		}
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt < b.CreatedAt
		}
		return a.ID < b.ID
	})
	return records, nil
}
