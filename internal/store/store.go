// Package store resolves and opens memory collections. Each user and
// each group owns one collection; backends decide how a collection is
// laid out on disk.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/rcliao/slotmem/internal/embedding"
	"github.com/rcliao/slotmem/internal/model"
)

var (
	// ErrNotFound means no record with the requested id exists.
	ErrNotFound = errors.New("memory not found")
	// ErrCollectionNotFound means the collection does not exist and was not created.
	ErrCollectionNotFound = errors.New("collection not found")
)

// Backend names accepted by Open.
const (
	BackendSQLite  = "sqlite"
	BackendChromem = "chromem"
)

// UserCollection is the collection name for a user's memories.
func UserCollection(userID string) string {
	return "mem_user_" + userID
}

// GroupCollection is the collection name for a group's shared memories.
func GroupCollection(groupID int64) string {
	return "mem_group_" + strconv.FormatInt(groupID, 10)
}

// Filter narrows Find and Query. Zero fields match everything.
type Filter struct {
	Status  model.Status
	Scope   model.Scope
	SlotKey string
	Limit   int // 0 means no limit
}

// Hit is a Query result. Distance is the cosine distance reported by the
// backend, nil if it reported none.
type Hit struct {
	Record   model.Record
	Distance *float64
}

// Collection is one logical partition of memories.
type Collection interface {
	Name() string

	// Add inserts rec, embedding its content.
	Add(ctx context.Context, rec model.Record) error

	// Get returns the record with the given id, or ErrNotFound.
	Get(ctx context.Context, id string) (model.Record, error)

	// Find returns records matching f, newest UpdatedAt first.
	Find(ctx context.Context, f Filter) ([]model.Record, error)

	// Update rewrites status and updated_at of existing records.
	// Content and embedding are untouched.
	Update(ctx context.Context, recs ...model.Record) error

	// Query returns up to n records matching f, nearest first.
	Query(ctx context.Context, emb embedding.Vector, n int, f Filter) ([]Hit, error)

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)
}

// DB is a directory of collections.
type DB interface {
	// Collection opens a collection. With create=false a missing
	// collection yields ErrCollectionNotFound.
	Collection(ctx context.Context, name string, create bool) (Collection, error)

	// Collections lists every collection name.
	Collections(ctx context.Context) ([]string, error)

	// Dir is the store root directory.
	Dir() string

	Close() error
}

// Options configures Open.
type Options struct {
	Backend  string
	Dir      string
	Embedder embedding.Embedder
	Logger   *slog.Logger
}

// Open opens the configured backend rooted at opts.Dir.
func Open(opts Options) (DB, error) {
	if opts.Embedder == nil {
		return nil, fmt.Errorf("open store: embedder is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	switch opts.Backend {
	case "", BackendSQLite:
		return NewSQLiteDB(opts.Dir, opts.Embedder, opts.Logger)
	case BackendChromem:
		return NewChromemDB(opts.Dir, opts.Embedder, opts.Logger)
	}
	return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
}

// distance converts a cosine similarity to a cosine distance.
func distance(similarity float64) *float64 {
	d := 1 - similarity
	return &d
}
