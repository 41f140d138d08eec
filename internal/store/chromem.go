package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/rcliao/slotmem/internal/embedding"
	"github.com/rcliao/slotmem/internal/model"
)

// ChromemDB stores collections in a persistent chromem-go database.
// Records are encoded into document metadata.
type ChromemDB struct {
	dir    string
	db     *chromem.DB
	emb    embedding.Embedder
	logger *slog.Logger

	dimsMu sync.Mutex
	dims   int // length of the vectors the embedder actually returns
}

// NewChromemDB opens (creating if needed) a chromem database in dir.
func NewChromemDB(dir string, emb embedding.Embedder, logger *slog.Logger) (*ChromemDB, error) {
	db, err := chromem.NewPersistentDB(dir, false)
	if err != nil {
		return nil, fmt.Errorf("open chromem db: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChromemDB{dir: dir, db: db, emb: emb, logger: logger}, nil
}

func (s *ChromemDB) Dir() string { return s.dir }

func (s *ChromemDB) embedFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		v, err := s.emb.Embed(ctx, text)
		if err == nil {
			s.setDims(len(v))
		}
		return v, err
	}
}

func (s *ChromemDB) setDims(n int) {
	if n == 0 {
		return
	}
	s.dimsMu.Lock()
	s.dims = n
	s.dimsMu.Unlock()
}

// vectorDims returns the embedding length. Embedder.Dims is only a
// hint, so the length is learned from a real vector, embedding a fixed
// text once when nothing has been embedded yet.
func (s *ChromemDB) vectorDims(ctx context.Context) (int, error) {
	s.dimsMu.Lock()
	n := s.dims
	s.dimsMu.Unlock()
	if n > 0 {
		return n, nil
	}
	v, err := s.emb.Embed(ctx, dimsSampleText)
	if err != nil {
		return 0, fmt.Errorf("measure embedding size: %w", err)
	}
	if len(v) == 0 {
		return 0, fmt.Errorf("measure embedding size: empty vector")
	}
	s.setDims(len(v))
	return len(v), nil
}

const dimsSampleText = "memory"

func (s *ChromemDB) Collection(ctx context.Context, name string, create bool) (Collection, error) {
	var col *chromem.Collection
	if create {
		var err error
		col, err = s.db.GetOrCreateCollection(name, nil, s.embedFunc())
		if err != nil {
			return nil, fmt.Errorf("create collection %s: %w", name, err)
		}
	} else {
		col = s.db.GetCollection(name, s.embedFunc())
		if col == nil {
			return nil, ErrCollectionNotFound
		}
	}
	return &chromemCollection{name: name, col: col, db: s, logger: s.logger}, nil
}

func (s *ChromemDB) Collections(ctx context.Context) ([]string, error) {
	var names []string
	for name := range s.db.ListCollections() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Close is a no-op; every write is persisted as it happens.
func (s *ChromemDB) Close() error { return nil }

type chromemCollection struct {
	name   string
	col    *chromem.Collection
	db     *ChromemDB
	logger *slog.Logger
}

func (c *chromemCollection) Name() string { return c.name }

func (c *chromemCollection) Add(ctx context.Context, r model.Record) error {
	err := c.col.AddDocument(ctx, chromem.Document{
		ID:       r.ID,
		Content:  r.Content,
		Metadata: toMetadata(r),
	})
	if err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	return nil
}

func (c *chromemCollection) Get(ctx context.Context, id string) (model.Record, error) {
	doc, err := c.col.GetByID(ctx, id)
	if err != nil {
		return model.Record{}, ErrNotFound
	}
	r, err := fromMetadata(doc.ID, doc.Content, doc.Metadata)
	if err != nil {
		c.logger.Debug("skipping record", "collection", c.name, "id", id, "err", err)
		return model.Record{}, ErrNotFound
	}
	return r, nil
}

// Find scans the collection by querying with a fixed unit vector and
// every document as the result budget. chromem has no listing API.
func (c *chromemCollection) Find(ctx context.Context, f Filter) ([]model.Record, error) {
	n := c.col.Count()
	if n == 0 {
		return nil, nil
	}
	dims, err := c.db.vectorDims(ctx)
	if err != nil {
		return nil, err
	}
	unit := make([]float32, dims)
	unit[0] = 1
	results, err := c.query(ctx, unit, n, f)
	if err != nil {
		return nil, err
	}

	records := make([]model.Record, 0, len(results))
	for _, res := range results {
		if r, ok := c.decode(res); ok {
			records = append(records, r)
		}
	}
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].UpdatedAt != records[j].UpdatedAt {
			return records[i].UpdatedAt > records[j].UpdatedAt
		}
		return records[i].ID > records[j].ID
	})
	if f.Limit > 0 && len(records) > f.Limit {
		records = records[:f.Limit]
	}
	return records, nil
}

func (c *chromemCollection) Update(ctx context.Context, recs ...model.Record) error {
	for _, r := range recs {
		doc, err := c.col.GetByID(ctx, r.ID)
		if err != nil {
			return fmt.Errorf("update memory %s: %w", r.ID, ErrNotFound)
		}
		stored, err := fromMetadata(doc.ID, doc.Content, doc.Metadata)
		if err != nil {
			return fmt.Errorf("update memory %s: %w", r.ID, err)
		}
		stored.Status = r.Status
		stored.UpdatedAt = r.UpdatedAt
		// Re-adding with the existing embedding overwrites the metadata only.
		err = c.col.AddDocument(ctx, chromem.Document{
			ID:        doc.ID,
			Content:   doc.Content,
			Embedding: doc.Embedding,
			Metadata:  toMetadata(stored),
		})
		if err != nil {
			return fmt.Errorf("update memory %s: %w", r.ID, err)
		}
	}
	return nil
}

func (c *chromemCollection) Query(ctx context.Context, emb embedding.Vector, n int, f Filter) ([]Hit, error) {
	if n <= 0 {
		return nil, nil
	}
	results, err := c.query(ctx, emb, n, f)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(results))
	for _, res := range results {
		r, ok := c.decode(res)
		if !ok {
			continue
		}
		hits = append(hits, Hit{Record: r, Distance: distance(float64(res.Similarity))})
	}
	return hits, nil
}

// query caps n at the collection size, which chromem requires, and
// retries with smaller budgets when the count moved underneath.
func (c *chromemCollection) query(ctx context.Context, emb []float32, n int, f Filter) ([]chromem.Result, error) {
	n = min(n, c.col.Count())
	for limit := n; limit >= 1; limit-- {
		results, err := c.col.QueryEmbedding(ctx, emb, limit, whereOf(f), nil)
		if err == nil {
			return results, nil
		}
		if !isInsufficientDocsError(err) {
			return nil, fmt.Errorf("chromem query: %w", err)
		}
	}
	return nil, nil
}

func (c *chromemCollection) decode(res chromem.Result) (model.Record, bool) {
	r, err := fromMetadata(res.ID, res.Content, res.Metadata)
	if err != nil {
		c.logger.Debug("skipping record", "collection", c.name, "id", res.ID, "err", err)
		return model.Record{}, false
	}
	return r, true
}

func (c *chromemCollection) Count(ctx context.Context) (int, error) {
	return c.col.Count(), nil
}

func isInsufficientDocsError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "nResults must be") || strings.Contains(msg, "number of documents")
}
