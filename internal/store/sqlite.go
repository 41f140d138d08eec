package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/rcliao/slotmem/internal/embedding"
	"github.com/rcliao/slotmem/internal/model"
)

const sqliteExt = ".db"

var collectionNameRe = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// SQLiteDB keeps each collection in its own SQLite file under dir.
// Embeddings are stored as blobs and compared in process.
type SQLiteDB struct {
	dir    string
	emb    embedding.Embedder
	logger *slog.Logger

	mu   sync.RWMutex
	cols map[string]*sqliteCollection
}

// NewSQLiteDB opens (creating if needed) a store directory.
func NewSQLiteDB(dir string, emb embedding.Embedder, logger *slog.Logger) (*SQLiteDB, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLiteDB{
		dir:    dir,
		emb:    emb,
		logger: logger,
		cols:   make(map[string]*sqliteCollection),
	}, nil
}

func (s *SQLiteDB) Dir() string { return s.dir }

func (s *SQLiteDB) Collection(ctx context.Context, name string, create bool) (Collection, error) {
	if !collectionNameRe.MatchString(name) {
		return nil, fmt.Errorf("invalid collection name %q", name)
	}
	s.mu.RLock()
	col, ok := s.cols[name]
	s.mu.RUnlock()
	if ok {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if col, ok := s.cols[name]; ok {
		return col, nil
	}

	path := filepath.Join(s.dir, name+sqliteExt)
	if !create {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return nil, ErrCollectionNotFound
		}
	}
	col, err := openSQLiteCollection(ctx, name, path, s.emb, s.logger)
	if err != nil {
		return nil, err
	}
	s.cols[name] = col
	return col, nil
}

func (s *SQLiteDB) Collections(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read store dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), sqliteExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), sqliteExt))
	}
	sort.Strings(names)
	return names, nil
}

func (s *SQLiteDB) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for name, col := range s.cols {
		if err := col.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
		delete(s.cols, name)
	}
	return errors.Join(errs...)
}

type sqliteCollection struct {
	name   string
	db     *sql.DB
	emb    embedding.Embedder
	logger *slog.Logger
}

func openSQLiteCollection(ctx context.Context, name, path string, emb embedding.Embedder, logger *slog.Logger) (*sqliteCollection, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open collection %s: %w", name, err)
	}
	c := &sqliteCollection{name: name, db: db, emb: emb, logger: logger}
	if err := c.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate collection %s: %w", name, err)
	}
	return c, nil
}

func (c *sqliteCollection) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS memories (
		memory_id      TEXT PRIMARY KEY,
		content        TEXT NOT NULL,
		scope          TEXT NOT NULL,
		owner_user_id  TEXT NOT NULL,
		group_id       INTEGER NOT NULL DEFAULT -1,
		category       TEXT NOT NULL,
		slot_key       TEXT NOT NULL,
		importance     REAL NOT NULL,
		confidence     REAL NOT NULL,
		created_at     INTEGER NOT NULL,
		updated_at     INTEGER NOT NULL,
		expires_at     INTEGER NOT NULL DEFAULT -1,
		status         TEXT NOT NULL,
		source_msg_id  INTEGER NOT NULL DEFAULT -1,
		record_version TEXT NOT NULL,
		embedding      BLOB
	);
	CREATE INDEX IF NOT EXISTS idx_memories_slot ON memories(scope, slot_key, status);
	CREATE INDEX IF NOT EXISTS idx_memories_updated ON memories(updated_at DESC);
	`
	_, err := c.db.ExecContext(ctx, schema)
	return err
}

func (c *sqliteCollection) Name() string { return c.name }

func (c *sqliteCollection) Add(ctx context.Context, r model.Record) error {
	vec, err := c.emb.Embed(ctx, r.Content)
	if err != nil {
		return fmt.Errorf("embed content: %w", err)
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO memories (memory_id, content, scope, owner_user_id, group_id, category, slot_key,
		                       importance, confidence, created_at, updated_at, expires_at, status,
		                       source_msg_id, record_version, embedding)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Content, string(r.Scope), r.OwnerUserID, optInt(r.GroupID), string(r.Category), r.SlotKey,
		r.Importance, r.Confidence, r.CreatedAt, r.UpdatedAt, optInt(r.ExpiresAt), string(r.Status),
		optInt(r.SourceMsgID), model.RecordVersion, encodeVector(vec))
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

const recordColumns = `memory_id, content, scope, owner_user_id, group_id, category, slot_key,
	importance, confidence, created_at, updated_at, expires_at, status, source_msg_id, record_version`

func (c *sqliteCollection) Get(ctx context.Context, id string) (model.Record, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM memories WHERE memory_id = ?`, id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Record{}, ErrNotFound
	}
	if errors.Is(err, errRecordVersion) {
		c.logger.Debug("skipping record", "collection", c.name, "id", id, "err", err)
		return model.Record{}, ErrNotFound
	}
	if err != nil {
		return model.Record{}, err
	}
	return r, nil
}

func whereSQL(f Filter) (string, []any) {
	where := []string{"1 = 1"}
	var args []any
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Scope != "" {
		where = append(where, "scope = ?")
		args = append(args, string(f.Scope))
	}
	if f.SlotKey != "" {
		where = append(where, "slot_key = ?")
		args = append(args, f.SlotKey)
	}
	return strings.Join(where, " AND "), args
}

func (c *sqliteCollection) Find(ctx context.Context, f Filter) ([]model.Record, error) {
	where, args := whereSQL(f)
	query := `SELECT ` + recordColumns + ` FROM memories WHERE ` + where +
		` ORDER BY updated_at DESC, memory_id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find memories: %w", err)
	}
	defer rows.Close()

	var records []model.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if errors.Is(err, errRecordVersion) {
			c.logger.Debug("skipping record", "collection", c.name, "err", err)
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (c *sqliteCollection) Update(ctx context.Context, recs ...model.Record) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, r := range recs {
		res, err := tx.ExecContext(ctx,
			`UPDATE memories SET status = ?, updated_at = ? WHERE memory_id = ?`,
			string(r.Status), r.UpdatedAt, r.ID)
		if err != nil {
			return fmt.Errorf("update memory %s: %w", r.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("update memory %s: %w", r.ID, ErrNotFound)
		}
	}
	return tx.Commit()
}

type scoredRecord struct {
	rec        model.Record
	similarity float64
}

func (c *sqliteCollection) Query(ctx context.Context, emb embedding.Vector, n int, f Filter) ([]Hit, error) {
	if n <= 0 {
		return nil, nil
	}
	where, args := whereSQL(f)
	rows, err := c.db.QueryContext(ctx,
		`SELECT `+recordColumns+`, embedding FROM memories WHERE embedding IS NOT NULL AND `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	var scored []scoredRecord
	for rows.Next() {
		var blob []byte
		r, err := scanRecord(rows, &blob)
		if errors.Is(err, errRecordVersion) {
			continue
		}
		if err != nil {
			return nil, err
		}
		stored := decodeVector(blob)
		if len(stored) != len(emb) {
			continue
		}
		scored = append(scored, scoredRecord{rec: r, similarity: embedding.CosineSimilarity(emb, stored)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].similarity != scored[j].similarity {
			return scored[i].similarity > scored[j].similarity
		}
		return scored[i].rec.ID > scored[j].rec.ID
	})

	hits := make([]Hit, 0, min(n, len(scored)))
	for i := 0; i < min(n, len(scored)); i++ {
		hits = append(hits, Hit{Record: scored[i].rec, Distance: distance(scored[i].similarity)})
	}
	return hits, nil
}

func (c *sqliteCollection) Count(ctx context.Context) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).Scan(&n)
	return n, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner, extra ...any) (model.Record, error) {
	var r model.Record
	var scope, category, status, version string
	var groupID, expiresAt, sourceMsgID int64

	dest := []any{
		&r.ID, &r.Content, &scope, &r.OwnerUserID, &groupID, &category, &r.SlotKey,
		&r.Importance, &r.Confidence, &r.CreatedAt, &r.UpdatedAt, &expiresAt, &status,
		&sourceMsgID, &version,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return r, err
	}
	if version != model.RecordVersion {
		return model.Record{}, fmt.Errorf("%w %q", errRecordVersion, version)
	}

	r.Scope = model.ParseScope(scope)
	r.Category = model.ParseCategory(category)
	r.Status = model.ParseStatus(status)
	r.GroupID = fromOptInt(groupID)
	r.ExpiresAt = fromOptInt(expiresAt)
	r.SourceMsgID = fromOptInt(sourceMsgID)
	return r, nil
}

// encodeVector stores each float32 as 4 little-endian bytes.
func encodeVector(v []float32) []byte {
	if v == nil {
		return nil
	}
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
