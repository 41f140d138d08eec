package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rcliao/slotmem/internal/embedding"
	"github.com/rcliao/slotmem/internal/model"
)

var backends = []string{BackendSQLite, BackendChromem}

func newTestDB(t *testing.T, backend string) DB {
	t.Helper()
	db, err := Open(Options{
		Backend:  backend,
		Dir:      t.TempDir(),
		Embedder: embedding.NewHashEmbedder(64),
	})
	if err != nil {
		t.Fatalf("open %s store: %v", backend, err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestCollection(t *testing.T, backend string) Collection {
	t.Helper()
	col, err := newTestDB(t, backend).Collection(context.Background(), UserCollection("42"), true)
	if err != nil {
		t.Fatalf("create collection: %v", err)
	}
	return col
}

func record(id, content, slot string, updatedAt int64) model.Record {
	return model.Record{
		ID:          id,
		Content:     content,
		Scope:       model.ScopeUser,
		OwnerUserID: "42",
		Category:    model.CategoryPreference,
		SlotKey:     slot,
		Importance:  0.5,
		Confidence:  0.8,
		CreatedAt:   updatedAt,
		UpdatedAt:   updatedAt,
		Status:      model.StatusActive,
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, backend string)) {
	for _, b := range backends {
		t.Run(b, func(t *testing.T) { fn(t, b) })
	}
}

func TestCollectionNames(t *testing.T) {
	if got := UserCollection("1001"); got != "mem_user_1001" {
		t.Errorf("got %q", got)
	}
	if got := GroupCollection(77); got != "mem_group_77" {
		t.Errorf("got %q", got)
	}
}

func TestAddAndGet(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		ctx := context.Background()
		col := newTestCollection(t, backend)

		gid := int64(7)
		r := record("01A", "likes tea", "drink", 100)
		r.GroupID = &gid
		if err := col.Add(ctx, r); err != nil {
			t.Fatalf("add: %v", err)
		}

		got, err := col.Get(ctx, "01A")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Content != "likes tea" || got.SlotKey != "drink" || got.Status != model.StatusActive {
			t.Errorf("unexpected record %+v", got)
		}
		if got.GroupID == nil || *got.GroupID != 7 {
			t.Errorf("expected group id 7, got %v", got.GroupID)
		}
		if got.ExpiresAt != nil || got.SourceMsgID != nil {
			t.Errorf("expected absent expiry and source, got %v %v", got.ExpiresAt, got.SourceMsgID)
		}

		if _, err := col.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestFindFiltersAndOrders(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		ctx := context.Background()
		col := newTestCollection(t, backend)

		col.Add(ctx, record("01A", "old tea", "drink", 100))
		col.Add(ctx, record("01B", "coffee now", "drink", 200))
		col.Add(ctx, record("01C", "lives in Paris", "city", 300))

		all, err := col.Find(ctx, Filter{})
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if len(all) != 3 || all[0].ID != "01C" || all[2].ID != "01A" {
			t.Fatalf("expected newest first, got %v", ids(all))
		}

		drinks, _ := col.Find(ctx, Filter{Scope: model.ScopeUser, SlotKey: "drink"})
		if len(drinks) != 2 {
			t.Errorf("expected 2 drink records, got %d", len(drinks))
		}

		limited, _ := col.Find(ctx, Filter{Limit: 1})
		if len(limited) != 1 || limited[0].ID != "01C" {
			t.Errorf("expected only 01C, got %v", ids(limited))
		}
	})
}

func TestUpdateChangesStatusOnly(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		ctx := context.Background()
		col := newTestCollection(t, backend)
		col.Add(ctx, record("01A", "likes tea", "drink", 100))

		r, _ := col.Get(ctx, "01A")
		r.Status = model.StatusSuperseded
		r.UpdatedAt = 500
		r.Content = "must not be written"
		if err := col.Update(ctx, r); err != nil {
			t.Fatalf("update: %v", err)
		}

		got, _ := col.Get(ctx, "01A")
		if got.Status != model.StatusSuperseded || got.UpdatedAt != 500 {
			t.Errorf("status/updated_at not written: %+v", got)
		}
		if got.Content != "likes tea" {
			t.Errorf("content changed to %q", got.Content)
		}

		active, _ := col.Find(ctx, Filter{Status: model.StatusActive})
		if len(active) != 0 {
			t.Errorf("expected no active records, got %d", len(active))
		}

		missing := record("nope", "", "", 0)
		if err := col.Update(ctx, missing); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestQueryNearestFirst(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		ctx := context.Background()
		col := newTestCollection(t, backend)
		emb := embedding.NewHashEmbedder(64)

		col.Add(ctx, record("01A", "favourite drink is green tea", "drink", 100))
		col.Add(ctx, record("01B", "deploys services on friday", "deploy", 100))

		q, _ := emb.Embed(ctx, "green tea drink")
		hits, err := col.Query(ctx, q, 10, Filter{Status: model.StatusActive})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if len(hits) != 2 {
			t.Fatalf("expected 2 hits, got %d", len(hits))
		}
		if hits[0].Record.ID != "01A" {
			t.Errorf("expected 01A nearest, got %s", hits[0].Record.ID)
		}
		if hits[0].Distance == nil || *hits[0].Distance > *hits[1].Distance {
			t.Errorf("expected ascending distances")
		}

		one, _ := col.Query(ctx, q, 1, Filter{})
		if len(one) != 1 {
			t.Errorf("expected n to cap results, got %d", len(one))
		}

		none, err := col.Query(ctx, q, 5, Filter{Status: model.StatusDeleted})
		if err != nil || len(none) != 0 {
			t.Errorf("expected no deleted hits, got %d (%v)", len(none), err)
		}
	})
}

func TestCollectionNotCreated(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		db := newTestDB(t, backend)
		if _, err := db.Collection(context.Background(), "mem_user_9", false); !errors.Is(err, ErrCollectionNotFound) {
			t.Errorf("expected ErrCollectionNotFound, got %v", err)
		}
	})
}

func TestCollectionsListed(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		ctx := context.Background()
		db := newTestDB(t, backend)
		u, _ := db.Collection(ctx, UserCollection("1"), true)
		g, _ := db.Collection(ctx, GroupCollection(2), true)
		u.Add(ctx, record("01A", "a", "a", 1))
		g.Add(ctx, record("01B", "b", "b", 1))

		names, err := db.Collections(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(names) != 2 || names[0] != "mem_group_2" || names[1] != "mem_user_1" {
			t.Errorf("got %v", names)
		}
	})
}

func TestSQLiteReopenPersists(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	emb := embedding.NewHashEmbedder(32)

	db, err := NewSQLiteDB(dir, emb, nil)
	if err != nil {
		t.Fatal(err)
	}
	col, _ := db.Collection(ctx, "mem_user_5", true)
	col.Add(ctx, record("01A", "persisted", "p", 1))
	db.Close()

	if _, err := os.Stat(filepath.Join(dir, "mem_user_5.db")); err != nil {
		t.Fatalf("expected one file per collection: %v", err)
	}

	db2, _ := NewSQLiteDB(dir, emb, nil)
	defer db2.Close()
	col2, err := db2.Collection(ctx, "mem_user_5", false)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if n, _ := col2.Count(ctx); n != 1 {
		t.Errorf("expected 1 record after reopen, got %d", n)
	}
}

func TestSQLiteRejectsBadName(t *testing.T) {
	db := newTestDB(t, BackendSQLite)
	if _, err := db.Collection(context.Background(), "../escape", true); err == nil {
		t.Error("expected error for path-like name")
	}
}

func TestSQLiteSkipsOtherRecordVersions(t *testing.T) {
	ctx := context.Background()
	col := newTestCollection(t, BackendSQLite).(*sqliteCollection)
	col.Add(ctx, record("01A", "current", "a", 1))
	col.Add(ctx, record("01B", "legacy", "b", 2))
	if _, err := col.db.ExecContext(ctx, `UPDATE memories SET record_version = '1' WHERE memory_id = '01B'`); err != nil {
		t.Fatal(err)
	}

	all, _ := col.Find(ctx, Filter{})
	if len(all) != 1 || all[0].ID != "01A" {
		t.Errorf("expected only current record, got %v", ids(all))
	}
	if _, err := col.Get(ctx, "01B"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected legacy record hidden, got %v", err)
	}
}

func TestVectorCodec(t *testing.T) {
	v := []float32{0.5, -1.25, 3}
	got := decodeVector(encodeVector(v))
	if len(got) != 3 || got[0] != 0.5 || got[1] != -1.25 || got[2] != 3 {
		t.Errorf("got %v", got)
	}
	if decodeVector([]byte{1, 2, 3}) != nil {
		t.Error("expected nil for truncated blob")
	}
}

func TestMetadataCodec(t *testing.T) {
	exp := int64(999)
	r := record("01A", "x", "s", 10)
	r.ExpiresAt = &exp
	md := toMetadata(r)
	if md[mdGroup] != "-1" || md[mdRecordVersion] != model.RecordVersion {
		t.Errorf("unexpected metadata %v", md)
	}
	got, err := fromMetadata("01A", "x", md)
	if err != nil {
		t.Fatal(err)
	}
	if got.GroupID != nil || got.ExpiresAt == nil || *got.ExpiresAt != 999 || got.Importance != 0.5 {
		t.Errorf("unexpected record %+v", got)
	}

	md[mdRecordVersion] = "1"
	if _, err := fromMetadata("01A", "x", md); !errors.Is(err, errRecordVersion) {
		t.Errorf("expected version error, got %v", err)
	}
}

func TestCollectStatsAndExport(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t, BackendSQLite)
	col, _ := db.Collection(ctx, UserCollection("1"), true)
	col.Add(ctx, record("01B", "new", "drink", 2))
	col.Add(ctx, record("01A", "old", "drink", 1))
	old, _ := col.Get(ctx, "01A")
	old.Status = model.StatusSuperseded
	col.Update(ctx, old)

	st, err := CollectStats(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	if st.TotalMemories != 2 || st.ActiveMemories != 1 || len(st.Collections) != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
	if cs := st.Collections[0]; cs.Superseded != 1 || cs.Slots != 1 {
		t.Errorf("unexpected collection stats %+v", cs)
	}
	if st.SizeBytes == 0 {
		t.Error("expected non-zero store size")
	}

	recs, _ := ExportAll(ctx, col)
	if len(recs) != 2 || recs[0].ID != "01A" {
		t.Errorf("expected creation order, got %v", ids(recs))
	}
}

func ids(recs []model.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}
