package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rcliao/slotmem/internal/embedding"
	"github.com/rcliao/slotmem/internal/model"
	"github.com/rcliao/slotmem/internal/privacy"
	"github.com/rcliao/slotmem/internal/slot"
	"github.com/rcliao/slotmem/internal/store"
)

// testClock is a settable clock shared by the service and its resolver.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type testEnv struct {
	svc   *Service
	db    store.DB
	clock *testClock
}

func newTestService(t *testing.T, configure ...func(*Options)) *testEnv {
	t.Helper()
	emb := embedding.NewHashEmbedder(128)
	db, err := store.Open(store.Options{Backend: store.BackendSQLite, Dir: t.TempDir(), Embedder: emb})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	clock := &testClock{t: time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)}
	opts := Options{
		Enabled:  true,
		DB:       db,
		Embedder: emb,
		Privacy:  privacy.New(privacy.ModeBalanced),
		Resolver: slot.NewResolver(1),
		Now:      clock.Now,
	}
	for _, fn := range configure {
		fn(&opts)
	}
	svc, err := New(opts)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	t.Cleanup(func() { svc.Close() })
	return &testEnv{svc: svc, db: opts.DB, clock: clock}
}

func i64(v int64) *int64 { return &v }

// records returns every record of a collection, any status.
func (e *testEnv) records(t *testing.T, name string) []model.Record {
	t.Helper()
	col, err := e.db.Collection(context.Background(), name, false)
	if errors.Is(err, store.ErrCollectionNotFound) {
		return nil
	}
	if err != nil {
		t.Fatalf("open %s: %v", name, err)
	}
	recs, err := col.Find(context.Background(), store.Filter{})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	return recs
}

func countStatus(recs []model.Record, st model.Status) int {
	n := 0
	for _, r := range recs {
		if r.Status == st {
			n++
		}
	}
	return n
}

func (e *testEnv) put(t *testing.T, p UpsertParams) string {
	t.Helper()
	if p.OwnerUserID == "" {
		p.OwnerUserID = "u1"
	}
	if p.Category == "" {
		p.Category = model.CategoryPreference
	}
	id, err := e.svc.Upsert(context.Background(), p)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	return id
}

func TestNew_RequiresStoreWhenEnabled(t *testing.T) {
	if _, err := New(Options{Enabled: true}); err == nil {
		t.Error("expected error without store")
	}
	svc, err := New(Options{Enabled: false})
	if err != nil {
		t.Fatalf("disabled service: %v", err)
	}
	defer svc.Close()
	if svc.Enabled() {
		t.Error("expected disabled")
	}
}

func TestDisabledServiceDegrades(t *testing.T) {
	svc, _ := New(Options{})
	defer svc.Close()
	ctx := context.Background()

	if id, err := svc.Upsert(ctx, UpsertParams{Content: "x", OwnerUserID: "u"}); id != "" || err != nil {
		t.Errorf("upsert: %q %v", id, err)
	}
	if ids := svc.PersistFromAnalysis(ctx, model.AnalyzeResult{ShouldMemory: true, MemoryContent: "x"}, "", "u", nil, nil); ids != nil {
		t.Errorf("persist: %v", ids)
	}
	if items := svc.RetrieveForInjection(ctx, "q", "u", nil, 4); items != nil {
		t.Errorf("retrieve: %v", items)
	}
	if recs := svc.List(ctx, ListParams{UserID: "u"}); recs != nil {
		t.Errorf("list: %v", recs)
	}
	if ok, msg := svc.SoftDelete(ctx, DeleteParams{MemoryID: "x", UserID: "u"}); ok || msg != MsgDisabled {
		t.Errorf("delete: %v %q", ok, msg)
	}
	if n, msg := svc.Clear(ctx, ClearParams{UserID: "u"}); n != 0 || msg != MsgDisabled {
		t.Errorf("clear: %d %q", n, msg)
	}
	if got := svc.RetrieveTool(ctx, "q", "u", nil); got != "Memory system is disabled." {
		t.Errorf("tool: %q", got)
	}
	if _, err := svc.Stats(ctx); !errors.Is(err, ErrDisabled) {
		t.Errorf("stats: %v", err)
	}
	msgs := []Message{{Role: "user", Content: "hi"}}
	if got := svc.InjectContext(ctx, msgs, "hi", "u", nil); len(got) != 1 {
		t.Errorf("inject changed messages: %v", got)
	}
}

func TestErrorKinds(t *testing.T) {
	err := newError(KindStorage, "upsert", errors.New("disk full"))
	if KindOf(err) != KindStorage {
		t.Errorf("kind = %v", KindOf(err))
	}
	if !strings.Contains(err.Error(), "upsert: storage: disk full") {
		t.Errorf("message = %q", err.Error())
	}
	wrapped := errors.Join(errors.New("outer"), newError(KindDisabled, "list", nil))
	if !errors.Is(wrapped, ErrDisabled) {
		t.Error("expected errors.Is to match by kind")
	}
	if errors.Is(err, ErrDisabled) {
		t.Error("storage error must not match ErrDisabled")
	}
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Error("expected unknown kind")
	}
}
