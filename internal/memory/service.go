// Package memory is the long-term memory engine: slot-based writes with
// supersession, scored retrieval across user and group scopes, and the
// list/delete/clear lifecycle.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/rcliao/slotmem/internal/embedding"
	"github.com/rcliao/slotmem/internal/model"
	"github.com/rcliao/slotmem/internal/privacy"
	"github.com/rcliao/slotmem/internal/slot"
	"github.com/rcliao/slotmem/internal/store"
	"github.com/rcliao/slotmem/internal/worker"
)

// Defaults used when Options leaves a field zero.
const (
	DefaultMaxInjected   = 4
	DefaultUserK         = 6
	DefaultGroupK        = 4
	DefaultInjectTimeout = 800 * time.Millisecond
)

// Options configures a Service.
type Options struct {
	Enabled  bool
	DB       store.DB
	Embedder embedding.Embedder

	// Pool runs blocking store and embedding calls. When nil the service
	// creates and owns a pool of four workers.
	Pool *worker.Pool

	Privacy  *privacy.Filter
	Resolver *slot.Resolver

	MaxInjected   int
	UserK         int
	GroupK        int
	InjectTimeout time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

// Service is the memory engine. It is safe for concurrent use.
type Service struct {
	enabled  bool
	db       store.DB
	embedder embedding.Embedder
	pool     *worker.Pool
	ownsPool bool
	privacy  *privacy.Filter
	resolver *slot.Resolver

	maxInjected   int
	userK         int
	groupK        int
	injectTimeout time.Duration

	logger *slog.Logger
	now    func() time.Time
	ids    *idSource
}

// New builds a service. A disabled service needs no store or embedder and
// answers every call with an empty result.
func New(opts Options) (*Service, error) {
	if opts.Enabled {
		if opts.DB == nil {
			return nil, errors.New("memory: store is required")
		}
		if opts.Embedder == nil {
			return nil, errors.New("memory: embedder is required")
		}
	}
	s := &Service{
		enabled:       opts.Enabled,
		db:            opts.DB,
		embedder:      opts.Embedder,
		pool:          opts.Pool,
		privacy:       opts.Privacy,
		maxInjected:   orDefault(opts.MaxInjected, DefaultMaxInjected),
		userK:         orDefault(opts.UserK, DefaultUserK),
		groupK:        orDefault(opts.GroupK, DefaultGroupK),
		injectTimeout: opts.InjectTimeout,
		logger:        opts.Logger,
		now:           opts.Now,
		ids:           newIDSource(),
	}
	if s.pool == nil {
		s.pool = worker.New(4)
		s.ownsPool = true
	}
	if s.privacy == nil {
		s.privacy = privacy.New(privacy.ModeBalanced)
	}
	if s.now == nil {
		s.now = time.Now
	}
	resolver := slot.NewResolver(30)
	if opts.Resolver != nil {
		r := *opts.Resolver
		resolver = &r
	}
	// The resolver follows the service clock so expiry and scoring agree.
	resolver.Now = s.now
	s.resolver = resolver
	if s.injectTimeout <= 0 {
		s.injectTimeout = DefaultInjectTimeout
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Enabled reports whether the memory system is on.
func (s *Service) Enabled() bool { return s.enabled }

// Close stops the worker pool, if the service created it, and closes the store.
func (s *Service) Close() error {
	if s.ownsPool {
		s.pool.Close()
	}
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Service) nowMs() int64 { return s.now().UnixMilli() }

// collectionName resolves the owning collection. Group scope without a
// group id falls back to the user's collection.
func collectionName(scope model.Scope, userID string, groupID *int64) string {
	if scope == model.ScopeGroup && groupID != nil {
		return store.GroupCollection(*groupID)
	}
	return store.UserCollection(userID)
}

// collection opens a collection on the pool. With create=false a missing
// collection returns (nil, nil).
func (s *Service) collection(ctx context.Context, name string, create bool) (store.Collection, error) {
	col, err := worker.Call(ctx, s.pool, func(ctx context.Context) (store.Collection, error) {
		return s.db.Collection(ctx, name, create)
	})
	if errors.Is(err, store.ErrCollectionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open collection %s: %w", name, err)
	}
	return col, nil
}

func (s *Service) find(ctx context.Context, col store.Collection, f store.Filter) ([]model.Record, error) {
	return worker.Call(ctx, s.pool, func(ctx context.Context) ([]model.Record, error) {
		return col.Find(ctx, f)
	})
}

func (s *Service) update(ctx context.Context, col store.Collection, recs ...model.Record) error {
	if len(recs) == 0 {
		return nil
	}
	return s.pool.Do(ctx, func(ctx context.Context) error {
		return col.Update(ctx, recs...)
	})
}

// idSource hands out ULIDs that stay ordered within one millisecond.
type idSource struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func newIDSource() *idSource {
	return &idSource{entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)}
}

func (g *idSource) next(t time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), g.entropy).String()
}
