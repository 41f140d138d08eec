// Package cli implements the slotmem CLI commands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rcliao/slotmem/internal/config"
	"github.com/rcliao/slotmem/internal/embedding"
	"github.com/rcliao/slotmem/internal/memory"
	"github.com/rcliao/slotmem/internal/model"
	"github.com/rcliao/slotmem/internal/privacy"
	"github.com/rcliao/slotmem/internal/schema"
	"github.com/rcliao/slotmem/internal/slot"
	"github.com/rcliao/slotmem/internal/store"
	"github.com/rcliao/slotmem/internal/worker"
)

var (
	dirFlag    string
	userFlag   string
	groupFlag  int64
	formatFlag string
	envFiles   []string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:          "slotmem",
	Short:        "Long-term memory for chat agents",
	Long:         "Slot-based long-term memory for chat agents. User and group scopes, supersession, scored recall.",
	SilenceUsage: true,
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dirFlag, "dir", "d", "", "Store directory (default: $MEMORY_DIR or ~/.slotmem/store)")
	RootCmd.PersistentFlags().StringVarP(&userFlag, "user", "u", "", "User id (default: $USER)")
	RootCmd.PersistentFlags().Int64VarP(&groupFlag, "group", "g", 0, "Group id; omit outside a group")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "text", "Output format: json or text")
	RootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "Dotenv files to load (default: .env)")
}

func userID() string {
	if userFlag != "" {
		return userFlag
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "local"
}

// groupID returns nil unless --group was given.
func groupID(cmd *cobra.Command) *int64 {
	if !cmd.Flags().Changed("group") {
		return nil
	}
	g := groupFlag
	return &g
}

func scopeFlag(cmd *cobra.Command) model.Scope {
	s, _ := cmd.Flags().GetString("scope")
	return model.ParseScope(s)
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(envFiles...)
	if err != nil {
		return cfg, err
	}
	if dirFlag != "" {
		cfg.Dir = dirFlag
	}
	return cfg, cfg.Validate()
}

func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// app is everything a command needs; close releases it.
type app struct {
	cfg    config.Config
	svc    *memory.Service
	logger *slog.Logger
	close  func()
}

// ensureSchema runs the schema check against cfg.Dir. Verify opens and
// closes the backend on the rebuilt directory.
func ensureSchema(ctx context.Context, cfg config.Config, emb embedding.Embedder, logger *slog.Logger) (schema.Result, error) {
	m := &schema.Manager{
		Dir:         cfg.Dir,
		Expected:    cfg.SchemaVersion,
		Enabled:     cfg.Enabled,
		AutoRebuild: cfg.AutoRebuild,
		Logger:      logger,
		Verify: func(dir string) error {
			db, err := store.Open(store.Options{Backend: cfg.Backend, Dir: dir, Embedder: emb, Logger: logger})
			if err != nil {
				return err
			}
			return db.Close()
		},
	}
	return m.EnsureReady(ctx)
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	logger := newLogger(cfg.LogLevel)

	opts := memory.Options{
		Enabled:       cfg.Enabled,
		Privacy:       privacy.New(cfg.PrivacyMode),
		Resolver:      slot.NewResolver(cfg.TaskTTLDays),
		MaxInjected:   cfg.MaxInjected,
		UserK:         cfg.UserK,
		GroupK:        cfg.GroupK,
		InjectTimeout: cfg.InjectTimeout,
		Logger:        logger,
	}
	var closers []func()
	if cfg.Enabled {
		emb, err := embedding.New(cfg.EmbeddingOptions())
		if err != nil {
			return nil, fmt.Errorf("embedder: %w", err)
		}
		if c, ok := emb.(interface{ Close() }); ok {
			closers = append(closers, c.Close)
		}
		if res, err := ensureSchema(ctx, cfg, emb, logger); err != nil {
			logger.Error("memory schema check failed", "result", res, "err", err)
		}
		db, err := store.Open(store.Options{Backend: cfg.Backend, Dir: cfg.Dir, Embedder: emb, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		opts.DB = db
		opts.Embedder = emb
		pool := worker.New(cfg.Workers)
		opts.Pool = pool
		closers = append(closers, pool.Close)
	}

	svc, err := memory.New(opts)
	if err != nil {
		return nil, err
	}
	return &app{
		cfg:    cfg,
		svc:    svc,
		logger: logger,
		close: func() {
			if err := svc.Close(); err != nil {
				logger.Warn("close store", "err", err)
			}
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i]()
			}
		},
	}, nil
}

func writeJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func jsonOutput() bool { return formatFlag == "json" }
