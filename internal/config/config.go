// Package config loads memory settings from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/rcliao/slotmem/internal/embedding"
	"github.com/rcliao/slotmem/internal/privacy"
	"github.com/rcliao/slotmem/internal/store"
)

// Config holds every memory setting.
type Config struct {
	Enabled bool
	Dir     string
	Backend string

	EmbedProvider  string
	EmbedModel     string
	EmbedURL       string
	OpenAIAPIKey   string
	EmbedCacheSize int64

	SchemaVersion string
	AutoRebuild   bool

	TaskTTLDays   int
	MaxInjected   int
	UserK         int
	GroupK        int
	InjectTimeout time.Duration
	Workers       int

	PrivacyMode privacy.Mode
	LogLevel    slog.Level
}

// Default returns the configuration used when no variables are set.
func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		Enabled:        true,
		Dir:            filepath.Join(home, ".slotmem", "store"),
		Backend:        store.BackendSQLite,
		EmbedProvider:  "hash",
		EmbedCacheSize: 1024,
		SchemaVersion:  "v2",
		TaskTTLDays:    30,
		MaxInjected:    4,
		UserK:          6,
		GroupK:         4,
		InjectTimeout:  800 * time.Millisecond,
		Workers:        4,
		PrivacyMode:    privacy.ModeBalanced,
		LogLevel:       slog.LevelInfo,
	}
}

// Load reads the given .env files (".env" when none), then the process
// environment, which wins. Missing files are ignored.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	fileEnv := map[string]string{}
	for _, f := range files {
		m, err := godotenv.Read(f)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return Config{}, fmt.Errorf("read %s: %w", f, err)
		}
		for k, v := range m {
			if _, ok := fileEnv[k]; !ok {
				fileEnv[k] = v
			}
		}
	}
	return FromLookup(func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fileEnv[key]
		return v, ok
	}), nil
}

// FromLookup builds a Config from lookup. Unparsable values keep their
// default and integers are raised to their minimum.
func FromLookup(lookup func(string) (string, bool)) Config {
	c := Default()
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	boolVar := func(key string, dst *bool) {
		if v, ok := get(key); ok {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}
	intVar := func(key string, dst *int, minimum int) {
		if v, ok := get(key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
		*dst = max(*dst, minimum)
	}
	strVar := func(key string, dst *string) {
		if v, ok := get(key); ok {
			*dst = v
		}
	}

	boolVar("MEMORY_ENABLED", &c.Enabled)
	strVar("MEMORY_DIR", &c.Dir)
	strVar("MEMORY_BACKEND", &c.Backend)
	c.Backend = strings.ToLower(c.Backend)
	strVar("MEMORY_EMBED_PROVIDER", &c.EmbedProvider)
	c.EmbedProvider = strings.ToLower(c.EmbedProvider)
	strVar("MEMORY_EMBEDDING_MODEL", &c.EmbedModel)
	strVar("MEMORY_EMBED_URL", &c.EmbedURL)
	strVar("OPENAI_API_KEY", &c.OpenAIAPIKey)
	strVar("MEMORY_SCHEMA_VERSION", &c.SchemaVersion)
	boolVar("MEMORY_AUTO_REBUILD_ON_STARTUP", &c.AutoRebuild)

	intVar("MEMORY_DEFAULT_TASK_TTL_DAYS", &c.TaskTTLDays, 1)
	intVar("MEMORY_MAX_INJECTED_MEMORIES", &c.MaxInjected, 1)
	intVar("MEMORY_RETRIEVAL_USER_K", &c.UserK, 1)
	intVar("MEMORY_RETRIEVAL_GROUP_K", &c.GroupK, 1)
	intVar("MEMORY_WORKERS", &c.Workers, 1)

	timeoutMs := int(c.InjectTimeout / time.Millisecond)
	intVar("MEMORY_INJECT_TIMEOUT_MS", &timeoutMs, 100)
	c.InjectTimeout = time.Duration(timeoutMs) * time.Millisecond

	cacheSize := int(c.EmbedCacheSize)
	intVar("MEMORY_EMBED_CACHE_SIZE", &cacheSize, 0)
	c.EmbedCacheSize = int64(cacheSize)

	if v, ok := get("MEMORY_PRIVACY_MODE"); ok {
		c.PrivacyMode = privacy.ParseMode(v)
	}
	if v, ok := get("MEMORY_LOG_LEVEL"); ok {
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(v)); err == nil {
			c.LogLevel = lvl
		}
	}
	return c
}

// Validate rejects settings no component can serve.
func (c Config) Validate() error {
	switch c.Backend {
	case store.BackendSQLite, store.BackendChromem:
	default:
		return fmt.Errorf("unknown MEMORY_BACKEND %q", c.Backend)
	}
	switch c.EmbedProvider {
	case "hash", "ollama", "openai":
	default:
		return fmt.Errorf("unknown MEMORY_EMBED_PROVIDER %q", c.EmbedProvider)
	}
	if c.EmbedProvider == "openai" && c.OpenAIAPIKey == "" && c.EmbedURL == "" {
		return errors.New("MEMORY_EMBED_PROVIDER=openai needs OPENAI_API_KEY or MEMORY_EMBED_URL")
	}
	if c.Enabled && c.Dir == "" {
		return errors.New("MEMORY_DIR is empty")
	}
	return nil
}

// DefaultOllamaModel is used when MEMORY_EMBEDDING_MODEL is unset and the
// provider is ollama. Other providers pick their own default.
const DefaultOllamaModel = "all-minilm"

// EmbeddingOptions returns the embedder settings.
func (c Config) EmbeddingOptions() embedding.Options {
	model := c.EmbedModel
	if model == "" && c.EmbedProvider == "ollama" {
		model = DefaultOllamaModel
	}
	return embedding.Options{
		Provider:  c.EmbedProvider,
		Model:     model,
		BaseURL:   c.EmbedURL,
		APIKey:    c.OpenAIAPIKey,
		CacheSize: c.EmbedCacheSize,
	}
}
