// Package schema detects storage format drift at startup and rebuilds
// the store, with a backup to roll back to, when asked to.
package schema

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// MarkerFile is the version marker at the store root.
const MarkerFile = ".schema_version"

// Result reports what EnsureReady did.
type Result int

const (
	Unchanged       Result = iota // marker matched, or the manager is disabled
	MarkerRewritten               // mismatch without rebuild; data kept as is
	Rebuilt                       // old store backed up and replaced by an empty one
	RolledBack                    // rebuild failed, backup restored
	RollbackFailed                // rebuild failed and so did the restore
	Aborted                       // backup failed; store left untouched
)

func (r Result) String() string {
	switch r {
	case Unchanged:
		return "unchanged"
	case MarkerRewritten:
		return "marker_rewritten"
	case Rebuilt:
		return "rebuilt"
	case RolledBack:
		return "rolled_back"
	case RollbackFailed:
		return "rollback_failed"
	case Aborted:
		return "aborted"
	}
	return "unknown"
}

// Manager owns the schema marker of one store directory.
type Manager struct {
	Dir         string
	Expected    string
	Enabled     bool
	AutoRebuild bool

	// Verify, when set, is run against the freshly rebuilt store.
	// An error triggers rollback.
	Verify func(dir string) error

	Logger *slog.Logger
	Now    func() time.Time
}

func (m *Manager) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

func (m *Manager) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// Current reads the persisted marker. A missing or unreadable marker is "".
func (m *Manager) Current() string {
	b, err := os.ReadFile(filepath.Join(m.Dir, MarkerFile))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

func (m *Manager) writeMarker() error {
	if err := os.MkdirAll(m.Dir, 0o755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(m.Dir, MarkerFile), []byte(m.Expected), 0o644); err != nil {
		return fmt.Errorf("write schema marker: %w", err)
	}
	return nil
}

// EnsureReady compares the marker with the expected version and acts on
// a mismatch. It must run before anything opens the store.
func (m *Manager) EnsureReady(ctx context.Context) (Result, error) {
	if !m.Enabled {
		return Unchanged, nil
	}
	if err := os.MkdirAll(m.Dir, 0o755); err != nil {
		return Unchanged, fmt.Errorf("create store dir: %w", err)
	}
	current := m.Current()
	if current == m.Expected {
		return Unchanged, nil
	}

	log := m.logger().With("current", orNone(current), "expected", m.Expected)
	if !m.AutoRebuild {
		// Existing records are not migrated.
		log.Warn("memory schema mismatch")
		if err := m.writeMarker(); err != nil {
			return Unchanged, err
		}
		return MarkerRewritten, nil
	}

	backup := m.backupPath()
	log.Info("memory schema rebuilding", "backup", backup)
	removed, err := m.rebuild(ctx, backup)
	if err == nil {
		log.Info("memory schema rebuild complete")
		return Rebuilt, nil
	}

	log.Error("memory schema rebuild failed", "err", err)
	if !removed {
		// The store was never touched; only the partial backup goes.
		if rmErr := os.RemoveAll(backup); rmErr != nil {
			log.Warn("remove partial backup", "backup", backup, "err", rmErr)
		}
		return Aborted, err
	}
	if rbErr := m.rollback(backup); rbErr != nil {
		log.Error("memory rollback failed", "err", rbErr)
		return RollbackFailed, errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
	}
	log.Warn("memory schema rollback complete")
	return RolledBack, err
}

// rebuild backs up, empties and verifies the store. removed reports
// whether the original directory had been deleted when it failed.
func (m *Manager) rebuild(ctx context.Context, backup string) (removed bool, err error) {
	empty, err := isEmptyDir(m.Dir)
	if err != nil {
		return false, err
	}
	if !empty {
		if err := copyDir(m.Dir, backup); err != nil {
			return false, fmt.Errorf("backup store: %w", err)
		}
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := os.RemoveAll(m.Dir); err != nil {
		return true, fmt.Errorf("remove store: %w", err)
	}
	if err := os.MkdirAll(m.Dir, 0o755); err != nil {
		return true, fmt.Errorf("recreate store: %w", err)
	}
	if m.Verify != nil {
		if err := m.Verify(m.Dir); err != nil {
			return true, fmt.Errorf("verify store: %w", err)
		}
	}
	return true, m.writeMarker()
}

func (m *Manager) rollback(backup string) error {
	if err := os.RemoveAll(m.Dir); err != nil {
		return err
	}
	if _, err := os.Stat(backup); errors.Is(err, os.ErrNotExist) {
		// Nothing was backed up because nothing was there.
		return os.MkdirAll(m.Dir, 0o755)
	}
	return copyDir(backup, m.Dir)
}

// backupPath is a sibling of Dir named <dir>_backup_<unix seconds>,
// suffixed when that name is taken.
func (m *Manager) backupPath() string {
	dir := filepath.Clean(m.Dir)
	base := dir + "_backup_" + strconv.FormatInt(m.now().Unix(), 10)
	path := base
	for i := 1; ; i++ {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return path
		}
		path = base + "_" + strconv.Itoa(i)
	}
}

func orNone(v string) string {
	if v == "" {
		return "none"
	}
	return v
}

func isEmptyDir(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("read store dir: %w", err)
	}
	return len(entries) == 0, nil
}

// copyDir copies the regular files and directories under src into dst.
func copyDir(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return copyFileFunc(path, target)
	})
}

// copyFileFunc is replaced in tests to simulate a failing disk.
var copyFileFunc = copyFile

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
