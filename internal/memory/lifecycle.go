package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rcliao/slotmem/internal/model"
	"github.com/rcliao/slotmem/internal/slot"
	"github.com/rcliao/slotmem/internal/store"
	"github.com/rcliao/slotmem/internal/worker"
)

// List limits.
const (
	DefaultListLimit = 10
	MaxListLimit     = 50
)

// User-facing lifecycle messages.
const (
	MsgDisabled          = "memory system disabled"
	MsgDenyUserDelete    = "permission denied: cannot delete another user's memory"
	MsgDenyGroupDelete   = "permission denied: group memory requires admin"
	MsgNotFound          = "not found"
	MsgDeleteFailed      = "delete failed"
	MsgDeletedUser       = "deleted user memory"
	MsgDeletedGroup      = "deleted group memory"
	MsgNotInGroup        = "not in a group"
	MsgDenyGroupClear    = "permission denied: cannot clear group memory"
	msgClearedUserFmt    = "cleared %d user memories"
	msgClearedGroupFmt   = "cleared %d group memories"
	msgNoMemoriesToShow  = "No memories available."
	listExpiryDateLayout = "2006-01-02"
)

// ListParams holds parameters for listing memories.
type ListParams struct {
	Scope   model.Scope
	UserID  string
	GroupID *int64
	Limit   int // 0 means DefaultListLimit
}

// List returns the live records of one collection, newest first.
func (s *Service) List(ctx context.Context, p ListParams) []model.Record {
	if !s.enabled {
		return nil
	}
	recs, err := s.list(ctx, p)
	if err != nil {
		s.logger.Warn("list memories failed", "user", p.UserID, "err", err)
		return nil
	}
	return recs
}

func clampLimit(limit int) int {
	if limit == 0 {
		return DefaultListLimit
	}
	return max(1, min(limit, MaxListLimit))
}

func (s *Service) list(ctx context.Context, p ListParams) ([]model.Record, error) {
	limit := clampLimit(p.Limit)
	col, err := s.collection(ctx, collectionName(p.Scope, p.UserID, p.GroupID), false)
	if err != nil {
		return nil, newError(KindStorage, "list", err)
	}
	if col == nil {
		return nil, nil
	}
	active, err := s.find(ctx, col, store.Filter{Status: model.StatusActive})
	if err != nil {
		return nil, newError(KindStorage, "list", err)
	}

	nowMs := s.nowMs()
	out := make([]model.Record, 0, min(limit, len(active)))
	for _, r := range active {
		if slot.IsExpired(r.ExpiresAt, nowMs) {
			continue
		}
		out = append(out, r)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// DeleteParams holds parameters for a soft delete.
type DeleteParams struct {
	MemoryID         string
	UserID           string
	GroupID          *int64
	AllowGroupDelete bool
	// PreferredScope restricts the lookup to one scope. Empty searches the
	// user's collection first, then the group's.
	PreferredScope model.Scope
}

// SoftDelete marks one record DELETED after checking ownership. The
// message is suitable for showing to the requester.
func (s *Service) SoftDelete(ctx context.Context, p DeleteParams) (bool, string) {
	if !s.enabled {
		return false, MsgDisabled
	}
	kind, err := s.softDelete(ctx, p)
	switch {
	case err == nil && kind == model.ScopeGroup:
		return true, MsgDeletedGroup
	case err == nil:
		return true, MsgDeletedUser
	}

	var e *Error
	if errors.As(err, &e) {
		switch e.Kind {
		case KindNotFound:
			return false, MsgNotFound
		case KindPermission:
			return false, e.Err.Error()
		}
	}
	s.logger.Warn("soft delete failed", "id", p.MemoryID, "user", p.UserID, "err", err)
	return false, MsgDeleteFailed
}

func (s *Service) softDelete(ctx context.Context, p DeleteParams) (model.Scope, error) {
	const op = "soft delete"
	if p.PreferredScope != model.ScopeGroup {
		col, rec, err := s.lookup(ctx, store.UserCollection(p.UserID), p.MemoryID)
		if err != nil {
			return "", newError(KindStorage, op, err)
		}
		if col != nil {
			if rec.OwnerUserID != p.UserID {
				return "", newError(KindPermission, op, errors.New(MsgDenyUserDelete))
			}
			return model.ScopeUser, s.markDeleted(ctx, col, rec)
		}
	}

	if p.GroupID != nil && p.PreferredScope != model.ScopeUser {
		col, rec, err := s.lookup(ctx, store.GroupCollection(*p.GroupID), p.MemoryID)
		if err != nil {
			return "", newError(KindStorage, op, err)
		}
		if col != nil {
			if !p.AllowGroupDelete {
				return "", newError(KindPermission, op, errors.New(MsgDenyGroupDelete))
			}
			return model.ScopeGroup, s.markDeleted(ctx, col, rec)
		}
	}
	return "", newError(KindNotFound, op, fmt.Errorf("memory %s", p.MemoryID))
}

// lookup returns the collection holding id, or a nil collection when
// either the collection or the record is missing.
func (s *Service) lookup(ctx context.Context, name, id string) (store.Collection, model.Record, error) {
	col, err := s.collection(ctx, name, false)
	if err != nil || col == nil {
		return nil, model.Record{}, err
	}
	rec, err := worker.Call(ctx, s.pool, func(ctx context.Context) (model.Record, error) {
		return col.Get(ctx, id)
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, model.Record{}, nil
	}
	if err != nil {
		return nil, model.Record{}, err
	}
	return col, rec, nil
}

func (s *Service) markDeleted(ctx context.Context, col store.Collection, rec model.Record) error {
	rec.Status = model.StatusDeleted
	rec.UpdatedAt = s.nowMs()
	if err := s.update(ctx, col, rec); err != nil {
		return newError(KindStorage, "soft delete", err)
	}
	return nil
}

// ClearParams holds parameters for clearing a scope.
type ClearParams struct {
	Scope            model.Scope
	UserID           string
	GroupID          *int64
	AllowGroupDelete bool
}

// Clear soft-deletes every ACTIVE record of one scope and returns how
// many were deleted with a summary.
func (s *Service) Clear(ctx context.Context, p ClearParams) (int, string) {
	if !s.enabled {
		return 0, MsgDisabled
	}
	name := store.UserCollection(p.UserID)
	format := msgClearedUserFmt
	if p.Scope == model.ScopeGroup {
		if p.GroupID == nil {
			return 0, MsgNotInGroup
		}
		if !p.AllowGroupDelete {
			return 0, MsgDenyGroupClear
		}
		name = store.GroupCollection(*p.GroupID)
		format = msgClearedGroupFmt
	}

	n, err := s.clear(ctx, name)
	if err != nil {
		s.logger.Warn("clear memories failed", "collection", name, "err", err)
	}
	return n, fmt.Sprintf(format, n)
}

func (s *Service) clear(ctx context.Context, name string) (int, error) {
	col, err := s.collection(ctx, name, false)
	if err != nil {
		return 0, newError(KindStorage, "clear", err)
	}
	if col == nil {
		return 0, nil
	}
	active, err := s.find(ctx, col, store.Filter{Status: model.StatusActive})
	if err != nil {
		return 0, newError(KindStorage, "clear", err)
	}
	nowMs := s.nowMs()
	for i := range active {
		active[i].Status = model.StatusDeleted
		active[i].UpdatedAt = nowMs
	}
	if err := s.update(ctx, col, active...); err != nil {
		return 0, newError(KindStorage, "clear", err)
	}
	return len(active), nil
}

// History returns every record of one slot, any status, newest first.
func (s *Service) History(ctx context.Context, scope model.Scope, userID string, groupID *int64, slotKey string) ([]model.Record, error) {
	if !s.enabled {
		return nil, ErrDisabled
	}
	if strings.TrimSpace(slotKey) == "" {
		return nil, errorf(KindInvalid, "history", "slot key is required")
	}
	scope = model.ParseScope(string(scope))
	col, err := s.collection(ctx, collectionName(scope, userID, groupID), false)
	if err != nil {
		return nil, newError(KindStorage, "history", err)
	}
	if col == nil {
		return nil, nil
	}
	recs, err := s.find(ctx, col, store.Filter{
		Scope:   scope,
		SlotKey: slot.NormalizeKey(slotKey, model.CategoryOther, ""),
	})
	if err != nil {
		return nil, newError(KindStorage, "history", err)
	}
	return recs, nil
}

// Export returns every record of one collection for audit.
func (s *Service) Export(ctx context.Context, scope model.Scope, userID string, groupID *int64) ([]model.Record, error) {
	if !s.enabled {
		return nil, ErrDisabled
	}
	col, err := s.collection(ctx, collectionName(scope, userID, groupID), false)
	if err != nil {
		return nil, newError(KindStorage, "export", err)
	}
	if col == nil {
		return nil, nil
	}
	recs, err := worker.Call(ctx, s.pool, func(ctx context.Context) ([]model.Record, error) {
		return store.ExportAll(ctx, col)
	})
	if err != nil {
		return nil, newError(KindStorage, "export", err)
	}
	return recs, nil
}

// Stats counts records by status in every collection.
func (s *Service) Stats(ctx context.Context) (*store.Stats, error) {
	if !s.enabled {
		return nil, ErrDisabled
	}
	st, err := worker.Call(ctx, s.pool, func(ctx context.Context) (*store.Stats, error) {
		return store.CollectStats(ctx, s.db)
	})
	if err != nil {
		return nil, newError(KindStorage, "stats", err)
	}
	return st, nil
}

// FormatList renders records one per line for display.
func FormatList(records []model.Record) string {
	if len(records) == 0 {
		return msgNoMemoriesToShow
	}
	lines := make([]string, 0, len(records))
	for _, r := range records {
		expires := "never"
		if r.ExpiresAt != nil {
			expires = time.UnixMilli(*r.ExpiresAt).UTC().Format(listExpiryDateLayout)
		}
		lines = append(lines, fmt.Sprintf("- id=%s | %s/%s | expires=%s | %s",
			r.ID, r.Scope, r.Category, expires, r.Content))
	}
	return strings.Join(lines, "\n")
}
