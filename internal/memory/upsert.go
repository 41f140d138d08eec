package memory

import (
	"context"
	"strings"

	"github.com/rcliao/slotmem/internal/model"
	"github.com/rcliao/slotmem/internal/slot"
	"github.com/rcliao/slotmem/internal/store"
)

// UpsertParams holds parameters for writing one fact.
type UpsertParams struct {
	Scope       model.Scope
	OwnerUserID string
	GroupID     *int64
	Content     string
	Category    model.Category
	SlotKey     string
	Importance  float64
	Confidence  float64
	SourceMsgID *int64
}

// Upsert writes a new ACTIVE record and marks the slot's previous ACTIVE
// records SUPERSEDED. It returns the new id, or "" when the service is
// disabled.
//
// Supersede and insert are separate store calls. Two writers on the same
// slot can both leave a record ACTIVE; retrieval keeps only the newest.
func (s *Service) Upsert(ctx context.Context, p UpsertParams) (string, error) {
	if !s.enabled {
		return "", nil
	}
	const op = "upsert"

	content := strings.TrimSpace(p.Content)
	if content == "" {
		return "", errorf(KindInvalid, op, "empty content")
	}
	if p.OwnerUserID == "" {
		return "", errorf(KindInvalid, op, "owner user id is required")
	}
	scope := model.ParseScope(string(p.Scope))
	category := model.ParseCategory(string(p.Category))

	col, err := s.collection(ctx, collectionName(scope, p.OwnerUserID, p.GroupID), true)
	if err != nil {
		return "", newError(KindStorage, op, err)
	}

	now := s.now()
	nowMs := now.UnixMilli()
	slotKey := slot.NormalizeKey(p.SlotKey, category, content)

	active, err := s.find(ctx, col, store.Filter{
		Status:  model.StatusActive,
		Scope:   scope,
		SlotKey: slotKey,
	})
	if err != nil {
		return "", newError(KindStorage, op, err)
	}
	for i := range active {
		active[i].Status = model.StatusSuperseded
		active[i].UpdatedAt = nowMs
	}
	if err := s.update(ctx, col, active...); err != nil {
		return "", newError(KindStorage, op, err)
	}

	rec := model.Record{
		ID:          s.ids.next(now),
		Content:     content,
		Scope:       scope,
		OwnerUserID: p.OwnerUserID,
		GroupID:     p.GroupID,
		Category:    category,
		SlotKey:     slotKey,
		Importance:  model.Clamp01(p.Importance),
		Confidence:  model.Clamp01(p.Confidence),
		CreatedAt:   nowMs,
		UpdatedAt:   nowMs,
		ExpiresAt:   s.resolver.DefaultExpiresAt(category, content),
		Status:      model.StatusActive,
		SourceMsgID: p.SourceMsgID,
	}
	err = s.pool.Do(ctx, func(ctx context.Context) error {
		return col.Add(ctx, rec)
	})
	if err != nil {
		return "", newError(KindStorage, op, err)
	}

	s.logger.Debug("memory stored", "collection", col.Name(), "id", rec.ID,
		"slot", slotKey, "superseded", len(active))
	return rec.ID, nil
}

// PersistFromAnalysis stores what the analysis step decided to remember.
// Content passes the privacy filter first. A user-scope record is always
// written; a group-scope copy is added when the fact concerns the group.
// Failures are logged and the ids written so far are returned.
func (s *Service) PersistFromAnalysis(ctx context.Context, a model.AnalyzeResult, rawUserText, userID string, groupID, sourceMsgID *int64) []string {
	if !s.enabled {
		return nil
	}
	a = a.Normalize()
	if !a.ShouldMemory || a.MemoryContent == "" {
		return nil
	}

	res := s.privacy.Apply(a.MemoryContent)
	if !res.Allow || res.Content == "" {
		s.logger.Info("memory rejected by privacy filter", "user", userID, "reason", res.Reason)
		return nil
	}

	p := UpsertParams{
		Scope:       model.ScopeUser,
		OwnerUserID: userID,
		GroupID:     groupID,
		Content:     res.Content,
		Category:    a.Category,
		SlotKey:     a.SlotKey,
		Importance:  a.Importance,
		Confidence:  a.Confidence,
		SourceMsgID: sourceMsgID,
	}

	var ids []string
	id, err := s.Upsert(ctx, p)
	if err != nil {
		s.logger.Warn("user memory write failed", "user", userID, "err", err)
	} else if id != "" {
		ids = append(ids, id)
	}

	if groupID != nil && (a.IsGroupFact || slot.IsGroupFact(rawUserText)) {
		p.Scope = model.ScopeGroup
		id, err := s.Upsert(ctx, p)
		if err != nil {
			s.logger.Warn("group memory write failed", "user", userID, "group", *groupID, "err", err)
		} else if id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
