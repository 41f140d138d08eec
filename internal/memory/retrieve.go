package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/rcliao/slotmem/internal/embedding"
	"github.com/rcliao/slotmem/internal/model"
	"github.com/rcliao/slotmem/internal/slot"
	"github.com/rcliao/slotmem/internal/store"
	"github.com/rcliao/slotmem/internal/worker"
)

// Score weights.
const (
	weightSimilarity = 0.55
	weightFreshness  = 0.20
	weightImportance = 0.15
	weightConfidence = 0.10

	freshnessScaleDays = 15.0
	msPerDay           = 86_400_000.0

	// Reserved slots when both scopes have candidates.
	reservedUser  = 3
	reservedGroup = 1
)

// RetrieveForInjection returns the memories most relevant to query across
// the user's and, when groupID is set, the group's collection. maxItems
// <= 0 uses the configured default. Failures degrade to fewer results.
func (s *Service) RetrieveForInjection(ctx context.Context, query, userID string, groupID *int64, maxItems int) []model.SearchItem {
	if !s.enabled || strings.TrimSpace(query) == "" {
		return nil
	}
	if maxItems <= 0 {
		maxItems = s.maxInjected
	}

	emb, err := s.embedQuery(ctx, query)
	if err != nil {
		s.logger.Warn("memory query embedding failed", "user", userID, "err", err)
		return nil
	}

	// Each branch swallows its own error so one failing scope never
	// cancels the other.
	var userItems, groupItems []model.SearchItem
	var g errgroup.Group
	g.Go(func() error {
		items, err := s.searchScope(ctx, store.UserCollection(userID), emb, s.userK, model.ScopeUser)
		if err != nil {
			s.logger.Warn("user memory retrieval failed", "user", userID, "err", err)
			return nil
		}
		userItems = items
		return nil
	})
	if groupID != nil {
		g.Go(func() error {
			items, err := s.searchScope(ctx, store.GroupCollection(*groupID), emb, s.groupK, model.ScopeGroup)
			if err != nil {
				s.logger.Warn("group memory retrieval failed", "group", *groupID, "err", err)
				return nil
			}
			groupItems = items
			return nil
		})
	}
	g.Wait()

	return allocate(userItems, groupItems, maxItems)
}

func (s *Service) embedQuery(ctx context.Context, query string) (embedding.Vector, error) {
	emb, err := worker.Call(ctx, s.pool, func(ctx context.Context) (embedding.Vector, error) {
		return s.embedder.Embed(ctx, query)
	})
	if err != nil {
		return nil, newError(KindEmbedding, "embed query", err)
	}
	return emb, nil
}

// searchScope queries one collection with 2k over-fetch and returns the
// live candidates scored, one per slot, best first. A missing collection
// has no candidates.
func (s *Service) searchScope(ctx context.Context, name string, emb embedding.Vector, k int, fallback model.Scope) ([]model.SearchItem, error) {
	col, err := s.collection(ctx, name, false)
	if err != nil {
		return nil, newError(KindStorage, "search", err)
	}
	if col == nil {
		return nil, nil
	}
	hits, err := worker.Call(ctx, s.pool, func(ctx context.Context) ([]store.Hit, error) {
		return col.Query(ctx, emb, max(1, k*2), store.Filter{Status: model.StatusActive})
	})
	if err != nil {
		return nil, newError(KindStorage, "search", fmt.Errorf("query %s: %w", name, err))
	}
	return dedupeBySlot(s.scoreHits(hits, fallback)), nil
}

// scoreHits drops inactive and expired hits and scores the rest.
func (s *Service) scoreHits(hits []store.Hit, fallback model.Scope) []model.SearchItem {
	nowMs := s.nowMs()
	items := make([]model.SearchItem, 0, len(hits))
	for _, h := range hits {
		r := h.Record
		if r.Status != model.StatusActive || slot.IsExpired(r.ExpiresAt, nowMs) {
			continue
		}
		scope := r.Scope
		if scope == "" {
			scope = fallback
		}
		slotKey := r.SlotKey
		if slotKey == "" {
			slotKey = string(r.Category) + ":general"
		}
		items = append(items, model.SearchItem{
			ID:         r.ID,
			Content:    r.Content,
			Scope:      scope,
			Category:   r.Category,
			SlotKey:    slotKey,
			UpdatedAt:  r.UpdatedAt,
			Importance: r.Importance,
			Confidence: r.Confidence,
			Score:      score(h.Distance, r.UpdatedAt, r.Importance, r.Confidence, nowMs),
		})
	}
	return items
}

// score combines similarity, freshness, importance and confidence.
// A missing distance counts as 1.
func score(distance *float64, updatedAt int64, importance, confidence float64, nowMs int64) float64 {
	d := 1.0
	if distance != nil {
		d = *distance
	}
	similarity := 1 / (1 + max(d, 0))
	ageDays := max(float64(nowMs-updatedAt)/msPerDay, 0)
	freshness := 1 / (1 + ageDays/freshnessScaleDays)
	return weightSimilarity*similarity +
		weightFreshness*freshness +
		weightImportance*model.Clamp01(importance) +
		weightConfidence*model.Clamp01(confidence)
}

// dedupeBySlot keeps the most recently updated item of each scope:slot
// and returns the survivors best first.
func dedupeBySlot(items []model.SearchItem) []model.SearchItem {
	latest := make(map[string]model.SearchItem, len(items))
	for _, it := range items {
		key := string(it.Scope) + ":" + it.SlotKey
		if cur, ok := latest[key]; !ok || it.UpdatedAt > cur.UpdatedAt ||
			(it.UpdatedAt == cur.UpdatedAt && it.ID > cur.ID) {
			latest[key] = it
		}
	}
	out := make([]model.SearchItem, 0, len(latest))
	for _, it := range latest {
		out = append(out, it)
	}
	sortByScore(out)
	return out
}

func sortByScore(items []model.SearchItem) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.UpdatedAt != b.UpdatedAt {
			return a.UpdatedAt > b.UpdatedAt
		}
		return a.ID > b.ID
	})
}

// allocate picks maxItems items. With group candidates present the top
// three user items and the top group item are reserved and the rest of
// the budget goes to the best of what remains. Inputs must be sorted.
func allocate(user, group []model.SearchItem, maxItems int) []model.SearchItem {
	if len(group) == 0 {
		return append([]model.SearchItem(nil), user[:min(maxItems, len(user))]...)
	}

	nu := min(reservedUser, len(user))
	ng := min(reservedGroup, len(group))
	selected := make([]model.SearchItem, 0, maxItems+nu+ng)
	selected = append(selected, user[:nu]...)
	selected = append(selected, group[:ng]...)

	remain := make([]model.SearchItem, 0, len(user)-nu+len(group)-ng)
	remain = append(remain, user[nu:]...)
	remain = append(remain, group[ng:]...)
	sortByScore(remain)
	for _, it := range remain {
		if len(selected) >= maxItems {
			break
		}
		selected = append(selected, it)
	}

	// The reservation can exceed a small budget; the cap below trims to
	// the best-scoring items.
	sortByScore(selected)
	return selected[:min(maxItems, len(selected))]
}

// FormatForInjection renders items as a system context block, or "" when
// there are none.
func FormatForInjection(items []model.SearchItem) string {
	if len(items) == 0 {
		return ""
	}
	lines := []string{
		"Memory Context:",
		"Use only if relevant. Do not repeat this block verbatim.",
	}
	for _, it := range items {
		lines = append(lines, fmt.Sprintf("- [%s|%s|slot=%s|id=%s] %s",
			it.Scope, it.Category, it.SlotKey, it.ID, it.Content))
	}
	return strings.Join(lines, "\n")
}

// RetrieveTool answers an agent tool call with the relevant memories
// grouped by scope.
func (s *Service) RetrieveTool(ctx context.Context, query, userID string, groupID *int64) string {
	if !s.enabled {
		return "Memory system is disabled."
	}
	items := s.RetrieveForInjection(ctx, query, userID, groupID, s.maxInjected)
	if len(items) == 0 {
		return "No relevant memories found."
	}

	var userLines, groupLines []string
	for _, it := range items {
		line := "* " + it.Content
		if it.Scope == model.ScopeGroup {
			groupLines = append(groupLines, line)
		} else {
			userLines = append(userLines, line)
		}
	}
	var lines []string
	if len(userLines) > 0 {
		lines = append(lines, "User memories:")
		lines = append(lines, userLines...)
	}
	if len(groupLines) > 0 {
		lines = append(lines, "Group memories:")
		lines = append(lines, groupLines...)
	}
	return strings.Join(lines, "\n")
}

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// InjectContext retrieves memories for query within the inject timeout
// and inserts them as a system message before the trailing user turn.
// On timeout, failure or no results the messages are returned unchanged.
func (s *Service) InjectContext(ctx context.Context, messages []Message, query, userID string, groupID *int64) []Message {
	if !s.enabled || strings.TrimSpace(query) == "" {
		return messages
	}
	tctx, cancel := context.WithTimeout(ctx, s.injectTimeout)
	defer cancel()

	items := s.RetrieveForInjection(tctx, query, userID, groupID, s.maxInjected)
	if err := tctx.Err(); err != nil {
		s.logger.Warn("memory retrieval timeout", "user", userID, "err", err)
		return messages
	}
	block := FormatForInjection(items)
	if block == "" {
		return messages
	}

	out := make([]Message, 0, len(messages)+1)
	at := len(messages)
	if at > 0 && messages[at-1].Role == "user" {
		at--
	}
	out = append(out, messages[:at]...)
	out = append(out, Message{Role: "system", Content: block})
	out = append(out, messages[at:]...)
	return out
}
