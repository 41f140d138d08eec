// Package model defines the core memory data types.
package model

import (
	"math"
	"strings"
)

// RecordVersion identifies the layout of a persisted Record. Backends
// write it with every record and skip records carrying another value.
const RecordVersion = "2"

// Scope is the visibility partition of a memory.
type Scope string

const (
	ScopeUser  Scope = "user"
	ScopeGroup Scope = "group"
)

// ParseScope maps a stored value to a Scope. Anything but "group" is user scope.
func ParseScope(s string) Scope {
	if strings.EqualFold(strings.TrimSpace(s), string(ScopeGroup)) {
		return ScopeGroup
	}
	return ScopeUser
}

// Category classifies what kind of fact a memory holds.
type Category string

const (
	CategoryProfile    Category = "profile"
	CategoryPreference Category = "preference"
	CategoryGroupRule  Category = "group_rule"
	CategoryTask       Category = "task"
	CategoryPlan       Category = "plan"
	CategoryProject    Category = "project"
	CategoryDeadline   Category = "deadline"
	CategoryOther      Category = "other"
)

// ValidCategories are the allowed memory categories.
var ValidCategories = map[Category]bool{
	CategoryProfile:    true,
	CategoryPreference: true,
	CategoryGroupRule:  true,
	CategoryTask:       true,
	CategoryPlan:       true,
	CategoryProject:    true,
	CategoryDeadline:   true,
	CategoryOther:      true,
}

// ParseCategory maps free text to a Category, case-insensitively.
// Unknown values become CategoryOther.
func ParseCategory(s string) Category {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if ValidCategories[c] {
		return c
	}
	return CategoryOther
}

// Permanent reports whether facts of this category never expire by default.
func (c Category) Permanent() bool {
	switch c {
	case CategoryProfile, CategoryPreference, CategoryGroupRule:
		return true
	}
	return false
}

// Status is the lifecycle state of a stored record.
type Status string

const (
	StatusActive     Status = "active"
	StatusSuperseded Status = "superseded"
	StatusDeleted    Status = "deleted"
)

// ParseStatus maps a stored value to a Status. Unknown values are treated as active.
func ParseStatus(s string) Status {
	switch Status(s) {
	case StatusSuperseded:
		return StatusSuperseded
	case StatusDeleted:
		return StatusDeleted
	}
	return StatusActive
}

// Record is a persisted memory. Content is immutable once written;
// only Status and UpdatedAt change afterwards.
type Record struct {
	ID          string   `json:"memory_id"`
	Content     string   `json:"content"`
	Scope       Scope    `json:"scope"`
	OwnerUserID string   `json:"owner_user_id"`
	GroupID     *int64   `json:"group_id,omitempty"`
	Category    Category `json:"category"`
	SlotKey     string   `json:"slot_key"`
	Importance  float64  `json:"importance"`
	Confidence  float64  `json:"confidence"`
	CreatedAt   int64    `json:"created_at"`
	UpdatedAt   int64    `json:"updated_at"`
	ExpiresAt   *int64   `json:"expires_at,omitempty"`
	Status      Status   `json:"status"`
	SourceMsgID *int64   `json:"source_msg_id,omitempty"`
}

// SearchItem is a scored retrieval candidate. It is never persisted.
type SearchItem struct {
	ID         string   `json:"memory_id"`
	Content    string   `json:"content"`
	Scope      Scope    `json:"scope"`
	Category   Category `json:"category"`
	SlotKey    string   `json:"slot_key"`
	UpdatedAt  int64    `json:"updated_at"`
	Importance float64  `json:"importance"`
	Confidence float64  `json:"confidence"`
	Score      float64  `json:"score"`
}

// AnalyzeResult is what the external analysis step decides about one utterance.
type AnalyzeResult struct {
	ShouldMemory  bool     `json:"should_memory"`
	MemoryContent string   `json:"memory_content"`
	Category      Category `json:"category"`
	SlotKey       string   `json:"slot_key"`
	Importance    float64  `json:"importance"`
	Confidence    float64  `json:"confidence"`
	IsGroupFact   bool     `json:"is_group_fact"`
}

// Normalize coerces an analysis result into its canonical form.
func (a AnalyzeResult) Normalize() AnalyzeResult {
	a.Category = ParseCategory(string(a.Category))
	a.Importance = Clamp01(a.Importance)
	a.Confidence = Clamp01(a.Confidence)
	if !a.ShouldMemory {
		a.MemoryContent = ""
		a.SlotKey = ""
		a.IsGroupFact = false
	}
	a.MemoryContent = strings.TrimSpace(a.MemoryContent)
	// An empty slot stays empty so the resolver can synthesize one from content.
	a.SlotKey = strings.TrimSpace(a.SlotKey)
	return a
}

// Clamp01 limits v to [0,1]. NaN becomes 0.5.
func Clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0.5
	}
	return math.Max(0, math.Min(1, v))
}
