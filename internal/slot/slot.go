// Package slot derives the identity key of a fact and its default expiry.
package slot

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rcliao/slotmem/internal/model"
)

// MaxKeyLen is the maximum length of a normalized slot key.
const MaxKeyLen = 96

// synthesizedPrefixLen is how much content a synthesized key keeps.
const synthesizedPrefixLen = 40

var (
	disallowed = regexp.MustCompile(`[^a-z0-9._:-]+`)
	whitespace = regexp.MustCompile(`\s+`)
	datePat    = regexp.MustCompile(`\b(20\d{2})[-/](0?[1-9]|1[0-2])[-/](0?[1-9]|[12]\d|3[01])\b`)
	groupHint  = regexp.MustCompile(`(?i)(本群|群里|群规|我们组|我们团队|大家约定|群项目|这个群|this group|our group|our team|group rule|everyone agreed)`)
)

// NormalizeKey returns the stable slot key for a fact. A blank raw key is
// synthesized from the category and the start of the content.
func NormalizeKey(raw string, category model.Category, content string) string {
	key := strings.ToLower(strings.TrimSpace(raw))
	if key == "" {
		short := truncateRunes(whitespace.ReplaceAllString(strings.ToLower(strings.TrimSpace(content)), " "), synthesizedPrefixLen)
		if short == "" {
			short = "general"
		}
		key = string(category) + ":" + short
	}
	key = disallowed.ReplaceAllString(key, "_")
	if len(key) > MaxKeyLen {
		key = key[:MaxKeyLen]
	}
	return key
}

// IsGroupFact reports whether text explicitly refers to the group as a whole.
func IsGroupFact(text string) bool {
	return groupHint.MatchString(text)
}

// IsExpired reports whether expiresAt (ms epoch) is a real deadline that
// has passed. Nil and negative values mean "never expires".
func IsExpired(expiresAt *int64, nowMs int64) bool {
	if expiresAt == nil || *expiresAt < 0 {
		return false
	}
	return *expiresAt < nowMs
}

// Resolver computes default expirations.
type Resolver struct {
	TTLDays int
	Now     func() time.Time
}

// NewResolver returns a Resolver using the wall clock.
func NewResolver(ttlDays int) *Resolver {
	if ttlDays < 1 {
		ttlDays = 1
	}
	return &Resolver{TTLDays: ttlDays, Now: time.Now}
}

// DefaultExpiresAt returns the expiry (ms epoch) for a new fact, or nil when
// the category is permanent. An explicit date in text wins over the TTL.
func (r *Resolver) DefaultExpiresAt(category model.Category, text string) *int64 {
	if category.Permanent() {
		return nil
	}
	if t, ok := ExplicitDeadline(text); ok {
		ms := t.UnixMilli()
		return &ms
	}
	ms := r.Now().Add(time.Duration(r.TTLDays) * 24 * time.Hour).UnixMilli()
	return &ms
}

// ExplicitDeadline finds the first YYYY-MM-DD style date in text and
// returns the last second of that day in UTC.
func ExplicitDeadline(text string) (time.Time, bool) {
	m := datePat.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, false
	}
	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	day, _ := strconv.Atoi(m[3])
	t := time.Date(year, time.Month(month), day, 23, 59, 59, 0, time.UTC)
	// time.Date normalizes 2026-02-30 into March; reject it instead.
	if t.Day() != day || int(t.Month()) != month {
		return time.Time{}, false
	}
	return t, true
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
