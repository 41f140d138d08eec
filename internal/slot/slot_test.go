package slot

import (
	"strings"
	"testing"
	"time"

	"github.com/rcliao/slotmem/internal/model"
)

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		category model.Category
		content  string
		want     string
	}{
		{"lowercases", "Drink.Preference", model.CategoryPreference, "", "drink.preference"},
		{"replaces runs", "user  favourite/food!!", model.CategoryOther, "", "user_favourite_food_"},
		{"keeps allowed punctuation", "task:2026-03-01_v1", model.CategoryTask, "", "task:2026-03-01_v1"},
		{"synthesizes from content", "", model.CategoryPreference, "I   Prefer quiet\tplaces", "preference:i_prefer_quiet_places"},
		{"synthesizes general", "  ", model.CategoryTask, "   ", "task:general"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeKey(tt.raw, tt.category, tt.content); got != tt.want {
				t.Errorf("NormalizeKey(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestNormalizeKey_Truncates(t *testing.T) {
	got := NormalizeKey(strings.Repeat("a", 200), model.CategoryOther, "")
	if len(got) != MaxKeyLen {
		t.Errorf("expected %d chars, got %d", MaxKeyLen, len(got))
	}

	long := strings.Repeat("word ", 30)
	got = NormalizeKey("", model.CategoryPlan, long)
	want := "plan:" + strings.ReplaceAll(long[:40], " ", "_")
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestNormalizeKey_Stable(t *testing.T) {
	a := NormalizeKey("", model.CategoryPreference, "I prefer quiet environments")
	b := NormalizeKey("", model.CategoryPreference, "  i prefer   QUIET environments ")
	if a != b {
		t.Errorf("expected same slot, got %q and %q", a, b)
	}
}

func fixedResolver(now time.Time) *Resolver {
	r := NewResolver(7)
	r.Now = func() time.Time { return now }
	return r
}

func TestDefaultExpiresAt_Permanent(t *testing.T) {
	r := NewResolver(30)
	for _, c := range []model.Category{model.CategoryProfile, model.CategoryPreference, model.CategoryGroupRule} {
		if got := r.DefaultExpiresAt(c, "any text 2026-03-01"); got != nil {
			t.Errorf("%s: expected nil, got %d", c, *got)
		}
	}
}

func TestDefaultExpiresAt_ExplicitDate(t *testing.T) {
	now := time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)
	got := fixedResolver(now).DefaultExpiresAt(model.CategoryTask, "due 2026-03-01")
	if got == nil {
		t.Fatal("expected expiry")
	}
	want := time.Date(2026, 3, 1, 23, 59, 59, 0, time.UTC).UnixMilli()
	if *got != want {
		t.Errorf("got %d, want %d", *got, want)
	}
	if *got <= now.UnixMilli() {
		t.Error("expected expiry after now")
	}
}

func TestDefaultExpiresAt_TTL(t *testing.T) {
	now := time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)
	got := fixedResolver(now).DefaultExpiresAt(model.CategoryPlan, "ship the thing soon")
	want := now.Add(7 * 24 * time.Hour).UnixMilli()
	if got == nil || *got != want {
		t.Errorf("got %v, want %d", got, want)
	}
}

func TestDefaultExpiresAt_InvalidDateFallsBack(t *testing.T) {
	now := time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)
	got := fixedResolver(now).DefaultExpiresAt(model.CategoryDeadline, "due 2026-02-30")
	want := now.Add(7 * 24 * time.Hour).UnixMilli()
	if got == nil || *got != want {
		t.Errorf("got %v, want TTL fallback %d", got, want)
	}
}

func TestExplicitDeadline_SlashForm(t *testing.T) {
	got, ok := ExplicitDeadline("review on 2027/4/5 please")
	if !ok {
		t.Fatal("expected match")
	}
	if got != time.Date(2027, 4, 5, 23, 59, 59, 0, time.UTC) {
		t.Errorf("got %v", got)
	}
}

func TestIsExpired(t *testing.T) {
	now := int64(1_000_000)
	neg := int64(-1)
	past := now - 1
	same := now
	future := now + 1

	if IsExpired(nil, now) {
		t.Error("nil must not expire")
	}
	if IsExpired(&neg, now) {
		t.Error("-1 must not expire")
	}
	if !IsExpired(&past, now) {
		t.Error("past must expire")
	}
	if IsExpired(&same, now) {
		t.Error("equal to now is not strictly past")
	}
	if IsExpired(&future, now) {
		t.Error("future must not expire")
	}
}

func TestIsGroupFact(t *testing.T) {
	tests := map[string]bool{
		"这条是本群规则，后续都按这个来":                   true,
		"我今天吃了面条":                           false,
		"In this group we deploy on Fridays": true,
		"Our team uses Go":                   true,
		"I like Go":                          false,
	}
	for in, want := range tests {
		if got := IsGroupFact(in); got != want {
			t.Errorf("IsGroupFact(%q) = %v, want %v", in, got, want)
		}
	}
}
