// Package privacy classifies and redacts candidate memory content before it
// is persisted. It is the only place privacy rules are enforced.
package privacy

import (
	"regexp"
	"strings"
)

// Mode selects how medium-sensitivity content is handled.
type Mode string

const (
	// ModeStrict rejects any medium-sensitivity match.
	ModeStrict Mode = "strict"
	// ModeBalanced masks medium-sensitivity matches and keeps the rest.
	ModeBalanced Mode = "balanced"
	// ModePermissive stores medium-sensitivity content as is.
	ModePermissive Mode = "permissive"
)

// ParseMode maps a configured value to a Mode. Empty means balanced;
// anything unrecognised is permissive.
func ParseMode(s string) Mode {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeBalanced
	case ModeStrict, ModeBalanced:
		return m
	}
	return ModePermissive
}

// Reason explains a filter decision.
type Reason string

const (
	ReasonEmpty           Reason = "empty"
	ReasonHighSensitive   Reason = "high_sensitive"
	ReasonMediumSensitive Reason = "medium_sensitive"
	ReasonMasked          Reason = "masked"
	ReasonOK              Reason = "ok"
)

// Result is the outcome of Filter.Apply. Content is empty unless Allow is true.
type Result struct {
	Allow   bool
	Content string
	Reason  Reason
}

const redacted = "[REDACTED]"

var (
	highSensitive = []*regexp.Regexp{
		regexp.MustCompile(`sk-[a-zA-Z0-9]{20,}`),
		regexp.MustCompile(`(?i)(api[_-]?key|secret|token|password|passwd|pwd|密码)\s*[:=]\s*\S+`),
		regexp.MustCompile(`\b\d{16,19}\b`),
	}

	// RE2 has no lookaround, so phone numbers are found as whole digit runs.
	digitRun    = regexp.MustCompile(`\d+`)
	phoneNumber = regexp.MustCompile(`^1[3-9]\d{9}$`)
	email       = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	address     = regexp.MustCompile(`(地址|住址|address)\s*[:：]\s*[^\n,，]{4,}`)
)

// Filter applies the privacy policy for one mode.
type Filter struct {
	Mode Mode
}

// New returns a Filter for the given mode.
func New(mode Mode) *Filter {
	return &Filter{Mode: mode}
}

// Apply classifies text and returns what, if anything, may be stored.
func (f *Filter) Apply(text string) Result {
	content := strings.TrimSpace(text)
	if content == "" {
		return Result{Reason: ReasonEmpty}
	}
	if containsHigh(content) {
		return Result{Reason: ReasonHighSensitive}
	}
	medium := containsMedium(content)
	switch {
	case medium && f.Mode == ModeStrict:
		return Result{Reason: ReasonMediumSensitive}
	case medium && f.Mode == ModeBalanced:
		return Result{Allow: true, Content: mask(content), Reason: ReasonMasked}
	}
	return Result{Allow: true, Content: content, Reason: ReasonOK}
}

func containsHigh(text string) bool {
	for _, p := range highSensitive {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

func containsMedium(text string) bool {
	for _, run := range digitRun.FindAllString(text, -1) {
		if phoneNumber.MatchString(run) {
			return true
		}
	}
	return email.MatchString(text) || address.MatchString(text)
}

func mask(text string) string {
	text = digitRun.ReplaceAllStringFunc(text, func(run string) string {
		if !phoneNumber.MatchString(run) {
			return run
		}
		return run[:3] + "****" + run[len(run)-4:]
	})
	text = email.ReplaceAllStringFunc(text, maskEmail)
	return address.ReplaceAllString(text, "${1}: "+redacted)
}

// maskEmail keeps the first character of the local part and the domain.
func maskEmail(addr string) string {
	name, domain, ok := strings.Cut(addr, "@")
	if !ok {
		return "[REDACTED_EMAIL]"
	}
	if name == "" {
		return redacted + "@" + domain
	}
	return name[:1] + "***@" + domain
}
