package domain

import (
	"regexp"
	"strings"
)

const (
	MaxUsernameLen          = 50
	federatedUsernameMaxLen = 20
	fallbackUsername        = "user"
)

var unsafeUsernameChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

var ClassLevels = map[string]struct{}{
	"11":      {},
	"12":      {},
	"dropper": {},
}

var Streams = map[string]struct{}{
	"JEE Mains":    {},
	"JEE Advanced": {},
	"NEET":         {},
	"Foundation":   {},
	"Other":        {},
}

func ValidClassLevel(v string) bool {
	_, ok := ClassLevels[v]
	return ok
}

func ValidStream(v string) bool {
	_, ok := Streams[v]
	return ok
}

// SanitizeUsername keeps letters, digits, '_' and '-' and caps the length.
// It may return "".
func SanitizeUsername(s string) string {
	s = unsafeUsernameChars.ReplaceAllString(strings.TrimSpace(s), "")
	if len(s) > MaxUsernameLen {
		s = s[:MaxUsernameLen]
	}
	return s
}

// EmailLocalPart returns the part before the last '@'.
func EmailLocalPart(email string) string {
	email = strings.TrimSpace(email)
	if i := strings.LastIndex(email, "@"); i >= 0 {
		return email[:i]
	}
	return email
}

// BaseUsernameFromEmail derives a registration username from an email.
func BaseUsernameFromEmail(email string) string {
	if u := SanitizeUsername(EmailLocalPart(email)); u != "" {
		return u
	}
	return fallbackUsername
}

// FederatedBaseUsername is the shorter base used when provisioning
// federated accounts.
func FederatedBaseUsername(email string) string {
	u := BaseUsernameFromEmail(email)
	if len(u) > federatedUsernameMaxLen {
		u = u[:federatedUsernameMaxLen]
	}
	return u
}

// WithSuffix appends "-suffix" keeping the result within MaxUsernameLen.
func WithSuffix(base, suffix string) string {
	max := MaxUsernameLen - len(suffix) - 1
	if len(base) > max {
		base = base[:max]
	}
	return base + "-" + suffix
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
