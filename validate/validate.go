package validate

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Validation kinds. Unknown kinds always fail.
const (
	KindName     = "name"
	KindUsername = "username"
	KindEmail    = "email"
	KindComment  = "comment"
	KindPassword = "password"
	KindID       = "id"
)

var (
	emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	idRe    = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

// Validate reports whether value passes the rule named by kind. Length rules
// count runes after trimming, except passwords (see validPassword). Usernames
// follow the id charset because they are spliced into store paths.
func Validate(value, kind string) bool {
	trimmed := strings.TrimSpace(value)
	runes := utf8.RuneCountInString(trimmed)

	switch kind {
	case KindName:
		return runes >= 1 && runes <= 50
	case KindUsername:
		return runes >= 1 && runes <= 50 && idRe.MatchString(trimmed)
	case KindEmail:
		return emailRe.MatchString(trimmed)
	case KindComment:
		return runes >= 1 && runes <= 500
	case KindPassword:
		return validPassword(value)
	case KindID:
		return runes >= 1 && runes <= 100 && idRe.MatchString(trimmed)
	default:
		return false
	}
}

// validPassword counts bytes, not runes: bcrypt rejects inputs over 72 bytes,
// so the upper bound has to be the byte length that actually reaches it.
func validPassword(password string) bool {
	if len(password) < 8 || len(password) > 72 {
		return false
	}
	var lower, upper, digit bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	return lower && upper && digit
}

// Sanitize trims surrounding whitespace and nothing more. It does not strip
// HTML; escaping is the rendering layer's job.
func Sanitize(s string) string {
	return strings.TrimSpace(s)
}
