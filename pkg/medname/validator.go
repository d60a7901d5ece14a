// Package medname validates and sanitizes raw medication names before they are
// used in registry queries or interpolated into a completion prompt.
package medname

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/medsafe-analysis-server/internal/domain"
)

// MaxLength is the longest accepted medication name, in characters
const MaxLength = 100

var (
	// Sanitized names contain only these characters
	whitelistPattern = regexp.MustCompile(`^[A-Za-z0-9 \-.()]*$`)
	disallowedChars  = regexp.MustCompile(`[^A-Za-z0-9 \-.()]`)
	whitespaceRun    = regexp.MustCompile(`\s+`)
)

// injectionSignature is a named pattern of known-hostile input
type injectionSignature struct {
	name    string
	pattern *regexp.Regexp
}

var injectionSignatures = []injectionSignature{
	{"sql keyword", regexp.MustCompile(`(?i)\b(select|insert|update|delete|drop|union|exec|execute|alter|create|truncate)\b`)},
	{"sql comment", regexp.MustCompile(`--|/\*|\*/|;`)},
	{"markup tag", regexp.MustCompile(`<[^>]*>|<\s*/?\s*[a-zA-Z]`)},
	{"script uri", regexp.MustCompile(`(?i)(javascript|vbscript|data)\s*:`)},
	{"event handler", regexp.MustCompile(`(?i)\bon[a-z]+\s*=`)},
	{"directory traversal", regexp.MustCompile(`(?i)\.\./|\.\.\\|%2e%2e|%2f|%5c`)},
}

// Validate checks a raw medication name and returns its sanitized form.
// On rejection it returns a *domain.ValidationError describing the first rule violated.
func Validate(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", domain.NewValidationError("medicationName", "medication name must not be empty", name)
	}

	if utf8.RuneCountInString(trimmed) > MaxLength {
		return "", domain.NewValidationError("medicationName",
			"medication name must be at most 100 characters", truncateRunes(trimmed, 20)+"...")
	}

	for _, sig := range injectionSignatures {
		if sig.pattern.MatchString(trimmed) {
			return "", domain.NewValidationError("medicationName",
				"medication name contains a disallowed pattern ("+sig.name+")", nil)
		}
	}

	sanitized := Sanitize(trimmed)
	if sanitized == "" {
		return "", domain.NewValidationError("medicationName",
			"medication name contains no allowed characters (letters, digits, space, '-', '.', '(', ')')", name)
	}

	return sanitized, nil
}

// Sanitize folds accents, drops characters outside the whitelist, collapses
// whitespace and truncates to MaxLength. Sanitize(Sanitize(x)) == Sanitize(x).
func Sanitize(name string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), name)
	if err != nil {
		folded = name
	}

	folded = whitespaceRun.ReplaceAllString(folded, " ")
	folded = disallowedChars.ReplaceAllString(folded, "")
	folded = whitespaceRun.ReplaceAllString(folded, " ")
	folded = strings.TrimSpace(folded)

	if len(folded) > MaxLength {
		folded = strings.TrimSpace(folded[:MaxLength])
	}
	return folded
}

// IsSanitized reports whether s contains only whitelisted characters
func IsSanitized(s string) bool {
	return len(s) <= MaxLength && whitelistPattern.MatchString(s)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
