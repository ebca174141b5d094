// Package audit records sanitized events for sync runs and reconciliation
// actions.
package audit

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const Redacted = "_REDACTED"

// blockedKeyParts drop a detail entirely when its lower-cased key contains one.
var blockedKeyParts = []string{
	"token",
	"secret",
	"password",
	"passwd",
	"iban",
	"email",
	"e-mail",
	"card_number",
	"cardnumber",
	"authorization",
	"account_number",
	"accountnumber",
	"api_key",
	"apikey",
	"cookie",
	"credential",
}

var redactPatterns = compileRedactPatterns()

func compileRedactPatterns() []*regexp.Regexp {
	patterns := []string{
		// IBAN, with or without grouping spaces, any case
		`(?i)\b[A-Z]{2}\d{2}(?:\s?[A-Z0-9]{4}){2,7}(?:\s?[A-Z0-9]{1,4})?\b`,
		// Email addresses
		`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`,
		// Card numbers, 13 to 19 digits with optional separators
		`\b(?:\d[ -]?){12,18}\d\b`,
		// Bearer tokens, API keys, JWT segments
		`[A-Za-z0-9_+/=]{32,}`,
	}
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		compiled = append(compiled, regexp.MustCompile(p))
	}
	return compiled
}

// Sanitize returns a copy of details that is safe to persist and log.
// Blocked keys are dropped, sensitive substrings in strings are replaced with
// Redacted, and values of unsupported types are dropped.
func Sanitize(details map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(details))
	for k, v := range details {
		if blockedKey(k) {
			continue
		}
		if clean, ok := sanitizeValue(v); ok {
			out[k] = clean
		}
	}
	return out
}

// SanitizeString redacts sensitive substrings of s.
func SanitizeString(s string) string {
	for _, re := range redactPatterns {
		s = re.ReplaceAllString(s, Redacted)
	}
	return s
}

func blockedKey(key string) bool {
	k := strings.ToLower(key)
	for _, part := range blockedKeyParts {
		if strings.Contains(k, part) {
			return true
		}
	}
	return false
}

func sanitizeValue(v interface{}) (interface{}, bool) {
	switch val := v.(type) {
	case nil:
		return nil, true
	case string:
		return SanitizeString(val), true
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return val, true
	case decimal.Decimal:
		return val.String(), true
	case time.Time:
		return val.UTC().Format(time.RFC3339), true
	case error:
		return SanitizeString(val.Error()), true
	case map[string]interface{}:
		return Sanitize(val), true
	case map[string]string:
		m := make(map[string]interface{}, len(val))
		for k, s := range val {
			m[k] = s
		}
		return Sanitize(m), true
	case map[string]int:
		m := make(map[string]interface{}, len(val))
		for k, n := range val {
			m[k] = n
		}
		return Sanitize(m), true
	case []interface{}:
		return sanitizeSlice(val), true
	case []string:
		items := make([]interface{}, len(val))
		for i, s := range val {
			items[i] = s
		}
		return sanitizeSlice(items), true
	default:
		return nil, false
	}
}

func sanitizeSlice(items []interface{}) []interface{} {
	out := make([]interface{}, 0, len(items))
	for _, item := range items {
		if clean, ok := sanitizeValue(item); ok {
			out = append(out, clean)
		}
	}
	return out
}
