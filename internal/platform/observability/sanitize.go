package observability

import (
	"strings"
	"unicode"
)

const (
	defaultStringLimit = 256
	idLimit            = 64
	redacted           = "[redacted]"
)

// Event fields that must never reach the log sink verbatim. Keys are compared
// case-insensitively.
var secretKeys = map[string]struct{}{
	"clientsecret":  {},
	"idtoken":       {},
	"authorization": {},
	"signature":     {},
	"apikey":        {},
}

var piiKeys = map[string]struct{}{
	"email":         {},
	"customeremail": {},
	"phone":         {},
	"street":        {},
}

// sanitizeString drops control characters other than whitespace and caps the rune count.
func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = defaultStringLimit
	}
	var b strings.Builder
	b.Grow(min(len(value), limit))
	n := 0
	for _, r := range value {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		if n == limit {
			break
		}
		b.WriteRune(r)
		n++
	}
	return b.String()
}

// scrubField returns the value to log for key. Secrets are replaced entirely;
// contact data keeps just enough shape to correlate support tickets.
func scrubField(key, value string) string {
	lower := strings.ToLower(key)
	if _, ok := secretKeys[lower]; ok {
		if value == "" {
			return ""
		}
		return redacted
	}
	if _, ok := piiKeys[lower]; ok {
		return maskContact(value)
	}
	return sanitizeString(value, defaultStringLimit)
}

func maskContact(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if local, domain, ok := strings.Cut(value, "@"); ok {
		if local == "" {
			return "***@" + sanitizeString(domain, idLimit)
		}
		return string([]rune(local)[0]) + "***@" + sanitizeString(domain, idLimit)
	}
	runes := []rune(value)
	if len(runes) <= 4 {
		return "***"
	}
	return "***" + string(runes[len(runes)-2:])
}

func sanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, 180)
}

func sanitizeMethod(method string) string {
	return sanitizeString(method, 10)
}

func sanitizeID(id string) string {
	return sanitizeString(strings.TrimSpace(id), idLimit)
}
