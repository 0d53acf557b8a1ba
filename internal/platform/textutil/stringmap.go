package textutil

import (
	"strings"
	"unicode/utf8"
)

// NormalizeStringMap trims keys and values and drops entries with empty keys.
// Values longer than maxValueRunes are cut at a rune boundary; zero keeps them whole.
func NormalizeStringMap(values map[string]string, maxValueRunes int) map[string]string {
	if len(values) == 0 {
		return nil
	}
	result := make(map[string]string, len(values))
	for key, value := range values {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		result[trimmedKey] = truncateRunes(strings.TrimSpace(value), maxValueRunes)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

func truncateRunes(value string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(value) <= limit {
		return value
	}
	runes := []rune(value)
	return strings.TrimSpace(string(runes[:limit]))
}
