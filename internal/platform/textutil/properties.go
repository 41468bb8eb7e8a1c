package textutil

import "strings"

// NormalizeProperties trims line item property keys and values, dropping entries whose key or
// value is blank.
func NormalizeProperties(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	result := make(map[string]string, len(values))
	for key, value := range values {
		trimmedKey := strings.TrimSpace(key)
		trimmedValue := strings.TrimSpace(value)
		if trimmedKey == "" || trimmedValue == "" {
			continue
		}
		result[trimmedKey] = trimmedValue
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

// HasKeyContaining reports whether any key contains needle case-insensitively with a value equal
// to want (also case-insensitive, trimmed).
func HasKeyContaining(values map[string]string, needle, want string) bool {
	needle = strings.ToLower(strings.TrimSpace(needle))
	want = strings.ToLower(strings.TrimSpace(want))
	for key, value := range values {
		if strings.Contains(strings.ToLower(key), needle) && strings.ToLower(strings.TrimSpace(value)) == want {
			return true
		}
	}
	return false
}
