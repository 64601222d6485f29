package utils

import "strings"

func ToStringSlice(slice []any) []string {
	stringSlice := make([]string, 0)
	for _, v := range slice {
		if s, ok := v.(string); ok {
			stringSlice = append(stringSlice, s)
		}
	}
	return stringSlice
}

// FirstString returns the first non-empty string found in a claim value that may be
// a string or a JSON array of strings.
func FirstString(v any) string {
	switch value := v.(type) {
	case string:
		return strings.TrimSpace(value)
	case []any:
		for _, s := range ToStringSlice(value) {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	case []string:
		for _, s := range value {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}
