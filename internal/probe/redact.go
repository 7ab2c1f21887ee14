package probe

import "strings"

// sensitiveKeyPatterns classify header keys whose values must never appear in
// any external-facing path. The same classification decides which values are
// stored encrypted.
var sensitiveKeyPatterns = []string{
	"authorization",
	"api-key",
	"apikey",
	"token",
	"secret",
	"password",
	"cookie",
}

const maskedValue = "********"

// IsSensitiveHeader reports whether a header key matches a sensitive pattern,
// case-insensitively.
func IsSensitiveHeader(key string) bool {
	k := strings.ToLower(key)
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(k, pattern) {
			return true
		}
	}
	return false
}

// RedactHeaders returns a copy of headers with sensitive values masked.
// The input map is never modified.
func RedactHeaders(headers map[string]string) map[string]string {
	if headers == nil {
		return nil
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if IsSensitiveHeader(k) {
			out[k] = maskedValue
		} else {
			out[k] = v
		}
	}
	return out
}
