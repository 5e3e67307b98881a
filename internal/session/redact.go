package session

import (
	"strings"
	"unicode/utf8"

	"github.com/nerrad567/entrance/internal/feature"
)

const maxLoggedString = 200

// redact returns a copy of msg fit for logging: secrets are masked and
// long strings cut short. Nested objects are redacted too.
func redact(msg map[string]any) map[string]any {
	out := make(map[string]any, len(msg))
	for k, v := range msg {
		switch val := v.(type) {
		case string:
			switch {
			case k == "secret":
				out[k] = strings.Repeat("*", len(val))
			case len(val) > maxLoggedString:
				out[k] = truncate(val, maxLoggedString) + "..."
			default:
				out[k] = val
			}
		case map[string]any:
			out[k] = redact(val)
		case feature.Message:
			out[k] = redact(val)
		default:
			out[k] = v
		}
	}
	return out
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
