package shared

import (
	"regexp"
	"strings"
)

const redactedPlaceholder = "[REDACTED]"

// secretPatterns matches secret-bearing shapes in log/event/error strings.
// The first block is provider-agnostic (any generic API key/bearer/token
// assignment, and the well-known Gemini AIza key shape) and stays useful
// regardless of what's plugged into nxclaw's LLM/embedding backends. The
// rest are this repo's own secret shapes: the dashboard's bearer token and
// the Telegram bot token `internal/channels` hands to tgbotapi, which shows
// up unprompted in that library's request URLs and error strings.
var secretPatterns = []*regexp.Regexp{
	// API keys (generic: long hex/base64 strings preceded by key-like prefixes)
	regexp.MustCompile(`(?i)(api[_-]?key|apikey|secret[_-]?key|auth[_-]?token|bearer)\s*[:=]\s*"?([A-Za-z0-9_\-./+=]{16,})"?`),
	// Bearer tokens in Authorization headers
	regexp.MustCompile(`(?i)(Bearer\s+)([A-Za-z0-9_\-./+=]{16,})`),
	// Gemini/Google API keys (AIza pattern)
	regexp.MustCompile(`AIza[A-Za-z0-9_\-]{30,}`),
	// UUIDs that look like tokens (after auth-related prefixes)
	regexp.MustCompile(`(?i)(token|secret)\s*[:=]\s*"?([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})"?`),
	// Dashboard auth token, either as the x-nxclaw-token header or the ?token= query param (dashboard/auth.go)
	regexp.MustCompile(`(?i)(x-nxclaw-token:\s*|[?&]token=)([A-Za-z0-9_\-./+=]{8,})`),
	// Telegram bot tokens, e.g. embedded in https://api.telegram.org/bot<id>:<secret>/method (channels/telegram.go)
	regexp.MustCompile(`\b(bot)(\d{6,}:[A-Za-z0-9_-]{30,})\b`),
}

// Redact replaces secret-bearing patterns in the input string with [REDACTED].
func Redact(input string) string {
	if input == "" {
		return input
	}
	result := input
	for _, pat := range secretPatterns {
		result = pat.ReplaceAllStringFunc(result, func(match string) string {
			// For patterns with a prefix group, keep the prefix and redact the value.
			submatch := pat.FindStringSubmatch(match)
			if len(submatch) >= 3 {
				return submatch[1] + redactedPlaceholder
			}
			return redactedPlaceholder
		})
	}
	return result
}

// RedactEnvValue checks if a key name looks secret and returns redacted value if so.
func RedactEnvValue(key, value string) string {
	keyLower := strings.ToLower(key)
	sensitiveKeys := []string{"api_key", "apikey", "secret", "token", "password", "credential"}
	for _, sensitive := range sensitiveKeys {
		if strings.Contains(keyLower, sensitive) {
			return redactedPlaceholder
		}
	}
	return value
}
