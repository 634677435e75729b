// Package logging builds the service logger and redacts secrets from log fields.
package logging

import (
	"regexp"
)

const (
	// MaxQueryLogLength is the maximum length of a raw SQL statement to log
	MaxQueryLogLength = 200
	// RedactedText is the replacement text for sensitive data
	RedactedText = "[REDACTED]"
)

type redaction struct {
	pattern     *regexp.Regexp
	replacement string
}

var (
	// password=xxx, pwd=xxx, pass=xxx up to the next delimiter
	passwordRule = redaction{regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`), "${1}=" + RedactedText}

	// user:pass@host in connection URLs
	credentialsRule = redaction{regexp.MustCompile(`://[^:/\s]+:[^@\s]+@[^/\s]+`), "://" + RedactedText + "@" + RedactedText}

	// Bearer tokens and the session cookie carrying the same JWT
	bearerRule = redaction{regexp.MustCompile(`Bearer\s+[A-Za-z0-9-_]+\.[A-Za-z0-9-_]+\.[A-Za-z0-9-_]*`), "Bearer " + RedactedText}
	cookieRule = redaction{regexp.MustCompile(`optiflow_jwt=[^;\s]+`), "optiflow_jwt=" + RedactedText}

	// api_key=..., apikey=..., key=... with a long value
	apiKeyRule = redaction{regexp.MustCompile(`(?i)(api[_-]?key|apikey|key)=[A-Za-z0-9-_]{20,}`), "${1}=" + RedactedText}
)

func redact(s string, rules ...redaction) string {
	for _, r := range rules {
		s = r.pattern.ReplaceAllString(s, r.replacement)
	}
	return s
}

// SanitizeConnectionString removes credentials from a DSN or connection URL.
// Use this before logging any connection string.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}
	return redact(connStr, passwordRule, credentialsRule)
}

// SanitizeError returns the error text with credentials and tokens removed.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return redact(err.Error(), passwordRule, bearerRule, cookieRule, apiKeyRule, credentialsRule)
}

// SanitizeQuery truncates a raw SQL statement and removes inline secrets.
func SanitizeQuery(query string) string {
	if query == "" {
		return ""
	}
	return redact(TruncateString(query, MaxQueryLogLength), passwordRule, apiKeyRule)
}

// TruncateString truncates a string to maxLen and adds ellipsis if needed
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
