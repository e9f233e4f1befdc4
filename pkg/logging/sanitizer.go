package logging

import (
	"regexp"
)

// RedactedText is the replacement text for sensitive data.
const RedactedText = "[REDACTED]"

var (
	// GitHub token formats: classic (ghp_), OAuth (gho_), app installation
	// (ghs_), refresh (ghr_) and fine-grained (github_pat_) tokens.
	githubTokenPattern = regexp.MustCompile(`\b(?:gh[pousr]_[A-Za-z0-9]{20,}|github_pat_[A-Za-z0-9_]{20,})`)

	// Authorization header values of any scheme.
	bearerPattern = regexp.MustCompile(`(?i)(Bearer|token)\s+[A-Za-z0-9._-]+`)

	// password=xxx, pwd=xxx, pass=xxx in connection strings (until next delimiter).
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// user:pass@host credentials embedded in URLs.
	connStringPattern = regexp.MustCompile(`://[^:/\s]+:[^@\s]+@[^/\s]+`)
)

// SanitizeToken redacts GitHub tokens and Authorization header values.
// Use this before logging anything derived from request headers.
func SanitizeToken(s string) string {
	if s == "" {
		return ""
	}
	sanitized := githubTokenPattern.ReplaceAllString(s, RedactedText)
	return bearerPattern.ReplaceAllString(sanitized, "${1} "+RedactedText)
}

// SanitizeConnectionString removes credentials from connection strings.
// Use this before logging any database URL.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}
	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	return connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
}

// SanitizeError sanitizes error messages that might carry tokens or
// connection credentials. GitHub client errors include the request URL, and
// database errors can echo the DSN, so both families are scrubbed.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	sanitized := SanitizeToken(err.Error())
	return SanitizeConnectionString(sanitized)
}

// TruncateString truncates a string to maxLen and adds ellipsis if needed.
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
