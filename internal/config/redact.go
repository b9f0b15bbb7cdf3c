package config

import "regexp"

const redacted = "[REDACTED]"

// secretPatterns match credentials that may end up in URLs, headers or
// error messages.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{20,}`),
	regexp.MustCompile(`github_pat_[A-Za-z0-9_]{20,}`),
	regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9._~+/=-]+`),
}

// Redact masks GitHub tokens and bearer credentials in s.
func Redact(s string) string {
	for _, p := range secretPatterns {
		if p.NumSubexp() > 0 {
			s = p.ReplaceAllString(s, "${1}"+redacted)
			continue
		}
		s = p.ReplaceAllString(s, redacted)
	}
	return s
}
