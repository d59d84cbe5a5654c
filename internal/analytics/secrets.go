package analytics

import "regexp"

// secretPatterns is checked in order; the first match wins.
var secretPatterns = []*regexp.Regexp{
	// Cloud access keys.
	regexp.MustCompile(`\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`),
	regexp.MustCompile(`\bAIza[0-9A-Za-z_\-]{35}\b`),
	// PEM private key headers.
	regexp.MustCompile(`-----BEGIN (?:RSA |EC |DSA |OPENSSH |PGP |ENCRYPTED )?PRIVATE KEY-----`),
	// Connection strings with embedded credentials.
	regexp.MustCompile(`\b[a-zA-Z][a-zA-Z0-9+.\-]*://[^\s:/@]+:[^\s/@]+@[^\s]+`),
	// Known token prefixes.
	regexp.MustCompile(`\b(?:ghp|gho|ghu|ghs|ghr)_[A-Za-z0-9]{36}\b`),
	regexp.MustCompile(`\bgithub_pat_[A-Za-z0-9_]{22,}\b`),
	regexp.MustCompile(`\bsk-(?:ant-|proj-)?[A-Za-z0-9_\-]{20,}`),
	regexp.MustCompile(`\bxox[abprs]-[A-Za-z0-9\-]{10,}`),
	// Generic key/secret assignments.
	regexp.MustCompile(`(?i)\b(?:api[_-]?key|secret[_-]?key|access[_-]?token|auth[_-]?token|password|passwd)\s*[:=]\s*['"]?[A-Za-z0-9_\-+/=]{12,}`),
}

// ContainsSecret reports whether v is a string containing something that
// looks like a credential. Non-string input never matches.
func ContainsSecret(v interface{}) bool {
	s, ok := v.(string)
	if !ok || s == "" {
		return false
	}
	for _, p := range secretPatterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}
