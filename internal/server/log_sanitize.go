package server

import (
	"regexp"
	"strings"
)

type redaction struct {
	re   *regexp.Regexp
	with string
}

// redactions run in order. Header-style rules come first so the name=value
// rules do not see their values.
var redactions = []redaction{
	{regexp.MustCompile(`(?i)-----BEGIN( RSA| EC)? PRIVATE KEY-----[\s\S]+?-----END( RSA| EC)? PRIVATE KEY-----`), "[redacted private key]"},
	{regexp.MustCompile(`(?i)authorization:\s*bearer\s+[a-z0-9\-._~+/=]+`), "authorization: Bearer [redacted]"},
	{regexp.MustCompile(`(?i)(x-api-key|x-cards-api-key)(:\s*|=)\S+`), "$1$2[redacted]"},
	{regexp.MustCompile(`(?i)(idempotency[-_]key)(:\s*|=)\S+`), "$1$2[redacted]"},
	{regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{12,}`), "sk-[redacted]"},
	{regexp.MustCompile(`(?i)https?://[^:@\s/]+:[^@\s]+@`), "http://[redacted]:[redacted]@"},
	{regexp.MustCompile(`(?i)\b(refresh_token|access_token|api_key|access_key|secret|password|token)=\S+`), "$1=[redacted]"},
	{regexp.MustCompile(`(?i)(password|secret|token)\s*"[^"]+"`), "$1\"[redacted]\""},
	{regexp.MustCompile(`(?i)(password|secret|token)\s*'[^']+'`), "$1'[redacted]'"},
	{regexp.MustCompile(`(?i)(client[ _]id|client[ _]secret)[:=]\s*\S+`), "$1=[redacted]"},
	{regexp.MustCompile(`(?i)email=\S+`), "email=[redacted]"},
}

// SanitizeLogLines redacts credentials, provider keys and idempotency keys
// from log lines before they leave the process. Tenant and trace ids are kept:
// they are what operators filter on.
func SanitizeLogLines(lines []string) []string {
	if len(lines) == 0 {
		return lines
	}
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = sanitizeLine(l)
	}
	return out
}

func sanitizeLine(l string) string {
	if !strings.ContainsAny(l, "=:-\"'") {
		return l
	}
	for _, r := range redactions {
		l = r.re.ReplaceAllString(l, r.with)
	}
	return l
}
