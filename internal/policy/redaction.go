package policy

import (
	"regexp"
	"strings"
)

var (
	keyParamPattern = regexp.MustCompile(`(?i)([?&](?:key|api_key|access_token)=)[^&\s"']+`)
	keyHeadPattern  = regexp.MustCompile(`(?i)(x-goog-api-key|authorization)(["']?\s*[:=]\s*["']?)(?:bearer\s+)?[^\s"',}]+`)
	googKeyPattern  = regexp.MustCompile(`\bAIza[0-9A-Za-z_\-]{30,}\b`)
)

const redacted = "[REDACTED]"

// RedactSecrets masks credentials that upstream errors tend to echo back:
// API keys in URLs and headers, Google API key literals and any of the
// extra values given.
func RedactSecrets(input string, secrets ...string) (out string, changed bool) {
	out = input
	for _, s := range secrets {
		if len(strings.TrimSpace(s)) < 4 {
			continue
		}
		out = strings.ReplaceAll(out, s, redacted)
	}

	out = keyParamPattern.ReplaceAllString(out, "${1}"+redacted)
	out = keyHeadPattern.ReplaceAllString(out, "${1}${2}"+redacted)
	out = googKeyPattern.ReplaceAllString(out, redacted)

	return out, out != input
}

// Redactor applies RedactSecrets with a fixed set of known secrets.
type Redactor struct {
	secrets []string
}

func NewRedactor(secrets ...string) *Redactor {
	kept := make([]string, 0, len(secrets))
	for _, s := range secrets {
		if strings.TrimSpace(s) != "" {
			kept = append(kept, s)
		}
	}
	return &Redactor{secrets: kept}
}

// Error returns err's message with secrets masked; nil yields "".
func (r *Redactor) Error(err error) string {
	if err == nil {
		return ""
	}
	return r.String(err.Error())
}

func (r *Redactor) String(s string) string {
	var secrets []string
	if r != nil {
		secrets = r.secrets
	}
	out, _ := RedactSecrets(s, secrets...)
	return out
}
