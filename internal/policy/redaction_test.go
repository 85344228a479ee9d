package policy

import (
	"errors"
	"strings"
	"testing"
)

func TestRedactSecrets(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		leaked string
	}{
		{
			name:   "url key param",
			input:  `websocket: bad handshake: wss://generativelanguage.googleapis.com/ws/svc?key=abc123secret&alt=json`,
			leaked: "abc123secret",
		},
		{
			name:   "header",
			input:  `request headers: {"x-goog-api-key": "hdr-secret-value"}`,
			leaked: "hdr-secret-value",
		},
		{
			name:   "bearer",
			input:  "Authorization: Bearer tok_live_987",
			leaked: "tok_live_987",
		},
		{
			name:   "google key literal",
			input:  "invalid key AIzaSyA1234567890abcdefghijklmnopqrstu",
			leaked: "AIzaSyA1234567890abcdefghijklmnopqrstu",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out, changed := RedactSecrets(tc.input)
			if !changed {
				t.Fatalf("changed = false for %q", tc.input)
			}
			if strings.Contains(out, tc.leaked) {
				t.Fatalf("output still leaks %q: %q", tc.leaked, out)
			}
			if !strings.Contains(out, "[REDACTED]") {
				t.Fatalf("output missing marker: %q", out)
			}
		})
	}
}

func TestRedactSecretsLeavesPlainText(t *testing.T) {
	in := "upstream connect failed after all retries: dial tcp: connection refused"
	out, changed := RedactSecrets(in)
	if changed || out != in {
		t.Fatalf("RedactSecrets() = %q, %v; want unchanged", out, changed)
	}
}

func TestRedactorKnownSecret(t *testing.T) {
	r := NewRedactor("my-configured-key", "")
	got := r.Error(errors.New("server rejected my-configured-key"))
	if strings.Contains(got, "my-configured-key") {
		t.Fatalf("Error() leaked configured secret: %q", got)
	}
	if r.Error(nil) != "" {
		t.Fatalf("Error(nil) should be empty")
	}
	var nilRedactor *Redactor
	if nilRedactor.String("plain") != "plain" {
		t.Fatalf("nil Redactor altered plain text")
	}
}
