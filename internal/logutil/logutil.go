// Package logutil makes note and user request bodies safe to log. Passwords,
// hashes and keys are replaced, everything else is kept verbatim.
package logutil

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Redacted replaces sensitive values in logged payloads.
const Redacted = "[REDACTED]"

const (
	omittedNonJSON    = "[non-JSON body omitted]"
	omittedMalformed  = "[malformed JSON omitted]"
	omittedUnencoding = "[unencodable body omitted]"
	truncatedSuffix   = " [truncated]"
)

// sensitiveExact are field names, normalized, that are redacted outright.
var sensitiveExact = map[string]bool{
	"authorization": true,
	"cookie":        true,
	"setcookie":     true,
	"pwd":           true,
	"key":           true,
}

// sensitiveParts redact any field whose normalized name contains them.
var sensitiveParts = []string{"password", "secret", "token"}

// IsSensitiveLogField reports whether a JSON field or header named key may
// hold a credential. Case, '-' and '_' are ignored, and any name ending in
// "key" counts, so "DATABASE_KEY" and "api-key" match but "keyboard" does not.
func IsSensitiveLogField(key string) bool {
	norm := strings.Map(func(r rune) rune {
		if r == '-' || r == '_' {
			return -1
		}
		return r
	}, strings.ToLower(strings.TrimSpace(key)))

	if sensitiveExact[norm] || strings.HasSuffix(norm, "key") {
		return true
	}
	for _, part := range sensitiveParts {
		if strings.Contains(norm, part) {
			return true
		}
	}
	return false
}

// RedactBodyForLog returns body with sensitive fields replaced by Redacted.
// Non-JSON and malformed bodies are replaced whole. Numbers such as tickets
// are kept exactly as sent.
func RedactBodyForLog(contentType string, body []byte) string {
	if !strings.Contains(strings.ToLower(contentType), "json") {
		return omittedNonJSON
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var payload any
	if err := dec.Decode(&payload); err != nil || dec.More() {
		return omittedMalformed
	}

	safe, err := json.Marshal(redactValue(payload))
	if err != nil {
		return omittedUnencoding
	}
	return string(safe)
}

func redactValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		for k, child := range typed {
			if IsSensitiveLogField(k) {
				typed[k] = Redacted
			} else {
				typed[k] = redactValue(child)
			}
		}
	case []any:
		for i, child := range typed {
			typed[i] = redactValue(child)
		}
	}
	return v
}

// FormatBodyForLog redacts body and cuts it to maxChars. A non-positive
// maxChars disables the cut.
func FormatBodyForLog(contentType string, body []byte, maxChars int) string {
	if len(body) == 0 {
		return ""
	}
	text := RedactBodyForLog(contentType, body)
	if maxChars <= 0 || len(text) <= maxChars {
		return text
	}
	return text[:maxChars] + truncatedSuffix
}
