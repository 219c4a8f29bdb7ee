package auditlog

import "strings"

// sensitiveKeys are payload keys whose values identify a person. Both the
// raw slug spellings and the display labels endpoints commonly map them to
// are covered.
var sensitiveKeys = []string{
	"email", "Email",
	"phone", "Phone", "telephone", "Telephone",
	"lastname", "Lastname", "name", "Name",
	"firstname", "Firstname",
}

// MaskPayload returns a copy of payload with sensitive values masked:
// values longer than 4 characters keep their first 3 characters, everything
// else is replaced entirely. Masking is idempotent.
func MaskPayload(payload map[string]string) map[string]string {
	if payload == nil {
		return nil
	}
	masked := make(map[string]string, len(payload))
	for key, value := range payload {
		masked[key] = value
	}
	for _, key := range sensitiveKeys {
		if value, ok := masked[key]; ok {
			masked[key] = maskValue(value)
		}
	}
	return masked
}

func maskValue(value string) string {
	runes := []rune(value)
	if len(runes) > 4 {
		return string(runes[:3]) + strings.Repeat("*", len(runes)-3)
	}
	return strings.Repeat("*", len(runes))
}
