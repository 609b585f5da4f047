// logging/redact.go
package logging

import (
	"strings"

	"go.uber.org/zap"
)

// RedactEmail masks the local part of an address for logging.
// "john.doe@example.com" → "jo***@example.com"; local parts of two
// characters or fewer are fully masked. Input without exactly one '@'
// becomes "***@***".
func RedactEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "***@***"
	}
	name := parts[0]
	if len(name) > 2 {
		return name[:2] + "***@" + parts[1]
	}
	return "***@" + parts[1]
}

// Email returns a zap field carrying a redacted address.
func Email(key, email string) zap.Field {
	return zap.String(key, RedactEmail(email))
}
