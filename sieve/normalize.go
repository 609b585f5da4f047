// sieve/normalize.go
package sieve

import "strings"

// NormalizeAddress prepares an address for checking: one trailing '.' is
// removed and the result lowercased. Whitespace is left alone, so padded
// addresses fail the syntax check.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSuffix(address, "."))
}

// NormalizeColumnValue is applied to the e-mail cell of every kept row
// before it is written: lowercase, trim whitespace, strip trailing dots.
// It is idempotent.
func NormalizeColumnValue(value string) string {
	return strings.TrimRight(strings.TrimSpace(strings.ToLower(value)), ".")
}
