// domaincheck/result.go

// Package domaincheck decides whether an e-mail domain can plausibly receive
// mail: a syntax check, then membership in a trusted-provider set, then live
// A and MX lookups. Results are memoized per domain for the whole run.
package domaincheck

import "strings"

// Result is the outcome of checking one domain. It is computed once per
// distinct domain per run and never modified afterwards.
type Result struct {
	SyntaxOK        bool `json:"syntax_ok"`
	TrustedProvider bool `json:"trusted_provider"`

	// DNS is true when the domain has at least one A record.
	DNS bool `json:"dns"`

	// MX is true when the domain has at least one MX record. The MX lookup
	// only runs after a successful A lookup.
	MX bool `json:"mx"`
}

// Acceptable reports whether a record on this domain should be kept:
// valid syntax and either trusted or reachable by any lookup.
func (r Result) Acceptable() bool {
	return r.SyntaxOK && (r.TrustedProvider || r.MX || r.DNS)
}

// NormalizeDomain trims surrounding whitespace and lowercases.
func NormalizeDomain(domain string) string {
	return strings.ToLower(strings.TrimSpace(domain))
}

// DomainOf returns the part of address after its last '@', or "" when there
// is none.
func DomainOf(address string) string {
	at := strings.LastIndexByte(address, '@')
	if at < 0 {
		return ""
	}
	return address[at+1:]
}
