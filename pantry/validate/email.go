// validate/email.go
package validate

import "regexp"

// emailRe is intentionally permissive: ASCII only, no quoted local parts,
// and a dotted domain ending in an alphabetic TLD of two or more letters.
var emailRe = regexp.MustCompile(`^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`)

// domainRe accepts one leading label of 1 to 63 letters, digits or hyphens that
// neither starts nor ends with a hyphen, followed by one or more alphabetic
// labels of two or more letters ("example.com", "mail.example.com.br").
var domainRe = regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9-]{0,61}[A-Za-z0-9])?(?:\.[A-Za-z]{2,})+$`)

// IsValidEmail reports whether address has the basic local@domain.tld shape.
// It is not an RFC 5322 validator.
func IsValidEmail(address string) bool {
	return emailRe.MatchString(address)
}

// IsValidDomainSyntax reports whether domain is shaped like a resolvable
// host name. Non-matching input yields false.
func IsValidDomainSyntax(domain string) bool {
	return domainRe.MatchString(domain)
}
