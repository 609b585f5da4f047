// validate/blacklist.go
package validate

import "strings"

// ContainsUnwantedTerm reports whether address contains any of terms,
// ignoring case. It stops at the first match.
func ContainsUnwantedTerm(address string, terms []string) bool {
	lower := strings.ToLower(address)
	for _, term := range terms {
		if strings.Contains(lower, strings.ToLower(term)) {
			return true
		}
	}
	return false
}
