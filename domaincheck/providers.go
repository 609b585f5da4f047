// domaincheck/providers.go
package domaincheck

import (
	"encoding/json"
	"fmt"
	"os"
)

// TrustedSet is the set of provider domains that skip live DNS checks.
// Entries are lowercase. It is read-only once loaded.
type TrustedSet map[string]struct{}

// NewTrustedSet builds a set from domains, normalizing each and dropping
// empty entries.
func NewTrustedSet(domains ...string) TrustedSet {
	s := make(TrustedSet, len(domains))
	for _, d := range domains {
		if d = NormalizeDomain(d); d != "" {
			s[d] = struct{}{}
		}
	}
	return s
}

// Contains reports exact membership. domain must already be normalized.
func (s TrustedSet) Contains(domain string) bool {
	_, ok := s[domain]
	return ok
}

// LoadTrustedProviders reads a JSON array of domain strings from path.
// On any failure it returns an empty, usable set along with the error so the
// caller can log and carry on.
func LoadTrustedProviders(path string) (TrustedSet, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return TrustedSet{}, fmt.Errorf("read trusted providers: %w", err)
	}

	var domains []string
	if err := json.Unmarshal(b, &domains); err != nil {
		return TrustedSet{}, fmt.Errorf("decode trusted providers %s: %w", path, err)
	}
	return NewTrustedSet(domains...), nil
}
