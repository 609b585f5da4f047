// sieve/filter.go
package sieve

import (
	"context"

	"github.com/dalemusser/mailsieve/domaincheck"
	"github.com/dalemusser/mailsieve/metrics"
	"github.com/dalemusser/mailsieve/pantry/validate"
)

// DomainResolver is the part of *domaincheck.Resolver the pipeline uses.
type DomainResolver interface {
	Resolve(ctx context.Context, domain string) domaincheck.Result
	Prefetch(ctx context.Context, domains []string)
}

// precheck runs the checks that need no network. It returns the rejection
// outcome, or "" with the address's domain when the record still needs a
// domain check.
func precheck(address string, terms []string) (outcome, domain string) {
	if !validate.IsValidEmail(address) {
		return metrics.OutcomeInvalidSyntax, ""
	}
	if validate.ContainsUnwantedTerm(address, terms) {
		return metrics.OutcomeUnwantedTerm, ""
	}
	return "", domaincheck.DomainOf(address)
}
