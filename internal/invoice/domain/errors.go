package domain

import "errors"

var (
	ErrCompanyNotFound = errors.New("company_not_found")
	ErrClientNotFound  = errors.New("client_not_found")
	ErrInvoiceNotFound = errors.New("invoice_not_found")
	ErrMissingLines    = errors.New("invoice_missing_lines")

	// ErrChainIntegrity signals that a concurrent writer already linked
	// against the same previous hash. Retryable at the transaction level.
	ErrChainIntegrity = errors.New("chain_integrity_violation")

	// ErrEnqueue signals the verification queue was unavailable. Callers
	// log and continue; a missed verification can be triggered manually.
	ErrEnqueue = errors.New("verification_enqueue_failed")
)

// CanonicalizationError reports a missing or invalid required field.
// Invoice creation fails synchronously on this error; it is not retryable.
type CanonicalizationError struct {
	Field string
}

func (e *CanonicalizationError) Error() string {
	return "canonicalization failed: missing required field " + e.Field
}
