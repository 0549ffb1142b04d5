// Package authority submits invoice registration records to the tax
// authority and classifies the responses.
package authority

import (
	"context"
	"fmt"

	invdomain "github.com/smallbiznis/facturo/internal/invoice/domain"
)

// Submission is everything the adapter needs to build and sign a
// registration record for one invoice.
type Submission struct {
	Invoice      *invdomain.Invoice
	Company      *invdomain.Company
	Client       *invdomain.Client
	DocumentHash string
	PreviousHash string
}

// Outcome is a definitive answer from the authority.
type Outcome struct {
	TxID  string
	Code  string
	QRURL string
	Raw   string
}

// Adapter submits one invoice registration. It returns exactly one of:
// a non-nil Outcome (accepted), a *RejectionError (the authority answered
// and said no), or a *TransportError (no definitive answer was obtained).
type Adapter interface {
	Submit(ctx context.Context, sub Submission) (*Outcome, error)
}

// RejectionError is a definitive negative answer. Deterministic rejections
// fail immediately; only transient codes are retried.
type RejectionError struct {
	Code        string
	Description string
	Raw         string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("authority rejected submission: %s %s", e.Code, e.Description)
}

// Transient reports whether resubmitting the identical record could
// plausibly succeed. Everything else is a deterministic rejection.
func (e *RejectionError) Transient() bool {
	switch e.Code {
	case "TIMEOUT", "SERVICIO_NO_DISPONIBLE", "ERROR_INTERNO_AEAT", "4102":
		return true
	}
	return false
}

// TransportError means no definitive answer: connection failures, HTTP
// errors, unparseable responses. Always retryable.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "authority transport failure: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// QRURL builds the public verification URL encoded into invoice QR codes.
func QRURL(base string, s Submission) string {
	return fmt.Sprintf("%s?nif=%s&numserie=%s&fecha=%s&importe=%s",
		base,
		s.Company.TaxID,
		s.Invoice.InvoiceNumber,
		s.Invoice.IssueDate.Format("02-01-2006"),
		s.Invoice.TotalAmount().StringFixed(2),
	)
}
