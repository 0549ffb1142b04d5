package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// CreateInvoiceLine is one requested line item.
type CreateInvoiceLine struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	DiscountPct decimal.Decimal `json:"discount_pct"`
	VATRate     decimal.Decimal `json:"vat_rate"`
}

// CreateInvoiceRequest creates a numbered, chained invoice and enqueues it
// for authority verification.
type CreateInvoiceRequest struct {
	CompanyID snowflake.ID        `json:"company_id"`
	ClientID  snowflake.ID        `json:"client_id"`
	IssueDate *time.Time          `json:"issue_date,omitempty"`
	Currency  string              `json:"currency,omitempty"`
	Notes     string              `json:"notes,omitempty"`
	Lines     []CreateInvoiceLine `json:"lines"`
}

// Service is the invoice write path.
type Service interface {
	Create(ctx context.Context, req CreateInvoiceRequest) (*Invoice, error)
	GetByID(ctx context.Context, id snowflake.ID) (*Invoice, error)
	List(ctx context.Context, companyID snowflake.ID) ([]Invoice, error)

	// RequestVerification manually re-enqueues an invoice for verification.
	RequestVerification(ctx context.Context, id snowflake.ID) error

	CreateCompany(ctx context.Context, c *Company) error
	CreateClient(ctx context.Context, c *Client) error
}
