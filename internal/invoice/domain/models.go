// Package domain contains persistence models for the invoicing core.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// VerificationStatus represents the authority verification lifecycle.
// Transitions are monotonic: PENDING -> PROCESSING -> {ACCEPTED|REJECTED|FAILED}.
type VerificationStatus string

const (
	VerificationPending    VerificationStatus = "PENDING"
	VerificationProcessing VerificationStatus = "PROCESSING"
	VerificationAccepted   VerificationStatus = "ACCEPTED"
	VerificationRejected   VerificationStatus = "REJECTED"
	VerificationFailed     VerificationStatus = "FAILED"
)

// Terminal reports whether no further transition is permitted.
func (s VerificationStatus) Terminal() bool {
	switch s {
	case VerificationAccepted, VerificationRejected, VerificationFailed:
		return true
	}
	return false
}

// Company is an issuing tenant.
type Company struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	Name       string       `gorm:"type:text;not null" json:"name"`
	TaxID      string       `gorm:"type:text;not null;uniqueIndex" json:"tax_id"`
	Address    string       `gorm:"type:text" json:"address"`
	City       string       `gorm:"type:text" json:"city"`
	PostalCode string       `gorm:"type:text" json:"postal_code"`
	Province   string       `gorm:"type:text" json:"province"`
	Country    string       `gorm:"type:text;default:'ES'" json:"country"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Company) TableName() string { return "companies" }

// Client is an invoice recipient, owned by a company.
type Client struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	CompanyID  snowflake.ID `gorm:"not null;index" json:"company_id"`
	Name       string       `gorm:"type:text;not null" json:"name"`
	TaxID      string       `gorm:"type:text" json:"tax_id"`
	Address    string       `gorm:"type:text" json:"address"`
	City       string       `gorm:"type:text" json:"city"`
	PostalCode string       `gorm:"type:text" json:"postal_code"`
	Province   string       `gorm:"type:text" json:"province"`
	Country    string       `gorm:"type:text;default:'ES'" json:"country"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Client) TableName() string { return "clients" }

// Invoice is an issued invoice with its compliance identity.
//
// DocumentHash and PreviousHash are written once at creation and never
// mutated; rectifications create new chained invoices.
type Invoice struct {
	ID            snowflake.ID `gorm:"primaryKey" json:"id"`
	CompanyID     snowflake.ID `gorm:"not null;index;uniqueIndex:ux_invoice_company_number" json:"company_id"`
	ClientID      snowflake.ID `gorm:"not null;index" json:"client_id"`
	InvoiceNumber string       `gorm:"type:text;not null;uniqueIndex:ux_invoice_company_number" json:"invoice_number"`
	IssueDate     time.Time    `gorm:"not null" json:"issue_date"`
	Currency      string       `gorm:"type:text;not null;default:'EUR'" json:"currency"`
	Notes         string       `gorm:"type:text" json:"notes,omitempty"`

	Lines []InvoiceLine `gorm:"foreignKey:InvoiceID" json:"lines"`

	// Chain identity. Exactly one invoice per company has an empty
	// PreviousHash (the head of the chain).
	DocumentHash string `gorm:"type:text;not null;index" json:"document_hash"`
	PreviousHash string `gorm:"type:text;not null;index" json:"previous_hash"`

	VerificationStatus   VerificationStatus `gorm:"type:text;not null;default:'PENDING';index" json:"verification_status"`
	VerificationTxID     *string            `gorm:"type:text" json:"verification_tx_id,omitempty"`
	VerificationCode     *string            `gorm:"type:text" json:"verification_code,omitempty"`
	VerificationQRURL    *string            `gorm:"type:text" json:"verification_qr_url,omitempty"`
	VerificationError    *string            `gorm:"type:text" json:"verification_error,omitempty"`
	RetryCount           int                `gorm:"not null;default:0" json:"retry_count"`
	RawAuthorityResponse string             `gorm:"type:text" json:"-"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// InvoiceLine is a line item on an invoice.
type InvoiceLine struct {
	ID          snowflake.ID    `gorm:"primaryKey" json:"id"`
	InvoiceID   snowflake.ID    `gorm:"not null;index" json:"invoice_id"`
	CompanyID   snowflake.ID    `gorm:"not null;index" json:"company_id"`
	Description string          `gorm:"type:text;not null" json:"description"`
	Quantity    decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"quantity"`
	UnitPrice   decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"unit_price"`
	DiscountPct decimal.Decimal `gorm:"type:numeric(6,2);not null;default:0" json:"discount_pct"`
	VATRate     decimal.Decimal `gorm:"type:numeric(6,2);not null" json:"vat_rate"`
	CreatedAt   time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (InvoiceLine) TableName() string { return "invoice_lines" }

// TaxableBase is the line subtotal after discount.
func (l InvoiceLine) TaxableBase() decimal.Decimal {
	gross := l.Quantity.Mul(l.UnitPrice)
	if l.DiscountPct.IsZero() {
		return gross
	}
	factor := decimal.NewFromInt(100).Sub(l.DiscountPct).Div(decimal.NewFromInt(100))
	return gross.Mul(factor)
}

// VATAmount is round(base * rate / 100, 2, half-up).
func (l InvoiceLine) VATAmount() decimal.Decimal {
	return l.TaxableBase().Mul(l.VATRate).Div(decimal.NewFromInt(100)).Round(2)
}

// Total is the line taxable base plus VAT.
func (l InvoiceLine) Total() decimal.Decimal {
	return l.TaxableBase().Add(l.VATAmount())
}

// BaseAmount sums the taxable bases of all lines.
func (i Invoice) BaseAmount() decimal.Decimal {
	total := decimal.Zero
	for _, l := range i.Lines {
		total = total.Add(l.TaxableBase())
	}
	return total
}

// VATTotal sums the per-line VAT amounts.
func (i Invoice) VATTotal() decimal.Decimal {
	total := decimal.Zero
	for _, l := range i.Lines {
		total = total.Add(l.VATAmount())
	}
	return total
}

// TotalAmount is base plus VAT across all lines.
func (i Invoice) TotalAmount() decimal.Decimal {
	return i.BaseAmount().Add(i.VATTotal())
}

// SequenceCounter tracks the last issued invoice number per (company, year).
// The row is mutated exactly once per invoice creation under a write lock
// held for the full allocate-and-commit unit.
type SequenceCounter struct {
	CompanyID  snowflake.ID `gorm:"primaryKey;autoIncrement:false"`
	Year       int          `gorm:"primaryKey;autoIncrement:false"`
	LastNumber int64        `gorm:"not null;default:0"`
	UpdatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (SequenceCounter) TableName() string { return "sequence_counters" }
