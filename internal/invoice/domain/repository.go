package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository is the persistence collaborator for the verification core.
// The core depends only on these contracts, not on a storage engine.
type Repository interface {
	LoadInvoice(ctx context.Context, id snowflake.ID) (*Invoice, error)
	SaveInvoice(ctx context.Context, tx *gorm.DB, inv *Invoice) error
	ListByCompany(ctx context.Context, companyID snowflake.ID) ([]Invoice, error)

	// LoadLastInvoice returns the most recently created invoice for the
	// company, excluding the given id, or nil when the chain is empty.
	// Ordered by creation time, not by invoice number.
	LoadLastInvoice(ctx context.Context, tx *gorm.DB, companyID, excludingID snowflake.ID) (*Invoice, error)

	// CountLinkedTo counts invoices for the company already linked against
	// the given previous hash. Used for the optimistic chain check.
	CountLinkedTo(ctx context.Context, tx *gorm.DB, companyID snowflake.ID, previousHash string) (int64, error)

	LoadCompany(ctx context.Context, id snowflake.ID) (*Company, error)
	LoadClient(ctx context.Context, id snowflake.ID) (*Client, error)
	SaveCompany(ctx context.Context, c *Company) error
	SaveClient(ctx context.Context, c *Client) error

	// StuckInvoices lists non-terminal invoices untouched since the cutoff,
	// for the recovery sweeper.
	StuckInvoices(ctx context.Context, cutoffSeconds int, limit int) ([]Invoice, error)
}
