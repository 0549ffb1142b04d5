// Package domain defines the verification queue contracts.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Event types carried on verification messages.
const (
	EventCreated = "created"
	EventUpdated = "updated"
	EventRetry   = "retry"
)

// Message is a verification work item. Delivery is at-least-once; the
// consumer tolerates duplicates by checking invoice status before work.
type Message struct {
	InvoiceID  snowflake.ID `json:"invoice_id"`
	CompanyID  snowflake.ID `json:"company_id"`
	EventType  string       `json:"event_type"`
	RetryCount int          `json:"retry_count"`
	EnqueuedAt time.Time    `json:"enqueued_at"`
}

// Delivery is a dequeued message with its broker receipt.
type Delivery struct {
	ID      string
	Message Message
	Payload string
}

// DeadLetterEntry records a message parked after retry exhaustion or an
// unrecoverable failure. Kept in the database for operator inspection
// and replay, mirrored onto the dead-letter stream.
type DeadLetterEntry struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	InvoiceID  snowflake.ID `gorm:"not null;index" json:"invoice_id"`
	CompanyID  snowflake.ID `gorm:"not null;index" json:"company_id"`
	RetryCount int          `gorm:"not null" json:"retry_count"`
	Reason     string       `gorm:"type:text;not null" json:"reason"`
	Payload    string       `gorm:"type:text" json:"-"`
	Replayed   bool         `gorm:"not null;default:false" json:"replayed"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (DeadLetterEntry) TableName() string { return "dead_letter_entries" }
