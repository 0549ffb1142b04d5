// Package status owns the invoice verification state machine.
//
// Transitions are monotonic: PENDING -> PROCESSING -> {ACCEPTED, REJECTED,
// FAILED}. Terminal states never change; attempts to move an invoice out of
// one are rejected. Monotonicity is enforced in the database with guarded
// updates, so concurrent duplicate deliveries cannot regress a status.
package status

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	invdomain "github.com/smallbiznis/facturo/internal/invoice/domain"
	vdomain "github.com/smallbiznis/facturo/internal/verification/domain"
)

// ErrInvalidTransition signals an attempted move out of a terminal status
// or a skip over PROCESSING.
var ErrInvalidTransition = errors.New("invalid verification status transition")

// Tracker applies status transitions and answers pipeline health queries.
type Tracker struct {
	db *gorm.DB
}

func NewTracker(db *gorm.DB) *Tracker {
	return &Tracker{db: db}
}

// MarkProcessing moves a PENDING invoice to PROCESSING. Re-marking an
// invoice already in PROCESSING is allowed so redeliveries are no-ops.
func (t *Tracker) MarkProcessing(ctx context.Context, id snowflake.ID) error {
	return t.transition(ctx, id,
		[]invdomain.VerificationStatus{invdomain.VerificationPending, invdomain.VerificationProcessing},
		map[string]any{"verification_status": invdomain.VerificationProcessing},
	)
}

// MarkAccepted finalizes a successful verification.
func (t *Tracker) MarkAccepted(ctx context.Context, id snowflake.ID, txID, code, qrURL, raw string) error {
	return t.transition(ctx, id,
		[]invdomain.VerificationStatus{invdomain.VerificationProcessing},
		map[string]any{
			"verification_status":    invdomain.VerificationAccepted,
			"verification_tx_id":     txID,
			"verification_code":      code,
			"verification_qr_url":    qrURL,
			"verification_error":     nil,
			"raw_authority_response": raw,
		},
	)
}

// MarkRejected finalizes a deterministic authority rejection.
func (t *Tracker) MarkRejected(ctx context.Context, id snowflake.ID, code, description, raw string) error {
	return t.transition(ctx, id,
		[]invdomain.VerificationStatus{invdomain.VerificationProcessing},
		map[string]any{
			"verification_status":    invdomain.VerificationRejected,
			"verification_code":      code,
			"verification_error":     description,
			"raw_authority_response": raw,
		},
	)
}

// MarkFailed finalizes an invoice after retry exhaustion.
func (t *Tracker) MarkFailed(ctx context.Context, id snowflake.ID, reason string) error {
	return t.transition(ctx, id,
		[]invdomain.VerificationStatus{invdomain.VerificationPending, invdomain.VerificationProcessing},
		map[string]any{
			"verification_status": invdomain.VerificationFailed,
			"verification_error":  reason,
		},
	)
}

// RecordRetry persists the new retry count and last error while the invoice
// stays in PROCESSING.
func (t *Tracker) RecordRetry(ctx context.Context, id snowflake.ID, retryCount int, lastErr string) error {
	return t.transition(ctx, id,
		[]invdomain.VerificationStatus{invdomain.VerificationPending, invdomain.VerificationProcessing},
		map[string]any{
			"retry_count":        retryCount,
			"verification_error": lastErr,
		},
	)
}

// Requeue resets a non-terminal invoice to PENDING for re-verification.
func (t *Tracker) Requeue(ctx context.Context, id snowflake.ID) error {
	return t.transition(ctx, id,
		[]invdomain.VerificationStatus{invdomain.VerificationPending, invdomain.VerificationProcessing, invdomain.VerificationFailed},
		map[string]any{
			"verification_status": invdomain.VerificationPending,
			"retry_count":         0,
		},
	)
}

func (t *Tracker) transition(ctx context.Context, id snowflake.ID, from []invdomain.VerificationStatus, set map[string]any) error {
	set["updated_at"] = time.Now()
	res := t.db.WithContext(ctx).
		Model(&invdomain.Invoice{}).
		Where("id = ? AND verification_status IN ?", id, from).
		Updates(set)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := t.db.WithContext(ctx).
			Model(&invdomain.Invoice{}).
			Where("id = ?", id).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return invdomain.ErrInvoiceNotFound
		}
		return ErrInvalidTransition
	}
	return nil
}

// Overview is the pipeline health snapshot served on the metrics endpoint.
type Overview struct {
	ByStatus          map[invdomain.VerificationStatus]int64 `json:"by_status"`
	ErrorDistribution map[string]int64                       `json:"error_distribution"`
	DeadLetterDepth   int64                                  `json:"dead_letter_depth"`
}

// Snapshot aggregates invoice counts by status, the distribution of
// verification error codes, and the unreplayed dead-letter backlog.
func (t *Tracker) Snapshot(ctx context.Context) (*Overview, error) {
	o := &Overview{
		ByStatus:          make(map[invdomain.VerificationStatus]int64),
		ErrorDistribution: make(map[string]int64),
	}

	type statusRow struct {
		VerificationStatus invdomain.VerificationStatus
		N                  int64
	}
	var statusRows []statusRow
	if err := t.db.WithContext(ctx).
		Model(&invdomain.Invoice{}).
		Select("verification_status, COUNT(*) AS n").
		Group("verification_status").
		Scan(&statusRows).Error; err != nil {
		return nil, err
	}
	for _, r := range statusRows {
		o.ByStatus[r.VerificationStatus] = r.N
	}

	type codeRow struct {
		VerificationCode string
		N                int64
	}
	var codeRows []codeRow
	if err := t.db.WithContext(ctx).
		Model(&invdomain.Invoice{}).
		Select("verification_code, COUNT(*) AS n").
		Where("verification_status IN ? AND verification_code IS NOT NULL",
			[]invdomain.VerificationStatus{invdomain.VerificationRejected, invdomain.VerificationFailed}).
		Group("verification_code").
		Scan(&codeRows).Error; err != nil {
		return nil, err
	}
	for _, r := range codeRows {
		o.ErrorDistribution[r.VerificationCode] = r.N
	}

	if err := t.db.WithContext(ctx).
		Model(&vdomain.DeadLetterEntry{}).
		Where("replayed = ?", false).
		Count(&o.DeadLetterDepth).Error; err != nil {
		return nil, err
	}
	return o, nil
}
