// Package verification exposes the queue-facing entry points of the
// pipeline: publishing work and recovering stranded invoices.
package verification

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	invdomain "github.com/smallbiznis/facturo/internal/invoice/domain"
	"github.com/smallbiznis/facturo/internal/observability/metrics"
	vdomain "github.com/smallbiznis/facturo/internal/verification/domain"
)

// Publisher enqueues invoices for verification.
type Publisher struct {
	queue   vdomain.Queue
	metrics *metrics.Metrics
	log     *zap.Logger
}

func NewPublisher(queue vdomain.Queue, m *metrics.Metrics, log *zap.Logger) *Publisher {
	return &Publisher{queue: queue, metrics: m, log: log.Named("verification.publisher")}
}

// Enqueue publishes a fresh verification message for the invoice. A queue
// outage returns ErrEnqueue; the invoice stays PENDING and is picked up by
// the recovery sweeper or a manual trigger.
func (p *Publisher) Enqueue(ctx context.Context, inv *invdomain.Invoice) error {
	return p.publish(ctx, inv, 0, vdomain.EventCreated)
}

// Retrigger publishes a manually requested re-verification with a fresh
// retry count.
func (p *Publisher) Retrigger(ctx context.Context, inv *invdomain.Invoice) error {
	return p.publish(ctx, inv, 0, vdomain.EventUpdated)
}

// Requeue re-publishes an invoice preserving its retry count. Used by the
// recovery sweeper so a stranded invoice does not regain retry budget.
func (p *Publisher) Requeue(ctx context.Context, inv *invdomain.Invoice) error {
	return p.publish(ctx, inv, inv.RetryCount, vdomain.EventRetry)
}

func (p *Publisher) publish(ctx context.Context, inv *invdomain.Invoice, retryCount int, eventType string) error {
	msg := vdomain.Message{
		InvoiceID:  inv.ID,
		CompanyID:  inv.CompanyID,
		EventType:  eventType,
		RetryCount: retryCount,
		EnqueuedAt: time.Now(),
	}
	if err := p.queue.Publish(ctx, msg); err != nil {
		p.metrics.IncEnqueueFailure(ctx)
		p.log.Error("enqueue verification failed",
			zap.String("invoice_id", inv.ID.String()),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %v", invdomain.ErrEnqueue, err)
	}
	return nil
}
