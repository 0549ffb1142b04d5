// Package consumer drives the asynchronous verification pipeline: it drains
// the queue, submits invoices to the authority, and applies the retry and
// dead-letter policy.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/smallbiznis/facturo/internal/authority"
	invdomain "github.com/smallbiznis/facturo/internal/invoice/domain"
	"github.com/smallbiznis/facturo/internal/observability/metrics"
	"github.com/smallbiznis/facturo/internal/status"
	vdomain "github.com/smallbiznis/facturo/internal/verification/domain"
)

// backoff holds the delay before attempt N. Attempt 0 is the initial
// delivery with no delay.
var backoff = []time.Duration{0, 5 * time.Second, 30 * time.Second, 120 * time.Second}

func backoffFor(attempt int) time.Duration {
	if attempt < len(backoff) {
		return backoff[attempt]
	}
	return backoff[len(backoff)-1]
}

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Queue   vdomain.Queue
	Repo    invdomain.Repository
	Tracker *status.Tracker
	Adapter authority.Adapter
	Metrics *metrics.Metrics
	Config  Config `optional:"true"`
}

type Worker struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	queue   vdomain.Queue
	repo    invdomain.Repository
	tracker *status.Tracker
	adapter authority.Adapter
	metrics *metrics.Metrics
	cfg     Config
}

func NewWorker(p Params) *Worker {
	return &Worker{
		db:      p.DB,
		log:     p.Log.Named("verification.consumer"),
		genID:   p.GenID,
		queue:   p.Queue,
		repo:    p.Repo,
		tracker: p.Tracker,
		adapter: p.Adapter,
		metrics: p.Metrics,
		cfg:     p.Config.withDefaults(),
	}
}

func (w *Worker) RunForever(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := w.RunOnce(ctx); err != nil {
			w.log.Warn("verification run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) RunOnce(parentCtx context.Context) error {
	ctx, cancel := context.WithTimeout(parentCtx, w.cfg.RunTimeout)
	defer cancel()

	deliveries, err := w.queue.Dequeue(ctx, w.cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(deliveries) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.Workers)
	for _, d := range deliveries {
		d := d
		g.Go(func() error {
			w.process(gctx, d)
			return nil
		})
	}
	return g.Wait()
}

// process handles one delivery end to end. Delivery is at-least-once, so
// every branch finishes with an ack; redelivery of an already-terminal
// invoice is a harmless no-op.
func (w *Worker) process(ctx context.Context, d vdomain.Delivery) {
	log := w.log.With(
		zap.String("invoice_id", d.Message.InvoiceID.String()),
		zap.Int("retry_count", d.Message.RetryCount),
	)

	if d.Message.RetryCount >= w.cfg.MaxRetries {
		// Guard against over-budget redeliveries, e.g. replayed entries.
		w.park(ctx, d, "retry budget exhausted on delivery", log)
		return
	}

	inv, err := w.repo.LoadInvoice(ctx, d.Message.InvoiceID)
	if err != nil {
		if errors.Is(err, invdomain.ErrInvoiceNotFound) {
			w.park(ctx, d, "invoice no longer exists", log)
			return
		}
		log.Warn("load invoice failed, leaving delivery unacked", zap.Error(err))
		return
	}

	if inv.VerificationStatus.Terminal() {
		log.Debug("skipping terminal invoice", zap.String("status", string(inv.VerificationStatus)))
		w.ack(ctx, d, log)
		return
	}

	if err := w.tracker.MarkProcessing(ctx, inv.ID); err != nil {
		if errors.Is(err, status.ErrInvalidTransition) {
			w.ack(ctx, d, log)
			return
		}
		log.Warn("mark processing failed, leaving delivery unacked", zap.Error(err))
		return
	}

	sub, err := w.buildSubmission(ctx, inv)
	if err != nil {
		if errors.Is(err, invdomain.ErrCompanyNotFound) {
			w.park(ctx, d, fmt.Sprintf("build submission: %v", err), log)
			return
		}
		// Transient repository failure; the broker redelivers.
		log.Warn("build submission failed, leaving delivery unacked", zap.Error(err))
		return
	}

	outcome, err := w.adapter.Submit(ctx, sub)
	if err == nil {
		w.accept(ctx, d, inv, outcome, log)
		return
	}

	var rejection *authority.RejectionError
	if errors.As(err, &rejection) && !rejection.Transient() {
		w.reject(ctx, d, inv, rejection, log)
		return
	}

	w.retry(ctx, d, err, log)
}

func (w *Worker) buildSubmission(ctx context.Context, inv *invdomain.Invoice) (authority.Submission, error) {
	company, err := w.repo.LoadCompany(ctx, inv.CompanyID)
	if err != nil {
		return authority.Submission{}, err
	}
	client, err := w.repo.LoadClient(ctx, inv.ClientID)
	if err != nil && !errors.Is(err, invdomain.ErrClientNotFound) {
		return authority.Submission{}, err
	}
	return authority.Submission{
		Invoice:      inv,
		Company:      company,
		Client:       client,
		DocumentHash: inv.DocumentHash,
		PreviousHash: inv.PreviousHash,
	}, nil
}

func (w *Worker) accept(ctx context.Context, d vdomain.Delivery, inv *invdomain.Invoice, outcome *authority.Outcome, log *zap.Logger) {
	if err := w.tracker.MarkAccepted(ctx, inv.ID, outcome.TxID, outcome.Code, outcome.QRURL, outcome.Raw); err != nil {
		if !errors.Is(err, status.ErrInvalidTransition) {
			log.Warn("mark accepted failed, leaving delivery unacked", zap.Error(err))
			return
		}
	}
	w.metrics.IncVerificationAccepted(ctx)
	log.Info("invoice verified", zap.String("tx_id", outcome.TxID))
	w.ack(ctx, d, log)
}

func (w *Worker) reject(ctx context.Context, d vdomain.Delivery, inv *invdomain.Invoice, rejection *authority.RejectionError, log *zap.Logger) {
	if err := w.tracker.MarkRejected(ctx, inv.ID, rejection.Code, rejection.Description, rejection.Raw); err != nil {
		if !errors.Is(err, status.ErrInvalidTransition) {
			log.Warn("mark rejected failed, leaving delivery unacked", zap.Error(err))
			return
		}
	}
	w.metrics.IncVerificationFailed(ctx, "rejected")
	log.Info("invoice rejected by authority",
		zap.String("code", rejection.Code),
		zap.String("description", rejection.Description),
	)
	w.ack(ctx, d, log)
}

// retry schedules the next attempt as a delayed message. The consumer never
// sleeps holding a delivery; backoff lives in the queue.
func (w *Worker) retry(ctx context.Context, d vdomain.Delivery, cause error, log *zap.Logger) {
	next := d.Message.RetryCount + 1
	if next >= w.cfg.MaxRetries {
		w.park(ctx, d, fmt.Sprintf("max retries exceeded: %v", cause), log)
		return
	}

	kind := "transport"
	var rejection *authority.RejectionError
	if errors.As(cause, &rejection) {
		kind = "transient_rejection"
	}
	w.metrics.IncVerificationFailed(ctx, kind)

	if e := w.tracker.RecordRetry(ctx, d.Message.InvoiceID, next, cause.Error()); e != nil && !errors.Is(e, status.ErrInvalidTransition) {
		log.Warn("record retry failed", zap.Error(e))
	}

	msg := d.Message
	msg.EventType = vdomain.EventRetry
	msg.RetryCount = next
	msg.EnqueuedAt = time.Now()
	if e := w.queue.PublishDelayed(ctx, msg, backoffFor(next)); e != nil {
		// Leave the delivery unacked so the broker redelivers it.
		log.Warn("schedule retry failed, leaving delivery unacked", zap.Error(e))
		return
	}

	w.metrics.IncVerificationRetry(ctx, next)
	log.Info("verification attempt failed, retry scheduled",
		zap.Int("next_attempt", next),
		zap.Duration("delay", backoffFor(next)),
		zap.Error(cause),
	)
	w.ack(ctx, d, log)
}

// park moves a delivery to the dead-letter stream, records it for operator
// replay, and finalizes the invoice as FAILED.
func (w *Worker) park(ctx context.Context, d vdomain.Delivery, reason string, log *zap.Logger) {
	entry := vdomain.DeadLetterEntry{
		ID:         w.genID.Generate(),
		InvoiceID:  d.Message.InvoiceID,
		CompanyID:  d.Message.CompanyID,
		RetryCount: d.Message.RetryCount,
		Reason:     reason,
		Payload:    d.Payload,
	}
	if err := w.db.WithContext(ctx).Create(&entry).Error; err != nil {
		log.Warn("persist dead letter failed", zap.Error(err))
	}

	if err := w.tracker.MarkFailed(ctx, d.Message.InvoiceID, reason); err != nil &&
		!errors.Is(err, status.ErrInvalidTransition) && !errors.Is(err, invdomain.ErrInvoiceNotFound) {
		log.Warn("mark failed errored", zap.Error(err))
	}

	if err := w.queue.DeadLetter(ctx, d, reason); err != nil {
		log.Warn("dead letter publish failed, leaving delivery unacked", zap.Error(err))
		return
	}
	w.metrics.IncDeadLetter(ctx)
	log.Warn("delivery parked on dead-letter queue", zap.String("reason", reason))
}

func (w *Worker) ack(ctx context.Context, d vdomain.Delivery, log *zap.Logger) {
	if err := w.queue.Ack(ctx, d); err != nil {
		log.Warn("ack failed", zap.Error(err))
	}
}
