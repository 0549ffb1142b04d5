// Package recovery re-enqueues invoices stranded in a non-terminal status.
//
// An invoice can strand when the enqueue after creation failed, or when a
// consumer crashed between claiming a delivery and acking it past the
// broker's redelivery horizon. The sweeper picks up anything PENDING or
// PROCESSING that has not been touched since the cutoff and puts it back on
// the queue with its retry count intact.
package recovery

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	invdomain "github.com/smallbiznis/facturo/internal/invoice/domain"
	"github.com/smallbiznis/facturo/internal/verification"
)

// Config controls the recovery sweeper loop.
type Config struct {
	BatchSize    int
	PollInterval time.Duration
	StuckAfter   time.Duration
	RunTimeout   time.Duration
}

func DefaultConfig() Config {
	return Config{
		BatchSize:    50,
		PollInterval: 5 * time.Minute,
		StuckAfter:   10 * time.Minute,
		RunTimeout:   time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaults.PollInterval
	}
	if c.StuckAfter <= 0 {
		c.StuckAfter = defaults.StuckAfter
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = defaults.RunTimeout
	}
	return c
}

type Params struct {
	fx.In

	Log       *zap.Logger
	Repo      invdomain.Repository
	Publisher *verification.Publisher
	Config    Config `optional:"true"`
}

type Worker struct {
	log       *zap.Logger
	repo      invdomain.Repository
	publisher *verification.Publisher
	cfg       Config
}

func NewWorker(p Params) *Worker {
	return &Worker{
		log:       p.Log.Named("verification.recovery"),
		repo:      p.Repo,
		publisher: p.Publisher,
		cfg:       p.Config.withDefaults(),
	}
}

func (w *Worker) RunForever(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := w.RunOnce(ctx); err != nil {
			w.log.Warn("recovery sweep failed", zap.Error(err))
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

	stuck, err := w.repo.StuckInvoices(ctx, int(w.cfg.StuckAfter.Seconds()), w.cfg.BatchSize)
	if err != nil {
		return err
	}

	for i := range stuck {
		inv := &stuck[i]
		if err := w.publisher.Requeue(ctx, inv); err != nil {
			w.log.Warn("requeue stranded invoice failed",
				zap.String("invoice_id", inv.ID.String()),
				zap.Error(err),
			)
			continue
		}
		w.log.Info("re-enqueued stranded invoice",
			zap.String("invoice_id", inv.ID.String()),
			zap.String("status", string(inv.VerificationStatus)),
			zap.Int("retry_count", inv.RetryCount),
		)
	}
	return nil
}
