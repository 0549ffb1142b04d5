package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/facturo/internal/canonical"
	"github.com/smallbiznis/facturo/internal/chain"
	"github.com/smallbiznis/facturo/internal/invoice/domain"
	"github.com/smallbiznis/facturo/internal/observability/metrics"
	"github.com/smallbiznis/facturo/internal/sequence"
	"github.com/smallbiznis/facturo/internal/status"
	"github.com/smallbiznis/facturo/internal/verification"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Repo      domain.Repository
	GenID     *snowflake.Node
	Allocator *sequence.Allocator
	Publisher *verification.Publisher
	Tracker   *status.Tracker
	Metrics   *metrics.Metrics
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	repo      domain.Repository
	genID     *snowflake.Node
	allocator *sequence.Allocator
	publisher *verification.Publisher
	tracker   *status.Tracker
	metrics   *metrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("invoice.service"),
		repo:      p.Repo,
		genID:     p.GenID,
		allocator: p.Allocator,
		publisher: p.Publisher,
		tracker:   p.Tracker,
		metrics:   p.Metrics,
	}
}

// Create issues a new invoice: it allocates the next sequence number, links
// the document into the company hash chain, persists everything in one
// transaction and enqueues the invoice for authority verification.
//
// Numbering, hashing and persistence commit together, so a failure at any
// point leaves no gap and no dangling chain entry. A queue outage after
// commit is absorbed: the invoice stays PENDING and the recovery sweeper
// picks it up.
func (s *Service) Create(ctx context.Context, req domain.CreateInvoiceRequest) (*domain.Invoice, error) {
	if len(req.Lines) == 0 {
		return nil, domain.ErrMissingLines
	}

	company, err := s.repo.LoadCompany(ctx, req.CompanyID)
	if err != nil {
		return nil, err
	}
	client, err := s.repo.LoadClient(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}

	issueDate := time.Now().UTC()
	if req.IssueDate != nil {
		issueDate = req.IssueDate.UTC()
	}
	currency := req.Currency
	if currency == "" {
		currency = "EUR"
	}

	inv := &domain.Invoice{
		ID:                 s.genID.Generate(),
		CompanyID:          company.ID,
		ClientID:           client.ID,
		IssueDate:          issueDate,
		Currency:           currency,
		Notes:              req.Notes,
		VerificationStatus: domain.VerificationPending,
	}
	for _, l := range req.Lines {
		inv.Lines = append(inv.Lines, domain.InvoiceLine{
			ID:          s.genID.Generate(),
			InvoiceID:   inv.ID,
			CompanyID:   company.ID,
			Description: l.Description,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			DiscountPct: l.DiscountPct,
			VATRate:     l.VATRate,
		})
	}

	year := issueDate.Year()

	// The in-process lock spans allocation through commit so two goroutines
	// cannot both read the same counter or chain head. Cross-process safety
	// comes from the counter row lock inside the transaction.
	unlock := s.allocator.Lock(company.ID, year)
	defer unlock()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		number, err := s.allocator.Next(ctx, tx, company.ID, year)
		if err != nil {
			return fmt.Errorf("allocate sequence: %w", err)
		}
		inv.InvoiceNumber = sequence.Format(year, number)

		previousHash := ""
		last, err := s.repo.LoadLastInvoice(ctx, tx, company.ID, inv.ID)
		if err != nil {
			return err
		}
		if last != nil {
			previousHash = last.DocumentHash
		}

		canonicalForm, err := canonical.Canonicalize(inv, company, client)
		if err != nil {
			return err
		}
		inv.PreviousHash = previousHash
		inv.DocumentHash = chain.Link(canonicalForm, previousHash)

		if previousHash != "" {
			linked, err := s.repo.CountLinkedTo(ctx, tx, company.ID, previousHash)
			if err != nil {
				return err
			}
			if linked > 0 {
				return domain.ErrChainIntegrity
			}
		}

		return s.repo.SaveInvoice(ctx, tx, inv)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncInvoiceCreated(ctx)
	s.log.Info("invoice created",
		zap.String("invoice_id", inv.ID.String()),
		zap.String("invoice_number", inv.InvoiceNumber),
		zap.String("company_id", company.ID.String()),
	)

	if err := s.publisher.Enqueue(ctx, inv); err != nil {
		// The invoice exists and is PENDING; verification catches up later.
		s.log.Warn("invoice created but not enqueued",
			zap.String("invoice_id", inv.ID.String()),
			zap.Error(err),
		)
	}

	return inv, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (*domain.Invoice, error) {
	return s.repo.LoadInvoice(ctx, id)
}

func (s *Service) List(ctx context.Context, companyID snowflake.ID) ([]domain.Invoice, error) {
	return s.repo.ListByCompany(ctx, companyID)
}

// RequestVerification resets a non-terminal or FAILED invoice to PENDING
// and puts it back on the queue with a fresh retry budget. ACCEPTED and
// REJECTED invoices are final and cannot be resubmitted.
func (s *Service) RequestVerification(ctx context.Context, id snowflake.ID) error {
	inv, err := s.repo.LoadInvoice(ctx, id)
	if err != nil {
		return err
	}
	switch inv.VerificationStatus {
	case domain.VerificationAccepted, domain.VerificationRejected:
		return status.ErrInvalidTransition
	}

	if err := s.tracker.Requeue(ctx, inv.ID); err != nil {
		return err
	}
	return s.publisher.Retrigger(ctx, inv)
}

func (s *Service) CreateCompany(ctx context.Context, c *domain.Company) error {
	if c.ID == 0 {
		c.ID = s.genID.Generate()
	}
	return s.repo.SaveCompany(ctx, c)
}

func (s *Service) CreateClient(ctx context.Context, c *domain.Client) error {
	if c.ID == 0 {
		c.ID = s.genID.Generate()
	}
	if _, err := s.repo.LoadCompany(ctx, c.CompanyID); err != nil {
		return err
	}
	return s.repo.SaveClient(ctx, c)
}
