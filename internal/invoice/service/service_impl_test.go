package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/facturo/internal/invoice/domain"
	"github.com/smallbiznis/facturo/internal/invoice/repository"
	"github.com/smallbiznis/facturo/internal/sequence"
	"github.com/smallbiznis/facturo/internal/status"
	"github.com/smallbiznis/facturo/internal/verification"
	vdomain "github.com/smallbiznis/facturo/internal/verification/domain"
	"github.com/smallbiznis/facturo/internal/verification/queue"
)

type fixture struct {
	db      *gorm.DB
	svc     domain.Service
	repo    domain.Repository
	queue   *queue.MemoryQueue
	company *domain.Company
	client  *domain.Client
}

func setup(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(
		&domain.Company{},
		&domain.Client{},
		&domain.Invoice{},
		&domain.InvoiceLine{},
		&domain.SequenceCounter{},
		&vdomain.DeadLetterEntry{},
	))

	node, err := snowflake.NewNode(1)
	assert.NoError(t, err)

	log := zap.NewNop()
	repo := repository.New(db)
	q := queue.NewMemory()

	svc := New(Params{
		DB:        db,
		Log:       log,
		Repo:      repo,
		GenID:     node,
		Allocator: sequence.NewAllocator(),
		Publisher: verification.NewPublisher(q, nil, log),
		Tracker:   status.NewTracker(db),
		Metrics:   nil,
	})

	company := &domain.Company{Name: "Acme SL", TaxID: "B12345678"}
	assert.NoError(t, svc.CreateCompany(context.Background(), company))
	client := &domain.Client{CompanyID: company.ID, Name: "Cliente SA", TaxID: "A87654321"}
	assert.NoError(t, svc.CreateClient(context.Background(), client))

	return &fixture{db: db, svc: svc, repo: repo, queue: q, company: company, client: client}
}

func (f *fixture) createRequest() domain.CreateInvoiceRequest {
	return domain.CreateInvoiceRequest{
		CompanyID: f.company.ID,
		ClientID:  f.client.ID,
		Lines: []domain.CreateInvoiceLine{
			{
				Description: "Consulting",
				Quantity:    decimal.NewFromInt(10),
				UnitPrice:   decimal.NewFromInt(10),
				VATRate:     decimal.NewFromInt(21),
			},
		},
	}
}

func TestCreateAssignsSequentialNumbers(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	year := time.Now().UTC().Year()

	for i := 1; i <= 3; i++ {
		inv, err := f.svc.Create(ctx, f.createRequest())
		assert.NoError(t, err)
		assert.Equal(t, sequence.Format(year, int64(i)), inv.InvoiceNumber)
	}
}

func TestCreateChainsHashes(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	first, err := f.svc.Create(ctx, f.createRequest())
	assert.NoError(t, err)
	second, err := f.svc.Create(ctx, f.createRequest())
	assert.NoError(t, err)

	assert.Empty(t, first.PreviousHash)
	assert.Len(t, first.DocumentHash, 64)
	assert.Equal(t, first.DocumentHash, second.PreviousHash)
	assert.NotEqual(t, first.DocumentHash, second.DocumentHash)

	// Exactly one chain head per company.
	var heads int64
	assert.NoError(t, f.db.Model(&domain.Invoice{}).
		Where("company_id = ? AND previous_hash = ?", f.company.ID, "").
		Count(&heads).Error)
	assert.Equal(t, int64(1), heads)
}

func TestCreateComputesVATTotals(t *testing.T) {
	f := setup(t)

	req := f.createRequest()
	req.Lines = append(req.Lines, domain.CreateInvoiceLine{
		Description: "Hosting",
		Quantity:    decimal.NewFromInt(1),
		UnitPrice:   decimal.NewFromInt(50),
		VATRate:     decimal.NewFromInt(10),
	})

	inv, err := f.svc.Create(context.Background(), req)
	assert.NoError(t, err)

	// 100.00 at 21% plus 50.00 at 10%.
	assert.Equal(t, "150.00", inv.BaseAmount().StringFixed(2))
	assert.Equal(t, "26.00", inv.VATTotal().StringFixed(2))
	assert.Equal(t, "176.00", inv.TotalAmount().StringFixed(2))
}

func TestCreateRequiresLines(t *testing.T) {
	f := setup(t)

	req := f.createRequest()
	req.Lines = nil

	_, err := f.svc.Create(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrMissingLines)
}

func TestCreateUnknownCompany(t *testing.T) {
	f := setup(t)

	req := f.createRequest()
	req.CompanyID = 999999

	_, err := f.svc.Create(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrCompanyNotFound)
}

func TestCreateEnqueuesVerification(t *testing.T) {
	f := setup(t)

	inv, err := f.svc.Create(context.Background(), f.createRequest())
	assert.NoError(t, err)

	deliveries, err := f.queue.Dequeue(context.Background(), 10)
	assert.NoError(t, err)
	assert.Len(t, deliveries, 1)
	assert.Equal(t, inv.ID, deliveries[0].Message.InvoiceID)
	assert.Equal(t, vdomain.EventCreated, deliveries[0].Message.EventType)
	assert.Equal(t, 0, deliveries[0].Message.RetryCount)
	assert.Equal(t, domain.VerificationPending, inv.VerificationStatus)
}

type failingQueue struct{}

func (failingQueue) Publish(context.Context, vdomain.Message) error {
	return fmt.Errorf("redis connection refused")
}
func (failingQueue) PublishDelayed(context.Context, vdomain.Message, time.Duration) error {
	return fmt.Errorf("redis connection refused")
}
func (failingQueue) Dequeue(context.Context, int) ([]vdomain.Delivery, error) { return nil, nil }
func (failingQueue) Ack(context.Context, vdomain.Delivery) error              { return nil }
func (failingQueue) DeadLetter(context.Context, vdomain.Delivery, string) error {
	return nil
}

func TestCreateSurvivesQueueOutage(t *testing.T) {
	f := setup(t)
	log := zap.NewNop()

	node, err := snowflake.NewNode(2)
	assert.NoError(t, err)

	svc := New(Params{
		DB:        f.db,
		Log:       log,
		Repo:      f.repo,
		GenID:     node,
		Allocator: sequence.NewAllocator(),
		Publisher: verification.NewPublisher(failingQueue{}, nil, log),
		Tracker:   status.NewTracker(f.db),
	})

	inv, err := svc.Create(context.Background(), f.createRequest())
	assert.NoError(t, err)

	stored, err := f.repo.LoadInvoice(context.Background(), inv.ID)
	assert.NoError(t, err)
	assert.Equal(t, domain.VerificationPending, stored.VerificationStatus)
}

func TestRequestVerificationRejectsTerminal(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	inv, err := f.svc.Create(ctx, f.createRequest())
	assert.NoError(t, err)

	assert.NoError(t, f.db.Model(&domain.Invoice{}).
		Where("id = ?", inv.ID).
		Update("verification_status", domain.VerificationAccepted).Error)

	err = f.svc.RequestVerification(ctx, inv.ID)
	assert.True(t, errors.Is(err, status.ErrInvalidTransition))
}

func TestRequestVerificationRequeuesFailed(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	inv, err := f.svc.Create(ctx, f.createRequest())
	assert.NoError(t, err)

	// Drain the creation-time message, then fail the invoice.
	_, err = f.queue.Dequeue(ctx, 10)
	assert.NoError(t, err)
	assert.NoError(t, f.db.Model(&domain.Invoice{}).
		Where("id = ?", inv.ID).
		Updates(map[string]any{
			"verification_status": domain.VerificationFailed,
			"retry_count":         4,
		}).Error)

	assert.NoError(t, f.svc.RequestVerification(ctx, inv.ID))

	stored, err := f.repo.LoadInvoice(ctx, inv.ID)
	assert.NoError(t, err)
	assert.Equal(t, domain.VerificationPending, stored.VerificationStatus)
	assert.Equal(t, 0, stored.RetryCount)

	deliveries, err := f.queue.Dequeue(ctx, 10)
	assert.NoError(t, err)
	assert.Len(t, deliveries, 1)
	assert.Equal(t, inv.ID, deliveries[0].Message.InvoiceID)
	assert.Equal(t, vdomain.EventUpdated, deliveries[0].Message.EventType)
}
