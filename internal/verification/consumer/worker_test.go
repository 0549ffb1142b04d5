package consumer

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/facturo/internal/authority"
	invdomain "github.com/smallbiznis/facturo/internal/invoice/domain"
	"github.com/smallbiznis/facturo/internal/invoice/repository"
	"github.com/smallbiznis/facturo/internal/status"
	vdomain "github.com/smallbiznis/facturo/internal/verification/domain"
	"github.com/smallbiznis/facturo/internal/verification/queue"
)

// scriptedAdapter returns canned responses in order and records call count.
type scriptedAdapter struct {
	mu        sync.Mutex
	responses []func() (*authority.Outcome, error)
	calls     int
}

func (a *scriptedAdapter) Submit(context.Context, authority.Submission) (*authority.Outcome, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.calls >= len(a.responses) {
		return nil, &authority.TransportError{Err: fmt.Errorf("no scripted response")}
	}
	resp := a.responses[a.calls]
	a.calls++
	return resp()
}

func (a *scriptedAdapter) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func accepted(txID string) func() (*authority.Outcome, error) {
	return func() (*authority.Outcome, error) {
		return &authority.Outcome{TxID: txID, Code: txID, QRURL: "https://example.test/qr"}, nil
	}
}

func rejected(code, desc string) func() (*authority.Outcome, error) {
	return func() (*authority.Outcome, error) {
		return nil, &authority.RejectionError{Code: code, Description: desc}
	}
}

func transportDown() (*authority.Outcome, error) {
	return nil, &authority.TransportError{Err: fmt.Errorf("connection refused")}
}

type workerFixture struct {
	db      *gorm.DB
	node    *snowflake.Node
	queue   *queue.MemoryQueue
	adapter *scriptedAdapter
	worker  *Worker
	company *invdomain.Company
	client  *invdomain.Client
}

func setup(t *testing.T, responses ...func() (*authority.Outcome, error)) *workerFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(
		&invdomain.Company{},
		&invdomain.Client{},
		&invdomain.Invoice{},
		&invdomain.InvoiceLine{},
		&vdomain.DeadLetterEntry{},
	))

	node, err := snowflake.NewNode(1)
	assert.NoError(t, err)

	company := &invdomain.Company{ID: node.Generate(), Name: "Acme SL", TaxID: "B12345678"}
	assert.NoError(t, db.Create(company).Error)
	client := &invdomain.Client{ID: node.Generate(), CompanyID: company.ID, Name: "Cliente SA"}
	assert.NoError(t, db.Create(client).Error)

	adapter := &scriptedAdapter{responses: responses}
	q := queue.NewMemory()

	worker := NewWorker(Params{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Queue:   q,
		Repo:    repository.New(db),
		Tracker: status.NewTracker(db),
		Adapter: adapter,
		Config:  Config{MaxRetries: 4},
	})

	return &workerFixture{
		db: db, node: node, queue: q, adapter: adapter,
		worker: worker, company: company, client: client,
	}
}

func (f *workerFixture) seedInvoice(t *testing.T, st invdomain.VerificationStatus) *invdomain.Invoice {
	t.Helper()
	inv := &invdomain.Invoice{
		ID:                 f.node.Generate(),
		CompanyID:          f.company.ID,
		ClientID:           f.client.ID,
		InvoiceNumber:      "2025-0001",
		IssueDate:          time.Now().UTC(),
		Currency:           "EUR",
		DocumentHash:       "abc",
		PreviousHash:       "",
		VerificationStatus: st,
		Lines: []invdomain.InvoiceLine{{
			ID:          f.node.Generate(),
			CompanyID:   f.company.ID,
			Description: "Consulting",
			Quantity:    decimal.NewFromInt(1),
			UnitPrice:   decimal.NewFromInt(100),
			VATRate:     decimal.NewFromInt(21),
		}},
	}
	inv.Lines[0].InvoiceID = inv.ID
	assert.NoError(t, f.db.Create(inv).Error)
	return inv
}

func (f *workerFixture) publish(t *testing.T, inv *invdomain.Invoice, retryCount int) {
	t.Helper()
	err := f.queue.Publish(context.Background(), vdomain.Message{
		InvoiceID:  inv.ID,
		CompanyID:  inv.CompanyID,
		RetryCount: retryCount,
		EnqueuedAt: time.Now(),
	})
	assert.NoError(t, err)
}

func (f *workerFixture) reload(t *testing.T, id snowflake.ID) *invdomain.Invoice {
	t.Helper()
	var inv invdomain.Invoice
	assert.NoError(t, f.db.Where("id = ?", id).First(&inv).Error)
	return &inv
}

func TestProcessAccepted(t *testing.T) {
	f := setup(t, accepted("CSV123"))
	inv := f.seedInvoice(t, invdomain.VerificationPending)
	f.publish(t, inv, 0)

	assert.NoError(t, f.worker.RunOnce(context.Background()))

	got := f.reload(t, inv.ID)
	assert.Equal(t, invdomain.VerificationAccepted, got.VerificationStatus)
	assert.NotNil(t, got.VerificationTxID)
	assert.Equal(t, "CSV123", *got.VerificationTxID)
	assert.Equal(t, 1, f.adapter.callCount())
	assert.Empty(t, f.queue.DeadLetters())
}

func TestProcessDeterministicRejectionFailsFast(t *testing.T) {
	f := setup(t, rejected("CIF_INVALIDO", "NIF del obligado no identificado"))
	inv := f.seedInvoice(t, invdomain.VerificationPending)
	f.publish(t, inv, 0)

	assert.NoError(t, f.worker.RunOnce(context.Background()))

	got := f.reload(t, inv.ID)
	assert.Equal(t, invdomain.VerificationRejected, got.VerificationStatus)
	assert.NotNil(t, got.VerificationCode)
	assert.Equal(t, "CIF_INVALIDO", *got.VerificationCode)

	// Deterministic rejections are final: no retry was scheduled.
	assert.Equal(t, 0, f.queue.DelayedCount())
	assert.Equal(t, 1, f.adapter.callCount())
}

func TestProcessTransportFailureSchedulesRetry(t *testing.T) {
	f := setup(t, transportDown)
	inv := f.seedInvoice(t, invdomain.VerificationPending)
	f.publish(t, inv, 0)

	assert.NoError(t, f.worker.RunOnce(context.Background()))

	got := f.reload(t, inv.ID)
	assert.Equal(t, invdomain.VerificationProcessing, got.VerificationStatus)
	assert.Equal(t, 1, got.RetryCount)

	// The retry waits out its backoff in the delayed set.
	assert.Equal(t, 1, f.queue.DelayedCount())
	deliveries, err := f.queue.Dequeue(context.Background(), 10)
	assert.NoError(t, err)
	assert.Empty(t, deliveries)
}

func TestProcessTransientRejectionSchedulesRetry(t *testing.T) {
	f := setup(t, rejected("TIMEOUT", "tiempo de espera agotado"))
	inv := f.seedInvoice(t, invdomain.VerificationPending)
	f.publish(t, inv, 0)

	assert.NoError(t, f.worker.RunOnce(context.Background()))

	got := f.reload(t, inv.ID)
	assert.Equal(t, invdomain.VerificationProcessing, got.VerificationStatus)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, 1, f.queue.DelayedCount())
}

func TestProcessRetriesExhaustedDeadLetters(t *testing.T) {
	f := setup(t, transportDown)
	inv := f.seedInvoice(t, invdomain.VerificationPending)
	f.publish(t, inv, 3)

	assert.NoError(t, f.worker.RunOnce(context.Background()))

	got := f.reload(t, inv.ID)
	assert.Equal(t, invdomain.VerificationFailed, got.VerificationStatus)
	assert.Len(t, f.queue.DeadLetters(), 1)

	var entries []vdomain.DeadLetterEntry
	assert.NoError(t, f.db.Find(&entries).Error)
	assert.Len(t, entries, 1)
	assert.Equal(t, inv.ID, entries[0].InvoiceID)
	assert.Contains(t, entries[0].Reason, "max retries exceeded")
	assert.False(t, entries[0].Replayed)
}

// flakyCompanyRepo simulates a database outage on the company lookup.
type flakyCompanyRepo struct {
	invdomain.Repository
}

func (flakyCompanyRepo) LoadCompany(context.Context, snowflake.ID) (*invdomain.Company, error) {
	return nil, fmt.Errorf("connection reset by peer")
}

func TestProcessTransientCompanyLoadLeavesDeliveryUnacked(t *testing.T) {
	f := setup(t, accepted("CSV1"))
	worker := NewWorker(Params{
		DB:      f.db,
		Log:     zap.NewNop(),
		GenID:   f.node,
		Queue:   f.queue,
		Repo:    flakyCompanyRepo{repository.New(f.db)},
		Tracker: status.NewTracker(f.db),
		Adapter: f.adapter,
		Config:  Config{MaxRetries: 4},
	})
	inv := f.seedInvoice(t, invdomain.VerificationPending)
	f.publish(t, inv, 0)

	assert.NoError(t, worker.RunOnce(context.Background()))

	// A DB blip must not terminalize the invoice; the broker redelivers.
	got := f.reload(t, inv.ID)
	assert.Equal(t, invdomain.VerificationProcessing, got.VerificationStatus)
	assert.Equal(t, 0, f.adapter.callCount())
	assert.Empty(t, f.queue.DeadLetters())
	assert.Equal(t, 0, f.queue.DelayedCount())

	var entries []vdomain.DeadLetterEntry
	assert.NoError(t, f.db.Find(&entries).Error)
	assert.Empty(t, entries)
}

func TestProcessOverBudgetDeliveryParksWithoutSubmit(t *testing.T) {
	f := setup(t)
	inv := f.seedInvoice(t, invdomain.VerificationPending)
	f.publish(t, inv, 4)

	assert.NoError(t, f.worker.RunOnce(context.Background()))

	got := f.reload(t, inv.ID)
	assert.Equal(t, invdomain.VerificationFailed, got.VerificationStatus)
	assert.Equal(t, 0, f.adapter.callCount())
	assert.Len(t, f.queue.DeadLetters(), 1)
}

func TestProcessSkipsTerminalInvoice(t *testing.T) {
	f := setup(t, accepted("CSV999"))
	inv := f.seedInvoice(t, invdomain.VerificationAccepted)
	f.publish(t, inv, 0)

	assert.NoError(t, f.worker.RunOnce(context.Background()))

	// Duplicate delivery of a finished invoice is acked without a submit.
	assert.Equal(t, 0, f.adapter.callCount())
	got := f.reload(t, inv.ID)
	assert.Equal(t, invdomain.VerificationAccepted, got.VerificationStatus)
}

func TestProcessMissingInvoiceParks(t *testing.T) {
	f := setup(t)
	err := f.queue.Publish(context.Background(), vdomain.Message{
		InvoiceID:  f.node.Generate(),
		CompanyID:  f.company.ID,
		RetryCount: 0,
		EnqueuedAt: time.Now(),
	})
	assert.NoError(t, err)

	assert.NoError(t, f.worker.RunOnce(context.Background()))

	assert.Equal(t, 0, f.adapter.callCount())
	assert.Len(t, f.queue.DeadLetters(), 1)
}
