package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/smallbiznis/facturo/internal/invoice/domain"
)

type repo struct {
	db *gorm.DB
}

func New(db *gorm.DB) domain.Repository {
	return &repo{db: db}
}

func (r *repo) LoadInvoice(ctx context.Context, id snowflake.ID) (*domain.Invoice, error) {
	var inv domain.Invoice
	err := r.db.WithContext(ctx).
		Preload("Lines").
		Where("id = ?", id).
		First(&inv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("load invoice: %w", err)
	}
	return &inv, nil
}

func (r *repo) SaveInvoice(ctx context.Context, tx *gorm.DB, inv *domain.Invoice) error {
	if err := tx.WithContext(ctx).Create(inv).Error; err != nil {
		return fmt.Errorf("save invoice: %w", err)
	}
	return nil
}

func (r *repo) ListByCompany(ctx context.Context, companyID snowflake.ID) ([]domain.Invoice, error) {
	var invoices []domain.Invoice
	err := r.db.WithContext(ctx).
		Preload("Lines").
		Where("company_id = ?", companyID).
		Order("created_at DESC, id DESC").
		Find(&invoices).Error
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	return invoices, nil
}

func (r *repo) LoadLastInvoice(ctx context.Context, tx *gorm.DB, companyID, excludingID snowflake.ID) (*domain.Invoice, error) {
	var inv domain.Invoice
	err := tx.WithContext(ctx).
		Where("company_id = ? AND id <> ?", companyID, excludingID).
		Order("created_at DESC, id DESC").
		First(&inv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load last invoice: %w", err)
	}
	return &inv, nil
}

func (r *repo) CountLinkedTo(ctx context.Context, tx *gorm.DB, companyID snowflake.ID, previousHash string) (int64, error) {
	var count int64
	err := tx.WithContext(ctx).
		Model(&domain.Invoice{}).
		Where("company_id = ? AND previous_hash = ?", companyID, previousHash).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count chain links: %w", err)
	}
	return count, nil
}

func (r *repo) LoadCompany(ctx context.Context, id snowflake.ID) (*domain.Company, error) {
	var company domain.Company
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&company).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrCompanyNotFound
		}
		return nil, fmt.Errorf("load company: %w", err)
	}
	return &company, nil
}

func (r *repo) LoadClient(ctx context.Context, id snowflake.ID) (*domain.Client, error) {
	var client domain.Client
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&client).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrClientNotFound
		}
		return nil, fmt.Errorf("load client: %w", err)
	}
	return &client, nil
}

func (r *repo) SaveCompany(ctx context.Context, c *domain.Company) error {
	if err := r.db.WithContext(ctx).Create(c).Error; err != nil {
		return fmt.Errorf("save company: %w", err)
	}
	return nil
}

func (r *repo) SaveClient(ctx context.Context, c *domain.Client) error {
	if err := r.db.WithContext(ctx).Create(c).Error; err != nil {
		return fmt.Errorf("save client: %w", err)
	}
	return nil
}

func (r *repo) StuckInvoices(ctx context.Context, cutoffSeconds int, limit int) ([]domain.Invoice, error) {
	cutoff := time.Now().Add(-time.Duration(cutoffSeconds) * time.Second)
	var invoices []domain.Invoice
	err := r.db.WithContext(ctx).
		Where("verification_status IN ? AND updated_at < ?",
			[]domain.VerificationStatus{domain.VerificationPending, domain.VerificationProcessing},
			cutoff,
		).
		Order("updated_at ASC").
		Limit(limit).
		Find(&invoices).Error
	if err != nil {
		return nil, fmt.Errorf("list stuck invoices: %w", err)
	}
	return invoices, nil
}
