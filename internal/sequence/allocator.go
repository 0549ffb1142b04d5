// Package sequence allocates gap-free per-company invoice numbers.
//
// Counters reset each calendar year. Allocation happens inside the caller's
// transaction under a row-level write lock, so the number is only consumed
// when the invoice commits. A failed creation rolls the counter back with
// the rest of the transaction and no gap appears.
package sequence

import (
	"context"
	"sync"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "github.com/smallbiznis/facturo/internal/invoice/domain"
)

// Allocator hands out the next number for a (company, year) pair.
type Allocator struct {
	mu    sync.Mutex
	locks map[counterKey]*sync.Mutex
}

type counterKey struct {
	companyID snowflake.ID
	year      int
}

func NewAllocator() *Allocator {
	return &Allocator{locks: make(map[counterKey]*sync.Mutex)}
}

// Lock serializes in-process allocations for a (company, year) pair and
// returns the unlock func. Callers hold the lock for the full
// allocate-and-commit unit. The database row lock still guards against
// other processes.
func (a *Allocator) Lock(companyID snowflake.ID, year int) func() {
	a.mu.Lock()
	key := counterKey{companyID: companyID, year: year}
	l, ok := a.locks[key]
	if !ok {
		l = &sync.Mutex{}
		a.locks[key] = l
	}
	a.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Next increments and returns the counter for the pair inside tx, taking a
// FOR UPDATE lock on the counter row. The first allocation of a year creates
// the row and returns 1.
func (a *Allocator) Next(ctx context.Context, tx *gorm.DB, companyID snowflake.ID, year int) (int64, error) {
	var counter domain.SequenceCounter
	q := tx.WithContext(ctx)
	// sqlite has no FOR UPDATE; its single-writer model serializes anyway.
	if tx.Dialector.Name() != "sqlite" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	err := q.
		Where("company_id = ? AND year = ?", companyID, year).
		First(&counter).Error
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			return 0, err
		}
		counter = domain.SequenceCounter{CompanyID: companyID, Year: year, LastNumber: 0}
		if err := tx.WithContext(ctx).Create(&counter).Error; err != nil {
			return 0, err
		}
	}

	counter.LastNumber++
	if err := tx.WithContext(ctx).
		Model(&domain.SequenceCounter{}).
		Where("company_id = ? AND year = ?", companyID, year).
		Update("last_number", counter.LastNumber).Error; err != nil {
		return 0, err
	}
	return counter.LastNumber, nil
}
