package queue

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	domain "github.com/smallbiznis/facturo/internal/verification/domain"
)

// MemoryQueue is an in-process queue with the same delivery semantics as the
// Redis backend: unacked deliveries stay claimable, delayed messages become
// visible once due. Used in tests and single-node setups without Redis.
type MemoryQueue struct {
	mu       sync.Mutex
	nextID   int
	ready    []memoryEntry
	delayed  []delayedEntry
	inflight map[string]memoryEntry
	dead     []domain.Delivery
	reasons  []string
}

type memoryEntry struct {
	id      string
	payload string
}

type delayedEntry struct {
	entry memoryEntry
	due   time.Time
}

func NewMemory() *MemoryQueue {
	return &MemoryQueue{inflight: make(map[string]memoryEntry)}
}

func (q *MemoryQueue) Publish(_ context.Context, msg domain.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ready = append(q.ready, q.newEntry(string(payload)))
	return nil
}

func (q *MemoryQueue) PublishDelayed(ctx context.Context, msg domain.Message, delay time.Duration) error {
	if delay <= 0 {
		return q.Publish(ctx, msg)
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.delayed = append(q.delayed, delayedEntry{
		entry: q.newEntry(string(payload)),
		due:   time.Now().Add(delay),
	})
	return nil
}

func (q *MemoryQueue) Dequeue(_ context.Context, max int) ([]domain.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	remaining := q.delayed[:0]
	for _, d := range q.delayed {
		if d.due.After(now) {
			remaining = append(remaining, d)
			continue
		}
		q.ready = append(q.ready, d.entry)
	}
	q.delayed = remaining

	var out []domain.Delivery
	for len(q.ready) > 0 && len(out) < max {
		entry := q.ready[0]
		q.ready = q.ready[1:]

		var msg domain.Message
		if err := json.Unmarshal([]byte(entry.payload), &msg); err != nil || msg.InvoiceID == 0 {
			continue
		}
		q.inflight[entry.id] = entry
		out = append(out, domain.Delivery{ID: entry.id, Message: msg, Payload: entry.payload})
	}
	return out, nil
}

func (q *MemoryQueue) Ack(_ context.Context, d domain.Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, d.ID)
	return nil
}

func (q *MemoryQueue) DeadLetter(ctx context.Context, d domain.Delivery, reason string) error {
	q.mu.Lock()
	q.dead = append(q.dead, d)
	q.reasons = append(q.reasons, reason)
	q.mu.Unlock()
	return q.Ack(ctx, d)
}

// DeadLetters returns parked deliveries, oldest first.
func (q *MemoryQueue) DeadLetters() []domain.Delivery {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]domain.Delivery, len(q.dead))
	copy(out, q.dead)
	return out
}

// DelayedCount reports messages waiting on backoff.
func (q *MemoryQueue) DelayedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.delayed)
}

func (q *MemoryQueue) newEntry(payload string) memoryEntry {
	q.nextID++
	return memoryEntry{id: "m-" + strconv.Itoa(q.nextID), payload: payload}
}
