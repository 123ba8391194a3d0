package reporting

import (
	"context"
	"sync"
	"time"

	"call-billing/internal/call"
	"call-billing/internal/ledger"
)

// MemoryRepo is a simple in-memory reporting repository for tests and early development.

type MemoryRepo struct {
	mu sync.Mutex

	Calls   []call.Call
	Entries []ledger.Transaction
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) ListCalls(ctx context.Context, from, to time.Time, channel string) ([]call.Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]call.Call, 0)
	for _, c := range r.Calls {
		if !c.StartedAt.IsZero() {
			if c.StartedAt.Before(from) || !c.StartedAt.Before(to) {
				continue
			}
		}
		if channel != "" && c.Channel != channel {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *MemoryRepo) ListLedger(ctx context.Context, from, to time.Time, userID string) ([]ledger.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ledger.Transaction, 0)
	for _, e := range r.Entries {
		if !e.CreatedAt.IsZero() {
			if e.CreatedAt.Before(from) || !e.CreatedAt.Before(to) {
				continue
			}
		}
		if userID != "" && e.UserID != userID {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
