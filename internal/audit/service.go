package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// No Update/Delete methods are provided by design.

type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service logs internal audit information.
//
// IMPORTANT:
// - Audit is internal-only. Do not expose these records to end users by default.
// - Callers should treat audit logging as best-effort.

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

// LogAdminAction records an admin action (including hidden roles).
func (s *Service) LogAdminAction(ctx context.Context, actorUserID, actorRole, ip, message, targetUserID string, metadata string) error {
	return s.Append(ctx, Event{
		Type:        EventTypeAdminAction,
		ActorUserID: actorUserID,
		ActorRole:   actorRole,
		IPAddress:   ip,
		UserID:      targetUserID,
		Message:     message,
		Metadata:    metadata,
	})
}

// LogManualCredit records an operator credit to a user balance.
func (s *Service) LogManualCredit(ctx context.Context, actorUserID, actorRole, ip, targetUserID string, amountMinor int64, key string) error {
	return s.Append(ctx, Event{
		Type:        EventTypeCredit,
		ActorUserID: actorUserID,
		ActorRole:   actorRole,
		IPAddress:   ip,
		UserID:      targetUserID,
		Message:     "balance credited",
		Metadata:    fmt.Sprintf(`{"amount_minor":%d,"credit_key":%q}`, amountMinor, key),
	})
}

// LogCallEnded records a terminal call transition. Failures are swallowed;
// the billing engine must not block on the audit trail.
func (s *Service) LogCallEnded(ctx context.Context, callID, reason string, durationSeconds int) {
	_ = s.Append(ctx, Event{
		Type:     EventTypeCallEnded,
		CallID:   callID,
		Message:  "call ended: " + reason,
		Metadata: fmt.Sprintf(`{"reason":%q,"duration_seconds":%d}`, reason, durationSeconds),
	})
}
