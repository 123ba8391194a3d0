package ledger

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"call-billing/pkg/utils"

	"github.com/google/uuid"
)

// Service provides read access to balances plus the manual credit path
// (top-ups, support adjustments).
//
// Money invariants:
// - No balance updates without a ledger entry
// - Ledger is append-only (immutable)
// - All money operations execute inside a DB transaction
//
// Settlement debits/credits do NOT go through this service; they are composed
// by the billing engine so the minute claim and both balance updates share
// one transaction.
type Service struct {
	db *sql.DB
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db, clock: time.Now}
}

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
)

type CreditRequest struct {
	AmountMinor    int64  `json:"amount_minor"`
	Reason         string `json:"reason"`
	IdempotencyKey string `json:"idempotency_key"`
}

func (s *Service) GetBalance(ctx context.Context, userID string) (Balance, error) {
	if userID == "" {
		return Balance{}, ErrInvalidArgument
	}
	return GetBalance(ctx, s.db, userID)
}

func (s *Service) ListTransactions(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	if userID == "" {
		return nil, ErrInvalidArgument
	}
	return ListTransactionsByUser(ctx, s.db, userID, limit)
}

// ManualCredit credits a user's balance, creating the balance row if needed.
// Idempotent on the caller-supplied key: a replay returns the original entry
// and the current balance without posting again.
func (s *Service) ManualCredit(ctx context.Context, userID string, req CreditRequest) (Transaction, Balance, error) {
	if userID == "" || req.IdempotencyKey == "" || req.Reason == "" {
		return Transaction{}, Balance{}, ErrInvalidArgument
	}
	if req.AmountMinor <= 0 {
		return Transaction{}, Balance{}, ErrInvalidArgument
	}

	now := s.clock().UTC()
	key := AdminCreditKey(req.IdempotencyKey)

	var outTxn Transaction
	var outBal Balance

	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		if existing, ok, err := findTransactionByKey(ctx, tx, key); err != nil {
			return err
		} else if ok {
			outTxn = existing
			b, err := GetBalanceTx(ctx, tx, userID)
			if err != nil {
				return err
			}
			outBal = b
			return nil
		}

		before := int64(0)
		if b, err := GetBalanceTx(ctx, tx, userID); err == nil {
			before = b.BalanceMinor
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}

		b, err := CreditUpsert(ctx, tx, userID, req.AmountMinor, now)
		if err != nil {
			return err
		}

		entry := Transaction{
			ID:                 uuid.NewString(),
			TransactionKey:     key,
			UserID:             userID,
			Direction:          DirectionEarn,
			AmountMinor:        req.AmountMinor,
			BalanceBeforeMinor: before,
			BalanceAfterMinor:  b.BalanceMinor,
			GroupID:            uuid.NewString(),
			CreatedAt:          now,
		}
		if _, err := InsertTransaction(ctx, tx, entry); err != nil {
			return err
		}

		outTxn = entry
		outBal = b
		return nil
	})

	return outTxn, outBal, err
}
