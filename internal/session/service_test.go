package session

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"call-billing/internal/billing"
	"call-billing/internal/call"
)

var testBase = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	engine := billing.NewEngine(db, nil, billing.Config{}, nil)
	engine.SetClock(func() time.Time { return testBase })
	s := NewService(db, engine, nil)
	s.clock = func() time.Time { return testBase }
	return s, mock
}

func TestStart_RejectsInvalidArgs(t *testing.T) {
	s, _ := newTestService(t)

	cases := []StartRequest{
		{},
		{ConsumerID: "u1", ProviderID: "u1", RatePerMinute: 10, Channel: "ch"},
		{ConsumerID: "u1", ProviderID: "u2", RatePerMinute: 0, Channel: "ch"},
		{ConsumerID: "u1", ProviderID: "u2", RatePerMinute: -5, Channel: "ch"},
		{ConsumerID: "u1", ProviderID: "u2", RatePerMinute: 10},
	}
	for _, req := range cases {
		if _, err := s.Start(context.Background(), req); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument for %+v, got %v", req, err)
		}
	}
}

func TestStart_RequiresBalanceForFirstMinute(t *testing.T) {
	s, mock := newTestService(t)

	mock.ExpectQuery("SELECT user_id, balance").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "balance", "total_spent", "total_earned", "updated_at"}).
			AddRow("u1", int64(5), int64(0), int64(0), testBase))

	_, err := s.Start(context.Background(), StartRequest{
		ConsumerID: "u1", ProviderID: "u2", RatePerMinute: 10, Channel: "ch",
	})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStart_MissingBalanceRowCountsAsZero(t *testing.T) {
	s, mock := newTestService(t)

	mock.ExpectQuery("SELECT user_id, balance").
		WillReturnError(sql.ErrNoRows)

	_, err := s.Start(context.Background(), StartRequest{
		ConsumerID: "u1", ProviderID: "u2", RatePerMinute: 10, Channel: "ch",
	})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestStart_CreatesActiveCall(t *testing.T) {
	s, mock := newTestService(t)

	mock.ExpectQuery("SELECT user_id, balance").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "balance", "total_spent", "total_earned", "updated_at"}).
			AddRow("u1", int64(100), int64(0), int64(0), testBase))
	mock.ExpectExec("INSERT INTO calls").
		WillReturnResult(sqlmock.NewResult(0, 1))

	c, err := s.Start(context.Background(), StartRequest{
		ConsumerID: "u1", ProviderID: "u2", RatePerMinute: 10, Channel: "ch",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.ID == "" || c.Status != call.StatusActive || c.LastBilledMinute != 0 {
		t.Fatalf("unexpected call: %+v", c)
	}
	if !c.StartedAt.Equal(testBase) {
		t.Fatalf("expected startedAt %v, got %v", testBase, c.StartedAt)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestEnd_FinalizesThenTransitions(t *testing.T) {
	s, mock := newTestService(t)
	started := testBase.Add(-95 * time.Second)

	// Finalizer read: 95s elapsed, lastBilled=2, ceil(95/60)=2 → nothing owed.
	mock.ExpectQuery("end_reason, ended_at").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "consumer_id", "provider_id", "rate_per_minute", "channel", "started_at",
			"last_billed_minute", "last_heartbeat_at", "status", "end_reason", "ended_at",
			"duration_seconds", "created_at", "updated_at",
		}).AddRow("call-1", "u1", "u2", int64(10), "ch", started, 2, nil, "active", nil, nil, 0, started, started))

	// EndCall read + conditional transition.
	mock.ExpectQuery("end_reason, ended_at").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "consumer_id", "provider_id", "rate_per_minute", "channel", "started_at",
			"last_billed_minute", "last_heartbeat_at", "status", "end_reason", "ended_at",
			"duration_seconds", "created_at", "updated_at",
		}).AddRow("call-1", "u1", "u2", int64(10), "ch", started, 2, nil, "active", nil, nil, 0, started, started))
	mock.ExpectExec(`SET status = 'ended'`).
		WithArgs("call-1", "normal", sqlmock.AnyArg(), 95).
		WillReturnResult(sqlmock.NewResult(0, 1))

	res, err := s.End(context.Background(), "call-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Ended {
		t.Fatalf("expected call to end")
	}
	if res.Final.Outcome != billing.OutcomeNoBillingNeeded {
		t.Fatalf("expected no_billing_needed, got %s", res.Final.Outcome)
	}
	if res.Call.EndReason != call.EndReasonNormal {
		t.Fatalf("expected normal end, got %s", res.Call.EndReason)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestEnd_UnknownCall(t *testing.T) {
	s, mock := newTestService(t)

	mock.ExpectQuery("end_reason, ended_at").
		WillReturnError(sql.ErrNoRows)

	_, err := s.End(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
