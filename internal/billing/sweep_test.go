package billing

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func activeListColumns() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "consumer_id", "provider_id", "rate_per_minute", "channel", "started_at",
		"last_billed_minute", "last_heartbeat_at",
	})
}

func TestProcessActiveCalls_CatchesUpLateSweep(t *testing.T) {
	e, mock, n := newTestEngine(t)

	// Sweep missed three cycles: 3.5 minutes elapsed, nothing billed yet.
	// Current minute is floor(210/60)+1 = 4; minutes 1..4 settle in order.
	started := testBase.Add(-210 * time.Second)
	heartbeat := testBase.Add(-10 * time.Second)

	mock.ExpectQuery(`WHERE status = 'active'`).
		WillReturnRows(activeListColumns().
			AddRow("call-1", "consumer-1", "provider-1", int64(10), "ch-1", started, 0, heartbeat))

	for i := 1; i <= 4; i++ {
		expectSettledMinute(mock, "call-1", started, 10, int64(100-10*i), int64(10*i))
	}

	s, err := e.ProcessActiveCalls(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Processed != 1 || s.Billed != 4 || s.Insufficient != 0 || s.TimedOut != 0 {
		t.Fatalf("unexpected summary: %+v", s)
	}
	if len(s.Errors) != 0 {
		t.Fatalf("expected no errors, got %+v", s.Errors)
	}
	if len(n.events) != 4 {
		t.Fatalf("expected 4 minute_billed notifications, got %d", len(n.events))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestProcessActiveCalls_TimeoutBillsWholeMinutesAndEnds(t *testing.T) {
	e, mock, n := newTestEngine(t)

	// 185s elapsed, heartbeat 130s stale (> 120s window): bill whole elapsed
	// minutes 1..3, then end with reason timeout. The in-progress 4th minute
	// is not billed.
	started := testBase.Add(-185 * time.Second)
	heartbeat := testBase.Add(-130 * time.Second)

	mock.ExpectQuery(`WHERE status = 'active'`).
		WillReturnRows(activeListColumns().
			AddRow("call-1", "consumer-1", "provider-1", int64(10), "ch-1", started, 0, heartbeat))

	for i := 1; i <= 3; i++ {
		expectSettledMinute(mock, "call-1", started, 10, int64(100-10*i), int64(10*i))
	}

	mock.ExpectQuery("end_reason, ended_at").
		WillReturnRows(activeCallRow("call-1", started, 3))
	mock.ExpectExec(`SET status = 'ended'`).
		WithArgs("call-1", "timeout", testBase, 185).
		WillReturnResult(sqlmock.NewResult(0, 1))

	s, err := e.ProcessActiveCalls(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Processed != 1 || s.Billed != 3 || s.TimedOut != 1 {
		t.Fatalf("unexpected summary: %+v", s)
	}

	last := n.events[len(n.events)-1]
	if last.event != EventCallTimeout {
		t.Fatalf("expected call_timeout as final notification, got %s", last.event)
	}
	if got := last.payload["minutes_billed"]; got != 3 {
		t.Fatalf("expected 3 minutes billed in payload, got %v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestProcessActiveCalls_NeverHeartbeatedMeasuresFromStart(t *testing.T) {
	e, mock, _ := newTestEngine(t)

	// No heartbeat was ever received and the call started 121s ago: stale.
	// Two whole minutes elapsed while live; both bill, then the call ends.
	started := testBase.Add(-121 * time.Second)

	mock.ExpectQuery(`WHERE status = 'active'`).
		WillReturnRows(activeListColumns().
			AddRow("call-1", "consumer-1", "provider-1", int64(10), "ch-1", started, 0, nil))

	for i := 1; i <= 2; i++ {
		expectSettledMinute(mock, "call-1", started, 10, int64(100-10*i), int64(10*i))
	}
	mock.ExpectQuery("end_reason, ended_at").
		WillReturnRows(activeCallRow("call-1", started, 2))
	mock.ExpectExec(`SET status = 'ended'`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	s, err := e.ProcessActiveCalls(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.TimedOut != 1 || s.Billed != 2 {
		t.Fatalf("unexpected summary: %+v", s)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestProcessActiveCalls_InsufficientFundsStopsTheCall(t *testing.T) {
	e, mock, n := newTestEngine(t)

	// Scenario from the wallet's point of view: rate 10, payer has 5 left.
	// First unbilled minute fails, the call ends, no further minutes are
	// attempted even though more have elapsed.
	started := testBase.Add(-150 * time.Second)
	heartbeat := testBase.Add(-5 * time.Second)

	mock.ExpectQuery(`WHERE status = 'active'`).
		WillReturnRows(activeListColumns().
			AddRow("call-1", "consumer-1", "provider-1", int64(10), "ch-1", started, 2, heartbeat))

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE calls\s+SET last_billed_minute`).
		WillReturnRows(claimColumns().AddRow("call-1", "consumer-1", "provider-1", int64(10), "ch-1", started))
	mock.ExpectQuery(`SET balance = balance -`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT user_id, balance").
		WillReturnRows(balanceColumns().AddRow("consumer-1", int64(5), int64(20), int64(0), testBase))
	mock.ExpectRollback()

	mock.ExpectQuery("end_reason, ended_at").
		WillReturnRows(activeCallRow("call-1", started, 2))
	mock.ExpectExec(`SET status = 'ended'`).
		WithArgs("call-1", "insufficient_funds", testBase, 150).
		WillReturnResult(sqlmock.NewResult(0, 1))

	s, err := e.ProcessActiveCalls(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Processed != 1 || s.Billed != 0 || s.Insufficient != 1 {
		t.Fatalf("unexpected summary: %+v", s)
	}
	if len(n.events) != 1 || n.events[0].event != EventInsufficientFunds {
		t.Fatalf("expected insufficient_funds notification, got %+v", n.events)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestProcessActiveCalls_IsolatesPerCallFailures(t *testing.T) {
	e, mock, _ := newTestEngine(t)

	started := testBase.Add(-70 * time.Second)
	heartbeat := testBase.Add(-5 * time.Second)

	mock.ExpectQuery(`WHERE status = 'active'`).
		WillReturnRows(activeListColumns().
			AddRow("bad-call", "consumer-1", "provider-1", int64(10), "ch-1", started, 0, heartbeat).
			AddRow("good-call", "consumer-2", "provider-2", int64(10), "ch-2", started, 1, heartbeat))

	// First call hits a transient store failure mid-claim.
	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE calls\s+SET last_billed_minute`).
		WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	// Second call bills its one elapsed-but-unclaimed minute normally.
	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE calls\s+SET last_billed_minute`).
		WillReturnRows(claimColumns().AddRow("good-call", "consumer-2", "provider-2", int64(10), "ch-2", started))
	mock.ExpectQuery(`SET balance = balance -`).
		WillReturnRows(balanceColumns().AddRow("consumer-2", int64(40), int64(10), int64(0), testBase))
	mock.ExpectQuery(`SET balance = balance \+`).
		WillReturnRows(balanceColumns().AddRow("provider-2", int64(10), int64(0), int64(10), testBase))
	mock.ExpectExec("INSERT INTO ledger_transactions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO ledger_transactions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	s, err := e.ProcessActiveCalls(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Processed != 2 || s.Billed != 1 {
		t.Fatalf("unexpected summary: %+v", s)
	}
	if len(s.Errors) != 1 || s.Errors[0].CallID != "bad-call" {
		t.Fatalf("expected one isolated error for bad-call, got %+v", s.Errors)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestProcessActiveCalls_AlreadyBilledMinutesAreSkipped(t *testing.T) {
	e, mock, _ := newTestEngine(t)

	// A concurrent sweeper settled minute 1 between our listing and claim:
	// the claim loses, the loop moves on to minute 2 and settles it.
	started := testBase.Add(-90 * time.Second)
	heartbeat := testBase.Add(-5 * time.Second)

	mock.ExpectQuery(`WHERE status = 'active'`).
		WillReturnRows(activeListColumns().
			AddRow("call-1", "consumer-1", "provider-1", int64(10), "ch-1", started, 0, heartbeat))

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE calls\s+SET last_billed_minute`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT status, last_billed_minute").
		WillReturnRows(sqlmock.NewRows([]string{"status", "last_billed_minute"}).AddRow("active", 1))
	mock.ExpectCommit()

	expectSettledMinute(mock, "call-1", started, 10, 80, 20)

	s, err := e.ProcessActiveCalls(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Billed != 1 {
		t.Fatalf("expected exactly one newly billed minute, got %+v", s)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
