package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"clinicdesk/internal/models"
	"clinicdesk/internal/queue"
	"clinicdesk/internal/store"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	return NewStore(mock), mock
}

func visitRowColumns() []string {
	return []string{
		"visit_id", "request_id", "profile_id", "name", "phone", "reason", "age", "status",
		"order_key", "sent_to_payment_at", "required_amount", "amount_paid",
		"services_rendered", "custom_line_items", "show_details_to_public", "created_at", "visit_date",
	}
}

func visitRow(mock pgxmock.PgxPoolIface, id, status string, orderKey float64, createdAt time.Time) *pgxmock.Rows {
	return mock.NewRows(visitRowColumns()).AddRow(
		id, "44444444-4444-4444-4444-444444444444", nil, "Amira", "0100000000", "checkup", 30,
		status, orderKey, nil, int64(0), int64(0), []byte(nil), []byte(nil), false, createdAt, createdAt,
	)
}

func TestInitSchema(t *testing.T) {
	s, mock := newMockStore(t)
	defer mock.Close()

	for range schemaStatements {
		mock.ExpectExec("CREATE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	}

	if err := s.InitSchema(context.Background()); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateVisitIdempotent(t *testing.T) {
	s, mock := newMockStore(t)
	defer mock.Close()

	createdAt := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery("FROM visits WHERE request_id").
		WithArgs("44444444-4444-4444-4444-444444444444").
		WillReturnRows(visitRow(mock, "v1", models.StatusWaiting, 100, createdAt))
	mock.ExpectCommit()

	visit, created, err := s.CreateVisit(context.Background(), store.CreateVisitInput{
		RequestID: "44444444-4444-4444-4444-444444444444",
		Name:      "Amira",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created {
		t.Fatal("replayed request must not create a second visit")
	}
	if visit.VisitID != "v1" {
		t.Fatalf("visit_id=%s, want v1", visit.VisitID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateVisitNewPatient(t *testing.T) {
	s, mock := newMockStore(t)
	defer mock.Close()

	createdAt := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery("FROM visits WHERE request_id").
		WithArgs("44444444-4444-4444-4444-444444444444").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("FROM patient_profiles WHERE phone").
		WithArgs("0100000000").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("FROM patient_profiles WHERE name").
		WithArgs("Amira").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec("INSERT INTO patient_profiles").
		WithArgs(pgxmock.AnyArg(), "Amira", "0100000000", 30, createdAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO visits").
		WithArgs(pgxmock.AnyArg(), "44444444-4444-4444-4444-444444444444", pgxmock.AnyArg(),
			"Amira", "0100000000", "checkup", 30, models.StatusWaiting,
			float64(createdAt.UnixMilli()), false, createdAt, createdAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO outbox_events").
		WithArgs(pgxmock.AnyArg(), "visit.created", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	visit, created, err := s.CreateVisit(context.Background(), store.CreateVisitInput{
		RequestID: "44444444-4444-4444-4444-444444444444",
		Name:      "Amira",
		Phone:     "0100000000",
		Reason:    "checkup",
		Age:       30,
		CreatedAt: createdAt,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !created {
		t.Fatal("expected a new visit")
	}
	if visit.Status != models.StatusWaiting {
		t.Fatalf("status=%s, want waiting", visit.Status)
	}
	if visit.OrderKey != float64(createdAt.UnixMilli()) {
		t.Fatalf("order_key=%v, want creation time in ms", visit.OrderKey)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateVisitLostInsertRace(t *testing.T) {
	s, mock := newMockStore(t)
	defer mock.Close()

	createdAt := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery("FROM visits WHERE request_id").
		WithArgs("44444444-4444-4444-4444-444444444444").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("FROM patient_profiles WHERE name").
		WithArgs("Amira").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec("INSERT INTO patient_profiles").
		WithArgs(pgxmock.AnyArg(), "Amira", "", 0, createdAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	// A concurrent replay commits the same request id between the lookup
	// and the insert: DO NOTHING affects zero rows.
	mock.ExpectExec("INSERT INTO visits").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery("FROM visits WHERE request_id").
		WithArgs("44444444-4444-4444-4444-444444444444").
		WillReturnRows(visitRow(mock, "winner", models.StatusWaiting, 100, createdAt))
	mock.ExpectCommit()

	visit, created, err := s.CreateVisit(context.Background(), store.CreateVisitInput{
		RequestID: "44444444-4444-4444-4444-444444444444",
		Name:      "Amira",
		CreatedAt: createdAt,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created {
		t.Fatal("losing the insert race must not report a new visit")
	}
	if visit.VisitID != "winner" {
		t.Fatalf("visit_id=%s, want the winner's row", visit.VisitID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestApplyTransitionSendToPayment(t *testing.T) {
	s, mock := newMockStore(t)
	defer mock.Close()

	createdAt := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	sentAt := createdAt.Add(time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM visits WHERE visit_id = .+ FOR UPDATE").
		WithArgs("v1").
		WillReturnRows(visitRow(mock, "v1", models.StatusInProgress, 100, createdAt))
	mock.ExpectQuery("WHERE status = .+ AND visit_id <>").
		WithArgs(models.StatusInProgress, "v1").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec("UPDATE visits SET status").
		WithArgs(models.StatusPendingPayment, pgxmock.AnyArg(), int64(35000), int64(0),
			pgxmock.AnyArg(), pgxmock.AnyArg(), "v1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO outbox_events").
		WithArgs(pgxmock.AnyArg(), "visit.updated", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	visit, err := s.ApplyTransition(context.Background(), store.TransitionInput{
		VisitID:          "v1",
		Action:           queue.ActionSendToPayment,
		RequiredAmount:   35000,
		ServicesRendered: []string{"consultation"},
		OccurredAt:       sentAt,
	})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if visit.Status != models.StatusPendingPayment {
		t.Fatalf("status=%s, want pending_payment", visit.Status)
	}
	if visit.SentToPaymentAt == nil || !visit.SentToPaymentAt.Equal(sentAt) {
		t.Fatalf("sent_to_payment_at=%v, want %v", visit.SentToPaymentAt, sentAt)
	}
	if visit.RequiredAmount != 35000 {
		t.Fatalf("required_amount=%d, want 35000", visit.RequiredAmount)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestApplyTransitionStartRejectedWhenOccupied(t *testing.T) {
	s, mock := newMockStore(t)
	defer mock.Close()

	createdAt := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery("FROM visits WHERE visit_id = .+ FOR UPDATE").
		WithArgs("v2").
		WillReturnRows(visitRow(mock, "v2", models.StatusWaiting, 200, createdAt))
	mock.ExpectQuery("WHERE status = .+ AND visit_id <>").
		WithArgs(models.StatusInProgress, "v2").
		WillReturnRows(visitRow(mock, "v1", models.StatusInProgress, 100, createdAt))
	mock.ExpectRollback()

	_, err := s.ApplyTransition(context.Background(), store.TransitionInput{
		VisitID: "v2",
		Action:  queue.ActionStart,
	})
	if !errors.Is(err, queue.ErrInProgressBusy) {
		t.Fatalf("expected ErrInProgressBusy, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestApplyTransitionStartEvictsOccupant(t *testing.T) {
	s, mock := newMockStore(t)
	defer mock.Close()

	createdAt := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery("FROM visits WHERE visit_id = .+ FOR UPDATE").
		WithArgs("v2").
		WillReturnRows(visitRow(mock, "v2", models.StatusWaiting, 200, createdAt))
	mock.ExpectQuery("WHERE status = .+ AND visit_id <>").
		WithArgs(models.StatusInProgress, "v2").
		WillReturnRows(visitRow(mock, "v1", models.StatusInProgress, 100, createdAt))
	// Occupant finished first, then the callee promoted.
	mock.ExpectExec("UPDATE visits SET status").
		WithArgs(models.StatusDone, pgxmock.AnyArg(), int64(0), int64(0),
			pgxmock.AnyArg(), pgxmock.AnyArg(), "v1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO outbox_events").
		WithArgs(pgxmock.AnyArg(), "visit.updated", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE visits SET status").
		WithArgs(models.StatusInProgress, pgxmock.AnyArg(), int64(0), int64(0),
			pgxmock.AnyArg(), pgxmock.AnyArg(), "v2").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO outbox_events").
		WithArgs(pgxmock.AnyArg(), "visit.updated", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	visit, err := s.ApplyTransition(context.Background(), store.TransitionInput{
		VisitID:     "v2",
		Action:      queue.ActionStart,
		EvictAction: queue.ActionFinish,
	})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if visit.Status != models.StatusInProgress {
		t.Fatalf("status=%s, want in_progress", visit.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestReorderVisitHeadDrop(t *testing.T) {
	s, mock := newMockStore(t)
	defer mock.Close()

	createdAt := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery("FROM visits WHERE visit_id = .+ FOR UPDATE").
		WithArgs("m").
		WillReturnRows(visitRow(mock, "m", models.StatusWaiting, 5000, createdAt))
	mock.ExpectQuery("FROM visits WHERE visit_id = .+ FOR UPDATE").
		WithArgs("h").
		WillReturnRows(visitRow(mock, "h", models.StatusWaiting, 200, createdAt))
	waiting := mock.NewRows(visitRowColumns()).
		AddRow("h", "44444444-4444-4444-4444-444444444441", nil, "Head", "", "", 0,
			models.StatusWaiting, float64(200), nil, int64(0), int64(0), []byte(nil), []byte(nil), false, createdAt, createdAt).
		AddRow("m", "44444444-4444-4444-4444-444444444442", nil, "Moved", "", "", 0,
			models.StatusWaiting, float64(5000), nil, int64(0), int64(0), []byte(nil), []byte(nil), false, createdAt, createdAt)
	mock.ExpectQuery("WHERE status = .+ AND visit_date = CURRENT_DATE").
		WithArgs(models.StatusWaiting).
		WillReturnRows(waiting)
	mock.ExpectExec("UPDATE visits SET order_key").
		WithArgs(float64(200-queue.HeadGap/2), "m").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO outbox_events").
		WithArgs(pgxmock.AnyArg(), "visit.reordered", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	visit, moved, err := s.ReorderVisit(context.Background(), store.ReorderInput{
		VisitID:       "m",
		TargetVisitID: "h",
	})
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if !moved {
		t.Fatal("expected a move")
	}
	if visit.OrderKey != float64(200-queue.HeadGap/2) {
		t.Fatalf("order_key=%v, want %v", visit.OrderKey, 200-queue.HeadGap/2)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDeleteVisitRejectsTerminal(t *testing.T) {
	s, mock := newMockStore(t)
	defer mock.Close()

	createdAt := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery("FROM visits WHERE visit_id = .+ FOR UPDATE").
		WithArgs("v1").
		WillReturnRows(visitRow(mock, "v1", models.StatusDone, 100, createdAt))
	mock.ExpectRollback()

	err := s.DeleteVisit(context.Background(), "v1")
	if !errors.Is(err, store.ErrTerminalVisit) {
		t.Fatalf("expected ErrTerminalVisit, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetVisitNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	defer mock.Close()

	mock.ExpectQuery("FROM visits WHERE visit_id").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, found, err := s.GetVisit(context.Background(), "missing")
	if found {
		t.Fatal("missing visit reported found")
	}
	if !errors.Is(err, store.ErrVisitNotFound) {
		t.Fatalf("expected ErrVisitNotFound, got %v", err)
	}
}
