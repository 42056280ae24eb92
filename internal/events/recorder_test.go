package events

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/ignite/newsletter-engine/internal/domain"
)

func newMockRecorder(t *testing.T) (*Recorder, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return NewRecorder(db), mock
}

func TestRecordMarshalsPayload(t *testing.T) {
	r, mock := newMockRecorder(t)

	mock.ExpectExec("INSERT INTO campaign_events").
		WithArgs(sqlmock.AnyArg(), "nl-1", "send_requested",
			[]byte(`{"idempotency_key":"abc","provider":"postmark"}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := r.Record(context.Background(), "nl-1", domain.EventSendRequested,
		domain.SendPayload{IdempotencyKey: "abc", Provider: domain.ProviderPostmark})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRecordNilPayload(t *testing.T) {
	r, mock := newMockRecorder(t)

	mock.ExpectExec("INSERT INTO campaign_events").
		WithArgs(sqlmock.AnyArg(), "nl-1", "send_completed", []byte("{}")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := r.Record(context.Background(), "nl-1", domain.EventSendCompleted, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLatestSendEventByKeyNotFound(t *testing.T) {
	r, mock := newMockRecorder(t)

	mock.ExpectQuery("SELECT(.|\n)+FROM campaign_events").
		WithArgs("nl-1", sqlmock.AnyArg(), "no-such-key").
		WillReturnRows(sqlmock.NewRows([]string{"id", "newsletter_id", "type", "payload", "created_at"}))

	e, err := r.LatestSendEventByKey(context.Background(), "nl-1", "no-such-key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e != nil {
		t.Errorf("expected nil event, got %+v", e)
	}
}

func TestLatestSendEventByKey(t *testing.T) {
	r, mock := newMockRecorder(t)

	mock.ExpectQuery("SELECT(.|\n)+FROM campaign_events").
		WithArgs("nl-1", sqlmock.AnyArg(), "key-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "newsletter_id", "type", "payload", "created_at"}).
			AddRow("ev-1", "nl-1", "send_completed", []byte(`{"idempotency_key":"key-1"}`), time.Now()))

	e, err := r.LatestSendEventByKey(context.Background(), "nl-1", "key-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e == nil || e.Type != domain.EventSendCompleted {
		t.Errorf("event = %+v, want send_completed", e)
	}
}
