package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/ignite/newsletter-engine/internal/domain"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db), mock
}

var newsletterRows = []string{
	"id", "client_id", "title", "status", "subject", "preview_text",
	"from_email", "reply_to", "html_content", "provider", "audience_tag",
	"expected_send_date", "scheduled_at", "sent_at", "send_date",
	"open_change_requests", "created_at", "updated_at",
}

func TestGetNewsletterNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT(.|\n)+FROM newsletters WHERE id").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(newsletterRows))

	_, err := s.GetNewsletter(context.Background(), "missing")
	if !errors.Is(err, ErrNewsletterNotFound) {
		t.Errorf("err = %v, want ErrNewsletterNotFound", err)
	}
}

func TestGetNewsletter(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()
	mock.ExpectQuery("SELECT(.|\n)+FROM newsletters WHERE id").
		WithArgs("nl-1").
		WillReturnRows(sqlmock.NewRows(newsletterRows).AddRow(
			"nl-1", "client-1", "March issue", "approved", "Hello", "",
			"news@acme.example", "reply@acme.example", "<p>hi</p>", "postmark", "all",
			nil, nil, nil, nil, 0, now, now,
		))

	n, err := s.GetNewsletter(context.Background(), "nl-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.Status != domain.StatusApproved {
		t.Errorf("status = %s, want approved", n.Status)
	}
	if n.Provider != domain.ProviderPostmark {
		t.Errorf("provider = %s, want postmark", n.Provider)
	}
}

func TestListDueScheduled(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()
	sched := now.Add(-10 * time.Minute)
	mock.ExpectQuery("SELECT(.|\n)+FROM newsletters(.|\n)+status = 'scheduled'").
		WithArgs(sqlmock.AnyArg(), 25).
		WillReturnRows(sqlmock.NewRows(newsletterRows).AddRow(
			"nl-1", "client-1", "Weekly", "scheduled", "Subj", "",
			"a@b.example", "r@b.example", "<p>x</p>", "postmark", "all",
			nil, sched, nil, nil, 0, now, now,
		))

	due, err := s.ListDueScheduled(context.Background(), now, 25)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(due) != 1 || due[0].ID != "nl-1" {
		t.Errorf("due = %+v, want one row nl-1", due)
	}
}

func TestGetClientParsesProviders(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT(.|\n)+FROM clients WHERE id").
		WithArgs("client-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "name", "domain", "default_provider", "enabled_providers", "sender_verified",
		}).AddRow("client-1", "Acme", "acme.example", "postmark",
			"{postmark,html_export,bogus}", true))

	c, err := s.GetClient(context.Background(), "client-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(c.EnabledProviders) != 2 {
		t.Errorf("enabled providers = %v, unknown values must be dropped", c.EnabledProviders)
	}
	if !c.ProviderEnabled(domain.ProviderHTMLExport) {
		t.Error("html_export should be enabled")
	}
	if c.ProviderEnabled(domain.ProviderMailchimp) {
		t.Error("mailchimp should not be enabled")
	}
}

func TestSaveLifecycleNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("UPDATE newsletters").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.SaveLifecycle(context.Background(), &domain.Newsletter{ID: "missing", Status: domain.StatusApproved})
	if !errors.Is(err, ErrNewsletterNotFound) {
		t.Errorf("err = %v, want ErrNewsletterNotFound", err)
	}
}
