package audience

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestResolveNormalizesEmptyTag(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT(.|\n)+FROM contacts").
		WithArgs("client-1", "suppressed", "all").
		WillReturnRows(sqlmock.NewRows([]string{"id", "client_id", "email", "first_name", "last_name", "tags"}).
			AddRow("c-1", "client-1", "a@x.example", "Ada", "L", "{all}"))

	contacts, err := NewResolver(db).Resolve(context.Background(), "client-1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contacts) != 1 || contacts[0].Email != "a@x.example" {
		t.Errorf("contacts = %+v", contacts)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("empty tag should resolve as 'all': %v", err)
	}
}

func TestResolvePassesTagThrough(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT(.|\n)+FROM contacts").
		WithArgs("client-1", "suppressed", "vip").
		WillReturnRows(sqlmock.NewRows([]string{"id", "client_id", "email", "first_name", "last_name", "tags"}))

	contacts, err := NewResolver(db).Resolve(context.Background(), "client-1", "vip")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contacts) != 0 {
		t.Errorf("expected empty audience, got %d", len(contacts))
	}
}

func TestCount(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT COUNT(.|\n)+FROM contacts").
		WithArgs("client-1", "suppressed", "vip").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	count, err := NewResolver(db).Count(context.Background(), "client-1", "vip")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 7 {
		t.Errorf("count = %d, want 7", count)
	}
}
