package migrate

import (
	"context"
	"io/fs"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"socialauth/migrations"
)

const regclassQuery = "SELECT to_regclass($1) IS NOT NULL"

func TestTableExists(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(regclassQuery)).
		WithArgs("accounts").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(regexp.QuoteMeta(regclassQuery)).
		WithArgs("auth.accounts").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	exists, err := tableExists(context.Background(), db, "accounts")
	if err != nil || !exists {
		t.Fatalf("expected table to exist, got %v %v", exists, err)
	}
	exists, err = tableExists(context.Background(), db, "auth.accounts")
	if err != nil || exists {
		t.Fatalf("expected table to be missing, got %v %v", exists, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAdoptExistingSchemaSkipsFreshDatabase(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(regclassQuery)).
		WithArgs("accounts").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	if err := adoptExistingSchema(context.Background(), db, nil); err != nil {
		t.Fatalf("adoptExistingSchema returned error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAdoptionCoversEveryMigration(t *testing.T) {
	names, err := fs.Glob(migrations.Files, "*.sql")
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	want := []string{"00001_accounts.sql", "00002_account_providers.sql"}
	if len(names) != len(want) {
		t.Fatalf("expected %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, names)
		}
	}
	if len(adoption) != len(names) {
		t.Fatalf("adoption table has %d entries for %d migrations", len(adoption), len(names))
	}
}

func TestPendingAfterListsNewerMigrations(t *testing.T) {
	if err := prepare(nil); err != nil {
		t.Fatalf("prepare: %v", err)
	}

	pending, err := pendingAfter(1)
	if err != nil {
		t.Fatalf("pendingAfter: %v", err)
	}
	if len(pending) != 1 || !regexp.MustCompile(`00002_account_providers\.sql$`).MatchString(pending[0]) {
		t.Fatalf("unexpected pending migrations %v", pending)
	}

	pending, err = pendingAfter(2)
	if err != nil {
		t.Fatalf("pendingAfter: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected nothing pending, got %v", pending)
	}
}
