package main

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alim08/fin_desk/pkg/auth"
	"github.com/alim08/fin_desk/pkg/database"
	"github.com/alim08/fin_desk/pkg/models"
)

func run(t *testing.T, openDB dbOpener, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(openDB)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func mockOpener(t *testing.T) (dbOpener, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	return func() (*database.DB, error) { return &database.DB{DB: sqlDB}, nil }, mock
}

func noDB() (*database.DB, error) {
	return nil, errors.New("database not expected")
}

func TestKeysGenerateThenToken(t *testing.T) {
	dir := t.TempDir()
	priv := filepath.Join(dir, "keys", "private.pem")
	pub := filepath.Join(dir, "keys", "public.pem")

	out, err := run(t, noDB, "keys", "generate", "--bits", "2048", "--private-key", priv, "--public-key", pub)
	if err != nil {
		t.Fatalf("keys generate: %v (%s)", err, out)
	}

	out, err = run(t, noDB, "token", "--account", "acct_1", "--username", "ops",
		"--role", auth.RoleFeeder, "--role", auth.RoleAdmin, "--ttl", "1h",
		"--private-key", priv, "--public-key", pub)
	if err != nil {
		t.Fatalf("token: %v (%s)", err, out)
	}

	cfg := auth.NewConfig()
	cfg.PrivateKeyPath, cfg.PublicKeyPath = priv, pub
	svc, err := auth.NewAuthService(cfg)
	if err != nil {
		t.Fatal(err)
	}
	claims, err := svc.ValidateToken(strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("issued token does not validate: %v", err)
	}
	if claims.AccountID != "acct_1" || !claims.HasRole(auth.RoleFeeder) || !claims.HasRole(auth.RoleAdmin) {
		t.Errorf("claims = %+v", claims)
	}
	if ttl := time.Until(claims.ExpiresAt.Time); ttl > time.Hour || ttl < 50*time.Minute {
		t.Errorf("token lifetime = %v, want about 1h", ttl)
	}
}

func TestTokenRequiresAccount(t *testing.T) {
	if _, err := run(t, noDB, "token"); err == nil {
		t.Error("token without --account should fail")
	}
}

func TestTokenMissingKeys(t *testing.T) {
	dir := t.TempDir()
	_, err := run(t, noDB, "token", "--account", "acct_1",
		"--private-key", filepath.Join(dir, "nope.pem"), "--public-key", filepath.Join(dir, "nope.pub"))
	if err == nil {
		t.Error("token should fail when the key files are missing")
	}
}

func TestMigrateStatus(t *testing.T) {
	openDB, mock := mockOpener(t)
	appliedAt := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	mock.ExpectQuery("SELECT version, applied_at FROM migrations").
		WillReturnRows(sqlmock.NewRows([]string{"version", "applied_at"}).AddRow(1, appliedAt))
	mock.ExpectClose()

	out, err := run(t, openDB, "migrate", "status")
	if err != nil {
		t.Fatalf("migrate status: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != len(database.Migrations) {
		t.Fatalf("got %d lines, want %d:\n%s", len(lines), len(database.Migrations), out)
	}
	if !strings.Contains(lines[0], "applied 2024-01-02T03:04:05Z") {
		t.Errorf("line 0 = %q", lines[0])
	}
	if !strings.HasSuffix(lines[1], "pending") {
		t.Errorf("line 1 = %q", lines[1])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestMigrateRollback(t *testing.T) {
	openDB, mock := mockOpener(t)
	mock.ExpectQuery("SELECT version FROM migrations").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(2))
	mock.ExpectBegin()
	mock.ExpectExec("DROP TABLE IF EXISTS payment_methods").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM migrations").WithArgs(2).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectClose()

	if _, err := run(t, openDB, "migrate", "rollback"); err != nil {
		t.Fatalf("migrate rollback: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestMigrateOpenFailure(t *testing.T) {
	if _, err := run(t, noDB, "migrate", "up"); err == nil {
		t.Error("migrate up should surface the connection error")
	}
}

func TestPaymentsList(t *testing.T) {
	openDB, mock := mockOpener(t)
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	cols := []string{
		"id", "account_id", "stripe_payment_method_id", "last4", "expiration_date",
		"billing_address", "card_brand", "card_exp_month", "card_exp_year", "card_last4",
		"is_default", "type", "created_at", "updated_at",
	}
	mock.ExpectQuery("ORDER BY is_default DESC, created_at DESC").
		WithArgs("acct_1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(7, "acct_1", "pm_7", "4242", nil, nil, "visa", 12, 2030, nil, true, "card", created, created).
			AddRow(9, "acct_1", "pm_9", nil, nil, nil, nil, nil, nil, nil, false, "card", created, created))
	mock.ExpectClose()

	out, err := run(t, openDB, "payments", "list", "--account", "acct_1")
	if err != nil {
		t.Fatalf("payments list: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2:\n%s", len(lines), out)
	}
	first, err := models.PaymentMethodFromJSON([]byte(lines[0]))
	if err != nil {
		t.Fatalf("line 0 does not decode: %v", err)
	}
	if first.ID != 7 || !first.IsDefault || first.CardLast4 != nil {
		t.Errorf("first = %+v", first)
	}
	if !strings.Contains(lines[1], `"last4":null`) {
		t.Errorf("nullable fields should print as null: %s", lines[1])
	}
}
