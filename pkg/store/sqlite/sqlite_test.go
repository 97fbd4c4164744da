package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/pario-ai/dispatch/pkg/store"
)

func setup(t *testing.T) (*Store, context.Context) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "store_test.db")
	s, err := New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s, context.Background()
}

func TestGetMissing(t *testing.T) {
	s, ctx := setup(t)

	_, err := s.Get(ctx, "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateOverwrites(t *testing.T) {
	s, ctx := setup(t)

	if err := s.Update(ctx, "usage", []byte("one")); err != nil {
		t.Fatal(err)
	}
	if err := s.Update(ctx, "usage", []byte("two")); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, "usage")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "two" {
		t.Errorf("expected two, got %q", got)
	}

	keys, err := s.Keys(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 || keys[0] != "usage" {
		t.Errorf("unexpected keys %v", keys)
	}
}

func TestReopenKeepsData(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "reopen.db")
	ctx := context.Background()

	s, err := New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Update(ctx, "k", []byte("v")); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	got, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "v" {
		t.Errorf("expected v, got %q", got)
	}
}

func TestUpdateError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO kv")).
		WillReturnError(errors.New("disk full"))

	err = Wrap(db).Update(context.Background(), "k", []byte("v"))
	if err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestGetError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM kv")).
		WithArgs("k").
		WillReturnError(errors.New("locked"))

	_, err = Wrap(db).Get(context.Background(), "k")
	if err == nil || errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected a read error, got %v", err)
	}
}
