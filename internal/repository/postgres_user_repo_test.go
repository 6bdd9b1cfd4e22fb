package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/hitoshi/dayplan/internal/model"
	"github.com/lib/pq"
)

// newMockDB はsqlmockを使ったテスト用DBを生成するヘルパー。
func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock
}

// PostgresUserRepoはUserRepositoryインターフェースを満たすことを検証
func TestPostgresUserRepo_ImplementsInterface(t *testing.T) {
	var _ UserRepository = (*PostgresUserRepo)(nil)
}

func TestPostgresUserRepo_FindByEmail_Found(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresUserRepo(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "name", "email", "password_hash", "created_at", "updated_at"}).
		AddRow("user-1", "Alice", "alice@example.com", "$argon2id$hash", now, now)
	mock.ExpectQuery(`SELECT id, name, email, password_hash, created_at, updated_at FROM users WHERE email = \$1`).
		WithArgs("alice@example.com").
		WillReturnRows(rows)

	user, err := repo.FindByEmail(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("FindByEmail error: %v", err)
	}
	if user == nil {
		t.Fatal("expected user, got nil")
	}
	if user.ID != "user-1" || user.Name != "Alice" || user.PasswordHash != "$argon2id$hash" {
		t.Errorf("unexpected user: %+v", user)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresUserRepo_FindByEmail_NotFoundReturnsNil(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresUserRepo(db)

	mock.ExpectQuery(`FROM users WHERE email = \$1`).
		WithArgs("ghost@example.com").
		WillReturnError(sql.ErrNoRows)

	user, err := repo.FindByEmail(context.Background(), "ghost@example.com")
	if err != nil {
		t.Fatalf("FindByEmail error: %v", err)
	}
	if user != nil {
		t.Errorf("expected nil user, got %+v", user)
	}
}

func TestPostgresUserRepo_FindByID_DBError(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresUserRepo(db)

	mock.ExpectQuery(`FROM users WHERE id = \$1`).
		WithArgs("user-1").
		WillReturnError(errors.New("db down"))

	_, err := repo.FindByID(context.Background(), "user-1")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestPostgresUserRepo_Create_Success(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresUserRepo(db)

	now := time.Now()
	mock.ExpectExec(`INSERT INTO users \(id, name, email, password_hash, created_at, updated_at\)`).
		WithArgs("user-1", "Alice", "alice@example.com", "hash", now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Create(context.Background(), &model.User{
		ID:           "user-1",
		Name:         "Alice",
		Email:        "alice@example.com",
		PasswordHash: "hash",
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// 一意制約違反はErrDuplicateEmailに変換されること
func TestPostgresUserRepo_Create_UniqueViolation(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresUserRepo(db)

	mock.ExpectExec(`INSERT INTO users`).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	err := repo.Create(context.Background(), &model.User{ID: "user-1", Email: "alice@example.com"})
	if !errors.Is(err, ErrDuplicateEmail) {
		t.Errorf("err = %v, want ErrDuplicateEmail", err)
	}
}

func TestPostgresUserRepo_Create_OtherErrorIsWrapped(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresUserRepo(db)

	mock.ExpectExec(`INSERT INTO users`).
		WillReturnError(errors.New("connection reset"))

	err := repo.Create(context.Background(), &model.User{ID: "user-1", Email: "alice@example.com"})
	if err == nil || errors.Is(err, ErrDuplicateEmail) {
		t.Errorf("err = %v, want wrapped generic error", err)
	}
}

func TestPostgresUserRepo_UpdatePasswordByEmail(t *testing.T) {
	tests := []struct {
		name         string
		rowsAffected int64
		want         bool
	}{
		{"updated", 1, true},
		{"no such user", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			repo := NewPostgresUserRepo(db)

			mock.ExpectExec(`UPDATE users SET password_hash = \$1, updated_at = now\(\) WHERE email = \$2`).
				WithArgs("new-hash", "alice@example.com").
				WillReturnResult(sqlmock.NewResult(0, tt.rowsAffected))

			got, err := repo.UpdatePasswordByEmail(context.Background(), "alice@example.com", "new-hash")
			if err != nil {
				t.Fatalf("UpdatePasswordByEmail error: %v", err)
			}
			if got != tt.want {
				t.Errorf("updated = %v, want %v", got, tt.want)
			}
		})
	}
}
