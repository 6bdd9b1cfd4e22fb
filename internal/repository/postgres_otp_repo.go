package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/dayplan/internal/model"
)

// PostgresOTPRepo はPostgreSQLを使用したOTPリポジトリ。
// password_reset_otps.emailを主キーとし、メールアドレスごとに1件のみ保持する。
type PostgresOTPRepo struct {
	db *sql.DB
}

// NewPostgresOTPRepo はPostgresOTPRepoを生成する。
func NewPostgresOTPRepo(db *sql.DB) *PostgresOTPRepo {
	return &PostgresOTPRepo{db: db}
}

// Upsert はOTPレコードを作成または置き換える。
// 主キー(email)の競合時はコード・有効期限・作成日時を上書きする。
func (r *PostgresOTPRepo) Upsert(ctx context.Context, record *model.OTPRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO password_reset_otps (email, code, expires_at, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (email) DO UPDATE SET
		     code = EXCLUDED.code,
		     expires_at = EXCLUDED.expires_at,
		     created_at = EXCLUDED.created_at`,
		record.Email, record.Code, record.ExpiresAt, record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert otp: %w", err)
	}
	return nil
}

// FindByEmail はメールアドレスでOTPレコードを取得する。見つからない場合はnilを返す。
func (r *PostgresOTPRepo) FindByEmail(ctx context.Context, email string) (*model.OTPRecord, error) {
	record := &model.OTPRecord{}
	err := r.db.QueryRowContext(ctx,
		`SELECT email, code, expires_at, created_at FROM password_reset_otps WHERE email = $1`,
		email,
	).Scan(&record.Email, &record.Code, &record.ExpiresAt, &record.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find otp: %w", err)
	}

	return record, nil
}

// Consume は一致する有効なOTPレコードを単一のDELETEで削除する。
// 行ロックにより、同じコードで並行に呼ばれても削除件数1を得るのは1回のみ。
func (r *PostgresOTPRepo) Consume(ctx context.Context, email, code string, now time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM password_reset_otps WHERE email = $1 AND code = $2 AND expires_at > $3`,
		email, code, now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to consume otp: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted == 1, nil
}

// DeleteExpired はbefore以前に期限切れとなったOTPレコードを削除する。
func (r *PostgresOTPRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM password_reset_otps WHERE expires_at <= $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired otps: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}

// compile-time interface check
var (
	_ OTPRepository    = (*PostgresOTPRepo)(nil)
	_ ExpiredOTPPurger = (*PostgresOTPRepo)(nil)
)
