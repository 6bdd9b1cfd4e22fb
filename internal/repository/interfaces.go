// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/dayplan/internal/model"
)

// ErrDuplicateEmail はメールアドレスの一意制約違反を表す。
// 存在確認とINSERTの間に同じメールアドレスで登録された場合に返る。
var ErrDuplicateEmail = errors.New("email already registered")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。
	// メールアドレスが既に登録されている場合はErrDuplicateEmailを返す。
	Create(ctx context.Context, user *model.User) error

	// UpdatePasswordByEmail は指定メールアドレスのユーザーのパスワードハッシュを更新する。
	// 対象ユーザーが存在しない場合はfalseを返す。
	UpdatePasswordByEmail(ctx context.Context, email, passwordHash string) (bool, error)
}

// OTPRepository はパスワードリセット用OTPの永続化インターフェース。
// メールアドレスごとに最大1件のレコードを保持する。
type OTPRepository interface {
	// Upsert はOTPレコードを作成する。同じメールアドレスの既存レコードは置き換える。
	Upsert(ctx context.Context, record *model.OTPRecord) error

	// FindByEmail はメールアドレスでOTPレコードを取得する。
	// 期限切れでも削除されていなければ返す。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.OTPRecord, error)

	// Consume はコードが一致し、かつnow時点で有効なレコードを1回の操作で削除する。
	// この呼び出しで削除した場合のみtrueを返す。同じコードで同時に呼ばれても
	// trueを返すのは1回だけである。
	Consume(ctx context.Context, email, code string, now time.Time) (bool, error)
}

// ExpiredOTPPurger は期限切れOTPの一括削除インターフェース。
// バックエンドが自前で有効期限を管理しない場合にクリーンアップジョブが使用する。
type ExpiredOTPPurger interface {
	// DeleteExpired はbefore以前に期限切れとなったレコードを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// TaskListRepository はタスク一覧の永続化インターフェース。
type TaskListRepository interface {
	// FindByUserAndDate はユーザーIDと日付でタスク一覧を取得する。見つからない場合はnilを返す。
	FindByUserAndDate(ctx context.Context, userID, date string) (*model.TaskList, error)

	// Upsert はタスク一覧を保存する。
	// (user_id, date) が既に存在する場合はエントリを丸ごと置き換える。
	Upsert(ctx context.Context, list *model.TaskList) error
}

// HealthChecker はストレージ接続の疎通確認インターフェース。
// *sql.DB がそのまま満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}
