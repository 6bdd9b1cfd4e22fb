package model

import "time"

// User はサービス利用ユーザーを表す。
// PasswordHashはパスワードリセット以外で変更されない。
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PublicUser はAPIレスポンスに含めてよいユーザー情報。
// パスワードハッシュを含まない。
type PublicUser struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Public はユーザーの公開フィールドのみを返す。
func (u *User) Public() PublicUser {
	return PublicUser{
		ID:    u.ID,
		Name:  u.Name,
		Email: u.Email,
	}
}

// OTPRecord はパスワードリセット用のワンタイムコードを表す。
// メールアドレスごとに最大1件のみ存在する。
type OTPRecord struct {
	Email     string    `json:"email"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// IsExpired は指定時刻においてコードが期限切れかどうかを返す。
// now == ExpiresAt の時点で期限切れとみなす。
func (o *OTPRecord) IsExpired(now time.Time) bool {
	return !now.Before(o.ExpiresAt)
}
