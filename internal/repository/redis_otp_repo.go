package repository

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/dayplan/internal/model"
	"github.com/redis/go-redis/v9"
)

const otpKeyPrefix = "dayplan:otp:"

// RedisOTPRetention は有効期限を過ぎたOTPをRedis上に残しておく期間。
// この間は「期限切れ」と「未発行」を区別して応答できる。
const RedisOTPRetention = 10 * time.Minute

// RedisOTPRepo はRedisを使用したOTPリポジトリ。
// レコードはJSONで1キーに格納し、キーのTTLで自動削除する。
type RedisOTPRepo struct {
	client redis.UniversalClient
	now    func() time.Time
}

// NewRedisOTPRepo はRedisOTPRepoを生成する。
func NewRedisOTPRepo(client redis.UniversalClient) *RedisOTPRepo {
	return &RedisOTPRepo{client: client, now: time.Now}
}

func otpKey(email string) string {
	return otpKeyPrefix + email
}

// Upsert はOTPレコードを保存する。SETは既存キーを上書きするため常に最新の1件のみが残る。
func (r *RedisOTPRepo) Upsert(ctx context.Context, record *model.OTPRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode otp: %w", err)
	}

	ttl := record.ExpiresAt.Sub(r.now()) + RedisOTPRetention
	if ttl <= 0 {
		ttl = RedisOTPRetention
	}

	if err := r.client.Set(ctx, otpKey(record.Email), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store otp: %w", err)
	}
	return nil
}

// FindByEmail はメールアドレスでOTPレコードを取得する。見つからない場合はnilを返す。
func (r *RedisOTPRepo) FindByEmail(ctx context.Context, email string) (*model.OTPRecord, error) {
	data, err := r.client.Get(ctx, otpKey(email)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get otp: %w", err)
	}

	record := &model.OTPRecord{}
	if err := json.Unmarshal(data, record); err != nil {
		return nil, fmt.Errorf("failed to decode otp: %w", err)
	}
	return record, nil
}

// Consume は一致する有効なOTPをWATCH付きトランザクションで削除する。
// 読み取りから削除までの間にキーが変更された場合はトランザクションが失敗し、falseを返す。
func (r *RedisOTPRepo) Consume(ctx context.Context, email, code string, now time.Time) (bool, error) {
	key := otpKey(email)
	consumed := false

	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}

		var record model.OTPRecord
		if err := json.Unmarshal(data, &record); err != nil {
			return fmt.Errorf("failed to decode otp: %w", err)
		}
		if subtle.ConstantTimeCompare([]byte(record.Code), []byte(code)) != 1 || record.IsExpired(now) {
			return nil
		}

		if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		}); err != nil {
			return err
		}
		consumed = true
		return nil
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to consume otp: %w", err)
	}
	return consumed, nil
}

// PingContext はRedisへの疎通を確認する。
func (r *RedisOTPRepo) PingContext(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// compile-time interface check
var (
	_ OTPRepository = (*RedisOTPRepo)(nil)
	_ HealthChecker = (*RedisOTPRepo)(nil)
)
