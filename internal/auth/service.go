// Package auth はユーザー登録・ログイン、ベアラートークン、パスワードリセット用OTPを提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/dayplan/internal/model"
	"github.com/hitoshi/dayplan/internal/repository"
)

// OTPSender はOTPをユーザーに届ける通知ゲートウェイのインターフェース。
type OTPSender interface {
	SendOTP(ctx context.Context, to, code string, ttl time.Duration) error
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	OTPTTL time.Duration // OTPの有効期間
}

// Result は登録・ログイン成功時の応答。
type Result struct {
	Token string           `json:"token"`
	User  model.PublicUser `json:"user"`
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	userRepo repository.UserRepository
	otpRepo  repository.OTPRepository
	hasher   PasswordHasher
	tokens   *TokenManager
	sender   OTPSender
	config   ServiceConfig
	now      func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	userRepo repository.UserRepository,
	otpRepo repository.OTPRepository,
	hasher PasswordHasher,
	tokens *TokenManager,
	sender OTPSender,
	config ServiceConfig,
) *Service {
	return &Service{
		userRepo: userRepo,
		otpRepo:  otpRepo,
		hasher:   hasher,
		tokens:   tokens,
		sender:   sender,
		config:   config,
		now:      time.Now,
	}
}

// Register はユーザーを登録し、トークンを発行する。
// 同じメールアドレスのユーザーが既に存在する場合はConflictエラーを返す。
func (s *Service) Register(ctx context.Context, name, email, password string) (*Result, error) {
	existing, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if existing != nil {
		return nil, model.NewConflictError()
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now()
	user := &model.User{
		ID:           uuid.New().String(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		// 存在確認後に同じメールアドレスで登録された場合
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, model.NewConflictError()
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("user registered", slog.String("user_id", user.ID))

	return s.issue(user)
}

// Login はメールアドレスとパスワードを検証し、トークンを発行する。
// ユーザー不明とパスワード不一致は同じエラーを返す。
func (s *Service) Login(ctx context.Context, email, password string) (*Result, error) {
	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewInvalidCredentialsError()
	}

	ok, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !ok {
		return nil, model.NewInvalidCredentialsError()
	}

	slog.Info("user logged in", slog.String("user_id", user.ID))

	return s.issue(user)
}

// VerifyToken はベアラートークンを検証し、ユーザーIDを返す。
// 未指定・形式不正はUnauthenticated、署名不正・期限切れはForbiddenを返す。
// 署名が正しくても対象ユーザーが存在しなければForbiddenを返す。
func (s *Service) VerifyToken(ctx context.Context, token string) (string, error) {
	userID, err := s.tokens.Verify(token)
	switch {
	case err == nil:
	case errors.Is(err, ErrTokenMissing), errors.Is(err, ErrTokenMalformed):
		return "", model.NewUnauthenticatedError()
	default:
		return "", model.NewForbiddenError()
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return "", model.NewForbiddenError()
	}
	return user.ID, nil
}

// RequestPasswordReset はOTPを発行してメールで送信する。
// 同じメールアドレスの既存OTPは置き換えられる。
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	code, err := GenerateOTP()
	if err != nil {
		return err
	}

	now := s.now()
	record := &model.OTPRecord{
		Email:     email,
		Code:      code,
		ExpiresAt: now.Add(s.config.OTPTTL),
		CreatedAt: now,
	}
	if err := s.otpRepo.Upsert(ctx, record); err != nil {
		return fmt.Errorf("failed to save otp: %w", err)
	}

	if err := s.sender.SendOTP(ctx, email, code, s.config.OTPTTL); err != nil {
		slog.Error("failed to send otp",
			slog.String("user_id", user.ID),
			slog.String("email", email),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to send otp: %w", err)
	}

	slog.Info("otp issued", slog.String("user_id", user.ID))
	return nil
}

// ConfirmPasswordReset はOTPを検証してパスワードを更新する。
// OTPはパスワード更新の前にストア側で原子的に消費されるため、
// 同じコードで並行に呼ばれても更新に進むのは1件だけである。トークンは発行しない。
func (s *Service) ConfirmPasswordReset(ctx context.Context, email, code, newPassword string) error {
	record, err := s.otpRepo.FindByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to find otp: %w", err)
	}
	if record == nil {
		return model.NewOTPNotFoundError()
	}
	if record.IsExpired(s.now()) {
		return model.NewOTPExpiredError()
	}
	if !otpEqual(record.Code, code) {
		return model.NewInvalidOTPError()
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	consumed, err := s.otpRepo.Consume(ctx, email, code, s.now())
	if err != nil {
		return fmt.Errorf("failed to consume otp: %w", err)
	}
	if !consumed {
		// 検証後に別のリクエストが消費したか、再発行で置き換えられた
		return model.NewOTPNotFoundError()
	}

	updated, err := s.userRepo.UpdatePasswordByEmail(ctx, email, hash)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if !updated {
		return model.NewUserNotFoundError()
	}

	slog.Info("password reset completed")
	return nil
}

func (s *Service) issue(user *model.User) (*Result, error) {
	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, err
	}
	return &Result{Token: token, User: user.Public()}, nil
}
