package handler

import (
	"context"
	"net/http"
	"sync"

	"github.com/hitoshi/dayplan/internal/auth"
	"github.com/hitoshi/dayplan/internal/metrics"
	"github.com/hitoshi/dayplan/internal/middleware"
	"github.com/hitoshi/dayplan/internal/model"
)

// --- モック定義 ---

// mockAuthService はAuthServiceInterfaceのモック実装。
type mockAuthService struct {
	registerFn             func(ctx context.Context, name, email, password string) (*auth.Result, error)
	loginFn                func(ctx context.Context, email, password string) (*auth.Result, error)
	requestPasswordResetFn func(ctx context.Context, email string) error
	confirmPasswordResetFn func(ctx context.Context, email, code, newPassword string) error
}

func (m *mockAuthService) Register(ctx context.Context, name, email, password string) (*auth.Result, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, name, email, password)
	}
	return nil, nil
}

func (m *mockAuthService) Login(ctx context.Context, email, password string) (*auth.Result, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, email, password)
	}
	return nil, nil
}

func (m *mockAuthService) RequestPasswordReset(ctx context.Context, email string) error {
	if m.requestPasswordResetFn != nil {
		return m.requestPasswordResetFn(ctx, email)
	}
	return nil
}

func (m *mockAuthService) ConfirmPasswordReset(ctx context.Context, email, code, newPassword string) error {
	if m.confirmPasswordResetFn != nil {
		return m.confirmPasswordResetFn(ctx, email, code, newPassword)
	}
	return nil
}

var _ AuthServiceInterface = (*mockAuthService)(nil)

// mockTaskService はTaskServiceInterfaceのモック実装。
type mockTaskService struct {
	getTasksFn  func(ctx context.Context, userID, date string) ([]model.TaskEntry, error)
	saveTasksFn func(ctx context.Context, userID, date string, entries []model.TaskEntry) (string, error)
}

func (m *mockTaskService) GetTasks(ctx context.Context, userID, date string) ([]model.TaskEntry, error) {
	if m.getTasksFn != nil {
		return m.getTasksFn(ctx, userID, date)
	}
	return []model.TaskEntry{}, nil
}

func (m *mockTaskService) SaveTasks(ctx context.Context, userID, date string, entries []model.TaskEntry) (string, error) {
	if m.saveTasksFn != nil {
		return m.saveTasksFn(ctx, userID, date, entries)
	}
	return date, nil
}

var _ TaskServiceInterface = (*mockTaskService)(nil)

// mockMetrics は記録内容を保持するMetricsCollectorのモック実装。
type mockMetrics struct {
	metrics.Nop
	mu           sync.Mutex
	authEvents   []string
	entriesSaved []int
}

func (m *mockMetrics) RecordAuthEvent(event, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authEvents = append(m.authEvents, event+":"+outcome)
}

func (m *mockMetrics) RecordTasksSaved(entries int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entriesSaved = append(m.entriesSaved, entries)
}

var _ metrics.MetricsCollector = (*mockMetrics)(nil)

// mockPinger はHealthCheckerのモック実装。
type mockPinger struct {
	err error
}

func (m *mockPinger) PingContext(ctx context.Context) error {
	return m.err
}

// mockVerifier はTokenVerifierのモック実装。
type mockVerifier struct {
	verifyFn func(token string) (string, error)
}

func (m *mockVerifier) VerifyToken(ctx context.Context, token string) (string, error) {
	if m.verifyFn != nil {
		return m.verifyFn(token)
	}
	return "", model.NewForbiddenError()
}

// withUserID はリクエストのコンテキストに認証済みユーザーIDを設定する。
func withUserID(r *http.Request, userID string) *http.Request {
	return r.WithContext(middleware.ContextWithUserID(r.Context(), userID))
}

func sampleResult() *auth.Result {
	return &auth.Result{
		Token: "signed-token",
		User: model.PublicUser{
			ID:    "user-123",
			Name:  "Alice",
			Email: "alice@example.com",
		},
	}
}
