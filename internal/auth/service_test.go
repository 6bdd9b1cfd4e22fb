package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/dayplan/internal/model"
	"github.com/hitoshi/dayplan/internal/repository"
)

// --- モック定義 ---

type mockUserRepo struct {
	findByIDFn              func(ctx context.Context, id string) (*model.User, error)
	findByEmailFn           func(ctx context.Context, email string) (*model.User, error)
	createFn                func(ctx context.Context, user *model.User) error
	updatePasswordByEmailFn func(ctx context.Context, email, hash string) (bool, error)
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	if m.findByEmailFn != nil {
		return m.findByEmailFn(ctx, email)
	}
	return nil, nil
}

func (m *mockUserRepo) Create(ctx context.Context, user *model.User) error {
	if m.createFn != nil {
		return m.createFn(ctx, user)
	}
	return nil
}

func (m *mockUserRepo) UpdatePasswordByEmail(ctx context.Context, email, hash string) (bool, error) {
	if m.updatePasswordByEmailFn != nil {
		return m.updatePasswordByEmailFn(ctx, email, hash)
	}
	return true, nil
}

type mockOTPRepo struct {
	upsertFn        func(ctx context.Context, record *model.OTPRecord) error
	findByEmailFn   func(ctx context.Context, email string) (*model.OTPRecord, error)
	consumeFn       func(ctx context.Context, email, code string, now time.Time) (bool, error)
}

func (m *mockOTPRepo) Upsert(ctx context.Context, record *model.OTPRecord) error {
	if m.upsertFn != nil {
		return m.upsertFn(ctx, record)
	}
	return nil
}

func (m *mockOTPRepo) FindByEmail(ctx context.Context, email string) (*model.OTPRecord, error) {
	if m.findByEmailFn != nil {
		return m.findByEmailFn(ctx, email)
	}
	return nil, nil
}

func (m *mockOTPRepo) Consume(ctx context.Context, email, code string, now time.Time) (bool, error) {
	if m.consumeFn != nil {
		return m.consumeFn(ctx, email, code, now)
	}
	return true, nil
}

type mockSender struct {
	sendFn func(ctx context.Context, to, code string, ttl time.Duration) error
}

func (m *mockSender) SendOTP(ctx context.Context, to, code string, ttl time.Duration) error {
	if m.sendFn != nil {
		return m.sendFn(ctx, to, code, ttl)
	}
	return nil
}

// --- compile-time interface checks ---
var _ repository.UserRepository = (*mockUserRepo)(nil)
var _ repository.OTPRepository = (*mockOTPRepo)(nil)
var _ OTPSender = (*mockSender)(nil)

// memStore はユーザーとOTPをメモリ上に保持するテスト用ストア。
type memStore struct {
	mu    sync.Mutex
	users map[string]*model.User
	otps  map[string]*model.OTPRecord
}

func newMemStore() *memStore {
	return &memStore{
		users: make(map[string]*model.User),
		otps:  make(map[string]*model.OTPRecord),
	}
}

func (s *memStore) userRepo() *mockUserRepo {
	return &mockUserRepo{
		findByIDFn: func(_ context.Context, id string) (*model.User, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			for _, u := range s.users {
				if u.ID == id {
					cp := *u
					return &cp, nil
				}
			}
			return nil, nil
		},
		findByEmailFn: func(_ context.Context, email string) (*model.User, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			if u, ok := s.users[email]; ok {
				cp := *u
				return &cp, nil
			}
			return nil, nil
		},
		createFn: func(_ context.Context, user *model.User) error {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.users[user.Email]; ok {
				return repository.ErrDuplicateEmail
			}
			cp := *user
			s.users[user.Email] = &cp
			return nil
		},
		updatePasswordByEmailFn: func(_ context.Context, email, hash string) (bool, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			u, ok := s.users[email]
			if !ok {
				return false, nil
			}
			u.PasswordHash = hash
			return true, nil
		},
	}
}

func (s *memStore) otpRepo() *mockOTPRepo {
	return &mockOTPRepo{
		upsertFn: func(_ context.Context, record *model.OTPRecord) error {
			s.mu.Lock()
			defer s.mu.Unlock()
			cp := *record
			s.otps[record.Email] = &cp
			return nil
		},
		findByEmailFn: func(_ context.Context, email string) (*model.OTPRecord, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			if r, ok := s.otps[email]; ok {
				cp := *r
				return &cp, nil
			}
			return nil, nil
		},
		consumeFn: func(_ context.Context, email, code string, now time.Time) (bool, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			r, ok := s.otps[email]
			if !ok || r.Code != code || r.IsExpired(now) {
				return false, nil
			}
			delete(s.otps, email)
			return true, nil
		},
	}
}

// testHasher はテスト高速化のため軽量パラメータのArgon2Hasherを返す。
func testHasher() *Argon2Hasher {
	return NewArgon2Hasher(Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 8, KeyLength: 16})
}

type testEnv struct {
	svc   *Service
	store *memStore
	sent  []string
	now   time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		store: newMemStore(),
		now:   time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
	}
	sender := &mockSender{
		sendFn: func(_ context.Context, _, code string, _ time.Duration) error {
			env.sent = append(env.sent, code)
			return nil
		},
	}
	tokens := NewTokenManager("test-secret", 240*time.Hour)
	tokens.now = func() time.Time { return env.now }
	env.svc = NewService(env.store.userRepo(), env.store.otpRepo(), testHasher(), tokens, sender, ServiceConfig{OTPTTL: 10 * time.Minute})
	env.svc.now = func() time.Time { return env.now }
	return env
}

func (e *testEnv) lastCode(t *testing.T) string {
	t.Helper()
	if len(e.sent) == 0 {
		t.Fatal("no otp was sent")
	}
	return e.sent[len(e.sent)-1]
}

func assertAPIErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError with code %s, got %v", code, err)
	}
	if apiErr.Code != code {
		t.Errorf("error code = %q, want %q", apiErr.Code, code)
	}
}

// --- テスト ---

func TestRegister_ReturnsTokenAndPublicUser(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.svc.Register(context.Background(), "Alice", "alice@example.com", "s3cret")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if res.Token == "" {
		t.Error("expected non-empty token")
	}
	if res.User.ID == "" || res.User.Name != "Alice" || res.User.Email != "alice@example.com" {
		t.Errorf("unexpected user: %+v", res.User)
	}

	stored := env.store.users["alice@example.com"]
	if stored.PasswordHash == "s3cret" || stored.PasswordHash == "" {
		t.Errorf("password was not hashed: %q", stored.PasswordHash)
	}
}

func TestRegister_Twice_ReturnsConflict(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.svc.Register(ctx, "Alice", "alice@example.com", "one"); err != nil {
		t.Fatalf("first Register() error = %v", err)
	}
	_, err := env.svc.Register(ctx, "Alice 2", "alice@example.com", "two")
	assertAPIErrorCode(t, err, model.ErrCodeConflict)
}

// 存在確認とINSERTの間で重複した場合もConflictになること
func TestRegister_DuplicateOnInsert_ReturnsConflict(t *testing.T) {
	userRepo := &mockUserRepo{
		createFn: func(context.Context, *model.User) error {
			return repository.ErrDuplicateEmail
		},
	}
	svc := NewService(userRepo, &mockOTPRepo{}, testHasher(), NewTokenManager("s", time.Hour), &mockSender{}, ServiceConfig{})

	_, err := svc.Register(context.Background(), "Alice", "alice@example.com", "pw")
	assertAPIErrorCode(t, err, model.ErrCodeConflict)
}

func TestRegister_RepositoryError_IsNotAPIError(t *testing.T) {
	userRepo := &mockUserRepo{
		findByEmailFn: func(context.Context, string) (*model.User, error) {
			return nil, errors.New("connection refused")
		},
	}
	svc := NewService(userRepo, &mockOTPRepo{}, testHasher(), NewTokenManager("s", time.Hour), &mockSender{}, ServiceConfig{})

	_, err := svc.Register(context.Background(), "Alice", "alice@example.com", "pw")
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		t.Errorf("expected plain error, got APIError %v", apiErr)
	}
}

func TestLogin_Success(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	reg, _ := env.svc.Register(ctx, "Alice", "alice@example.com", "s3cret")

	res, err := env.svc.Login(ctx, "alice@example.com", "s3cret")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if res.User.ID != reg.User.ID {
		t.Errorf("user id = %q, want %q", res.User.ID, reg.User.ID)
	}
}

// パスワード不一致とメールアドレス不明は区別できないこと
func TestLogin_WrongPasswordAndUnknownEmail_AreIndistinguishable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.svc.Register(ctx, "Alice", "alice@example.com", "s3cret")

	_, errWrong := env.svc.Login(ctx, "alice@example.com", "wrong")
	_, errUnknown := env.svc.Login(ctx, "ghost@example.com", "s3cret")

	assertAPIErrorCode(t, errWrong, model.ErrCodeInvalidCredentials)
	assertAPIErrorCode(t, errUnknown, model.ErrCodeInvalidCredentials)
	if errWrong.Error() != errUnknown.Error() {
		t.Errorf("errors differ: %q vs %q", errWrong, errUnknown)
	}
}

func TestVerifyToken_ResolvesIssuedUserID(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	reg, _ := env.svc.Register(ctx, "Alice", "alice@example.com", "s3cret")
	login, _ := env.svc.Login(ctx, "alice@example.com", "s3cret")

	// 有効期限直前まで同じユーザーIDに解決されること
	env.now = env.now.Add(240*time.Hour - time.Minute)

	for _, token := range []string{reg.Token, login.Token} {
		userID, err := env.svc.VerifyToken(ctx, token)
		if err != nil {
			t.Fatalf("VerifyToken() error = %v", err)
		}
		if userID != reg.User.ID {
			t.Errorf("userID = %q, want %q", userID, reg.User.ID)
		}
	}
}

func TestVerifyToken_Failures(t *testing.T) {
	env := newTestEnv(t)
	reg, _ := env.svc.Register(context.Background(), "Alice", "alice@example.com", "s3cret")

	other := NewTokenManager("other-secret", time.Hour)
	other.now = func() time.Time { return env.now }
	forged, _ := other.Issue(reg.User.ID)

	tests := []struct {
		name     string
		token    string
		advance  time.Duration
		wantCode string
	}{
		{"missing", "", 0, model.ErrCodeUnauthenticated},
		{"malformed", "not-a-jwt", 0, model.ErrCodeUnauthenticated},
		{"wrong signature", forged, 0, model.ErrCodeForbidden},
		{"expired", reg.Token, 241 * time.Hour, model.ErrCodeForbidden},
	}

	base := env.now
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env.now = base.Add(tt.advance)
			_, err := env.svc.VerifyToken(context.Background(), tt.token)
			assertAPIErrorCode(t, err, tt.wantCode)
		})
	}
}

// 署名が正しくても削除済みユーザーのトークンは拒否されること
func TestVerifyToken_UserRemoved_ReturnsForbidden(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	reg, _ := env.svc.Register(ctx, "Alice", "alice@example.com", "s3cret")

	env.store.mu.Lock()
	delete(env.store.users, "alice@example.com")
	env.store.mu.Unlock()

	_, err := env.svc.VerifyToken(ctx, reg.Token)
	assertAPIErrorCode(t, err, model.ErrCodeForbidden)
}

func TestVerifyToken_StoreError_IsNotAPIError(t *testing.T) {
	tokens := NewTokenManager("s", time.Hour)
	token, _ := tokens.Issue("u1")
	userRepo := &mockUserRepo{
		findByIDFn: func(context.Context, string) (*model.User, error) {
			return nil, errors.New("connection refused")
		},
	}
	svc := NewService(userRepo, &mockOTPRepo{}, testHasher(), tokens, &mockSender{}, ServiceConfig{})

	_, err := svc.VerifyToken(context.Background(), token)
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		t.Errorf("store failure should be a server error, got %v", apiErr)
	}
}

func TestRequestPasswordReset_UnknownUser_ReturnsNotFound(t *testing.T) {
	env := newTestEnv(t)

	err := env.svc.RequestPasswordReset(context.Background(), "ghost@example.com")
	assertAPIErrorCode(t, err, model.ErrCodeUserNotFound)
	if len(env.sent) != 0 {
		t.Error("no otp should be sent for unknown users")
	}
}

func TestRequestPasswordReset_StoresSixDigitCodeWithExpiry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.svc.Register(ctx, "Alice", "alice@example.com", "s3cret")

	if err := env.svc.RequestPasswordReset(ctx, "alice@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset() error = %v", err)
	}

	record := env.store.otps["alice@example.com"]
	if record == nil {
		t.Fatal("expected otp record")
	}
	if len(record.Code) != 6 {
		t.Errorf("code = %q, want 6 digits", record.Code)
	}
	if record.Code != env.lastCode(t) {
		t.Errorf("stored code %q differs from sent code %q", record.Code, env.lastCode(t))
	}
	if want := env.now.Add(10 * time.Minute); !record.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", record.ExpiresAt, want)
	}
}

func TestRequestPasswordReset_SendFailure_ReturnsError(t *testing.T) {
	store := newMemStore()
	store.users["alice@example.com"] = &model.User{ID: "u1", Email: "alice@example.com"}
	sender := &mockSender{
		sendFn: func(context.Context, string, string, time.Duration) error {
			return errors.New("smtp: connection refused")
		},
	}
	svc := NewService(store.userRepo(), store.otpRepo(), testHasher(), NewTokenManager("s", time.Hour), sender, ServiceConfig{OTPTTL: 10 * time.Minute})

	err := svc.RequestPasswordReset(context.Background(), "alice@example.com")
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		t.Errorf("send failure should be a server error, got %v", apiErr)
	}
}

func TestConfirmPasswordReset_ChangesPasswordAndIsSingleUse(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.svc.Register(ctx, "Alice", "alice@example.com", "old")
	env.svc.RequestPasswordReset(ctx, "alice@example.com")
	code := env.lastCode(t)

	if err := env.svc.ConfirmPasswordReset(ctx, "alice@example.com", code, "new"); err != nil {
		t.Fatalf("ConfirmPasswordReset() error = %v", err)
	}

	if _, err := env.svc.Login(ctx, "alice@example.com", "new"); err != nil {
		t.Errorf("login with new password failed: %v", err)
	}
	_, err := env.svc.Login(ctx, "alice@example.com", "old")
	assertAPIErrorCode(t, err, model.ErrCodeInvalidCredentials)

	err = env.svc.ConfirmPasswordReset(ctx, "alice@example.com", code, "again")
	assertAPIErrorCode(t, err, model.ErrCodeOTPNotFound)
}

// 再発行すると前のコードは使えなくなること
func TestConfirmPasswordReset_ReissueInvalidatesEarlierCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.svc.Register(ctx, "Alice", "alice@example.com", "old")

	var first, second string
	for first == second {
		env.svc.RequestPasswordReset(ctx, "alice@example.com")
		first = env.lastCode(t)
		env.svc.RequestPasswordReset(ctx, "alice@example.com")
		second = env.lastCode(t)
	}

	err := env.svc.ConfirmPasswordReset(ctx, "alice@example.com", first, "new")
	assertAPIErrorCode(t, err, model.ErrCodeInvalidOTP)

	if err := env.svc.ConfirmPasswordReset(ctx, "alice@example.com", second, "new"); err != nil {
		t.Errorf("latest code should verify: %v", err)
	}
}

func TestConfirmPasswordReset_Failures(t *testing.T) {
	tests := []struct {
		name     string
		advance  time.Duration
		code     func(issued string) string
		wantCode string
	}{
		{"expired at boundary", 10 * time.Minute, func(c string) string { return c }, model.ErrCodeOTPExpired},
		{"expired later", time.Hour, func(c string) string { return c }, model.ErrCodeOTPExpired},
		{"wrong code", 0, func(c string) string {
			if c == "123456" {
				return "654321"
			}
			return "123456"
		}, model.ErrCodeInvalidOTP},
		{"wrong length", 0, func(c string) string { return c + "0" }, model.ErrCodeInvalidOTP},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			ctx := context.Background()
			env.svc.Register(ctx, "Alice", "alice@example.com", "old")
			env.svc.RequestPasswordReset(ctx, "alice@example.com")
			code := env.lastCode(t)

			env.now = env.now.Add(tt.advance)
			err := env.svc.ConfirmPasswordReset(ctx, "alice@example.com", tt.code(code), "new")
			assertAPIErrorCode(t, err, tt.wantCode)

			// 失敗時はパスワードが変わらないこと
			if _, err := env.svc.Login(ctx, "alice@example.com", "old"); err != nil {
				t.Errorf("old password should still work: %v", err)
			}
		})
	}
}

func TestConfirmPasswordReset_NoRecord_ReturnsNotFound(t *testing.T) {
	env := newTestEnv(t)

	err := env.svc.ConfirmPasswordReset(context.Background(), "alice@example.com", "123456", "new")
	assertAPIErrorCode(t, err, model.ErrCodeOTPNotFound)
}

func TestConfirmPasswordReset_UserDeletedAfterIssue_ReturnsNotFound(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.svc.Register(ctx, "Alice", "alice@example.com", "old")
	env.svc.RequestPasswordReset(ctx, "alice@example.com")
	delete(env.store.users, "alice@example.com")

	err := env.svc.ConfirmPasswordReset(ctx, "alice@example.com", env.lastCode(t), "new")
	assertAPIErrorCode(t, err, model.ErrCodeUserNotFound)
}

// 検証後に別のリクエストがコードを消費した場合はパスワードを更新しないこと
func TestConfirmPasswordReset_ConsumedConcurrently_ReturnsNotFound(t *testing.T) {
	record := &model.OTPRecord{Email: "alice@example.com", Code: "123456", ExpiresAt: time.Now().Add(time.Hour)}
	otpRepo := &mockOTPRepo{
		findByEmailFn: func(context.Context, string) (*model.OTPRecord, error) { return record, nil },
		consumeFn:     func(context.Context, string, string, time.Time) (bool, error) { return false, nil },
	}
	updated := false
	userRepo := &mockUserRepo{
		updatePasswordByEmailFn: func(context.Context, string, string) (bool, error) {
			updated = true
			return true, nil
		},
	}
	svc := NewService(userRepo, otpRepo, testHasher(), NewTokenManager("s", time.Hour), &mockSender{}, ServiceConfig{})

	err := svc.ConfirmPasswordReset(context.Background(), "alice@example.com", "123456", "new")
	assertAPIErrorCode(t, err, model.ErrCodeOTPNotFound)
	if updated {
		t.Error("password must not change when the code was already consumed")
	}
}

// 同じコードで並行にリセットしても成功するのは1件だけであること
func TestConfirmPasswordReset_ConcurrentSameCode_SucceedsOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.svc.Register(ctx, "Alice", "alice@example.com", "old")
	env.svc.RequestPasswordReset(ctx, "alice@example.com")
	code := env.lastCode(t)

	const workers = 8
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = env.svc.ConfirmPasswordReset(ctx, "alice@example.com", code, "new")
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assertAPIErrorCode(t, err, model.ErrCodeOTPNotFound)
	}
	if succeeded != 1 {
		t.Errorf("successful resets = %d, want 1", succeeded)
	}
}
