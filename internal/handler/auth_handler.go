package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/hitoshi/dayplan/internal/auth"
	"github.com/hitoshi/dayplan/internal/metrics"
	"github.com/hitoshi/dayplan/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Register(ctx context.Context, name, email, password string) (*auth.Result, error)
	Login(ctx context.Context, email, password string) (*auth.Result, error)
	RequestPasswordReset(ctx context.Context, email string) error
	ConfirmPasswordReset(ctx context.Context, email, code, newPassword string) error
}

// AuthHandler は登録・ログイン・パスワードリセットのHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	metrics metrics.MetricsCollector
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, mc metrics.MetricsCollector) *AuthHandler {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &AuthHandler{service: service, metrics: mc}
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Email       string `json:"email"`
	OTP         string `json:"otp"`
	NewPassword string `json:"newPassword"`
}

// Register はユーザーを登録する。
// POST /api/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}
	if err := requireFields(map[string]string{"name": req.Name, "email": req.Email, "password": req.Password}); err != nil {
		handleServiceError(w, err)
		return
	}

	res, err := h.service.Register(r.Context(), req.Name, req.Email, req.Password)
	h.metrics.RecordAuthEvent("register", outcomeOf(err))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, res)
}

// Login はメールアドレスとパスワードでログインする。
// POST /api/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}
	if err := requireFields(map[string]string{"email": req.Email, "password": req.Password}); err != nil {
		handleServiceError(w, err)
		return
	}

	res, err := h.service.Login(r.Context(), req.Email, req.Password)
	h.metrics.RecordAuthEvent("login", outcomeOf(err))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// ForgotPassword はパスワードリセット用OTPをメールで送信する。
// POST /api/forgot-password
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}
	if err := requireFields(map[string]string{"email": req.Email}); err != nil {
		handleServiceError(w, err)
		return
	}

	err := h.service.RequestPasswordReset(r.Context(), req.Email)
	h.metrics.RecordAuthEvent("forgot_password", outcomeOf(err))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "OTP sent to your email"})
}

// ResetPassword はOTPを検証してパスワードを再設定する。
// POST /api/reset-password
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}
	if err := requireFields(map[string]string{"email": req.Email, "otp": req.OTP, "newPassword": req.NewPassword}); err != nil {
		handleServiceError(w, err)
		return
	}

	err := h.service.ConfirmPasswordReset(r.Context(), req.Email, req.OTP, req.NewPassword)
	h.metrics.RecordAuthEvent("reset_password", outcomeOf(err))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "Password reset successfully"})
}

// requireFields は空のフィールドがあればInvalidRequestエラーを返す。
// パスワード以外は前後の空白のみの値も空とみなす。
func requireFields(fields map[string]string) error {
	var missing []string
	for _, name := range []string{"name", "email", "password", "otp", "newPassword"} {
		v, ok := fields[name]
		if !ok {
			continue
		}
		if name != "password" && name != "newPassword" {
			v = strings.TrimSpace(v)
		}
		if v == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return model.NewInvalidRequestError(strings.Join(missing, ", ") + " required")
	}
	return nil
}
