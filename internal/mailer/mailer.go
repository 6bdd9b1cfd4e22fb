// Package mailer はSMTP経由でパスワードリセット用OTPメールを送信する。
package mailer

import (
	"context"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
)

const otpSubject = "Password Reset OTP"

var otpHTML = template.Must(template.New("otp").Parse(
	`<p>Your OTP for password reset is: <strong>{{.Code}}</strong></p>
<p>This OTP will expire in {{.Minutes}} minutes.</p>`))

// Config はSMTP接続設定。
type Config struct {
	Host     string
	Port     int
	Username string // 空の場合はSMTP認証を行わない
	Password string
	From     string
	Timeout  time.Duration
}

// SMTPSender はOTPメールをSMTPリレーへ送信する。
type SMTPSender struct {
	from    string
	deliver func(ctx context.Context, msg *mail.Msg) error
}

// NewSMTPSender はSMTPSenderを生成する。
// 接続は送信ごとに確立する。
func NewSMTPSender(cfg Config) (*SMTPSender, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, mail.WithTimeout(cfg.Timeout))
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create smtp client: %w", err)
	}

	return &SMTPSender{
		from: cfg.From,
		deliver: func(ctx context.Context, msg *mail.Msg) error {
			return client.DialAndSendWithContext(ctx, msg)
		},
	}, nil
}

// SendOTP はOTPを記載したメール（プレーンテキスト + HTML）を送信する。
func (s *SMTPSender) SendOTP(ctx context.Context, to, code string, ttl time.Duration) error {
	msg, err := s.buildOTPMessage(to, code, ttl)
	if err != nil {
		return err
	}
	if err := s.deliver(ctx, msg); err != nil {
		return fmt.Errorf("failed to deliver mail: %w", err)
	}
	return nil
}

func (s *SMTPSender) buildOTPMessage(to, code string, ttl time.Duration) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(s.from); err != nil {
		return nil, fmt.Errorf("invalid from address: %w", err)
	}
	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("invalid recipient address: %w", err)
	}
	msg.Subject(otpSubject)

	text, html, err := otpBodies(code, ttl)
	if err != nil {
		return nil, err
	}
	msg.SetBodyString(mail.TypeTextPlain, text)
	msg.AddAlternativeString(mail.TypeTextHTML, html)

	return msg, nil
}

func otpBodies(code string, ttl time.Duration) (string, string, error) {
	minutes := int(ttl.Minutes())
	text := fmt.Sprintf("Your OTP for password reset is: %s. This OTP will expire in %d minutes.", code, minutes)

	var b strings.Builder
	if err := otpHTML.Execute(&b, struct {
		Code    string
		Minutes int
	}{code, minutes}); err != nil {
		return "", "", fmt.Errorf("failed to render mail: %w", err)
	}
	return text, b.String(), nil
}
