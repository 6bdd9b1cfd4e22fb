package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// requestLogKey はリクエストログの付帯情報を保持するキー。
// 内側の認証ミドルウェアが決定したユーザーIDを外側のアクセスログに反映するために使う。
var requestLogKey = contextKey("request_log")

// requestLog はアクセスログ出力時に参照する付帯情報。
type requestLog struct {
	userID string
}

// setLoggedUserID はロギングミドルウェア配下であればユーザーIDを記録する。
func setLoggedUserID(ctx context.Context, userID string) {
	if rl, ok := ctx.Value(requestLogKey).(*requestLog); ok {
		rl.userID = userID
	}
}

// loggedUserID は記録済みのユーザーIDを返す。未記録ならコンテキストのユーザーIDを返す。
func loggedUserID(ctx context.Context) string {
	if rl, ok := ctx.Value(requestLogKey).(*requestLog); ok && rl.userID != "" {
		return rl.userID
	}
	userID, _ := UserIDFromContext(ctx)
	return userID
}

// statusRecorder はhttp.ResponseWriterをラップし、ステータスコードと書き込みバイト数を記録する。
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	written    bool
	bytes      int
}

func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.written {
		sr.statusCode = code
		sr.written = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	sr.written = true
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

// NewLoggingMiddleware はリクエストごとにJSON構造化アクセスログを1行出力するミドルウェアを返す。
// ログにはmethod、path、status、bytes、duration_ms、client_ip、user_id（認証済みの場合）を含む。
// 5xxはERROR、4xxはWARN、それ以外はINFOで出力する。
func NewLoggingMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			r = r.WithContext(context.WithValue(r.Context(), requestLogKey, &requestLog{}))

			next.ServeHTTP(rec, r)

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.statusCode),
				slog.Int("bytes", rec.bytes),
				slog.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000),
				slog.String("client_ip", remoteHost(r)),
			}
			if userID := loggedUserID(r.Context()); userID != "" {
				attrs = append(attrs, slog.String("user_id", userID))
			}

			logger.LogAttrs(r.Context(), levelForStatus(rec.statusCode), "http_request", attrs...)
		})
	}
}

func levelForStatus(status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// remoteHost はRemoteAddrからポートを除いたホスト部分を返す。
func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
