// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 認証イベントの結果ラベル。
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected" // 4xx相当（認証情報不一致、OTP不正など）
	OutcomeError    = "error"    // 5xx相当
)

// MetricsCollector はメトリクス収集のインターフェース。
// ハンドラー、ミドルウェア、ワーカーから利用する。
type MetricsCollector interface {
	RecordAuthEvent(event, outcome string)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
	RecordTasksSaved(entries int)
	RecordOTPsPurged(count int64)
	RecordRateLimited()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	authEvents     *prometheus.CounterVec
	httpStatus     *prometheus.CounterVec
	requestLatency prometheus.Histogram
	tasksSaved     prometheus.Counter
	taskEntries    prometheus.Counter
	otpsPurged     prometheus.Counter
	rateLimited    prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dayplan_auth_events_total",
			Help: "認証イベント（register, login, forgot_password, reset_password）の結果別件数",
		}, []string{"event", "outcome"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dayplan_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dayplan_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		tasksSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dayplan_task_lists_saved_total",
			Help: "保存されたタスク一覧の合計数",
		}),
		taskEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dayplan_task_entries_saved_total",
			Help: "保存されたタスクエントリの合計数",
		}),
		otpsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dayplan_otps_purged_total",
			Help: "クリーンアップで削除された期限切れOTPの合計数",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dayplan_rate_limited_total",
			Help: "レート制限で拒否されたリクエストの合計数",
		}),
	}

	reg.MustRegister(
		c.authEvents,
		c.httpStatus,
		c.requestLatency,
		c.tasksSaved,
		c.taskEntries,
		c.otpsPurged,
		c.rateLimited,
	)

	return c
}

// RecordAuthEvent は認証イベントの結果を記録する。
func (c *Collector) RecordAuthEvent(event, outcome string) {
	c.authEvents.WithLabelValues(event, outcome).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエストの処理時間を記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// RecordTasksSaved はタスク一覧の保存1回とそのエントリ数を記録する。
func (c *Collector) RecordTasksSaved(entries int) {
	c.tasksSaved.Inc()
	c.taskEntries.Add(float64(entries))
}

// RecordOTPsPurged は削除された期限切れOTP数を記録する。
func (c *Collector) RecordOTPsPurged(count int64) {
	c.otpsPurged.Add(float64(count))
}

// RecordRateLimited はレート制限による拒否を記録する。
func (c *Collector) RecordRateLimited() {
	c.rateLimited.Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// NewMiddleware はレスポンスのステータスコードと処理時間を記録するミドルウェアを返す。
func NewMiddleware(c MetricsCollector) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rec, r)

			c.RecordHTTPStatus(rec.statusCode)
			c.RecordRequestLatency(time.Since(start))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.wroteHeader {
		sr.statusCode = code
		sr.wroteHeader = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	sr.wroteHeader = true
	return sr.ResponseWriter.Write(b)
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) RecordAuthEvent(string, string)     {}
func (Nop) RecordHTTPStatus(int)               {}
func (Nop) RecordRequestLatency(time.Duration) {}
func (Nop) RecordTasksSaved(int)               {}
func (Nop) RecordOTPsPurged(int64)             {}
func (Nop) RecordRateLimited()                 {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
