// Package cleanup は期限切れパスワードリセットOTPの定期削除ジョブを提供する。
// 有効期限を自前で管理しないストア（PostgreSQL）向けに、
// 保持期間を過ぎたレコードをバッチで削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/dayplan/internal/metrics"
	"github.com/hitoshi/dayplan/internal/repository"
)

// DefaultRetention は有効期限切れ後もレコードを保持する期間。
// 保持中のレコードに対する再設定要求はOTPExpiredとして区別できる。
const DefaultRetention = 10 * time.Minute

// CleanupJob は期限切れOTPの削除ジョブ。
// 冪等な削除処理を保証する。
type CleanupJob struct {
	purger    repository.ExpiredOTPPurger
	logger    *slog.Logger
	metrics   metrics.MetricsCollector
	now       func() time.Time
	Retention time.Duration // 期限切れ後の保持期間（デフォルト: 10分）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// mcがnilの場合はメトリクスを記録しない。
func NewCleanupJob(purger repository.ExpiredOTPPurger, logger *slog.Logger, mc metrics.MetricsCollector) *CleanupJob {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &CleanupJob{
		purger:    purger,
		logger:    logger,
		metrics:   mc,
		now:       time.Now,
		Retention: DefaultRetention,
	}
}

// Run は有効期限からRetention以上経過したOTPを削除する。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	before := j.now().Add(-j.Retention)

	deletedCount, err := j.purger.DeleteExpired(ctx, before)
	if err != nil {
		j.logger.Error("OTPクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Duration("retention", j.Retention),
		)
		return fmt.Errorf("OTPクリーンアップの実行に失敗: %w", err)
	}
	j.metrics.RecordOTPsPurged(deletedCount)

	duration := time.Since(start)
	j.logger.Info("OTPクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Duration("retention", j.Retention),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// Start はintervalごとにRunを実行する。起動直後に1回実行する。
// ctxがキャンセルされるまでブロックする。Runの失敗はログに記録して継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.Run(ctx)
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("OTPクリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			j.Run(ctx)
		}
	}
}
