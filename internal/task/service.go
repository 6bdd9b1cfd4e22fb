// Package task は日付ごとのタスク一覧の取得・保存ロジックを提供する。
package task

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/dayplan/internal/model"
	"github.com/hitoshi/dayplan/internal/repository"
)

// Service はタスク一覧のサービス層。
// 呼び出し元でトークン検証済みのユーザーIDを信頼する。
// エントリーの文字列は加工せず受け取ったまま保存する。
type Service struct {
	repo repository.TaskListRepository
	now  func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.TaskListRepository) *Service {
	return &Service{
		repo: repo,
		now:  time.Now,
	}
}

// ValidateDate は日付キーがYYYY-MM-DD形式の実在する日付かを検証する。
func ValidateDate(date string) error {
	if _, err := time.Parse(model.DateLayout, date); err != nil {
		return model.NewInvalidDateError(date)
	}
	return nil
}

// GetTasks は指定日のタスク一覧を保存順のまま返す。
// 一覧が存在しない場合はTasksNotFoundエラーを返す。
func (s *Service) GetTasks(ctx context.Context, userID, date string) ([]model.TaskEntry, error) {
	if err := ValidateDate(date); err != nil {
		return nil, err
	}

	list, err := s.repo.FindByUserAndDate(ctx, userID, date)
	if err != nil {
		return nil, fmt.Errorf("タスク一覧の取得に失敗しました: %w", err)
	}
	if list == nil {
		return nil, model.NewTasksNotFoundError()
	}

	if list.Entries == nil {
		return []model.TaskEntry{}, nil
	}
	return list.Entries, nil
}

// SaveTasks は指定日のタスク一覧を丸ごと置き換えて保存し、日付を返す。
// 一覧が存在しない場合は新規作成する。
func (s *Service) SaveTasks(ctx context.Context, userID, date string, entries []model.TaskEntry) (string, error) {
	if err := ValidateDate(date); err != nil {
		return "", err
	}

	now := s.now()
	list := &model.TaskList{
		ID:        uuid.New().String(),
		UserID:    userID,
		Date:      date,
		Entries:   entries,
		CreatedAt: now,
		UpdatedAt: now,
	}

	// 既存の一覧がある場合、IDとcreated_atは既存の値が維持される
	if err := s.repo.Upsert(ctx, list); err != nil {
		return "", fmt.Errorf("タスク一覧の保存に失敗しました: %w", err)
	}

	slog.Debug("tasks saved",
		slog.String("user_id", userID),
		slog.String("date", date),
		slog.Int("entries", len(entries)),
	)

	return date, nil
}
