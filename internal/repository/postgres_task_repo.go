package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/dayplan/internal/model"
)

// PostgresTaskListRepo はPostgreSQLを使用したタスク一覧リポジトリ。
// エントリはJSONB配列として1行に格納し、配列の順序を保持する。
type PostgresTaskListRepo struct {
	db *sql.DB
}

// NewPostgresTaskListRepo はPostgresTaskListRepoを生成する。
func NewPostgresTaskListRepo(db *sql.DB) *PostgresTaskListRepo {
	return &PostgresTaskListRepo{db: db}
}

// FindByUserAndDate はユーザーIDと日付でタスク一覧を取得する。見つからない場合はnilを返す。
func (r *PostgresTaskListRepo) FindByUserAndDate(ctx context.Context, userID, date string) (*model.TaskList, error) {
	list := &model.TaskList{}
	var raw []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, date, entries, created_at, updated_at
		 FROM task_lists
		 WHERE user_id = $1 AND date = $2`,
		userID, date,
	).Scan(&list.ID, &list.UserID, &list.Date, &raw, &list.CreatedAt, &list.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find task list: %w", err)
	}

	entries := []model.TaskEntry{}
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode task entries: %w", err)
	}
	list.Entries = entries

	return list, nil
}

// Upsert はタスク一覧を保存する。
// UNIQUE(user_id, date)制約を利用したINSERT ON CONFLICTで実装し、
// 既存行のentriesは丸ごと置き換える。同時書き込みは後勝ちとなる。
func (r *PostgresTaskListRepo) Upsert(ctx context.Context, list *model.TaskList) error {
	entries := list.Entries
	if entries == nil {
		entries = []model.TaskEntry{}
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode task entries: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO task_lists (id, user_id, date, entries, created_at, updated_at)
		 VALUES ($1, $2, $3, $4::jsonb, $5, $6)
		 ON CONFLICT (user_id, date) DO UPDATE SET
		     entries = EXCLUDED.entries,
		     updated_at = EXCLUDED.updated_at`,
		list.ID, list.UserID, list.Date, string(raw), list.CreatedAt, list.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert task list: %w", err)
	}
	return nil
}

// compile-time interface check
var _ TaskListRepository = (*PostgresTaskListRepo)(nil)
