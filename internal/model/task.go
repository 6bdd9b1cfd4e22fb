package model

import "time"

// TaskEntry は1日のタイムブロック1件を表す。
// RowIDはリスト内のエントリを識別し、Manualはユーザーが手入力したかを示す。
type TaskEntry struct {
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
	Plan      string `json:"plan"`
	Actual    string `json:"actual"`
	Category  string `json:"category"`
	RowID     string `json:"rowId"`
	Manual    bool   `json:"manual"`
}

// TaskList はユーザーの1日分のタスク一覧を表す。
// (UserID, Date) の組み合わせごとに最大1件のみ存在する。
type TaskList struct {
	ID        string
	UserID    string
	Date      string // YYYY-MM-DD
	Entries   []TaskEntry
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DateLayout はタスク一覧の日付キーの書式。
const DateLayout = "2006-01-02"
