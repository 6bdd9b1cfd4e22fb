package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/dayplan/internal/metrics"
	"github.com/hitoshi/dayplan/internal/middleware"
	"github.com/hitoshi/dayplan/internal/model"
)

// TaskServiceInterface はタスクハンドラーが必要とするサービスインターフェース。
type TaskServiceInterface interface {
	GetTasks(ctx context.Context, userID, date string) ([]model.TaskEntry, error)
	SaveTasks(ctx context.Context, userID, date string, entries []model.TaskEntry) (string, error)
}

// TaskHandler は日付ごとのタスク一覧のHTTPハンドラー。
type TaskHandler struct {
	service TaskServiceInterface
	metrics metrics.MetricsCollector
}

// NewTaskHandler はTaskHandlerを生成する。
func NewTaskHandler(service TaskServiceInterface, mc metrics.MetricsCollector) *TaskHandler {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &TaskHandler{service: service, metrics: mc}
}

type tasksResponse struct {
	Date  string            `json:"date"`
	Tasks []model.TaskEntry `json:"tasks"`
}

type saveTasksRequest struct {
	Tasks *[]model.TaskEntry `json:"tasks"`
}

type saveTasksResponse struct {
	Message string `json:"message"`
	Date    string `json:"date"`
}

// GetTasks は指定日のタスク一覧を返す。
// GET /api/tasks/{date}
func (h *TaskHandler) GetTasks(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		handleServiceError(w, model.NewUnauthenticatedError())
		return
	}
	date := chi.URLParam(r, "date")

	tasks, err := h.service.GetTasks(r.Context(), userID, date)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, tasksResponse{Date: date, Tasks: tasks})
}

// SaveTasks は指定日のタスク一覧を丸ごと置き換えて保存する。
// POST /api/tasks/{date}
func (h *TaskHandler) SaveTasks(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		handleServiceError(w, model.NewUnauthenticatedError())
		return
	}
	date := chi.URLParam(r, "date")

	var req saveTasksRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}
	if req.Tasks == nil {
		handleServiceError(w, model.NewInvalidRequestError("tasks must be an array"))
		return
	}

	saved, err := h.service.SaveTasks(r.Context(), userID, date, *req.Tasks)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	h.metrics.RecordTasksSaved(len(*req.Tasks))

	writeJSON(w, http.StatusOK, saveTasksResponse{Message: "Tasks saved successfully", Date: saved})
}
