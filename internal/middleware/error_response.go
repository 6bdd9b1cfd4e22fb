package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/dayplan/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// Errorは500応答のときのみ下位のエラー文字列を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Error    string `json:"error,omitempty"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	writeJSONError(w, statusCode, ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
	})
}

// WriteInternalServerError は "Server error" の500レスポンスを書き込む。
// errがnilでなければその文字列をerrorフィールドに含める。
func WriteInternalServerError(w http.ResponseWriter, err error) {
	apiErr := model.NewInternalError()
	body := ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
	}
	if err != nil {
		body.Error = err.Error()
	}
	writeJSONError(w, http.StatusInternalServerError, body)
}

func writeJSONError(w http.ResponseWriter, statusCode int, body ErrorResponseBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}
