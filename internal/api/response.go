package api

import (
	"net/http"

	json "github.com/goccy/go-json"
)

// envelope 为统一响应结构，与历史接口保持字段对齐：
// status 取 success/error，message 为人类可读描述，其余字段视接口而定。
type envelope map[string]interface{}

func writeJSON(w http.ResponseWriter, code int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func writeSuccess(w http.ResponseWriter, message string, extra envelope) {
	body := envelope{"status": "success", "message": message}
	for k, v := range extra {
		body[k] = v
	}
	writeJSON(w, http.StatusOK, body)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, envelope{"status": "error", "message": message})
}
