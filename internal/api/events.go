package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"relay-trader/internal/monitor"
)

// handleListEvents 按类型检索最近的监控事件。
func (h *Handler) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 200
	if qs := q.Get("limit"); qs != "" {
		if v, err := strconv.Atoi(qs); err == nil && v > 0 {
			if v > 1000 {
				v = 1000
			}
			limit = v
		}
	}

	eventType := monitor.EventType("")
	if typ := strings.TrimSpace(q.Get("type")); typ != "" {
		eventType = monitor.EventType(strings.ToLower(typ))
	}

	events, err := h.events.ListEvents(r.Context(), eventType, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "查询事件失败: "+err.Error())
		return
	}

	writeSuccess(w, fmt.Sprintf("获取到 %d 条事件", len(events)), envelope{
		"events": events,
	})
}
