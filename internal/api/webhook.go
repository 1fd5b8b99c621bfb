package api

import (
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"relay-trader/internal/notify"
)

// handleWebhook 接收任意格式的告警载荷，整形后按内容路由转发到钉钉。
func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "读取请求体失败: "+err.Error())
		return
	}

	clientIP := clientIP(r)
	content := notify.FormatPayload(raw)
	route, webhookURL := h.routes.Resolve(content)

	h.logger.Info("收到告警",
		zap.String("client_ip", clientIP),
		zap.String("route", route),
		zap.Int("bytes", len(raw)),
	)

	if err := h.notifier.Send(r.Context(), webhookURL, content); err != nil {
		h.logger.Error("转发告警失败", zap.String("route", route), zap.Error(err))
		h.events.RecordError(r.Context(), "转发告警失败", err, map[string]interface{}{"route": route})
		writeError(w, http.StatusInternalServerError, "转发告警失败: "+err.Error())
		return
	}

	h.events.RecordWebhookRelay(r.Context(), route, clientIP, content)
	writeSuccess(w, "告警已转发", envelope{
		"route":     route,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleNotifyTest 向默认路由发送一条测试消息，验证钉钉通道连通性。
func (h *Handler) handleNotifyTest(w http.ResponseWriter, r *http.Request) {
	content := "relay-trader 通知通道连通性测试 " + time.Now().UTC().Format(time.RFC3339)
	route, webhookURL := h.routes.Resolve(content)

	if err := h.notifier.Send(r.Context(), webhookURL, content); err != nil {
		h.logger.Error("测试消息发送失败", zap.String("route", route), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "测试消息发送失败: "+err.Error())
		return
	}

	writeSuccess(w, "测试消息已发送", envelope{"route": route})
}
