package monitor

import (
	"time"

	"relay-trader/internal/batch"
	"relay-trader/internal/exchange"
	"relay-trader/internal/stoporder"
)

// EventType 表示监控事件类型。
type EventType string

const (
	EventWebhookRelay EventType = "webhook_relay"
	EventOrder        EventType = "order"
	EventBatchJob     EventType = "batch_job"
	EventPositionOp   EventType = "position_op"
	EventError        EventType = "error"
)

// Event 封装通用监控事件。
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// WebhookRelayPayload 记录一次告警转发。
type WebhookRelayPayload struct {
	Route    string `json:"route"`
	ClientIP string `json:"client_ip,omitempty"`
	Content  string `json:"content"`
}

// OrderPayload 记录一次委托提交，含主订单与伴随的止盈止损。
type OrderPayload struct {
	KeyID      string                 `json:"key_id,omitempty"`
	Order      exchange.OrderRecord   `json:"order"`
	StopOrders []stoporder.Placed     `json:"stop_orders,omitempty"`
	Extra      map[string]interface{} `json:"extra,omitempty"`
}

// BatchJobPayload 记录分批任务的启动与查询时点快照。
type BatchJobPayload struct {
	JobID string    `json:"job_id"`
	Job   batch.Job `json:"job"`
}

// PositionOpPayload 记录仓位操作。
type PositionOpPayload struct {
	Operation string      `json:"operation"`
	Symbol    string      `json:"symbol,omitempty"`
	Detail    interface{} `json:"detail,omitempty"`
}

// ErrorPayload 记录异常。
type ErrorPayload struct {
	Message string                 `json:"message"`
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}
