package batch

import (
	"time"

	"relay-trader/internal/exchange"
)

// Status 表示分批任务的生命周期状态。
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Terminal 判断状态是否为终态，终态任务不再被写入。
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// SubOrder 记录一笔已提交的子订单。
type SubOrder struct {
	OrderID string  `json:"order_id"`
	Amount  float64 `json:"amount"`
	Index   int     `json:"index"`
}

// Job 为一次分批执行的完整记录。执行期间仅由所属的执行协程写入，
// 外部只读，读到的永远是完整快照。
type Job struct {
	ID             string        `json:"id"`
	Symbol         string        `json:"symbol"`
	Side           exchange.Side `json:"side"`
	TotalAmount    float64       `json:"total_amount"`
	ExecutedAmount float64       `json:"executed_amount"`
	Leverage       int64         `json:"leverage,omitempty"`
	Orders         []SubOrder    `json:"orders"`
	Status         Status        `json:"status"`
	Error          string        `json:"error,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

func (j Job) clone() Job {
	out := j
	out.Orders = make([]SubOrder, len(j.Orders))
	copy(out.Orders, j.Orders)
	return out
}
