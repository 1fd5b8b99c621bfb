package exchange

import (
	"fmt"
	"strings"
	"time"
)

// Side 表示下单方向。
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite 返回相反方向，用于平仓与止盈止损。
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// ParseSide 解析外部传入的方向字符串。
func ParseSide(raw string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "buy":
		return SideBuy, nil
	case "sell":
		return SideSell, nil
	default:
		return "", fmt.Errorf("exchange: 无效的订单方向 %q", raw)
	}
}

// 订单类型与 ccxt 统一类型对齐。
const (
	OrderTypeMarket     = "market"
	OrderTypeLimit      = "limit"
	OrderTypeStop       = "stop"
	OrderTypeTakeProfit = "take_profit"
)

// OrderSpec 描述一笔待提交的委托。
type OrderSpec struct {
	Symbol     string
	Side       Side
	Type       string
	Amount     float64
	Price      float64
	StopPrice  float64
	ReduceOnly bool
}

// OrderRecord 为交易所返回的委托摘要。
type OrderRecord struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Side      Side      `json:"side"`
	Type      string    `json:"type"`
	Amount    float64   `json:"amount"`
	Price     float64   `json:"price,omitempty"`
	Status    string    `json:"status,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AssetBalance 为单一币种的余额快照。
type AssetBalance struct {
	Free  float64 `json:"free"`
	Used  float64 `json:"used"`
	Total float64 `json:"total"`
}

// PositionDetail 表示单个合约仓位。
type PositionDetail struct {
	Symbol           string  `json:"symbol"`
	Side             string  `json:"side"`
	Contracts        float64 `json:"contracts"`
	EntryPrice       float64 `json:"entry_price"`
	MarkPrice        float64 `json:"mark_price"`
	LiquidationPrice float64 `json:"liquidation_price"`
	UnrealizedPnl    float64 `json:"unrealized_pnl"`
	Notional         float64 `json:"notional"`
	Leverage         float64 `json:"leverage"`
	MarginMode       string  `json:"margin_mode,omitempty"`
}
