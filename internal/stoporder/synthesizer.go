package stoporder

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"relay-trader/internal/exchange"
)

// Kind 区分止盈与止损。
const (
	KindTakeProfit = "take_profit"
	KindStopLoss   = "stop_loss"
)

type orderClient interface {
	FetchLastPrice(ctx context.Context, symbol string) (float64, error)
	CreateOrder(ctx context.Context, spec exchange.OrderSpec) (exchange.OrderRecord, error)
}

// Plan 描述一次止盈止损合成的输入。百分比为0表示不挂对应订单。
type Plan struct {
	Symbol        string
	Side          exchange.Side // 入场方向
	PositionSize  float64
	TakeProfitPct float64
	StopLossPct   float64
	PartialTP     bool
	PartialSL     bool
	PartialPct    float64
}

// Placed 为一笔已提交的保护性订单。
type Placed struct {
	Kind  string               `json:"kind"`
	Order exchange.OrderRecord `json:"order"`
}

// Synthesizer 依据入场成交合成配对的止盈止损订单。
type Synthesizer struct {
	client orderClient
	logger *zap.Logger
}

// NewSynthesizer 创建合成器。
func NewSynthesizer(client orderClient, logger *zap.Logger) *Synthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synthesizer{client: client, logger: logger}
}

// Synthesize 提交计划要求的保护性订单。两笔订单基于同一次行情快照定价，
// 且相互独立：一笔失败不回滚另一笔，返回已成功的订单与聚合后的错误。
func (s *Synthesizer) Synthesize(ctx context.Context, plan Plan) ([]Placed, error) {
	if plan.TakeProfitPct <= 0 && plan.StopLossPct <= 0 {
		return nil, nil
	}
	if plan.PositionSize <= 0 {
		return nil, fmt.Errorf("stoporder: 仓位数量必须大于0")
	}

	price, err := s.client.FetchLastPrice(ctx, plan.Symbol)
	if err != nil {
		return nil, err
	}

	closeSide := plan.Side.Opposite()
	placed := make([]Placed, 0, 2)
	var errs error

	if plan.TakeProfitPct > 0 {
		spec := exchange.OrderSpec{
			Symbol:     plan.Symbol,
			Side:       closeSide,
			Type:       exchange.OrderTypeTakeProfit,
			Amount:     closeAmount(plan.PositionSize, plan.PartialTP, plan.PartialPct),
			StopPrice:  takeProfitPrice(plan.Side, price, plan.TakeProfitPct),
			ReduceOnly: true,
		}
		if order, tpErr := s.client.CreateOrder(ctx, spec); tpErr != nil {
			errs = multierr.Append(errs, fmt.Errorf("stoporder: 止盈订单提交失败: %w", tpErr))
		} else {
			placed = append(placed, Placed{Kind: KindTakeProfit, Order: order})
			s.logger.Info("止盈订单已创建",
				zap.String("order_id", order.ID),
				zap.Float64("trigger_price", spec.StopPrice),
				zap.Float64("amount", spec.Amount),
			)
		}
	}

	if plan.StopLossPct > 0 {
		spec := exchange.OrderSpec{
			Symbol:     plan.Symbol,
			Side:       closeSide,
			Type:       exchange.OrderTypeStop,
			Amount:     closeAmount(plan.PositionSize, plan.PartialSL, plan.PartialPct),
			StopPrice:  stopLossPrice(plan.Side, price, plan.StopLossPct),
			ReduceOnly: true,
		}
		if order, slErr := s.client.CreateOrder(ctx, spec); slErr != nil {
			errs = multierr.Append(errs, fmt.Errorf("stoporder: 止损订单提交失败: %w", slErr))
		} else {
			placed = append(placed, Placed{Kind: KindStopLoss, Order: order})
			s.logger.Info("止损订单已创建",
				zap.String("order_id", order.ID),
				zap.Float64("trigger_price", spec.StopPrice),
				zap.Float64("amount", spec.Amount),
			)
		}
	}

	return placed, errs
}

func closeAmount(positionSize float64, partial bool, partialPct float64) float64 {
	if partial && partialPct > 0 {
		return positionSize * partialPct / 100
	}
	return positionSize
}

func takeProfitPrice(entrySide exchange.Side, price, pct float64) float64 {
	if entrySide == exchange.SideBuy {
		return price * (1 + pct/100)
	}
	return price * (1 - pct/100)
}

func stopLossPrice(entrySide exchange.Side, price, pct float64) float64 {
	if entrySide == exchange.SideBuy {
		return price * (1 - pct/100)
	}
	return price * (1 + pct/100)
}
