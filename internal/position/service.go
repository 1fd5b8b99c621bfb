package position

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"relay-trader/internal/exchange"
)

// ErrNoOpenPosition 表示指定交易对没有开仓仓位。
var ErrNoOpenPosition = errors.New("position: 无开仓仓位")

type gatewayClient interface {
	FetchPositions(ctx context.Context, symbols ...string) ([]exchange.PositionDetail, error)
	CreateOrder(ctx context.Context, spec exchange.OrderSpec) (exchange.OrderRecord, error)
	SetLeverage(ctx context.Context, symbol string, leverage int64) error
}

// CloseRequest 描述一次平仓。Percentage 优先于 Amount；两者都缺省时全仓平掉。
type CloseRequest struct {
	Symbol     string
	Amount     float64
	Percentage float64
}

// CloseResult 为单仓位平仓结果。
type CloseResult struct {
	OrderID         string  `json:"order_id"`
	Symbol          string  `json:"symbol"`
	ClosedAmount    float64 `json:"closed_amount"`
	ClosePercentage float64 `json:"close_percentage"`
}

// ClosedPosition 记录批量平仓中的一笔成功。
type ClosedPosition struct {
	Symbol  string  `json:"symbol"`
	OrderID string  `json:"order_id"`
	Amount  float64 `json:"amount"`
	Side    string  `json:"side"`
}

// FailedPosition 记录批量平仓中的一笔失败。
type FailedPosition struct {
	Symbol string `json:"symbol"`
	Error  string `json:"error"`
}

// CloseAllResult 汇总批量平仓结果。
type CloseAllResult struct {
	Closed []ClosedPosition `json:"closed_positions"`
	Failed []FailedPosition `json:"failed_positions"`
	Total  int              `json:"total_positions"`
}

// Service 提供仓位查询与平仓操作。网关按请求传入，与多密钥体系对应。
type Service struct {
	logger *zap.Logger
}

// NewService 创建仓位服务。
func NewService(logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{logger: logger}
}

// ListOpen 返回全部非零仓位。
func (s *Service) ListOpen(ctx context.Context, client gatewayClient) ([]exchange.PositionDetail, error) {
	positions, err := client.FetchPositions(ctx)
	if err != nil {
		return nil, err
	}

	open := make([]exchange.PositionDetail, 0, len(positions))
	for _, pos := range positions {
		if pos.Contracts != 0 {
			open = append(open, pos)
		}
	}

	s.logger.Info("获取开仓仓位", zap.Int("count", len(open)))
	return open, nil
}

// GetBySymbol 返回指定交易对的非零仓位，不存在时返回 nil。
func (s *Service) GetBySymbol(ctx context.Context, client gatewayClient, symbol string) (*exchange.PositionDetail, error) {
	positions, err := client.FetchPositions(ctx, symbol)
	if err != nil {
		return nil, err
	}

	for _, pos := range positions {
		if pos.Symbol == symbol && pos.Contracts != 0 {
			found := pos
			return &found, nil
		}
	}
	return nil, nil
}

// Close 以只减仓市价单平掉指定仓位的全部或部分。
func (s *Service) Close(ctx context.Context, client gatewayClient, req CloseRequest) (CloseResult, error) {
	current, err := s.GetBySymbol(ctx, client, req.Symbol)
	if err != nil {
		return CloseResult{}, err
	}
	if current == nil {
		return CloseResult{}, fmt.Errorf("%w: %s", ErrNoOpenPosition, req.Symbol)
	}

	closeAmount := current.Contracts
	if req.Percentage > 0 {
		closeAmount = current.Contracts * req.Percentage / 100
	} else if req.Amount > 0 {
		closeAmount = req.Amount
	}

	order, err := client.CreateOrder(ctx, exchange.OrderSpec{
		Symbol:     req.Symbol,
		Side:       closeSide(current.Side),
		Type:       exchange.OrderTypeMarket,
		Amount:     closeAmount,
		ReduceOnly: true,
	})
	if err != nil {
		return CloseResult{}, err
	}

	result := CloseResult{
		OrderID:      order.ID,
		Symbol:       req.Symbol,
		ClosedAmount: closeAmount,
	}
	if current.Contracts > 0 {
		result.ClosePercentage = closeAmount / current.Contracts * 100
	}

	s.logger.Info("仓位平仓成功",
		zap.String("symbol", req.Symbol),
		zap.String("order_id", order.ID),
		zap.Float64("closed_amount", closeAmount),
	)
	return result, nil
}

// CloseAll 逐个平掉全部开仓仓位。单仓位失败不影响其余仓位，
// 成功与失败分别汇总返回。
func (s *Service) CloseAll(ctx context.Context, client gatewayClient) (CloseAllResult, error) {
	open, err := s.ListOpen(ctx, client)
	if err != nil {
		return CloseAllResult{}, err
	}

	result := CloseAllResult{
		Closed: make([]ClosedPosition, 0, len(open)),
		Failed: make([]FailedPosition, 0),
		Total:  len(open),
	}

	for _, pos := range open {
		order, closeErr := client.CreateOrder(ctx, exchange.OrderSpec{
			Symbol:     pos.Symbol,
			Side:       closeSide(pos.Side),
			Type:       exchange.OrderTypeMarket,
			Amount:     pos.Contracts,
			ReduceOnly: true,
		})
		if closeErr != nil {
			result.Failed = append(result.Failed, FailedPosition{Symbol: pos.Symbol, Error: closeErr.Error()})
			s.logger.Error("仓位平仓失败", zap.String("symbol", pos.Symbol), zap.Error(closeErr))
			continue
		}

		result.Closed = append(result.Closed, ClosedPosition{
			Symbol:  pos.Symbol,
			OrderID: order.ID,
			Amount:  pos.Contracts,
			Side:    pos.Side,
		})
		s.logger.Info("仓位平仓成功", zap.String("symbol", pos.Symbol), zap.String("order_id", order.ID))
	}

	return result, nil
}

// SetLeverage 设置交易对杠杆。
func (s *Service) SetLeverage(ctx context.Context, client gatewayClient, symbol string, leverage int64) error {
	if leverage <= 0 {
		return errors.New("position: 杠杆倍数必须大于0")
	}
	if err := client.SetLeverage(ctx, symbol, leverage); err != nil {
		return err
	}
	s.logger.Info("杠杆已设置", zap.String("symbol", symbol), zap.Int64("leverage", leverage))
	return nil
}

func closeSide(positionSide string) exchange.Side {
	if positionSide == "long" {
		return exchange.SideSell
	}
	return exchange.SideBuy
}
