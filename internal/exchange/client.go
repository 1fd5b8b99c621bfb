package exchange

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"
)

// Credentials 为构造网关所需的最小凭证集。
type Credentials struct {
	APIKey     string
	APISecret  string
	UseSandbox bool
}

// Client 封装 Binance USDⓈ-M 合约网关。所有调用失败均视为当前请求/任务的
// 终止条件，不在此层做自动重试。
type Client struct {
	logger   *zap.Logger
	exchange *ccxt.Binanceusdm

	marketsMu     sync.Mutex
	marketsLoaded bool
}

// NewClient 构造合约网关客户端，凭证缺失时返回 ErrUnavailable。
func NewClient(creds Credentials, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if creds.APIKey == "" || creds.APISecret == "" {
		return nil, ErrUnavailable
	}

	userConfig := map[string]interface{}{
		"apiKey":          creds.APIKey,
		"secret":          creds.APISecret,
		"enableRateLimit": true,
		"options": map[string]interface{}{
			"adjustForTimeDifference": true,
			"defaultType":             "future",
		},
	}

	ex := ccxt.NewBinanceusdm(userConfig)
	if creds.UseSandbox {
		ex.SetSandboxMode(true)
	}

	return &Client{
		logger:   logger,
		exchange: ex,
	}, nil
}

// FetchFreeBalance 返回指定币种的可用余额，币种不存在时视为0。
func (c *Client) FetchFreeBalance(ctx context.Context, asset string) (float64, error) {
	balances, err := c.fetchBalances(ctx)
	if err != nil {
		return 0, err
	}

	if balances.Free == nil {
		return 0, nil
	}
	if free, ok := balances.Free[asset]; ok && free != nil {
		return *free, nil
	}
	return 0, nil
}

// FetchBalances 返回全部币种的余额快照。
func (c *Client) FetchBalances(ctx context.Context) (map[string]AssetBalance, error) {
	balances, err := c.fetchBalances(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[string]AssetBalance)
	for asset, total := range balances.Total {
		entry := AssetBalance{Total: derefFloat(total)}
		if balances.Free != nil {
			entry.Free = derefFloat(balances.Free[asset])
		}
		if balances.Used != nil {
			entry.Used = derefFloat(balances.Used[asset])
		}
		out[asset] = entry
	}
	return out, nil
}

func (c *Client) fetchBalances(ctx context.Context) (ccxt.Balances, error) {
	var balances ccxt.Balances
	err := c.call(ctx, "fetch_balance", func() error {
		result, err := c.exchange.FetchBalance()
		if err != nil {
			return err
		}
		balances = result
		return nil
	})
	return balances, err
}

// FetchAccountInfo 返回交易所账户的原始信息（权限、手续费等级、保证金
// 概览等），即余额接口的原始响应体。
func (c *Client) FetchAccountInfo(ctx context.Context) (map[string]interface{}, error) {
	balances, err := c.fetchBalances(ctx)
	if err != nil {
		return nil, err
	}
	return balances.Info, nil
}

// FetchTradingFees 返回当前账户的全部交易费率。
func (c *Client) FetchTradingFees(ctx context.Context) (interface{}, error) {
	var fees interface{}
	err := c.call(ctx, "fetch_trading_fees", func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}
		result, err := c.exchange.FetchTradingFees()
		if err != nil {
			return err
		}
		fees = result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return fees, nil
}

// FetchExchangeStatus 返回交易所的运行状态。
func (c *Client) FetchExchangeStatus(ctx context.Context) (interface{}, error) {
	var status interface{}
	err := c.call(ctx, "fetch_status", func() error {
		result, err := c.exchange.FetchStatus()
		if err != nil {
			return err
		}
		status = result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return status, nil
}

// FetchLastPrice 获取最新成交价。
func (c *Client) FetchLastPrice(ctx context.Context, symbol string) (float64, error) {
	var last float64
	err := c.call(ctx, "fetch_ticker", func() error {
		ticker, err := c.exchange.FetchTicker(symbol)
		if err != nil {
			return err
		}
		if ticker.Last == nil {
			return fmt.Errorf("行情缺少最新价: %s", symbol)
		}
		last = *ticker.Last
		return nil
	})
	if err != nil {
		return 0, err
	}
	return last, nil
}

// CreateMarketOrder 提交市价单。
func (c *Client) CreateMarketOrder(ctx context.Context, symbol string, side Side, amount float64) (OrderRecord, error) {
	return c.CreateOrder(ctx, OrderSpec{
		Symbol: symbol,
		Side:   side,
		Type:   OrderTypeMarket,
		Amount: amount,
	})
}

// CreateOrder 按 OrderSpec 提交委托，支持市价、限价与触发类订单。
func (c *Client) CreateOrder(ctx context.Context, spec OrderSpec) (OrderRecord, error) {
	params := map[string]interface{}{}
	if spec.ReduceOnly {
		params["reduceOnly"] = true
	}
	if spec.StopPrice > 0 {
		params["stopPrice"] = spec.StopPrice
	}

	var raw ccxt.Order
	err := c.call(ctx, fmt.Sprintf("create_order_%s", spec.Type), func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}

		var err error
		switch spec.Type {
		case OrderTypeMarket:
			var opts []ccxt.CreateMarketOrderOptions
			if len(params) > 0 {
				opts = append(opts, ccxt.WithCreateMarketOrderParams(params))
			}
			raw, err = c.exchange.CreateMarketOrder(spec.Symbol, string(spec.Side), spec.Amount, opts...)
		case OrderTypeLimit:
			var opts []ccxt.CreateLimitOrderOptions
			if len(params) > 0 {
				opts = append(opts, ccxt.WithCreateLimitOrderParams(params))
			}
			raw, err = c.exchange.CreateLimitOrder(spec.Symbol, string(spec.Side), spec.Amount, spec.Price, opts...)
		case OrderTypeStop, OrderTypeTakeProfit:
			if spec.StopPrice <= 0 {
				return fmt.Errorf("触发类订单缺少触发价: %s", spec.Type)
			}
			opts := []ccxt.CreateOrderOptions{ccxt.WithCreateOrderParams(params)}
			if spec.Price > 0 {
				opts = append(opts, ccxt.WithCreateOrderPrice(spec.Price))
			}
			raw, err = c.exchange.CreateOrder(spec.Symbol, spec.Type, string(spec.Side), spec.Amount, opts...)
		default:
			return fmt.Errorf("不支持的订单类型 %q", spec.Type)
		}
		return err
	})
	if err != nil {
		return OrderRecord{}, err
	}

	return convertOrder(spec, raw), nil
}

// SetLeverage 设置交易对杠杆。
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int64) error {
	return c.call(ctx, "set_leverage", func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}
		_, err := c.exchange.SetLeverage(leverage, ccxt.WithSetLeverageSymbol(symbol))
		return err
	})
}

// FetchPositions 获取仓位列表，symbols 为空时返回全部。
func (c *Client) FetchPositions(ctx context.Context, symbols ...string) ([]PositionDetail, error) {
	var raw []ccxt.Position
	err := c.call(ctx, "fetch_positions", func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}

		var opts []ccxt.FetchPositionsOptions
		if len(symbols) > 0 {
			opts = append(opts, ccxt.WithFetchPositionsSymbols(symbols))
		}
		result, err := c.exchange.FetchPositions(opts...)
		if err != nil {
			return err
		}
		raw = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	positions := make([]PositionDetail, 0, len(raw))
	for _, pos := range raw {
		positions = append(positions, convertPosition(pos))
	}
	return positions, nil
}

func (c *Client) ensureMarketsLoaded(ctx context.Context) error {
	if c.marketsLoaded {
		return nil
	}

	c.marketsMu.Lock()
	defer c.marketsMu.Unlock()

	if c.marketsLoaded {
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	if _, err := c.exchange.LoadMarkets(); err != nil {
		return err
	}

	c.marketsLoaded = true
	c.logger.Info("已完成市场元数据加载")
	return nil
}

// call 在执行前检查上下文，并将失败统一包装为 CallError。
func (c *Client) call(ctx context.Context, operation string, fn func() error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	start := time.Now()
	err := fn()
	if err != nil {
		c.logger.Error("交易所调用失败",
			zap.String("operation", operation),
			zap.Duration("latency", time.Since(start)),
			zap.Error(err),
		)
		return wrapCall(operation, err)
	}

	return nil
}

func convertOrder(spec OrderSpec, raw ccxt.Order) OrderRecord {
	record := OrderRecord{
		ID:        derefString(raw.Id),
		Symbol:    spec.Symbol,
		Side:      spec.Side,
		Type:      spec.Type,
		Amount:    spec.Amount,
		Price:     spec.Price,
		Status:    derefString(raw.Status),
		CreatedAt: time.Now().UTC(),
	}
	if raw.Amount != nil && *raw.Amount > 0 {
		record.Amount = *raw.Amount
	}
	if raw.Price != nil && *raw.Price > 0 {
		record.Price = *raw.Price
	}
	return record
}

func convertPosition(pos ccxt.Position) PositionDetail {
	side := strings.ToLower(strings.TrimSpace(derefString(pos.Side)))
	return PositionDetail{
		Symbol:           derefString(pos.Symbol),
		Side:             side,
		Contracts:        derefFloat(pos.Contracts),
		EntryPrice:       derefFloat(pos.EntryPrice),
		MarkPrice:        derefFloat(pos.MarkPrice),
		LiquidationPrice: derefFloat(pos.LiquidationPrice),
		UnrealizedPnl:    derefFloat(pos.UnrealizedPnl),
		Notional:         derefFloat(pos.Notional),
		Leverage:         derefFloat(pos.Leverage),
		MarginMode:       strings.ToLower(strings.TrimSpace(derefString(pos.MarginMode))),
	}
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func derefFloat(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
