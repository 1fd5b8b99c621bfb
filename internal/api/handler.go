package api

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"relay-trader/internal/account"
	"relay-trader/internal/batch"
	"relay-trader/internal/exchange"
	"relay-trader/internal/monitor"
	"relay-trader/internal/notify"
	"relay-trader/internal/position"
	"relay-trader/internal/stoporder"
)

// Gateway 为HTTP层所需的交易网关能力集。
type Gateway interface {
	FetchFreeBalance(ctx context.Context, asset string) (float64, error)
	FetchBalances(ctx context.Context) (map[string]exchange.AssetBalance, error)
	FetchAccountInfo(ctx context.Context) (map[string]interface{}, error)
	FetchTradingFees(ctx context.Context) (interface{}, error)
	FetchExchangeStatus(ctx context.Context) (interface{}, error)
	FetchLastPrice(ctx context.Context, symbol string) (float64, error)
	CreateMarketOrder(ctx context.Context, symbol string, side exchange.Side, amount float64) (exchange.OrderRecord, error)
	CreateOrder(ctx context.Context, spec exchange.OrderSpec) (exchange.OrderRecord, error)
	SetLeverage(ctx context.Context, symbol string, leverage int64) error
	FetchPositions(ctx context.Context, symbols ...string) ([]exchange.PositionDetail, error)
}

// GatewayProvider 按密钥ID解析交易网关，ID为空时返回默认网关。
type GatewayProvider func(keyID string) (Gateway, error)

type keyStore interface {
	AddKey(key account.APIKey) error
	Key(id string) (account.SafeAPIKey, error)
	Keys() []account.SafeAPIKey
	RemoveKey(id string) error
}

type notifier interface {
	Send(ctx context.Context, webhookURL, content string) error
}

type eventRecorder interface {
	RecordWebhookRelay(ctx context.Context, route, clientIP, content string)
	RecordOrder(ctx context.Context, keyID string, order exchange.OrderRecord, stops []stoporder.Placed)
	RecordBatchJob(ctx context.Context, job batch.Job)
	RecordPositionOp(ctx context.Context, operation, symbol string, detail interface{})
	RecordError(ctx context.Context, msg string, err error, ctxMap map[string]interface{})
	ListEvents(ctx context.Context, eventType monitor.EventType, limit int) ([]monitor.Event, error)
}

// Handler 聚合全部HTTP处理逻辑。runCtx 为应用生命周期上下文，
// 分批任务挂在它上面而非单次请求的上下文。
type Handler struct {
	logger *zap.Logger
	runCtx context.Context

	gateways    GatewayProvider
	keys        keyStore
	coordinator *batch.Coordinator
	positions   *position.Service
	notifier    notifier
	routes      *notify.Router
	events      eventRecorder
	quoteAsset  string
}

// Options 为Handler的依赖集合。
type Options struct {
	Logger      *zap.Logger
	RunCtx      context.Context
	Gateways    GatewayProvider
	Keys        keyStore
	Coordinator *batch.Coordinator
	Positions   *position.Service
	Notifier    notifier
	Routes      *notify.Router
	Events      eventRecorder
	QuoteAsset  string
}

// NewHandler 构造HTTP处理器。
func NewHandler(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	runCtx := opts.RunCtx
	if runCtx == nil {
		runCtx = context.Background()
	}
	return &Handler{
		logger:      logger,
		runCtx:      runCtx,
		gateways:    opts.Gateways,
		keys:        opts.Keys,
		coordinator: opts.Coordinator,
		positions:   opts.Positions,
		notifier:    opts.Notifier,
		routes:      opts.Routes,
		events:      opts.Events,
		quoteAsset:  opts.QuoteAsset,
	}
}

func (h *Handler) gateway(w http.ResponseWriter, keyID string) (Gateway, bool) {
	gw, err := h.gateways(keyID)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "币安期货交易不可用，请检查API凭证")
		return nil, false
	}
	return gw, true
}

// statusFor 将业务错误映射为HTTP状态码。
func statusFor(err error) int {
	switch {
	case errors.Is(err, exchange.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, batch.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, account.ErrKeyNotFound):
		return http.StatusNotFound
	case errors.Is(err, account.ErrKeyExists):
		return http.StatusBadRequest
	case errors.Is(err, position.ErrNoOpenPosition):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, "服务运行中", nil)
}
