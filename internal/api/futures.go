package api

import (
	"errors"
	"net/http"

	json "github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"relay-trader/internal/batch"
	"relay-trader/internal/exchange"
	"relay-trader/internal/sizing"
	"relay-trader/internal/stoporder"
)

// orderRequest 为下单接口的请求体，字段命名沿用历史接口。
type orderRequest struct {
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Type       string  `json:"type"`
	Amount     float64 `json:"amount"`
	Price      float64 `json:"price,omitempty"`
	StopPrice  float64 `json:"stop_price,omitempty"`
	ReduceOnly bool    `json:"reduce_only,omitempty"`
	Leverage   int64   `json:"leverage,omitempty"`
	APIKeyID   string  `json:"api_key_id,omitempty"`

	IsMarketOrder bool    `json:"is_market_order,omitempty"`
	PositionType  string  `json:"position_type,omitempty"`
	Percentage    float64 `json:"percentage,omitempty"`

	IsBatchOrder         bool    `json:"is_batch_order,omitempty"`
	BatchCount           int     `json:"batch_count,omitempty"`
	BatchDurationMinutes int     `json:"batch_duration_minutes,omitempty"`
	MinAmountPerBatch    float64 `json:"min_amount_per_batch,omitempty"`
	MaxAmountPerBatch    float64 `json:"max_amount_per_batch,omitempty"`

	TakeProfitPercentage float64 `json:"take_profit_percentage,omitempty"`
	StopLossPercentage   float64 `json:"stop_loss_percentage,omitempty"`
	IsPartialTP          bool    `json:"is_partial_tp,omitempty"`
	IsPartialSL          bool    `json:"is_partial_sl,omitempty"`
	PartialPercentage    float64 `json:"partial_percentage,omitempty"`
}

// placedOrder 标记一笔已提交委托的角色。
type placedOrder struct {
	Kind  string               `json:"kind"`
	Order exchange.OrderRecord `json:"order"`
}

// handleCreateOrder 处理单笔、市价策略与分批三类下单。
// 分批请求登记后立即应答，结果经状态接口轮询获知。
func (h *Handler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "解析请求体失败: "+err.Error())
		return
	}

	side, err := exchange.ParseSide(req.Side)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	gw, ok := h.gateway(w, req.APIKeyID)
	if !ok {
		return
	}

	switch {
	case req.IsBatchOrder:
		h.dispatchBatchOrder(w, r, gw, req, side)
	case req.IsMarketOrder:
		h.placeMarketOrder(w, r, gw, req, side)
	default:
		h.placeGeneralOrder(w, r, gw, req, side)
	}
}

func (h *Handler) dispatchBatchOrder(w http.ResponseWriter, r *http.Request, gw Gateway, req orderRequest, side exchange.Side) {
	if req.BatchCount <= 0 || req.BatchDurationMinutes <= 0 ||
		req.MinAmountPerBatch <= 0 || req.MaxAmountPerBatch <= 0 {
		writeError(w, http.StatusBadRequest, "分批订单需要提供所有分批参数")
		return
	}

	// 任务寿命超出本次请求，挂在应用生命周期上下文上。
	jobID, err := h.coordinator.Start(h.runCtx, gw, batch.Request{
		Symbol:          req.Symbol,
		Side:            side,
		TotalAmount:     req.Amount,
		Count:           req.BatchCount,
		DurationMinutes: req.BatchDurationMinutes,
		MinAmount:       req.MinAmountPerBatch,
		MaxAmount:       req.MaxAmountPerBatch,
		Leverage:        req.Leverage,
	})
	if err != nil {
		if errors.Is(err, exchange.ErrUnavailable) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if job, jobErr := h.coordinator.Job(jobID); jobErr == nil {
		h.events.RecordBatchJob(r.Context(), job)
	}

	writeSuccess(w, "分批订单已启动", envelope{
		"order_type": "batch",
		"job_id":     jobID,
		"batch_info": envelope{
			"total_amount":     req.Amount,
			"batch_count":      req.BatchCount,
			"duration_minutes": req.BatchDurationMinutes,
		},
	})
}

func (h *Handler) placeMarketOrder(w http.ResponseWriter, r *http.Request, gw Gateway, req orderRequest, side exchange.Side) {
	ctx := r.Context()

	if req.Leverage > 0 {
		if err := gw.SetLeverage(ctx, req.Symbol, req.Leverage); err != nil {
			h.orderFailure(w, r, req, "设置杠杆失败", err)
			return
		}
	}

	amount := req.Amount
	if req.PositionType != "" {
		policy, err := sizing.ParsePolicy(req.PositionType)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		resolver := sizing.NewResolver(gw, h.quoteAsset, h.logger)
		amount, err = resolver.Resolve(ctx, sizing.Request{
			Policy:     policy,
			Amount:     req.Amount,
			Percentage: req.Percentage,
		})
		if err != nil {
			if errors.Is(err, sizing.ErrInvalidPolicy) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			h.orderFailure(w, r, req, "计算仓位数量失败", err)
			return
		}
	}

	mainOrder, err := gw.CreateMarketOrder(ctx, req.Symbol, side, amount)
	if err != nil {
		h.orderFailure(w, r, req, "创建市价订单失败", err)
		return
	}
	results := []placedOrder{{Kind: "main_order", Order: mainOrder}}

	var stops []stoporder.Placed
	if req.TakeProfitPercentage > 0 || req.StopLossPercentage > 0 {
		synth := stoporder.NewSynthesizer(gw, h.logger)
		var synthErr error
		stops, synthErr = synth.Synthesize(ctx, stoporder.Plan{
			Symbol:        req.Symbol,
			Side:          side,
			PositionSize:  amount,
			TakeProfitPct: req.TakeProfitPercentage,
			StopLossPct:   req.StopLossPercentage,
			PartialTP:     req.IsPartialTP,
			PartialSL:     req.IsPartialSL,
			PartialPct:    req.PartialPercentage,
		})
		for _, placed := range stops {
			results = append(results, placedOrder{Kind: placed.Kind, Order: placed.Order})
		}
		if synthErr != nil {
			// 止盈止损互相独立：主单与已成功的保护单保留，失败部分如实上报。
			h.events.RecordError(ctx, "止盈止损部分失败", synthErr, map[string]interface{}{"symbol": req.Symbol})
			writeJSON(w, http.StatusInternalServerError, envelope{
				"status":  "error",
				"message": "止盈止损部分失败: " + synthErr.Error(),
				"orders":  results,
			})
			return
		}
	}

	h.events.RecordOrder(ctx, req.APIKeyID, mainOrder, stops)
	writeSuccess(w, "期货订单创建成功", envelope{"orders": results})
}

func (h *Handler) placeGeneralOrder(w http.ResponseWriter, r *http.Request, gw Gateway, req orderRequest, side exchange.Side) {
	ctx := r.Context()

	if req.Leverage > 0 {
		if err := gw.SetLeverage(ctx, req.Symbol, req.Leverage); err != nil {
			h.orderFailure(w, r, req, "设置杠杆失败", err)
			return
		}
	}

	spec := exchange.OrderSpec{
		Symbol:     req.Symbol,
		Side:       side,
		Type:       req.Type,
		Amount:     req.Amount,
		ReduceOnly: req.ReduceOnly,
	}
	switch req.Type {
	case exchange.OrderTypeLimit:
		spec.Price = req.Price
	case exchange.OrderTypeStop, exchange.OrderTypeTakeProfit:
		spec.StopPrice = req.StopPrice
	}

	mainOrder, err := gw.CreateOrder(ctx, spec)
	if err != nil {
		h.orderFailure(w, r, req, "创建期货订单失败", err)
		return
	}

	h.events.RecordOrder(ctx, req.APIKeyID, mainOrder, nil)
	writeSuccess(w, "期货订单创建成功", envelope{
		"orders": []placedOrder{{Kind: "main_order", Order: mainOrder}},
	})
}

func (h *Handler) orderFailure(w http.ResponseWriter, r *http.Request, req orderRequest, msg string, err error) {
	h.logger.Error(msg, zap.String("symbol", req.Symbol), zap.Error(err))
	h.events.RecordError(r.Context(), msg, err, map[string]interface{}{"symbol": req.Symbol})
	writeError(w, statusFor(err), msg+": "+err.Error())
}

// handleBatchOrderStatus 查询单个分批任务。
func (h *Handler) handleBatchOrderStatus(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	job, err := h.coordinator.Job(jobID)
	if err != nil {
		writeError(w, statusFor(err), "分批订单 "+jobID+" 不存在")
		return
	}

	writeSuccess(w, "获取分批订单状态成功", envelope{
		"job_id":   job.ID,
		"job_info": job,
	})
}

// handleListBatchOrders 列出全部留存的分批任务。
func (h *Handler) handleListBatchOrders(w http.ResponseWriter, _ *http.Request) {
	jobs := h.coordinator.Jobs()
	writeSuccess(w, "获取分批订单列表成功", envelope{
		"count":      len(jobs),
		"batch_jobs": jobs,
	})
}
