package api

import (
	"errors"
	"fmt"
	"net/http"

	json "github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"relay-trader/internal/position"
)

type closePositionRequest struct {
	Symbol     string  `json:"symbol"`
	Amount     float64 `json:"amount,omitempty"`
	Percentage float64 `json:"percentage,omitempty"`
	APIKeyID   string  `json:"api_key_id,omitempty"`
}

type leverageRequest struct {
	Symbol   string `json:"symbol"`
	Leverage int64  `json:"leverage"`
	APIKeyID string `json:"api_key_id,omitempty"`
}

// handleListPositions 返回全部非零仓位。
func (h *Handler) handleListPositions(w http.ResponseWriter, r *http.Request) {
	gw, ok := h.gateway(w, r.URL.Query().Get("api_key_id"))
	if !ok {
		return
	}

	open, err := h.positions.ListOpen(r.Context(), gw)
	if err != nil {
		h.events.RecordError(r.Context(), "获取仓位失败", err, nil)
		writeError(w, statusFor(err), "获取仓位失败: "+err.Error())
		return
	}

	writeSuccess(w, fmt.Sprintf("获取到 %d 个开仓仓位", len(open)), envelope{
		"positions": open,
	})
}

// handleGetPosition 返回指定交易对的仓位，无仓位时 position 为 null。
func (h *Handler) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	gw, ok := h.gateway(w, r.URL.Query().Get("api_key_id"))
	if !ok {
		return
	}

	pos, err := h.positions.GetBySymbol(r.Context(), gw, symbol)
	if err != nil {
		writeError(w, statusFor(err), "获取仓位失败: "+err.Error())
		return
	}
	if pos == nil {
		writeSuccess(w, symbol+" 无开仓仓位", envelope{"position": nil})
		return
	}

	writeSuccess(w, "获取到 "+symbol+" 的仓位信息", envelope{"position": pos})
}

// handleClosePosition 按数量或百分比平仓，两者都缺省时全仓平掉。
func (h *Handler) handleClosePosition(w http.ResponseWriter, r *http.Request) {
	var req closePositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "解析请求体失败: "+err.Error())
		return
	}
	if req.Symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol 不能为空")
		return
	}

	gw, ok := h.gateway(w, req.APIKeyID)
	if !ok {
		return
	}

	result, err := h.positions.Close(r.Context(), gw, position.CloseRequest{
		Symbol:     req.Symbol,
		Amount:     req.Amount,
		Percentage: req.Percentage,
	})
	if err != nil {
		if errors.Is(err, position.ErrNoOpenPosition) {
			writeError(w, http.StatusBadRequest, req.Symbol+" 无开仓仓位")
			return
		}
		h.events.RecordError(r.Context(), "平仓失败", err, map[string]interface{}{"symbol": req.Symbol})
		writeError(w, statusFor(err), "平仓失败: "+err.Error())
		return
	}

	h.events.RecordPositionOp(r.Context(), "close", req.Symbol, result)
	writeSuccess(w, "平仓成功", envelope{"result": result})
}

// handleCloseAllPositions 逐仓位平掉全部持仓，单仓失败不影响其余仓位。
func (h *Handler) handleCloseAllPositions(w http.ResponseWriter, r *http.Request) {
	var req closePositionRequest
	// 请求体可省略，仅用于指定密钥。
	_ = json.NewDecoder(r.Body).Decode(&req)

	gw, ok := h.gateway(w, req.APIKeyID)
	if !ok {
		return
	}

	result, err := h.positions.CloseAll(r.Context(), gw)
	if err != nil {
		h.events.RecordError(r.Context(), "批量平仓失败", err, nil)
		writeError(w, statusFor(err), "批量平仓失败: "+err.Error())
		return
	}

	h.logger.Info("批量平仓完成",
		zap.Int("closed", len(result.Closed)),
		zap.Int("failed", len(result.Failed)),
	)
	h.events.RecordPositionOp(r.Context(), "close_all", "", result)
	writeSuccess(w, fmt.Sprintf("平仓完成: 成功 %d 个, 失败 %d 个", len(result.Closed), len(result.Failed)), envelope{
		"result": result,
	})
}

// handleSetLeverage 调整指定交易对的杠杆。
func (h *Handler) handleSetLeverage(w http.ResponseWriter, r *http.Request) {
	var req leverageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "解析请求体失败: "+err.Error())
		return
	}
	if req.Symbol == "" || req.Leverage <= 0 {
		writeError(w, http.StatusBadRequest, "symbol 与 leverage 均不能为空")
		return
	}

	gw, ok := h.gateway(w, req.APIKeyID)
	if !ok {
		return
	}

	if err := h.positions.SetLeverage(r.Context(), gw, req.Symbol, req.Leverage); err != nil {
		h.events.RecordError(r.Context(), "设置杠杆失败", err, map[string]interface{}{"symbol": req.Symbol})
		writeError(w, statusFor(err), "设置杠杆失败: "+err.Error())
		return
	}

	h.events.RecordPositionOp(r.Context(), "set_leverage", req.Symbol, req.Leverage)
	writeSuccess(w, fmt.Sprintf("%s 杠杆已设置为 %dx", req.Symbol, req.Leverage), nil)
}
