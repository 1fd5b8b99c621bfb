package api

import (
	"fmt"
	"net/http"

	json "github.com/goccy/go-json"

	"relay-trader/internal/account"
)

type apiKeyRequest struct {
	KeyID     string `json:"key_id"`
	Name      string `json:"name"`
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
	IsActive  *bool  `json:"is_active,omitempty"`
	IsTestnet bool   `json:"is_testnet,omitempty"`
}

// handleGetBalance 返回期货账户全币种余额。
func (h *Handler) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	gw, ok := h.gateway(w, r.URL.Query().Get("api_key_id"))
	if !ok {
		return
	}

	balances, err := gw.FetchBalances(r.Context())
	if err != nil {
		h.events.RecordError(r.Context(), "获取余额失败", err, nil)
		writeError(w, statusFor(err), "获取余额失败: "+err.Error())
		return
	}

	writeSuccess(w, "获取期货账户余额成功", envelope{"balance": balances})
}

// handleGetAccountInfo 返回交易所账户的原始信息。
func (h *Handler) handleGetAccountInfo(w http.ResponseWriter, r *http.Request) {
	gw, ok := h.gateway(w, r.URL.Query().Get("api_key_id"))
	if !ok {
		return
	}

	info, err := gw.FetchAccountInfo(r.Context())
	if err != nil {
		h.events.RecordError(r.Context(), "获取账户信息失败", err, nil)
		writeError(w, statusFor(err), "获取账户信息失败: "+err.Error())
		return
	}

	writeSuccess(w, "获取账户信息成功", envelope{"account_info": info})
}

// handleGetTradingFees 返回账户交易费率的透传视图。
func (h *Handler) handleGetTradingFees(w http.ResponseWriter, r *http.Request) {
	gw, ok := h.gateway(w, r.URL.Query().Get("api_key_id"))
	if !ok {
		return
	}

	fees, err := gw.FetchTradingFees(r.Context())
	if err != nil {
		h.events.RecordError(r.Context(), "获取交易费率失败", err, nil)
		writeError(w, statusFor(err), "获取交易费率失败: "+err.Error())
		return
	}

	writeSuccess(w, "获取交易费率成功", envelope{"fees": fees})
}

// handleGetAccountStatus 返回交易所运行状态。
func (h *Handler) handleGetAccountStatus(w http.ResponseWriter, r *http.Request) {
	gw, ok := h.gateway(w, r.URL.Query().Get("api_key_id"))
	if !ok {
		return
	}

	status, err := gw.FetchExchangeStatus(r.Context())
	if err != nil {
		h.events.RecordError(r.Context(), "获取账户状态失败", err, nil)
		writeError(w, statusFor(err), "获取账户状态失败: "+err.Error())
		return
	}

	writeSuccess(w, "获取账户状态成功", envelope{"account_status": status})
}

// handleAddAPIKey 登记一条新凭证。凭证默认激活。
func (h *Handler) handleAddAPIKey(w http.ResponseWriter, r *http.Request) {
	var req apiKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "解析请求体失败: "+err.Error())
		return
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	if err := h.keys.AddKey(account.APIKey{
		ID:      req.KeyID,
		Name:    req.Name,
		Key:     req.APIKey,
		Secret:  req.SecretKey,
		Testnet: req.IsTestnet,
		Active:  active,
	}); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeSuccess(w, "API密钥添加成功", envelope{"key_id": req.KeyID})
}

// handleListAPIKeys 列出全部凭证的安全视图。
func (h *Handler) handleListAPIKeys(w http.ResponseWriter, _ *http.Request) {
	keys := h.keys.Keys()
	writeSuccess(w, fmt.Sprintf("获取到 %d 个API密钥", len(keys)), envelope{
		"count": len(keys),
		"keys":  keys,
	})
}

// handleGetAPIKey 返回单条凭证的安全视图。
func (h *Handler) handleGetAPIKey(w http.ResponseWriter, r *http.Request) {
	keyID := keyIDFromPath(r)

	key, err := h.keys.Key(keyID)
	if err != nil {
		writeError(w, statusFor(err), "API密钥 "+keyID+" 不存在")
		return
	}

	writeSuccess(w, "获取API密钥成功", envelope{"key": key})
}

// handleRemoveAPIKey 删除凭证并使其缓存的网关失效。
func (h *Handler) handleRemoveAPIKey(w http.ResponseWriter, r *http.Request) {
	keyID := keyIDFromPath(r)

	if err := h.keys.RemoveKey(keyID); err != nil {
		writeError(w, statusFor(err), "API密钥 "+keyID+" 不存在")
		return
	}

	writeSuccess(w, "API密钥删除成功", envelope{"key_id": keyID})
}
