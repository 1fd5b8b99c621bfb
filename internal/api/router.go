package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Router 组装全部路由与中间件。
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(h.recoveryMiddleware)
	r.Use(h.accessLogMiddleware)

	r.HandleFunc("/", h.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/webhook/tradingview", h.handleWebhook).Methods(http.MethodPost)
	r.HandleFunc("/test/dingtalk", h.handleNotifyTest).Methods(http.MethodPost)

	futures := r.PathPrefix("/api/futures").Subrouter()
	futures.HandleFunc("/order", h.handleCreateOrder).Methods(http.MethodPost)
	futures.HandleFunc("/batch-orders", h.handleListBatchOrders).Methods(http.MethodGet)
	futures.HandleFunc("/batch-orders/{id}", h.handleBatchOrderStatus).Methods(http.MethodGet)

	positions := r.PathPrefix("/api/positions").Subrouter()
	positions.HandleFunc("", h.handleListPositions).Methods(http.MethodGet)
	positions.HandleFunc("/close", h.handleClosePosition).Methods(http.MethodPost)
	positions.HandleFunc("/close-all", h.handleCloseAllPositions).Methods(http.MethodPost)
	positions.HandleFunc("/leverage", h.handleSetLeverage).Methods(http.MethodPost)
	positions.HandleFunc("/{symbol}", h.handleGetPosition).Methods(http.MethodGet)

	accounts := r.PathPrefix("/api/accounts").Subrouter()
	accounts.HandleFunc("/balance", h.handleGetBalance).Methods(http.MethodGet)
	accounts.HandleFunc("/info", h.handleGetAccountInfo).Methods(http.MethodGet)
	accounts.HandleFunc("/trading-fees", h.handleGetTradingFees).Methods(http.MethodGet)
	accounts.HandleFunc("/status", h.handleGetAccountStatus).Methods(http.MethodGet)
	accounts.HandleFunc("/api-keys", h.handleAddAPIKey).Methods(http.MethodPost)
	accounts.HandleFunc("/api-keys", h.handleListAPIKeys).Methods(http.MethodGet)
	accounts.HandleFunc("/api-keys/{id}", h.handleGetAPIKey).Methods(http.MethodGet)
	accounts.HandleFunc("/api-keys/{id}", h.handleRemoveAPIKey).Methods(http.MethodDelete)

	r.HandleFunc("/events", h.handleListEvents).Methods(http.MethodGet)

	return r
}

func keyIDFromPath(r *http.Request) string {
	return mux.Vars(r)["id"]
}
