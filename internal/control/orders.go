package control

import (
	stdjson "encoding/json"
	"net/http"

	rt "pairarb/internal/websocket"
	"pairarb/pkg/utils"
)

// SendOrder - POST /api/v1/orders
//
// Request Body:
//
//	{
//	  "class_code": "TQBR",
//	  "sec_code": "SBER",
//	  "account": "L01-00000F00",
//	  "client_code": "OPEN123",
//	  "operation": "B",
//	  "order_type": "L",
//	  "quantity": 10,
//	  "price": 270.5
//	}
//
// Response:
// - 202 Accepted: заявка передана в канал, ответ придёт в /orders/replies
// - 400 Bad Request: не заполнены обязательные поля (сеть не задействуется)
// - 503 Service Unavailable: канал закрыт или переполнен
func (h *Handler) SendOrder(w http.ResponseWriter, r *http.Request) {
	var req rt.SendOrderRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.OrderType == "" {
		req.OrderType = rt.OrderTypeLimit
	}
	if err := req.Validate(); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "invalid_order", "Order is incomplete", err.Error())
		return
	}

	if err := h.orders.SendOrder(req); err != nil {
		h.handleError(w, err)
		return
	}
	h.log.Info("order sent", utils.Instrument(req.SecCode), utils.Side(req.Operation),
		utils.Int("quantity", req.Quantity), utils.String("order_type", req.OrderType))
	h.respondWithJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

// OrderReplies - GET /api/v1/orders/replies
// Данные ответов сервера возвращаются без изменений, старые первыми.
func (h *Handler) OrderReplies(w http.ResponseWriter, r *http.Request) {
	replies := h.orders.RecentOrderReplies()
	if replies == nil {
		replies = []stdjson.RawMessage{}
	}
	h.respondWithJSON(w, http.StatusOK, replies)
}
