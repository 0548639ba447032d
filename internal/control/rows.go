package control

import (
	"net/http"

	"github.com/gorilla/mux"

	"pairarb/internal/bot"
	"pairarb/internal/models"
)

// RowRequest - поля строки пары при создании
type RowRequest struct {
	Instrument1  string   `json:"instrument_1"`
	Instrument2  string   `json:"instrument_2"`
	Account1     string   `json:"account_1"`
	Account2     string   `json:"account_2"`
	Side1        string   `json:"side_1"`
	Side2        string   `json:"side_2"`
	QtyRatio1    float64  `json:"qty_ratio_1"`
	QtyRatio2    float64  `json:"qty_ratio_2"`
	PriceRatio1  float64  `json:"price_ratio_1"`
	PriceRatio2  float64  `json:"price_ratio_2"`
	Price        *float64 `json:"price"`
	TargetQty    int      `json:"target_qty"`
	GetMData     bool     `json:"get_mdata"`
	StrategyName string   `json:"strategy_name"`
}

// PatchRowRequest - изменяемые поля строки; отсутствующее поле не меняется.
// ClearPrice сбрасывает порог (price = null).
type PatchRowRequest struct {
	Instrument1  *string  `json:"instrument_1,omitempty"`
	Instrument2  *string  `json:"instrument_2,omitempty"`
	Account1     *string  `json:"account_1,omitempty"`
	Account2     *string  `json:"account_2,omitempty"`
	Side1        *string  `json:"side_1,omitempty"`
	Side2        *string  `json:"side_2,omitempty"`
	QtyRatio1    *float64 `json:"qty_ratio_1,omitempty"`
	QtyRatio2    *float64 `json:"qty_ratio_2,omitempty"`
	PriceRatio1  *float64 `json:"price_ratio_1,omitempty"`
	PriceRatio2  *float64 `json:"price_ratio_2,omitempty"`
	Price        *float64 `json:"price,omitempty"`
	ClearPrice   bool     `json:"clear_price,omitempty"`
	TargetQty    *int     `json:"target_qty,omitempty"`
	ExecQty      *int     `json:"exec_qty,omitempty"`
	GetMData     *bool    `json:"get_mdata,omitempty"`
	StrategyName *string  `json:"strategy_name,omitempty"`
}

// RowResponse - строка с вычисляемыми полями
type RowResponse struct {
	*models.PairRow
	LeavesQty int    `json:"leaves_qty"`
	State     string `json:"state"`
}

func rowResponse(r *models.PairRow) RowResponse {
	return RowResponse{PairRow: r, LeavesQty: r.LeavesQty(), State: string(bot.RowState(r))}
}

func (req RowRequest) row() *models.PairRow {
	row := models.NewPairRow(req.Instrument1, req.Instrument2)
	row.Legs[0].Account = req.Account1
	row.Legs[1].Account = req.Account2
	row.Legs[0].Side = models.ParseSide(req.Side1)
	row.Legs[1].Side = models.ParseSide(req.Side2)
	row.Legs[0].QtyRatio = req.QtyRatio1
	row.Legs[1].QtyRatio = req.QtyRatio2
	row.Legs[0].PriceRatio = req.PriceRatio1
	row.Legs[1].PriceRatio = req.PriceRatio2
	row.Price = req.Price
	row.TargetQty = req.TargetQty
	row.GetMData = req.GetMData
	row.StrategyName = req.StrategyName
	return row
}

func parseSidePtr(s *string) *models.Side {
	if s == nil {
		return nil
	}
	side := models.ParseSide(*s)
	return &side
}

func (req PatchRowRequest) patch() bot.RowPatch {
	return bot.RowPatch{
		Instrument1:  req.Instrument1,
		Instrument2:  req.Instrument2,
		Account1:     req.Account1,
		Account2:     req.Account2,
		Side1:        parseSidePtr(req.Side1),
		Side2:        parseSidePtr(req.Side2),
		QtyRatio1:    req.QtyRatio1,
		QtyRatio2:    req.QtyRatio2,
		PriceRatio1:  req.PriceRatio1,
		PriceRatio2:  req.PriceRatio2,
		Price:        req.Price,
		ClearPrice:   req.ClearPrice,
		TargetQty:    req.TargetQty,
		ExecQty:      req.ExecQty,
		GetMData:     req.GetMData,
		StrategyName: req.StrategyName,
	}
}

// ListRows - GET /api/v1/rows
func (h *Handler) ListRows(w http.ResponseWriter, r *http.Request) {
	rows, err := h.rows.Rows(r.Context())
	if err != nil {
		h.handleError(w, err)
		return
	}
	out := make([]RowResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, rowResponse(row))
	}
	h.respondWithJSON(w, http.StatusOK, out)
}

// GetRow - GET /api/v1/rows/{cid}
func (h *Handler) GetRow(w http.ResponseWriter, r *http.Request) {
	row, err := h.rows.Row(r.Context(), mux.Vars(r)["cid"])
	if err != nil {
		h.handleError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, rowResponse(row))
}

// CreateRow - POST /api/v1/rows
//
// Response:
// - 201 Created: строка создана (ещё не сохранена на бэкенде)
// - 400 Bad Request: пустой инструмент, отрицательные значения
// - 409 Conflict: пара с такими инструментами уже есть
func (h *Handler) CreateRow(w http.ResponseWriter, r *http.Request) {
	var req RowRequest
	if !h.decode(w, r, &req) {
		return
	}
	row, err := h.rows.CreateRow(r.Context(), req.row())
	if err != nil {
		h.handleError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusCreated, rowResponse(row))
}

// UpdateRow - PATCH /api/v1/rows/{cid}
// Инструменты, счета, стороны и exec_qty взведённой строки не меняются (409).
func (h *Handler) UpdateRow(w http.ResponseWriter, r *http.Request) {
	var req PatchRowRequest
	if !h.decode(w, r, &req) {
		return
	}
	row, err := h.rows.UpdateRow(r.Context(), mux.Vars(r)["cid"], req.patch())
	if err != nil {
		h.handleError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, rowResponse(row))
}

// DeleteRow - DELETE /api/v1/rows/{cid}
func (h *Handler) DeleteRow(w http.ResponseWriter, r *http.Request) {
	if err := h.rows.DeleteRow(r.Context(), mux.Vars(r)["cid"]); err != nil {
		h.handleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// StartRow - POST /api/v1/rows/{cid}/start
// Неполная строка отклоняется (400 row_incomplete) со списком причин в details.
func (h *Handler) StartRow(w http.ResponseWriter, r *http.Request) {
	row, err := h.rows.Arm(r.Context(), mux.Vars(r)["cid"])
	if err != nil {
		h.handleError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, rowResponse(row))
}

// StopRow - POST /api/v1/rows/{cid}/stop
func (h *Handler) StopRow(w http.ResponseWriter, r *http.Request) {
	row, err := h.rows.Disarm(r.Context(), mux.Vars(r)["cid"])
	if err != nil {
		h.handleError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, rowResponse(row))
}
