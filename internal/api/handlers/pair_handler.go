package handlers

import (
	"net/http"

	"pairarb/internal/models"
	"pairarb/internal/service"
)

// PairHandler отвечает за сохранённые пары
//
// Endpoints:
// - GET /api/v1/pairs          - список пар
// - POST /api/v1/pairs         - создание пары
// - PATCH /api/v1/pairs/{id}   - изменение (If-Unmodified-Since)
// - DELETE /api/v1/pairs/{id}  - удаление (If-Unmodified-Since)
//
// Если заголовок If-Unmodified-Since не совпадает с updated_at записи,
// ответ 409 с code=conflict: клиент должен перечитать пару.
type PairHandler struct {
	pairService service.PairServiceInterface
}

// NewPairHandler создает новый PairHandler с внедрением зависимостей
func NewPairHandler(pairService service.PairServiceInterface) *PairHandler {
	return &PairHandler{pairService: pairService}
}

// GetPairs возвращает все пары
// GET /api/v1/pairs
func (h *PairHandler) GetPairs(w http.ResponseWriter, r *http.Request) {
	pairs, err := h.pairService.List(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, pairs)
}

// CreatePair сохраняет новую пару
// POST /api/v1/pairs
//
// Request Body:
//
//	{
//	  "asset_1": "SBER",
//	  "asset_2": "SBERP",
//	  "account_1": "main",
//	  "account_2": "main",
//	  "side_1": "BUY",
//	  "side_2": "SELL",
//	  "qty_ratio_1": 1,
//	  "qty_ratio_2": 1,
//	  "price_ratio_1": 1,
//	  "price_ratio_2": 1,
//	  "price": 1.5,
//	  "target_qty": 10
//	}
//
// Response:
// - 201 Created: пара создана
// - 400 Bad Request: невалидные параметры
// - 409 Conflict (code=duplicate): пара с такими инструментами уже есть
func (h *PairHandler) CreatePair(w http.ResponseWriter, r *http.Request) {
	var p models.PairRecord
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&p); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body", err.Error())
		return
	}

	created, err := h.pairService.Create(r.Context(), p)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, created)
}

// UpdatePair изменяет пару
// PATCH /api/v1/pairs/{id}
func (h *PairHandler) UpdatePair(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	lastKnown, ok := parseLastKnown(w, r)
	if !ok {
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	updated, err := h.pairService.Update(r.Context(), id, func(p *models.PairRecord) error {
		return json.Unmarshal(body, p)
	}, lastKnown)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, updated)
}

// DeletePair удаляет пару
// DELETE /api/v1/pairs/{id}
func (h *PairHandler) DeletePair(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	lastKnown, ok := parseLastKnown(w, r)
	if !ok {
		return
	}

	if err := h.pairService.Delete(r.Context(), id, lastKnown); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
