package control

import (
	"errors"
	"net/http"

	"pairarb/internal/backend"
	"pairarb/internal/bot"
	"pairarb/internal/dispatch"
	"pairarb/internal/reconcile"
	"pairarb/pkg/utils"
)

// ErrorResponse - формат ответа об ошибке
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// OutcomeResponse - запись справочника и что с ней сделала сверка
type OutcomeResponse struct {
	Outcome string      `json:"outcome"`
	Data    interface{} `json:"data,omitempty"`
}

func (h *Handler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			h.log.Warn("failed to encode response", utils.Err(err))
		}
	}
}

func (h *Handler) respondWithError(w http.ResponseWriter, statusCode int, code, message, details string) {
	h.respondWithJSON(w, statusCode, ErrorResponse{Error: message, Code: code, Details: details})
}

// decode читает JSON тело запроса; при ошибке отвечает 400
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body", err.Error())
		return false
	}
	return true
}

// handleError сопоставляет ошибки движка, сверки и канала со статусом HTTP
func (h *Handler) handleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, bot.ErrRowNotFound):
		h.respondWithError(w, http.StatusNotFound, "row_not_found", "Row not found", "")

	case errors.Is(err, bot.ErrPairExists):
		h.respondWithError(w, http.StatusConflict, "duplicate", "Pair with these instruments already exists", "")

	case errors.Is(err, bot.ErrRowArmed):
		h.respondWithError(w, http.StatusConflict, "row_armed", "Row is armed, disarm it first", "")

	case errors.Is(err, bot.ErrRowIncomplete):
		h.respondWithError(w, http.StatusBadRequest, "row_incomplete", "Row is not ready to arm", err.Error())

	case errors.Is(err, bot.ErrInvalidRow):
		h.respondWithError(w, http.StatusBadRequest, "invalid_row", "Invalid row", err.Error())

	case errors.Is(err, reconcile.ErrInvalidRecord):
		h.respondWithError(w, http.StatusBadRequest, "invalid_record", "Invalid record", err.Error())

	case errors.Is(err, reconcile.ErrInstrumentInUse):
		h.respondWithError(w, http.StatusConflict, "instrument_in_use", "Instrument is used by an armed row", err.Error())

	case errors.Is(err, backend.ErrConflict):
		h.respondWithError(w, http.StatusConflict, "conflict", "Record was modified on the backend, resync required", err.Error())

	case errors.Is(err, backend.ErrDuplicate):
		h.respondWithError(w, http.StatusConflict, "duplicate", "Natural key already exists on the backend", err.Error())

	case errors.Is(err, backend.ErrUnavailable), errors.Is(err, reconcile.ErrOffline):
		h.respondWithError(w, http.StatusServiceUnavailable, "backend_unavailable", "Backend unavailable", err.Error())

	case errors.Is(err, dispatch.ErrClosed), errors.Is(err, dispatch.ErrBackpressure):
		h.respondWithError(w, http.StatusServiceUnavailable, "channel_unavailable", "Order channel unavailable", err.Error())

	case errors.Is(err, bot.ErrEngineStopped):
		h.respondWithError(w, http.StatusServiceUnavailable, "engine_stopped", "Engine stopped", "")

	default:
		h.log.Error("request failed", utils.Err(err))
		h.respondWithError(w, http.StatusInternalServerError, "internal_error", "Internal error", err.Error())
	}
}
