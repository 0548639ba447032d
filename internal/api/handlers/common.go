package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"

	"pairarb/internal/service"
	"pairarb/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxBodySize - ограничение тела запроса
const maxBodySize = 1 << 20

// Коды ошибок 409, которые различает клиент терминала
const (
	CodeConflict  = "conflict"
	CodeDuplicate = "duplicate"
)

// ErrorResponse стандартный формат ответа об ошибке для всех API endpoints
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			utils.Warn("failed to encode response", utils.Err(err))
		}
	}
}

func respondWithError(w http.ResponseWriter, statusCode int, code, message, details string) {
	respondWithJSON(w, statusCode, ErrorResponse{Error: message, Code: code, Details: details})
}

// handleServiceError сопоставляет ошибки сервисов со статусом HTTP
func handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		respondWithError(w, http.StatusBadRequest, "invalid_input", "Invalid input", err.Error())
	case errors.Is(err, service.ErrNotFound):
		respondWithError(w, http.StatusNotFound, "not_found", "Record not found", err.Error())
	case errors.Is(err, service.ErrDuplicate):
		respondWithError(w, http.StatusConflict, CodeDuplicate, "Natural key already exists", err.Error())
	case errors.Is(err, service.ErrConflict):
		respondWithError(w, http.StatusConflict, CodeConflict, "Record was modified, reload and retry", err.Error())
	default:
		utils.Error("request failed", utils.Err(err))
		respondWithError(w, http.StatusInternalServerError, "internal_error", "Internal error", "")
	}
}

// parseID читает {id} из пути; при ошибке отвечает 400
func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		respondWithError(w, http.StatusBadRequest, "invalid_id", "Invalid id", mux.Vars(r)["id"])
		return 0, false
	}
	return id, true
}

// parseLastKnown читает If-Unmodified-Since (RFC 3339 с наносекундами).
// Отсутствующий заголовок - нулевое время (без проверки).
func parseLastKnown(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	raw := r.Header.Get("If-Unmodified-Since")
	if raw == "" {
		return time.Time{}, true
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_header", "If-Unmodified-Since must be RFC 3339", raw)
		return time.Time{}, false
	}
	return t, true
}

// readBody читает тело целиком (для PATCH оно разбирается поверх сохранённой записи)
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "Failed to read body", err.Error())
		return nil, false
	}
	if !json.Valid(body) {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body", "")
		return nil, false
	}
	return body, true
}
