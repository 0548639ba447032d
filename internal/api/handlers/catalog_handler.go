package handlers

import (
	"net/http"

	"pairarb/internal/service"
)

// CatalogHandler - REST одной коллекции справочника
//
// Endpoints (на примере /instruments):
// - GET /api/v1/instruments          - список
// - POST /api/v1/instruments         - создание (201)
// - PATCH /api/v1/instruments/{id}   - частичное обновление
// - DELETE /api/v1/instruments/{id}  - удаление (204)
type CatalogHandler[T any] struct {
	svc service.CatalogServiceInterface[T]
}

// NewCatalogHandler создает обработчик коллекции
func NewCatalogHandler[T any](svc service.CatalogServiceInterface[T]) *CatalogHandler[T] {
	return &CatalogHandler[T]{svc: svc}
}

// List возвращает все записи коллекции
func (h *CatalogHandler[T]) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.List(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, items)
}

// Create создает запись
//
// Response:
// - 201 Created: запись с id и updated_at
// - 400 Bad Request: невалидные поля
// - 409 Conflict (code=duplicate): естественный ключ занят
func (h *CatalogHandler[T]) Create(w http.ResponseWriter, r *http.Request) {
	var item T
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&item); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body", err.Error())
		return
	}

	created, err := h.svc.Create(r.Context(), item)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, created)
}

// Update применяет присланные поля поверх сохранённой записи
func (h *CatalogHandler[T]) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	updated, err := h.svc.Update(r.Context(), id, func(item *T) error {
		return json.Unmarshal(body, item)
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, updated)
}

// Delete удаляет запись
func (h *CatalogHandler[T]) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), id); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
