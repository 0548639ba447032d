package handlers

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"pairarb/internal/models"
	"pairarb/internal/service"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return resp
}

// ============ CatalogHandler Tests ============

func TestCatalogHandler_List(t *testing.T) {
	t.Run("returns items", func(t *testing.T) {
		mockSvc := &MockCatalogService[models.Instrument]{items: []models.Instrument{{ID: 1, Code: "SBER"}}}
		handler := NewCatalogHandler[models.Instrument](mockSvc)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/instruments", nil)
		w := httptest.NewRecorder()
		handler.List(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
		}
		var items []models.Instrument
		if err := json.NewDecoder(w.Body).Decode(&items); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if len(items) != 1 || items[0].Code != "SBER" {
			t.Errorf("unexpected items: %+v", items)
		}
	})

	t.Run("returns 500 on service error", func(t *testing.T) {
		mockSvc := &MockCatalogService[models.Instrument]{err: ErrMockDatabase}
		handler := NewCatalogHandler[models.Instrument](mockSvc)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/instruments", nil)
		w := httptest.NewRecorder()
		handler.List(w, req)

		if w.Code != http.StatusInternalServerError {
			t.Errorf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
		}
	})
}

func TestCatalogHandler_Create(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		svcErr       error
		expectStatus int
		expectCode   string
	}{
		{"created", `{"alias":"main","client_code":"OPEN123"}`, nil, http.StatusCreated, ""},
		{"invalid json", `{"alias":`, nil, http.StatusBadRequest, "invalid_request"},
		{"validation", `{"alias":""}`, fmt.Errorf("%w: alias is required", service.ErrInvalidInput), http.StatusBadRequest, "invalid_input"},
		{"duplicate", `{"alias":"main"}`, fmt.Errorf("%w: account already exists", service.ErrDuplicate), http.StatusConflict, CodeDuplicate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockSvc := &MockCatalogService[models.Account]{err: tt.svcErr}
			handler := NewCatalogHandler[models.Account](mockSvc)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/accounts", bytes.NewBufferString(tt.body))
			w := httptest.NewRecorder()
			handler.Create(w, req)

			if w.Code != tt.expectStatus {
				t.Fatalf("expected status %d, got %d", tt.expectStatus, w.Code)
			}
			if tt.expectCode != "" {
				if resp := decodeError(t, w); resp.Code != tt.expectCode {
					t.Errorf("expected code %q, got %q", tt.expectCode, resp.Code)
				}
				return
			}
			if len(mockSvc.created) != 1 || mockSvc.created[0].ClientCode != "OPEN123" {
				t.Errorf("unexpected created: %+v", mockSvc.created)
			}
		})
	}
}

func TestCatalogHandler_Update(t *testing.T) {
	tests := []struct {
		name         string
		id           string
		body         string
		svcErr       error
		expectStatus int
	}{
		{"partial update", "3", `{"width": 140}`, nil, http.StatusOK},
		{"bad id", "abc", `{}`, nil, http.StatusBadRequest},
		{"zero id", "0", `{}`, nil, http.StatusBadRequest},
		{"invalid json", "3", `{"width":`, nil, http.StatusBadRequest},
		{"not found", "3", `{}`, fmt.Errorf("%w: column not found", service.ErrNotFound), http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockSvc := &MockCatalogService[models.Column]{err: tt.svcErr, applied: models.Column{Name: "price", Position: 2, Width: 80}}
			handler := NewCatalogHandler[models.Column](mockSvc)

			req := httptest.NewRequest(http.MethodPatch, "/api/v1/columns/"+tt.id, bytes.NewBufferString(tt.body))
			req = mux.SetURLVars(req, map[string]string{"id": tt.id})
			w := httptest.NewRecorder()
			handler.Update(w, req)

			if w.Code != tt.expectStatus {
				t.Fatalf("expected status %d, got %d", tt.expectStatus, w.Code)
			}
			if tt.expectStatus != http.StatusOK {
				return
			}
			var got models.Column
			if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if got.Width != 140 || got.Position != 2 || got.Name != "price" {
				t.Errorf("unexpected column: %+v", got)
			}
			if mockSvc.updatedID != 3 {
				t.Errorf("expected id 3, got %d", mockSvc.updatedID)
			}
		})
	}
}

func TestCatalogHandler_Delete(t *testing.T) {
	mockSvc := &MockCatalogService[models.Setting]{}
	handler := NewCatalogHandler[models.Setting](mockSvc)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/settings/5", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "5"})
	w := httptest.NewRecorder()
	handler.Delete(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("expected status %d, got %d", http.StatusNoContent, w.Code)
	}
	if mockSvc.deletedID != 5 {
		t.Errorf("expected id 5, got %d", mockSvc.deletedID)
	}
}

// ============ PairHandler Tests ============

func TestPairHandler_CreatePair(t *testing.T) {
	handler := NewPairHandler(&MockPairService{})

	body := `{"asset_1":"SBER","asset_2":"SBERP","side_1":"BUY","side_2":"SELL","price":1.5,"target_qty":10}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/pairs", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	handler.CreatePair(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d", http.StatusCreated, w.Code)
	}
	var got models.PairRecord
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got.ID != 1 || got.Price == nil || *got.Price != 1.5 {
		t.Errorf("unexpected pair: %+v", got)
	}
}

func TestPairHandler_UpdatePairLastKnown(t *testing.T) {
	lastKnown := time.Date(2026, 3, 2, 10, 0, 0, 123456000, time.UTC)

	tests := []struct {
		name         string
		header       string
		svcErr       error
		expectStatus int
		expectCode   string
		expectLast   time.Time
	}{
		{"without header", "", nil, http.StatusOK, "", time.Time{}},
		{"with header", lastKnown.Format(time.RFC3339Nano), nil, http.StatusOK, "", lastKnown},
		{"malformed header", "yesterday", nil, http.StatusBadRequest, "invalid_header", time.Time{}},
		{"stale", lastKnown.Format(time.RFC3339Nano), fmt.Errorf("%w: pair 7", service.ErrConflict), http.StatusConflict, CodeConflict, lastKnown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockSvc := &MockPairService{err: tt.svcErr, stored: models.PairRecord{Asset1: "SBER", Asset2: "SBERP", TargetQty: 10}}
			handler := NewPairHandler(mockSvc)

			req := httptest.NewRequest(http.MethodPatch, "/api/v1/pairs/7", bytes.NewBufferString(`{"exec_qty": 3}`))
			req = mux.SetURLVars(req, map[string]string{"id": "7"})
			if tt.header != "" {
				req.Header.Set("If-Unmodified-Since", tt.header)
			}
			w := httptest.NewRecorder()
			handler.UpdatePair(w, req)

			if w.Code != tt.expectStatus {
				t.Fatalf("expected status %d, got %d", tt.expectStatus, w.Code)
			}
			if tt.expectCode != "" {
				if resp := decodeError(t, w); resp.Code != tt.expectCode {
					t.Errorf("expected code %q, got %q", tt.expectCode, resp.Code)
				}
			}
			if tt.expectStatus != http.StatusBadRequest && !mockSvc.lastKnown.Equal(tt.expectLast) {
				t.Errorf("expected lastKnown %v, got %v", tt.expectLast, mockSvc.lastKnown)
			}
			if tt.expectStatus == http.StatusOK && (mockSvc.stored.ExecQty != 3 || mockSvc.stored.Asset1 != "SBER") {
				t.Errorf("patch must apply over stored record, got %+v", mockSvc.stored)
			}
		})
	}
}

func TestPairHandler_DeletePair(t *testing.T) {
	tests := []struct {
		name         string
		svcErr       error
		expectStatus int
	}{
		{"deleted", nil, http.StatusNoContent},
		{"not found", fmt.Errorf("%w: pair not found", service.ErrNotFound), http.StatusNotFound},
		{"conflict", fmt.Errorf("%w: pair 7", service.ErrConflict), http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewPairHandler(&MockPairService{err: tt.svcErr})

			req := httptest.NewRequest(http.MethodDelete, "/api/v1/pairs/7", nil)
			req = mux.SetURLVars(req, map[string]string{"id": "7"})
			w := httptest.NewRecorder()
			handler.DeletePair(w, req)

			if w.Code != tt.expectStatus {
				t.Errorf("expected status %d, got %d", tt.expectStatus, w.Code)
			}
		})
	}
}
