package control

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"pairarb/internal/models"
	"pairarb/internal/pricing"
	"pairarb/internal/reconcile"
	"pairarb/pkg/utils"
)

// InstrumentResponse - инструмент с точностью отображения цены
type InstrumentResponse struct {
	models.Instrument
	Decimals int32 `json:"decimals"`
}

// SyncResponse - итог перечитывания бэкенда
type SyncResponse struct {
	Offline     bool      `json:"offline"`
	Error       string    `json:"error,omitempty"`
	Instruments int       `json:"instruments"`
	Accounts    int       `json:"accounts"`
	Pairs       int       `json:"pairs"`
	Columns     int       `json:"columns"`
	Settings    int       `json:"settings"`
	SyncedAt    time.Time `json:"synced_at"`
}

// PushResult - итог записи одной пары
type PushResult struct {
	Key     string `json:"key"`
	RowID   string `json:"row_id,omitempty"`
	ID      int64  `json:"id,omitempty"`
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

// ============ Инструменты и счета ============

// ListInstruments - GET /api/v1/instruments
func (h *Handler) ListInstruments(w http.ResponseWriter, r *http.Request) {
	list := h.ref.Snapshot().Instruments
	out := make([]InstrumentResponse, 0, len(list))
	for _, in := range list {
		out = append(out, InstrumentResponse{Instrument: in, Decimals: pricing.DisplayDecimals(in.PriceStep)})
	}
	h.respondWithJSON(w, http.StatusOK, out)
}

// SaveInstrument - POST /api/v1/instruments
// Запись без id разрешается по коду; неизменённая запись не уходит на бэкенд.
func (h *Handler) SaveInstrument(w http.ResponseWriter, r *http.Request) {
	var in models.Instrument
	if !h.decode(w, r, &in) {
		return
	}
	res, outcome, err := h.ref.SaveInstrument(r.Context(), in)
	if err != nil {
		h.handleError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, OutcomeResponse{
		Outcome: outcome.String(),
		Data:    InstrumentResponse{Instrument: res, Decimals: pricing.DisplayDecimals(res.PriceStep)},
	})
}

// DeleteInstrument - DELETE /api/v1/instruments/{code}
func (h *Handler) DeleteInstrument(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.ref.DeleteInstrument(r.Context(), mux.Vars(r)["code"])
	if err != nil {
		h.handleError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, OutcomeResponse{Outcome: outcome.String()})
}

// ListAccounts - GET /api/v1/accounts
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, nonNil(h.ref.Snapshot().Accounts))
}

// SaveAccount - POST /api/v1/accounts
func (h *Handler) SaveAccount(w http.ResponseWriter, r *http.Request) {
	var in models.Account
	if !h.decode(w, r, &in) {
		return
	}
	res, outcome, err := h.ref.SaveAccount(r.Context(), in)
	if err != nil {
		h.handleError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, OutcomeResponse{Outcome: outcome.String(), Data: res})
}

// DeleteAccount - DELETE /api/v1/accounts/{alias}
func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.ref.DeleteAccount(r.Context(), mux.Vars(r)["alias"])
	if err != nil {
		h.handleError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, OutcomeResponse{Outcome: outcome.String()})
}

// ============ Колонки и настройки ============

// ListColumns - GET /api/v1/columns
func (h *Handler) ListColumns(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, nonNil(h.ref.Snapshot().Columns))
}

// SaveColumns - PUT /api/v1/columns
// Ошибки отдельных колонок не мешают записи остальных; ответ 207 с details.
func (h *Handler) SaveColumns(w http.ResponseWriter, r *http.Request) {
	var cols []models.Column
	if !h.decode(w, r, &cols) {
		return
	}
	saved, err := h.ref.SaveColumns(r.Context(), cols)
	if err != nil {
		if len(saved) == 0 {
			h.handleError(w, err)
			return
		}
		h.respondWithJSON(w, http.StatusMultiStatus, map[string]interface{}{
			"data":  saved,
			"error": err.Error(),
		})
		return
	}
	h.respondWithJSON(w, http.StatusOK, nonNil(saved))
}

// ListSettings - GET /api/v1/settings
func (h *Handler) ListSettings(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, nonNil(h.ref.Snapshot().Settings))
}

// SaveSetting - POST /api/v1/settings
func (h *Handler) SaveSetting(w http.ResponseWriter, r *http.Request) {
	var in models.Setting
	if !h.decode(w, r, &in) {
		return
	}
	res, outcome, err := h.ref.SaveSetting(r.Context(), in)
	if err != nil {
		h.handleError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, OutcomeResponse{Outcome: outcome.String(), Data: res})
}

// DeleteSetting - DELETE /api/v1/settings/{key}
func (h *Handler) DeleteSetting(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.ref.DeleteSetting(r.Context(), mux.Vars(r)["key"])
	if err != nil {
		h.handleError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, OutcomeResponse{Outcome: outcome.String()})
}

// Alerts - GET /api/v1/alerts
func (h *Handler) Alerts(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, nonNil(h.ref.Alerts()))
}

// ============ Сверка ============

// Sync - POST /api/v1/sync
//
// Перечитывает все коллекции и заменяет строки терминала. Взведённые строки
// остаются взведёнными (по ключу пары). Недоступный бэкенд не ошибка:
// строки загружаются из кэша, ответ содержит offline=true.
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	armed, err := h.rows.ArmedKeys(r.Context())
	if err != nil {
		h.handleError(w, err)
		return
	}

	snap, syncErr := h.ref.BackendSync(r.Context())
	if syncErr != nil && !errors.Is(syncErr, reconcile.ErrOffline) {
		h.handleError(w, syncErr)
		return
	}

	if err := h.rows.LoadRows(r.Context(), reconcile.Rows(snap), armed, true); err != nil {
		h.handleError(w, err)
		return
	}

	resp := SyncResponse{
		Instruments: len(snap.Instruments),
		Accounts:    len(snap.Accounts),
		Pairs:       len(snap.Pairs),
		Columns:     len(snap.Columns),
		Settings:    len(snap.Settings),
		SyncedAt:    snap.SyncedAt,
	}
	if syncErr != nil {
		resp.Offline = true
		resp.Error = syncErr.Error()
		h.log.Warn("resync served from cache", utils.Err(syncErr))
	}
	h.respondWithJSON(w, http.StatusOK, resp)
}

// Push - POST /api/v1/push
// Записывает все строки и удаляет пары бэкенда, которых нет локально.
func (h *Handler) Push(w http.ResponseWriter, r *http.Request) {
	rows, err := h.rows.Rows(r.Context())
	if err != nil {
		h.handleError(w, err)
		return
	}

	results, pushErr := h.ref.PushPairs(r.Context(), rows)
	out := make([]PushResult, 0, len(results))
	for _, res := range results {
		if res.Err == nil && res.CID != "" && (res.Outcome == reconcile.Created || res.Outcome == reconcile.Updated) {
			h.rows.ApplyPersisted(res.CID, res.Record.ID, res.Record.UpdatedAt)
		}
		pr := PushResult{Key: res.Record.Key(), RowID: res.CID, ID: res.Record.ID, Outcome: res.Outcome.String()}
		if res.Err != nil {
			pr.Error = res.Err.Error()
		}
		out = append(out, pr)
	}

	status := http.StatusOK
	if pushErr != nil {
		status = http.StatusMultiStatus
	}
	h.respondWithJSON(w, status, out)
}

// ============ Локальные настройки интерфейса ============

// ListUISettings - GET /api/v1/ui-settings
func (h *Handler) ListUISettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.ui.UISettings()
	if err != nil {
		h.handleError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, settings)
}

// PutUISetting - PUT /api/v1/ui-settings/{key}, тело {"value": "..."}
func (h *Handler) PutUISetting(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Value string `json:"value"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	key := mux.Vars(r)["key"]
	if err := h.ui.PutUISetting(key, req.Value); err != nil {
		h.handleError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]string{"key": key, "value": req.Value})
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
