// Package control - HTTP API терминала, через которое слой представления
// управляет строками пар, справочниками и заявками.
//
// Маршруты (/api/v1):
//
//	├── /rows
//	│   ├── GET /              - строки в порядке создания
//	│   ├── POST /             - новая строка
//	│   ├── GET /{cid}         - строка
//	│   ├── PATCH /{cid}       - изменение полей
//	│   ├── DELETE /{cid}      - удаление (подписки закрываются, бэкенд - если сохранена)
//	│   ├── POST /{cid}/start  - взвести
//	│   └── POST /{cid}/stop   - снять
//	├── /orders
//	│   ├── POST /             - одиночная заявка
//	│   └── GET /replies       - последние ответы на одиночные заявки
//	├── /instruments, /accounts   - GET, POST (создать или изменить), DELETE /{key}
//	├── /columns                  - GET, PUT (раскладка целиком)
//	├── /settings                 - GET, POST, DELETE /{key}
//	├── /ui-settings              - GET, PUT /{key} (только локальный кэш)
//	├── /sync                     - POST pull: перечитать бэкенд
//	├── /push                     - POST: полная сверка пар с бэкендом
//	└── /alerts                   - GET: ошибки фоновых записей
package control

import (
	"context"
	stdjson "encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"

	"pairarb/internal/api/middleware"
	"pairarb/internal/bot"
	"pairarb/internal/cache"
	"pairarb/internal/models"
	"pairarb/internal/reconcile"
	rt "pairarb/internal/websocket"
	"pairarb/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Rows - операции движка над строками (реализует *bot.Engine)
type Rows interface {
	Rows(ctx context.Context) ([]*models.PairRow, error)
	Row(ctx context.Context, cid string) (*models.PairRow, error)
	CreateRow(ctx context.Context, row *models.PairRow) (*models.PairRow, error)
	UpdateRow(ctx context.Context, cid string, patch bot.RowPatch) (*models.PairRow, error)
	DeleteRow(ctx context.Context, cid string) error
	Arm(ctx context.Context, cid string) (*models.PairRow, error)
	Disarm(ctx context.Context, cid string) (*models.PairRow, error)
	ArmedKeys(ctx context.Context) (map[string]bool, error)
	LoadRows(ctx context.Context, rows []*models.PairRow, armedKeys map[string]bool, resume bool) error
	ApplyPersisted(cid string, id int64, updatedAt time.Time)
}

// Reference - справочники и сверка с бэкендом (реализует *reconcile.Reconciler)
type Reference interface {
	Snapshot() cache.Snapshot
	SaveInstrument(ctx context.Context, in models.Instrument) (models.Instrument, reconcile.Outcome, error)
	DeleteInstrument(ctx context.Context, code string) (reconcile.Outcome, error)
	SaveAccount(ctx context.Context, in models.Account) (models.Account, reconcile.Outcome, error)
	DeleteAccount(ctx context.Context, alias string) (reconcile.Outcome, error)
	SaveColumns(ctx context.Context, cols []models.Column) ([]models.Column, error)
	SaveSetting(ctx context.Context, in models.Setting) (models.Setting, reconcile.Outcome, error)
	DeleteSetting(ctx context.Context, key string) (reconcile.Outcome, error)
	BackendSync(ctx context.Context) (cache.Snapshot, error)
	PushPairs(ctx context.Context, rows []*models.PairRow) ([]reconcile.PairResult, error)
	Alerts() []reconcile.Alert
}

// Orders - одиночные заявки (реализует *dispatch.Channel)
type Orders interface {
	SendOrder(req rt.SendOrderRequest) error
	RecentOrderReplies() []stdjson.RawMessage
}

// UIStore - локальные настройки интерфейса (реализует *cache.Store)
type UIStore interface {
	UISettings() (map[string]string, error)
	PutUISetting(key, value string) error
}

// Dependencies - зависимости control API
type Dependencies struct {
	Rows      Rows
	Reference Reference
	Orders    Orders
	UI        UIStore

	AllowedOrigins []string
	Logger         *utils.Logger
}

// Handler - обработчики control API
type Handler struct {
	rows   Rows
	ref    Reference
	orders Orders
	ui     UIStore
	log    *utils.Logger
}

// NewRouter собирает маршруты control API
func NewRouter(deps Dependencies) *mux.Router {
	if deps.Logger == nil {
		deps.Logger = utils.L()
	}
	h := &Handler{
		rows:   deps.Rows,
		ref:    deps.Reference,
		orders: deps.Orders,
		ui:     deps.UI,
		log:    deps.Logger.WithComponent("control"),
	}

	router := mux.NewRouter()
	router.Use(middleware.Recovery(deps.Logger))
	router.Use(middleware.Logging(deps.Logger))
	router.Use(middleware.CORS(deps.AllowedOrigins))

	api := router.PathPrefix("/api/v1").Subrouter()

	if h.rows != nil {
		api.HandleFunc("/rows", h.ListRows).Methods("GET")
		api.HandleFunc("/rows", h.CreateRow).Methods("POST")
		api.HandleFunc("/rows/{cid}", h.GetRow).Methods("GET")
		api.HandleFunc("/rows/{cid}", h.UpdateRow).Methods("PATCH")
		api.HandleFunc("/rows/{cid}", h.DeleteRow).Methods("DELETE")
		api.HandleFunc("/rows/{cid}/start", h.StartRow).Methods("POST")
		api.HandleFunc("/rows/{cid}/stop", h.StopRow).Methods("POST")
	}

	if h.orders != nil {
		api.HandleFunc("/orders", h.SendOrder).Methods("POST")
		api.HandleFunc("/orders/replies", h.OrderReplies).Methods("GET")
	}

	if h.ref != nil {
		api.HandleFunc("/instruments", h.ListInstruments).Methods("GET")
		api.HandleFunc("/instruments", h.SaveInstrument).Methods("POST")
		api.HandleFunc("/instruments/{code}", h.DeleteInstrument).Methods("DELETE")

		api.HandleFunc("/accounts", h.ListAccounts).Methods("GET")
		api.HandleFunc("/accounts", h.SaveAccount).Methods("POST")
		api.HandleFunc("/accounts/{alias}", h.DeleteAccount).Methods("DELETE")

		api.HandleFunc("/columns", h.ListColumns).Methods("GET")
		api.HandleFunc("/columns", h.SaveColumns).Methods("PUT")

		api.HandleFunc("/settings", h.ListSettings).Methods("GET")
		api.HandleFunc("/settings", h.SaveSetting).Methods("POST")
		api.HandleFunc("/settings/{key}", h.DeleteSetting).Methods("DELETE")

		api.HandleFunc("/alerts", h.Alerts).Methods("GET")
	}

	if h.ref != nil && h.rows != nil {
		api.HandleFunc("/sync", h.Sync).Methods("POST")
		api.HandleFunc("/push", h.Push).Methods("POST")
	}

	if h.ui != nil {
		api.HandleFunc("/ui-settings", h.ListUISettings).Methods("GET")
		api.HandleFunc("/ui-settings/{key}", h.PutUISetting).Methods("PUT")
	}

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}).Methods("GET")

	return router
}
