package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"pairarb/internal/api/handlers"
	"pairarb/internal/api/middleware"
	"pairarb/internal/models"
	"pairarb/internal/service"
	"pairarb/pkg/utils"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	Instruments service.CatalogServiceInterface[models.Instrument]
	Accounts    service.CatalogServiceInterface[models.Account]
	Columns     service.CatalogServiceInterface[models.Column]
	Settings    service.CatalogServiceInterface[models.Setting]
	Pairs       service.PairServiceInterface

	// Realtime - обработчик /ws (стаканы и заявки)
	Realtime http.Handler
	// Books - приём снимков стакана для торговой системы в памяти
	Books http.Handler

	AllowedOrigins []string
	Logger         *utils.Logger
}

// SetupRoutes настраивает все HTTP маршруты сервера
//
// Структура маршрутов:
//
// /api/v1/
//
//	├── /instruments   GET, POST; PATCH, DELETE /{id}
//	├── /accounts      GET, POST; PATCH, DELETE /{id}
//	├── /columns       GET, POST; PATCH, DELETE /{id}
//	├── /settings      GET, POST; PATCH, DELETE /{id}
//	├── /pairs         GET, POST; PATCH, DELETE /{id} (If-Unmodified-Since)
//	└── /books/{class_code}/{sec_code}   PUT - снимок стакана
//
// /ws      - стаканы и заявки
// /health  - проверка живости
//
// Middleware применяется в следующем порядке:
// 1. Recovery
// 2. Logging
// 3. CORS
func SetupRoutes(deps *Dependencies) *mux.Router {
	if deps == nil {
		deps = &Dependencies{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = utils.L()
	}

	router := mux.NewRouter()

	router.Use(middleware.Recovery(logger))
	router.Use(middleware.Logging(logger))
	router.Use(middleware.CORS(deps.AllowedOrigins))

	api := router.PathPrefix("/api/v1").Subrouter()

	if deps.Instruments != nil {
		registerCatalog(api, "/instruments", handlers.NewCatalogHandler(deps.Instruments))
	}
	if deps.Accounts != nil {
		registerCatalog(api, "/accounts", handlers.NewCatalogHandler(deps.Accounts))
	}
	if deps.Columns != nil {
		registerCatalog(api, "/columns", handlers.NewCatalogHandler(deps.Columns))
	}
	if deps.Settings != nil {
		registerCatalog(api, "/settings", handlers.NewCatalogHandler(deps.Settings))
	}

	if deps.Pairs != nil {
		pairHandler := handlers.NewPairHandler(deps.Pairs)
		api.HandleFunc("/pairs", pairHandler.GetPairs).Methods("GET")
		api.HandleFunc("/pairs", pairHandler.CreatePair).Methods("POST")
		api.HandleFunc("/pairs/{id}", pairHandler.UpdatePair).Methods("PATCH")
		api.HandleFunc("/pairs/{id}", pairHandler.DeletePair).Methods("DELETE")
	}

	if deps.Books != nil {
		api.Handle("/books/{class_code}/{sec_code}", deps.Books).Methods("PUT")
	}

	if deps.Realtime != nil {
		router.Handle("/ws", deps.Realtime)
	}

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}).Methods("GET")

	return router
}

func registerCatalog[T any](api *mux.Router, path string, h *handlers.CatalogHandler[T]) {
	api.HandleFunc(path, h.List).Methods("GET")
	api.HandleFunc(path, h.Create).Methods("POST")
	api.HandleFunc(path+"/{id}", h.Update).Methods("PATCH")
	api.HandleFunc(path+"/{id}", h.Delete).Methods("DELETE")
}
