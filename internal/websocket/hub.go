package websocket

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"pairarb/internal/broker"
	"pairarb/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Hub - серверная сторона /ws.
//
// Каждое соединение - отдельная сессия со своей подпиской на стакан
// и своими заявками. Hub ведёт реестр сессий и закрывает их при остановке.
//
// Использование:
// 1. hub := NewHub(broker, origins, logger)
// 2. go hub.Run(ctx)
// 3. router.Handle("/ws", hub)
type Hub struct {
	broker   broker.Broker
	upgrader websocket.Upgrader
	log      *utils.Logger

	// Зарегистрированные сессии
	sessions map[*Session]bool

	register   chan *Session
	unregister chan *Session
	done       chan struct{}

	mu sync.RWMutex
}

// NewHub создает Hub поверх торговой системы
func NewHub(b broker.Broker, allowedOrigins []string, logger *utils.Logger) *Hub {
	if logger == nil {
		logger = utils.L()
	}
	checker := NewOriginChecker(allowedOrigins)
	return &Hub{
		broker: b,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return checker.Check(r.Header.Get("Origin"))
			},
			EnableCompression: true,
		},
		log:        logger.WithComponent("ws_hub"),
		sessions:   make(map[*Session]bool),
		register:   make(chan *Session),
		unregister: make(chan *Session),
		done:       make(chan struct{}),
	}
}

// Run обрабатывает регистрацию сессий до отмены ctx.
// При остановке все сессии закрываются.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case s := <-h.register:
			h.mu.Lock()
			h.sessions[s] = true
			n := len(h.sessions)
			h.mu.Unlock()
			activeSessions.Set(float64(n))
			h.log.Info("session opened", utils.String("remote", s.remote), utils.Int("sessions", n))

		case s := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.sessions[s]; ok {
				delete(h.sessions, s)
				s.closeSend()
			}
			n := len(h.sessions)
			h.mu.Unlock()
			activeSessions.Set(float64(n))
			h.log.Info("session closed", utils.String("remote", s.remote), utils.Int("sessions", n))

		case <-ctx.Done():
			h.mu.Lock()
			for s := range h.sessions {
				delete(h.sessions, s)
				s.closeSend()
			}
			h.mu.Unlock()
			activeSessions.Set(0)
			return
		}
	}
}

// ServeHTTP апгрейдит соединение и запускает сессию
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", utils.Err(err))
		return
	}

	s := newSession(h, conn, r.RemoteAddr)
	select {
	case h.register <- s:
	case <-h.done:
		conn.Close()
		return
	}

	go s.writePump()
	go s.readPump()
}

func (h *Hub) release(s *Session) {
	select {
	case h.unregister <- s:
	case <-h.done:
	}
}

// SessionCount возвращает количество открытых сессий
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// OriginChecker проверяет Origin с O(1) lookup через map
// Потокобезопасен для чтения после инициализации
type OriginChecker struct {
	allowedOrigins map[string]struct{}
	allowAll       bool
}

// NewOriginChecker - пустой список или "*" разрешают любой Origin
func NewOriginChecker(origins []string) *OriginChecker {
	checker := &OriginChecker{allowedOrigins: make(map[string]struct{})}
	for _, origin := range origins {
		if origin == "*" {
			checker.allowAll = true
			continue
		}
		if origin != "" {
			checker.allowedOrigins[origin] = struct{}{}
		}
	}
	if len(checker.allowedOrigins) == 0 {
		checker.allowAll = true
	}
	return checker
}

// Check проверяет origin за O(1)
func (oc *OriginChecker) Check(origin string) bool {
	if origin == "" {
		return true // не браузерные клиенты
	}
	if oc.allowAll {
		return true
	}
	_, ok := oc.allowedOrigins[origin]
	return ok
}
