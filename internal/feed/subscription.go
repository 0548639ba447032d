package feed

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"pairarb/internal/models"
	rt "pairarb/internal/websocket"
	"pairarb/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Config - параметры подписки на стакан
type Config struct {
	// Фиксированная задержка перед переподключением
	ReconnectDelay time.Duration
	// Таймаут подключения
	DialTimeout time.Duration
	// Интервал ping для проверки соединения
	PingInterval time.Duration
	// Таймаут записи (ping, start, stop)
	WriteTimeout time.Duration
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		ReconnectDelay: 1 * time.Second,
		DialTimeout:    5 * time.Second,
		PingInterval:   30 * time.Second,
		WriteTimeout:   time.Second,
	}
}

// State состояние подписки
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Slot - место подписки: нога строки
type Slot struct {
	RowID string // идентификатор корреляции строки
	Leg   int    // 0 или 1
}

// Key - ключ слота в локальном кэше
func (s Slot) Key() string {
	return fmt.Sprintf("%s/%d", s.RowID, s.Leg+1)
}

// Target - что именно подписываем
type Target struct {
	PairKey    string
	Instrument string
	ClassCode  string
	SecCode    string

	// Поколение открытия, выдаёт потребитель; возвращается в каждом Update
	Generation uint64
}

// Update - снимок стакана для ноги строки
type Update struct {
	Slot       Slot
	Generation uint64
	Book       models.OrderBook
	ReceivedAt time.Time
}

// Subscription - одно websocket соединение на ногу строки.
//
// Жизненный цикл:
// - при подключении отправляет start(class_code, sec_code)
// - каждый снимок стакана отдаёт в канал обновлений
// - при разрыве переподключается через фиксированную задержку, пока не закрыта
// - Close идемпотентен, отправляет stop (best effort) и дожидается остановки горутин
type Subscription struct {
	slot   Slot
	target Target
	wsURL  string
	config Config
	log    *utils.Logger

	conn    *websocket.Conn
	connMu  sync.Mutex
	writeMu sync.Mutex

	state int32 // atomic State

	ctx       context.Context
	cancel    context.CancelFunc
	closeChan chan struct{}
	closeOnce sync.Once
	done      chan struct{}

	out chan<- Update
}

func newSubscription(slot Slot, target Target, wsURL string, cfg Config, out chan<- Update, logger *utils.Logger) *Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	return &Subscription{
		slot:      slot,
		target:    target,
		wsURL:     wsURL,
		config:    cfg,
		log:       logger.With(utils.RowID(slot.RowID), utils.Int("leg", slot.Leg+1), utils.Instrument(target.Instrument)),
		ctx:       ctx,
		cancel:    cancel,
		closeChan: make(chan struct{}),
		done:      make(chan struct{}),
		out:       out,
	}
}

// GetState возвращает текущее состояние подписки
func (s *Subscription) GetState() State {
	return State(atomic.LoadInt32(&s.state))
}

func (s *Subscription) setState(st State) {
	atomic.StoreInt32(&s.state, int32(st))
}

func (s *Subscription) isClosed() bool {
	select {
	case <-s.closeChan:
		return true
	default:
		return false
	}
}

// run - основной цикл: подключение, чтение, переподключение
func (s *Subscription) run() {
	defer close(s.done)

	for {
		if s.isClosed() {
			return
		}

		s.setState(StateConnecting)
		if err := s.connect(); err != nil {
			if s.isClosed() {
				return
			}
			s.log.Warn("feed connect failed", utils.URL(s.wsURL), utils.Err(err))
		} else {
			s.readPump()
		}

		if s.isClosed() {
			return
		}

		s.setState(StateReconnecting)
		reconnectsTotal.Inc()

		// Фиксированная задержка, закрытие прерывает ожидание
		timer := time.NewTimer(s.config.ReconnectDelay)
		select {
		case <-s.closeChan:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// connect подключается и отправляет start
func (s *Subscription) connect() error {
	ctx, cancel := context.WithTimeout(s.ctx, s.config.DialTimeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: s.config.DialTimeout}
	conn, _, err := dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial error: %w", err)
	}

	s.connMu.Lock()
	if s.isClosed() {
		s.connMu.Unlock()
		conn.Close()
		return fmt.Errorf("subscription closed")
	}
	s.conn = conn
	s.connMu.Unlock()

	if err := s.writeJSON(conn, rt.NewStartRequest(s.target.ClassCode, s.target.SecCode)); err != nil {
		s.dropConn(conn)
		return fmt.Errorf("start error: %w", err)
	}

	s.setState(StateConnected)
	s.log.Debug("feed connected", utils.URL(s.wsURL))
	return nil
}

// readPump читает снимки до разрыва соединения
func (s *Subscription) readPump() {
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn == nil {
		return
	}

	stopPing := make(chan struct{})
	defer close(stopPing)
	go s.pingPump(conn, stopPing)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if !s.isClosed() {
				s.log.Info("feed disconnected", utils.Err(err))
			}
			s.dropConn(conn)
			return
		}
		s.handleMessage(message)
	}
}

// pingPump отправляет ping для проверки соединения
func (s *Subscription) pingPump(conn *websocket.Conn, stop <-chan struct{}) {
	if s.config.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-s.closeChan:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			s.writeMu.Unlock()
			if err != nil {
				// Разрыв обнаружит readPump
				conn.Close()
				return
			}
		}
	}
}

// handleMessage разбирает снимок стакана; всё остальное игнорируется
func (s *Subscription) handleMessage(data []byte) {
	var msg rt.BookMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		malformedTotal.Inc()
		s.log.Warn("malformed feed message", utils.Err(err), utils.Int("bytes", len(data)))
		return
	}
	if msg.OrderBook == nil {
		malformedTotal.Inc()
		s.log.Debug("feed message without orderbook ignored")
		return
	}

	booksTotal.Inc()
	u := Update{Slot: s.slot, Generation: s.target.Generation, Book: *msg.OrderBook, ReceivedAt: time.Now()}

	// Закрытие подписки освобождает заблокированного отправителя
	select {
	case s.out <- u:
	case <-s.closeChan:
	}
}

func (s *Subscription) writeJSON(conn *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// dropConn закрывает соединение, если оно всё ещё текущее
func (s *Subscription) dropConn(conn *websocket.Conn) {
	s.connMu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.connMu.Unlock()
	conn.Close()
}

// Close закрывает подписку и дожидается остановки.
// Повторный вызов ничего не делает.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		close(s.closeChan)
		s.cancel()
		s.setState(StateClosed)

		s.connMu.Lock()
		conn := s.conn
		s.conn = nil
		s.connMu.Unlock()

		if conn != nil {
			// stop - best effort, ошибка записи не важна
			_ = s.writeJSON(conn, rt.NewStopRequest())
			conn.Close()
		}
	})
	<-s.done
}
