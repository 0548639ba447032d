// Package dispatch - общий websocket канал отправки заявок.
//
// Канал открывается лениво при первой отправке. Пока идёт подключение,
// запросы копятся в очереди и уходят по порядку после открытия.
// Входящие сообщения разбираются по полю type:
//   - order_reply - отдаётся потребителю одиночных заявок как есть
//   - pair_order_reply - уходит в канал PairReplies() для движка сигналов
package dispatch

import (
	"context"
	stdjson "encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	rt "pairarb/internal/websocket"
	"pairarb/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// ErrClosed - канал остановлен
	ErrClosed = errors.New("dispatch channel closed")
	// ErrBackpressure - очередь отправки переполнена
	ErrBackpressure = errors.New("dispatch outbox is full")
)

// Config - параметры канала
type Config struct {
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	OutboxSize   int // размер очереди отправки соединения
	ReplyHistory int // сколько последних order_reply хранить
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		DialTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		OutboxSize:   256,
		ReplyHistory: 50,
	}
}

// State состояние канала
type State int

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// session - одно открытое соединение
type session struct {
	conn      *websocket.Conn
	outbox    chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// Channel - ленивый мультиплексированный канал заявок
type Channel struct {
	wsURL  string
	config Config
	log    *utils.Logger

	mu      sync.Mutex
	state   State
	sess    *session
	pending [][]byte

	ctx    context.Context
	cancel context.CancelFunc

	pairReplies chan rt.PairOrderReply

	replyMu      sync.RWMutex
	replies      []stdjson.RawMessage
	onOrderReply func(stdjson.RawMessage)
}

// New создаёт канал; соединение не открывается до первой отправки
func New(wsURL string, cfg Config, logger *utils.Logger) *Channel {
	if logger == nil {
		logger = utils.L()
	}
	if cfg.OutboxSize <= 0 {
		cfg.OutboxSize = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Channel{
		wsURL:       wsURL,
		config:      cfg,
		log:         logger.WithComponent("dispatch"),
		ctx:         ctx,
		cancel:      cancel,
		pairReplies: make(chan rt.PairOrderReply, 256),
	}
}

// PairReplies - ответы на парные заявки
func (c *Channel) PairReplies() <-chan rt.PairOrderReply {
	return c.pairReplies
}

// SetOrderReplyHandler устанавливает получателя ответов на одиночные заявки
func (c *Channel) SetOrderReplyHandler(handler func(stdjson.RawMessage)) {
	c.replyMu.Lock()
	c.onOrderReply = handler
	c.replyMu.Unlock()
}

// RecentOrderReplies возвращает последние ответы на одиночные заявки (старые первыми)
func (c *Channel) RecentOrderReplies() []stdjson.RawMessage {
	c.replyMu.RLock()
	defer c.replyMu.RUnlock()
	out := make([]stdjson.RawMessage, len(c.replies))
	copy(out, c.replies)
	return out
}

// GetState возвращает состояние канала
func (c *Channel) GetState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SendOrder проверяет и отправляет одиночную заявку
func (c *Channel) SendOrder(req rt.SendOrderRequest) error {
	req.Action = rt.ActionSendOrder
	if req.OrderType == "" {
		req.OrderType = rt.OrderTypeLimit
	}
	if req.OrderType == rt.OrderTypeMarket {
		req.Price = nil
	}
	if err := req.Validate(); err != nil {
		return err
	}
	return c.Dispatch(&req)
}

// Dispatch отправляет запрос. Не блокируется на сети:
// при открытом канале кладёт в очередь писателя, иначе копит до открытия.
func (c *Channel) Dispatch(req interface{}) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ctx.Err() != nil {
		return ErrClosed
	}

	switch c.state {
	case StateOpen:
		select {
		case c.sess.outbox <- data:
			requestsTotal.Inc()
			return nil
		default:
			droppedTotal.Inc()
			return ErrBackpressure
		}
	case StateConnecting:
		c.pending = append(c.pending, data)
	default:
		c.pending = append(c.pending, data)
		c.state = StateConnecting
		go c.open()
	}
	return nil
}

// open подключается и отправляет накопленные запросы
func (c *Channel) open() {
	ctx, cancel := context.WithTimeout(c.ctx, c.config.DialTimeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: c.config.DialTimeout}
	conn, _, err := dialer.DialContext(ctx, c.wsURL, nil)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		// Очередь сбрасывается: строки остаются в ожидании ответа до снятия пользователем
		dropped := len(c.pending)
		c.pending = nil
		c.state = StateClosed
		droppedTotal.Add(float64(dropped))
		c.log.Error("dispatch connect failed", utils.URL(c.wsURL), utils.Int("dropped", dropped), utils.Err(err))
		return
	}

	if c.ctx.Err() != nil {
		conn.Close()
		c.pending = nil
		c.state = StateClosed
		return
	}

	sess := &session{
		conn:   conn,
		outbox: make(chan []byte, c.config.OutboxSize+len(c.pending)),
		done:   make(chan struct{}),
	}
	for _, data := range c.pending {
		sess.outbox <- data
		requestsTotal.Inc()
	}
	c.pending = nil
	c.sess = sess
	c.state = StateOpen
	connectsTotal.Inc()

	go c.writePump(sess)
	go c.readPump(sess)

	c.log.Info("dispatch channel connected", utils.URL(c.wsURL))
}

// writePump отправляет запросы соединения по порядку
func (c *Channel) writePump(sess *session) {
	for {
		select {
		case <-sess.done:
			return
		case data := <-sess.outbox:
			sess.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := sess.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.fail(sess, err)
				return
			}
		}
	}
}

// readPump разбирает входящие сообщения
func (c *Channel) readPump(sess *session) {
	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			c.fail(sess, err)
			return
		}
		c.route(data)
	}
}

// fail закрывает соединение после ошибки транспорта.
// Строки не переводятся в ошибку; следующая отправка переподключит канал.
func (c *Channel) fail(sess *session, err error) {
	c.mu.Lock()
	current := c.sess == sess
	if current {
		c.sess = nil
		c.state = StateClosed
	}
	c.mu.Unlock()

	sess.close()

	if current && c.ctx.Err() == nil {
		transportErrorsTotal.Inc()
		c.log.Warn("dispatch channel transport error", utils.Err(err))
	}
}

// route маршрутизирует входящее сообщение по type
func (c *Channel) route(data []byte) {
	var env rt.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		repliesTotal.WithLabelValues("malformed").Inc()
		c.log.Warn("malformed dispatch message", utils.Err(err))
		return
	}

	switch env.Type {
	case rt.MessageTypeOrderReply:
		var reply rt.OrderReply
		if err := json.Unmarshal(data, &reply); err != nil {
			repliesTotal.WithLabelValues("malformed").Inc()
			c.log.Warn("malformed order reply", utils.Err(err))
			return
		}
		repliesTotal.WithLabelValues(string(env.Type)).Inc()
		c.pushOrderReply(reply.Data)

	case rt.MessageTypePairOrderReply:
		var reply rt.PairOrderReply
		if err := json.Unmarshal(data, &reply); err != nil || reply.RowID == "" {
			repliesTotal.WithLabelValues("malformed").Inc()
			c.log.Warn("malformed pair order reply", utils.String("raw", string(data)))
			return
		}
		repliesTotal.WithLabelValues(string(env.Type)).Inc()
		select {
		case c.pairReplies <- reply:
		case <-c.ctx.Done():
		}

	default:
		repliesTotal.WithLabelValues("ignored").Inc()
		c.log.Debug("dispatch message ignored", utils.MessageType(string(env.Type)))
	}
}

func (c *Channel) pushOrderReply(data stdjson.RawMessage) {
	c.replyMu.Lock()
	c.replies = append(c.replies, data)
	if limit := c.config.ReplyHistory; limit > 0 && len(c.replies) > limit {
		c.replies = c.replies[len(c.replies)-limit:]
	}
	handler := c.onOrderReply
	c.replyMu.Unlock()

	if handler != nil {
		handler(data)
	}
}

// Close останавливает канал; дальнейшие отправки возвращают ErrClosed
func (c *Channel) Close() {
	c.cancel()

	c.mu.Lock()
	sess := c.sess
	c.sess = nil
	c.state = StateClosed
	c.pending = nil
	c.mu.Unlock()

	if sess != nil {
		sess.close()
	}
}
