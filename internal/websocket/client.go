package websocket

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"pairarb/internal/broker"
	"pairarb/internal/models"
	"pairarb/pkg/utils"
)

const (
	// Время ожидания записи сообщения
	writeWait = 10 * time.Second

	// Время ожидания между pong сообщениями
	pongWait = 60 * time.Second

	// Интервал отправки ping сообщений (должен быть меньше pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Максимальный размер входящего сообщения
	maxMessageSize = 65536

	// Размер буфера отправки сессии
	sessionSendBufferSize = 256

	// Время на обработку одной заявки торговой системой
	orderTimeout = 10 * time.Second
)

// Session - одно соединение /ws.
//
// Входящие действия обрабатываются по порядку в readPump. У сессии не больше
// одной подписки на стакан: start заменяет её, stop и отключение снимают.
type Session struct {
	hub    *Hub
	conn   *websocket.Conn
	remote string
	log    *utils.Logger

	// Буферизованный канал исходящих сообщений
	send   chan []byte
	sendMu sync.Mutex
	closed bool

	// Текущая подписка; трогает только readPump
	subKey      string
	unsubscribe func()
}

func newSession(h *Hub, conn *websocket.Conn, remote string) *Session {
	return &Session{
		hub:    h,
		conn:   conn,
		remote: remote,
		log:    h.log.With(utils.String("remote", remote)),
		send:   make(chan []byte, sessionSendBufferSize),
	}
}

// enqueue ставит сообщение в очередь отправки; при переполнении сообщение
// отбрасывается
func (s *Session) enqueue(msg []byte) bool {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.send <- msg:
		return true
	default:
		return false
	}
}

func (s *Session) closeSend() {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.send)
	}
}

func (s *Session) reply(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Error("failed to marshal reply", utils.Err(err))
		return
	}
	if !s.enqueue(data) {
		s.log.Warn("reply dropped: send buffer full or session closed")
	}
}

// readPump читает действия клиента до разрыва соединения
func (s *Session) readPump() {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		s.stopSubscription()
		s.hub.release(s)
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				s.log.Warn("websocket read error", utils.Err(err))
			}
			return
		}
		s.handle(ctx, message)
	}
}

// writePump отправляет сообщения клиенту; каждое сообщение - отдельный кадр
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case message, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Session) handle(ctx context.Context, message []byte) {
	var env Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		s.log.Warn("malformed message ignored", utils.Err(err))
		return
	}

	switch env.Action {
	case ActionStart:
		var req StartRequest
		if err := json.Unmarshal(message, &req); err != nil {
			s.log.Warn("malformed start ignored", utils.Err(err))
			return
		}
		s.start(strings.TrimSpace(req.ClassCode), strings.TrimSpace(req.SecCode))

	case ActionStop:
		s.stopSubscription()

	case ActionSendOrder:
		var req SendOrderRequest
		if err := json.Unmarshal(message, &req); err != nil {
			s.log.Warn("malformed send_order ignored", utils.Err(err))
			return
		}
		s.sendOrder(ctx, &req)

	case ActionSendPairOrder:
		var req PairOrderRequest
		if err := json.Unmarshal(message, &req); err != nil {
			s.log.Warn("malformed send_pair_order ignored", utils.Err(err))
			return
		}
		s.sendPairOrder(ctx, &req)

	default:
		s.log.Warn("unknown action ignored", utils.String("action", string(env.Action)))
	}
}

// start заменяет текущую подписку сессии
func (s *Session) start(classCode, secCode string) {
	if classCode == "" || secCode == "" {
		s.log.Warn("start without instrument ignored")
		return
	}
	s.stopSubscription()

	s.subKey = classCode + "|" + secCode
	s.unsubscribe = s.hub.broker.Subscribe(classCode, secCode, s.onBook)
	s.log.Debug("subscribed", utils.String("class_code", classCode), utils.Instrument(secCode))
}

func (s *Session) stopSubscription() {
	if s.unsubscribe == nil {
		return
	}
	s.unsubscribe()
	s.log.Debug("unsubscribed", utils.String("key", s.subKey))
	s.unsubscribe = nil
	s.subKey = ""
}

func (s *Session) onBook(book *models.OrderBook) {
	data, err := json.Marshal(BookMessage{OrderBook: book, Time: time.Now().UTC().Format(time.RFC3339Nano)})
	if err != nil {
		s.log.Error("failed to marshal book", utils.Err(err))
		return
	}
	if s.enqueue(data) {
		booksSent.Inc()
	} else {
		booksDropped.Inc()
	}
}

// sendOrder отправляет одиночную заявку; ответ торговой системы уходит клиенту как есть
func (s *Session) sendOrder(ctx context.Context, req *SendOrderRequest) {
	order := broker.Order{
		TransID:    s.hub.broker.NextTransID(),
		ClassCode:  req.ClassCode,
		SecCode:    req.SecCode,
		Account:    req.Account,
		ClientCode: req.ClientCode,
		Operation:  req.Operation,
		Type:       req.OrderType,
		Quantity:   req.Quantity,
	}
	if order.Type == "" {
		order.Type = broker.TypeLimit
	}
	if order.Type == broker.TypeLimit && req.Price != nil {
		order.Price = *req.Price
	}

	var res broker.Result
	if err := req.Validate(); err != nil {
		res = rejected(order, err)
	} else {
		res = s.place(ctx, order)
	}
	ordersTotal.WithLabelValues("single", resultLabel(res)).Inc()

	data, err := json.Marshal(res)
	if err != nil {
		s.log.Error("failed to marshal order result", utils.Err(err))
		return
	}
	s.reply(&OrderReply{Type: MessageTypeOrderReply, Data: data})
}

// sendPairOrder отправляет две рыночные заявки пары подряд
func (s *Session) sendPairOrder(ctx context.Context, req *PairOrderRequest) {
	leg1 := broker.Order{
		TransID:    s.hub.broker.NextTransID(),
		ClassCode:  req.ClassCode1,
		SecCode:    req.SecCode1,
		Account:    req.Account1,
		ClientCode: req.ClientCode1,
		Operation:  broker.OperationFromSide(req.Side1),
		Type:       broker.TypeMarket,
		Quantity:   int(req.QtyRatio1),
	}
	leg2 := broker.Order{
		TransID:    s.hub.broker.NextTransID(),
		ClassCode:  req.ClassCode2,
		SecCode:    req.SecCode2,
		Account:    req.Account2,
		ClientCode: req.ClientCode2,
		Operation:  broker.OperationFromSide(req.Side2),
		Type:       broker.TypeMarket,
		Quantity:   int(req.QtyRatio2),
	}

	res1 := s.place(ctx, leg1)
	res2 := s.place(ctx, leg2)

	ok := !res1.Rejected() && !res2.Rejected()
	reply := NewPairOrderReply(req.RowID, ok, "")
	if !ok {
		reply.Message = fmt.Sprintf("Order errors: %s, %s", describe(res1), describe(res2))
	}
	ordersTotal.WithLabelValues("pair", fmt.Sprintf("%t", ok)).Inc()

	s.log.Info("pair order processed",
		utils.RowID(req.RowID),
		utils.Bool("ok", ok),
		utils.Int64("trans_id_1", leg1.TransID),
		utils.Int64("trans_id_2", leg2.TransID))
	s.reply(reply)
}

func (s *Session) place(ctx context.Context, order broker.Order) broker.Result {
	ctx, cancel := context.WithTimeout(ctx, orderTimeout)
	defer cancel()

	res, err := s.hub.broker.PlaceOrder(ctx, order)
	if err != nil {
		s.log.Warn("order failed", utils.Int64("trans_id", order.TransID), utils.Err(err))
		return rejected(order, err)
	}
	return res
}

func rejected(order broker.Order, err error) broker.Result {
	return broker.Result{
		TransID:   order.TransID,
		Result:    broker.ResultRejected,
		Message:   err.Error(),
		ClassCode: order.ClassCode,
		SecCode:   order.SecCode,
		Operation: order.Operation,
		Quantity:  order.Quantity,
		Price:     order.Price,
	}
}

func describe(r broker.Result) string {
	if r.Rejected() {
		return fmt.Sprintf("%s %d: %s", r.SecCode, r.TransID, r.Message)
	}
	return fmt.Sprintf("%s %d: accepted", r.SecCode, r.TransID)
}

func resultLabel(r broker.Result) string {
	if r.Rejected() {
		return "rejected"
	}
	return "accepted"
}
