package websocket

import (
	stdjson "encoding/json"
	"fmt"
	"strings"

	"pairarb/internal/models"
)

// Action - действие запроса клиента
type Action string

// Действия клиента → сервер
const (
	// ActionStart - подписка на стакан инструмента; заменяет текущую подписку сессии
	ActionStart Action = "start"

	// ActionStop - снятие текущей подписки сессии
	ActionStop Action = "stop"

	// ActionSendOrder - одиночная заявка (лимитная или рыночная)
	ActionSendOrder Action = "send_order"

	// ActionSendPairOrder - две рыночные заявки арбитражной пары
	ActionSendPairOrder Action = "send_pair_order"
)

// MessageType - тип ответа сервера
type MessageType string

// Типы сообщений сервер → клиент (снимок стакана приходит без type)
const (
	MessageTypeOrderReply     MessageType = "order_reply"
	MessageTypePairOrderReply MessageType = "pair_order_reply"
)

// Типы заявок
const (
	OrderTypeLimit  = "L"
	OrderTypeMarket = "M"
)

// DefaultPairOrderError - текст ошибки, если сервер не прислал message
const DefaultPairOrderError = "pair order rejected"

// Envelope - общие поля для маршрутизации входящих сообщений
type Envelope struct {
	Action Action      `json:"action,omitempty"`
	Type   MessageType `json:"type,omitempty"`
}

// ============ Клиент → сервер ============

// StartRequest - подписка на стакан
type StartRequest struct {
	Action    Action `json:"action"`
	ClassCode string `json:"class_code"`
	SecCode   string `json:"sec_code"`
}

// StopRequest - отписка от стакана
type StopRequest struct {
	Action Action `json:"action"`
}

// SendOrderRequest - одиночная заявка.
// Price обязателен для лимитной заявки и не передаётся для рыночной.
type SendOrderRequest struct {
	Action     Action   `json:"action"`
	ClassCode  string   `json:"class_code"`
	SecCode    string   `json:"sec_code"`
	Account    string   `json:"account"`
	ClientCode string   `json:"client_code"`
	Operation  string   `json:"operation"`  // B / S
	OrderType  string   `json:"order_type"` // L / M
	Quantity   int      `json:"quantity"`
	Price      *float64 `json:"price,omitempty"`
}

// Validate проверяет обязательные поля до отправки
func (r *SendOrderRequest) Validate() error {
	var missing []string
	if r.ClassCode == "" {
		missing = append(missing, "class_code")
	}
	if r.SecCode == "" {
		missing = append(missing, "sec_code")
	}
	if r.Account == "" {
		missing = append(missing, "account")
	}
	if r.Operation != "B" && r.Operation != "S" {
		missing = append(missing, "operation")
	}
	if r.Quantity <= 0 {
		missing = append(missing, "quantity")
	}
	switch r.OrderType {
	case OrderTypeMarket:
	case OrderTypeLimit, "":
		if r.Price == nil {
			missing = append(missing, "price")
		}
	default:
		missing = append(missing, "order_type")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing or invalid fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// PairOrderRequest - парная заявка. RowID - идентификатор корреляции строки,
// сервер возвращает его без изменений в PairOrderReply.
type PairOrderRequest struct {
	Action      Action  `json:"action"`
	RowID       string  `json:"row_id"`
	ClassCode1  string  `json:"class_code_1"`
	SecCode1    string  `json:"sec_code_1"`
	ClassCode2  string  `json:"class_code_2"`
	SecCode2    string  `json:"sec_code_2"`
	Side1       string  `json:"side_1"`
	Side2       string  `json:"side_2"`
	QtyRatio1   float64 `json:"qty_ratio_1"`
	QtyRatio2   float64 `json:"qty_ratio_2"`
	Account1    string  `json:"account_1"`
	ClientCode1 string  `json:"client_code_1"`
	Account2    string  `json:"account_2"`
	ClientCode2 string  `json:"client_code_2"`
}

// ============ Сервер → клиент ============

// BookMessage - снимок стакана по текущей подписке
type BookMessage struct {
	OrderBook *models.OrderBook `json:"orderbook"`
	Time      string            `json:"time,omitempty"`
}

// OrderReply - ответ на одиночную заявку; Data передаётся клиенту как есть
type OrderReply struct {
	Type MessageType        `json:"type"`
	Data stdjson.RawMessage `json:"data"`
}

// PairOrderReply - ответ на парную заявку
type PairOrderReply struct {
	Type    MessageType `json:"type"`
	RowID   string      `json:"row_id"`
	OK      bool        `json:"ok"`
	Message string      `json:"message,omitempty"`
}

// ErrorText возвращает текст ошибки ответа (или текст по умолчанию)
func (r *PairOrderReply) ErrorText() string {
	if r.Message != "" {
		return r.Message
	}
	return DefaultPairOrderError
}

// ============ Фабричные функции ============

// NewStartRequest создаёт запрос подписки
func NewStartRequest(classCode, secCode string) *StartRequest {
	return &StartRequest{Action: ActionStart, ClassCode: classCode, SecCode: secCode}
}

// NewStopRequest создаёт запрос отписки
func NewStopRequest() *StopRequest {
	return &StopRequest{Action: ActionStop}
}

// NewPairOrderReply создаёт ответ на парную заявку
func NewPairOrderReply(rowID string, ok bool, message string) *PairOrderReply {
	return &PairOrderReply{Type: MessageTypePairOrderReply, RowID: rowID, OK: ok, Message: message}
}
