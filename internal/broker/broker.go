// Package broker - исполнение заявок и источник стаканов для сервера.
//
// Реальное подключение к торговой системе подключается через интерфейс
// Broker; Paper - реализация в памяти процесса: подтверждает заявки,
// нумерует транзакции и раздаёт подписчикам опубликованные в неё стаканы.
package broker

import (
	"context"
	"errors"
	"strings"

	"pairarb/internal/models"
)

// ResultRejected - значение Result.Result для отклонённой заявки
const ResultRejected = -1

// Операции и типы заявок
const (
	OperationBuy  = "B"
	OperationSell = "S"

	TypeLimit  = "L"
	TypeMarket = "M"
)

var ErrClosed = errors.New("broker closed")

// Order - новая заявка
type Order struct {
	TransID    int64   `json:"trans_id"`
	ClassCode  string  `json:"class_code"`
	SecCode    string  `json:"sec_code"`
	Account    string  `json:"account"`
	ClientCode string  `json:"client_code"`
	Operation  string  `json:"operation"` // B / S
	Type       string  `json:"type"`      // L / M
	Quantity   int     `json:"quantity"`
	Price      float64 `json:"price"` // 0 для рыночной
}

// Result - ответ торговой системы на заявку.
// Result == ResultRejected означает отказ, Message содержит причину.
type Result struct {
	TransID   int64   `json:"trans_id"`
	OrderID   string  `json:"order_id,omitempty"`
	Result    int     `json:"result"`
	Message   string  `json:"message,omitempty"`
	ClassCode string  `json:"class_code"`
	SecCode   string  `json:"sec_code"`
	Operation string  `json:"operation"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

// Rejected - заявка отклонена
func (r Result) Rejected() bool { return r.Result == ResultRejected }

// QuoteHandler получает снимки стакана подписки
type QuoteHandler func(book *models.OrderBook)

// Broker - торговая система
type Broker interface {
	// NextTransID выдаёт следующий номер транзакции
	NextTransID() int64
	// PlaceOrder отправляет заявку; отказ торговой системы - Result с ResultRejected, не ошибка
	PlaceOrder(ctx context.Context, order Order) (Result, error)
	// Subscribe подписывает на стакан инструмента; возвращённая функция снимает подписку
	Subscribe(classCode, secCode string, h QuoteHandler) (unsubscribe func())
}

// OperationFromSide - B для стороны, начинающейся на B (BUY, buy, B), иначе S
func OperationFromSide(side string) string {
	if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(side)), "B") {
		return OperationBuy
	}
	return OperationSell
}
