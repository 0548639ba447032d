package broker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"pairarb/internal/models"
	"pairarb/pkg/utils"
)

// Paper - торговая система в памяти процесса.
//
// Заявки проверяются и подтверждаются без исполнения, номера транзакций
// выдаются последовательно. Стаканы попадают в Paper через PublishBook
// и рассылаются подписчикам инструмента.
type Paper struct {
	transID atomic.Int64

	mu     sync.RWMutex
	subs   map[string]map[uint64]QuoteHandler
	nextID uint64
	books  map[string]*models.OrderBook
	closed bool

	ordersMu sync.Mutex
	orders   []Order

	log *utils.Logger
}

// NewPaper создаёт Paper; firstTransID - номер первой транзакции
func NewPaper(firstTransID int64, logger *utils.Logger) *Paper {
	if logger == nil {
		logger = utils.L()
	}
	p := &Paper{
		subs:  make(map[string]map[uint64]QuoteHandler),
		books: make(map[string]*models.OrderBook),
		log:   logger.WithComponent("paper_broker"),
	}
	p.transID.Store(firstTransID - 1)
	return p
}

func instrumentKey(classCode, secCode string) string {
	return classCode + "|" + secCode
}

// NextTransID выдаёт следующий номер транзакции
func (p *Paper) NextTransID() int64 {
	return p.transID.Add(1)
}

// PlaceOrder проверяет заявку и подтверждает её
func (p *Paper) PlaceOrder(ctx context.Context, order Order) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return Result{}, ErrClosed
	}

	if order.TransID == 0 {
		order.TransID = p.NextTransID()
	}
	res := Result{
		TransID:   order.TransID,
		ClassCode: order.ClassCode,
		SecCode:   order.SecCode,
		Operation: order.Operation,
		Quantity:  order.Quantity,
		Price:     order.Price,
	}

	if msg := rejectReason(order); msg != "" {
		res.Result = ResultRejected
		res.Message = msg
		p.log.Warn("order rejected",
			utils.Int64("trans_id", order.TransID),
			utils.String("sec_code", order.SecCode),
			utils.String("reason", msg))
		return res, nil
	}

	if order.Type == TypeMarket {
		res.Price = 0
	} else {
		// цена приводится к шагу представления без двоичного шума
		res.Price = decimal.NewFromFloat(order.Price).Round(8).InexactFloat64()
	}
	res.OrderID = uuid.NewString()

	p.ordersMu.Lock()
	p.orders = append(p.orders, order)
	p.ordersMu.Unlock()

	p.log.Info("order accepted",
		utils.Int64("trans_id", order.TransID),
		utils.String("order_id", res.OrderID),
		utils.String("sec_code", order.SecCode),
		utils.String("operation", order.Operation),
		utils.String("type", order.Type),
		utils.Int("quantity", order.Quantity))
	return res, nil
}

func rejectReason(o Order) string {
	switch {
	case o.ClassCode == "" || o.SecCode == "":
		return "unknown instrument"
	case o.Operation != OperationBuy && o.Operation != OperationSell:
		return fmt.Sprintf("invalid operation %q", o.Operation)
	case o.Quantity <= 0:
		return "quantity must be positive"
	case o.Type != TypeLimit && o.Type != TypeMarket:
		return fmt.Sprintf("invalid order type %q", o.Type)
	case o.Type == TypeLimit && o.Price <= 0:
		return "limit price must be positive"
	}
	return ""
}

// Orders возвращает копию принятых заявок
func (p *Paper) Orders() []Order {
	p.ordersMu.Lock()
	defer p.ordersMu.Unlock()
	out := make([]Order, len(p.orders))
	copy(out, p.orders)
	return out
}

// Subscribe подписывает на стакан. Если по инструменту уже есть снимок,
// он сразу передаётся обработчику.
func (p *Paper) Subscribe(classCode, secCode string, h QuoteHandler) func() {
	key := instrumentKey(classCode, secCode)

	p.mu.Lock()
	p.nextID++
	id := p.nextID
	if p.subs[key] == nil {
		p.subs[key] = make(map[uint64]QuoteHandler)
	}
	p.subs[key][id] = h
	last := p.books[key]
	p.mu.Unlock()

	if last != nil {
		h(last)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			delete(p.subs[key], id)
			if len(p.subs[key]) == 0 {
				delete(p.subs, key)
			}
		})
	}
}

// Subscribers - число подписчиков инструмента
func (p *Paper) Subscribers(classCode, secCode string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subs[instrumentKey(classCode, secCode)])
}

// PublishBook сохраняет снимок и рассылает его подписчикам инструмента
func (p *Paper) PublishBook(classCode, secCode string, book *models.OrderBook) {
	key := instrumentKey(classCode, secCode)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.books[key] = book
	handlers := make([]QuoteHandler, 0, len(p.subs[key]))
	for _, h := range p.subs[key] {
		handlers = append(handlers, h)
	}
	p.mu.Unlock()

	for _, h := range handlers {
		h(book)
	}
}

// Close снимает все подписки; последующие заявки получают ErrClosed
func (p *Paper) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.subs = make(map[string]map[uint64]QuoteHandler)
}
