package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pairarb/internal/feed"
	"pairarb/internal/models"
	rt "pairarb/internal/websocket"
	"pairarb/pkg/utils"
)

var (
	ErrRowNotFound   = errors.New("row not found")
	ErrPairExists    = errors.New("pair with these instruments already exists")
	ErrInvalidRow    = errors.New("invalid row")
	ErrRowIncomplete = errors.New("row is not ready to arm")
	ErrRowArmed      = errors.New("row is armed, disarm it first")
	ErrEngineStopped = errors.New("engine stopped")

	errNoDispatcher = errors.New("no order dispatcher configured")
	errNoDirectory  = errors.New("no reference directory configured")
)

// unresolvedError - инструмент или счёт строки отсутствует в справочнике
type unresolvedError struct {
	kind string
	name string
}

func (e *unresolvedError) Error() string {
	return fmt.Sprintf("%s %q not found", e.kind, e.name)
}

// Directory - справочники инструментов и счетов (индексы сверки)
type Directory interface {
	Instrument(code string) (models.Instrument, bool)
	Account(alias string) (models.Account, bool)
}

// Dispatcher - канал отправки заявок
type Dispatcher interface {
	Dispatch(req interface{}) error
}

// FeedController - управление подписками на стаканы
type FeedController interface {
	Open(slot feed.Slot, target feed.Target)
	CloseRow(rowID string)
}

// Persister - сохранение строк на бэкенде. Вызывается из цикла движка,
// поэтому не должен блокироваться: получает копии строк и ставит их в очередь.
type Persister interface {
	SaveRow(row *models.PairRow)
	DeleteRow(row *models.PairRow)
}

// Options - зависимости движка
type Options struct {
	Directory  Directory
	Dispatcher Dispatcher
	Feeds      FeedController
	Persister  Persister

	Updates <-chan feed.Update
	Replies <-chan rt.PairOrderReply

	EventBuffer int
	Logger      *utils.Logger
}

// rowState - служебное состояние строки, не видимое снаружи
type rowState struct {
	row *models.PairRow

	// Снимки стакана по ногам: цена ноги пересчитывается при смене стороны или объёма
	books [2]*models.OrderBook

	// Поколение открытых подписок ног; снимки других поколений отбрасываются
	feedGen [2]uint64

	// Момент и hit_price последнего срабатывания
	firedAt  time.Time
	firedHit *float64
}

// Engine - движок сигналов арбитражных пар.
//
// Всё состояние строк принадлежит одной горутине Run. Снимки стаканов,
// ответы на заявки и команды API обрабатываются в ней по одному,
// поэтому каждое сообщение применяется атомарно и без блокировок.
//
// Поток данных:
// Feed → Update → цена ноги (Averager) → hit_price → триггер → Dispatch
// Dispatch → PairOrderReply → учёт исполнения → Persister
type Engine struct {
	dir     Directory
	disp    Dispatcher
	feeds   FeedController
	persist Persister
	log     *utils.Logger

	rows    map[string]*rowState
	order   []string // порядок создания строк
	lastGen uint64

	inbox   chan func()
	updates <-chan feed.Update
	replies <-chan rt.PairOrderReply

	stopped chan struct{}
}

// NewEngine создаёт движок. Run нужно запустить отдельно.
func NewEngine(opts Options) *Engine {
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 1024
	}
	if opts.Logger == nil {
		opts.Logger = utils.L()
	}
	e := &Engine{
		dir:     opts.Directory,
		disp:    opts.Dispatcher,
		feeds:   opts.Feeds,
		persist: opts.Persister,
		log:     opts.Logger.WithComponent("engine"),
		rows:    make(map[string]*rowState),
		inbox:   make(chan func(), opts.EventBuffer),
		updates: opts.Updates,
		replies: opts.Replies,
		stopped: make(chan struct{}),
	}
	if e.feeds == nil {
		e.feeds = nopFeeds{}
	}
	if e.persist == nil {
		e.persist = nopPersister{}
	}
	return e
}

// Run - главный цикл движка. Возвращается при отмене ctx.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.stopped)
	e.log.Info("engine started")

	for {
		select {
		case <-ctx.Done():
			e.log.Info("engine stopped")
			return nil

		case cmd := <-e.inbox:
			EventsProcessed.WithLabelValues("command").Inc()
			cmd()

		case u, ok := <-e.updates:
			if !ok {
				e.updates = nil
				continue
			}
			EventsProcessed.WithLabelValues("book").Inc()
			e.applyBook(u)

		case r, ok := <-e.replies:
			if !ok {
				e.replies = nil
				continue
			}
			EventsProcessed.WithLabelValues("reply").Inc()
			e.applyReply(r)
		}
	}
}

// call выполняет fn в цикле движка и ждёт завершения
func (e *Engine) call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		fn()
	}

	select {
	case e.inbox <- wrapped:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopped:
		return ErrEngineStopped
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopped:
		return ErrEngineStopped
	}
}

// transition фиксирует смену состояния строки в логах и метриках
func (e *Engine) transition(r *models.PairRow, from State) {
	to := RowState(r)
	if from == to {
		return
	}
	if !CanTransition(from, to) {
		e.log.Warn("unexpected row state transition",
			utils.RowID(r.CID), utils.String("from", string(from)), utils.String("to", string(to)))
	}
	StateTransitions.WithLabelValues(string(from), string(to)).Inc()

	switch {
	case IsActive(to) && !IsActive(from):
		ArmedRows.Inc()
	case !IsActive(to) && IsActive(from):
		ArmedRows.Dec()
	}

	e.log.Debug("row state changed",
		utils.RowID(r.CID), utils.PairKey(r.Key()), utils.String("from", string(from)), utils.State(string(to)))
}

type nopFeeds struct{}

func (nopFeeds) Open(feed.Slot, feed.Target) {}
func (nopFeeds) CloseRow(string)             {}

type nopPersister struct{}

func (nopPersister) SaveRow(*models.PairRow)   {}
func (nopPersister) DeleteRow(*models.PairRow) {}
