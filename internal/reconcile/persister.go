package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"pairarb/internal/backend"
	"pairarb/internal/cache"
	"pairarb/internal/models"
	"pairarb/pkg/utils"
)

// RowSink получает id и updated_at записанных строк (движок сигналов)
type RowSink interface {
	ApplyPersisted(cid string, id int64, updatedAt time.Time)
}

type pendingOp struct {
	row    *models.PairRow
	delete bool
}

// Persister - фоновая запись строк пар на бэкенд.
//
// SaveRow и DeleteRow не блокируются: для каждой строки хранится только
// последнее изменение, запись выполняет горутина Run по порядку поступления.
type Persister struct {
	rec  *Reconciler
	log  *utils.Logger
	sink RowSink

	mu      sync.Mutex
	pending map[string]pendingOp
	order   []string
	wake    chan struct{}
}

// NewPersister создаёт фоновую запись поверх сверки
func NewPersister(rec *Reconciler, logger *utils.Logger) *Persister {
	if logger == nil {
		logger = utils.L()
	}
	return &Persister{
		rec:     rec,
		log:     logger.WithComponent("persister"),
		pending: make(map[string]pendingOp),
		wake:    make(chan struct{}, 1),
	}
}

// SaveRow ставит запись строки в очередь
func (p *Persister) SaveRow(row *models.PairRow) {
	p.enqueue(pendingOp{row: row})
}

// DeleteRow ставит удаление строки в очередь
func (p *Persister) DeleteRow(row *models.PairRow) {
	p.enqueue(pendingOp{row: row, delete: true})
}

func (p *Persister) enqueue(op pendingOp) {
	p.mu.Lock()
	if _, ok := p.pending[op.row.CID]; !ok {
		p.order = append(p.order, op.row.CID)
	}
	p.pending[op.row.CID] = op
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Pending - число строк, ожидающих записи
func (p *Persister) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

func (p *Persister) next() (pendingOp, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.order) == 0 {
		return pendingOp{}, false
	}
	cid := p.order[0]
	p.order = p.order[1:]
	op := p.pending[cid]
	delete(p.pending, cid)
	return op, true
}

// Run выполняет записи до отмены ctx. Оставшиеся записи выполняются
// перед выходом с отдельным таймаутом.
func (p *Persister) Run(ctx context.Context, sink RowSink) error {
	p.sink = sink
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			p.drain(flushCtx)
			cancel()
			return nil
		case <-p.wake:
			p.drain(ctx)
		}
	}
}

func (p *Persister) drain(ctx context.Context) {
	for ctx.Err() == nil {
		op, ok := p.next()
		if !ok {
			return
		}
		p.apply(ctx, op)
	}
}

func (p *Persister) apply(ctx context.Context, op pendingOp) {
	row := op.row
	if op.delete {
		if _, err := p.rec.DeletePair(ctx, row); err != nil {
			p.fail(row, err)
		}
		return
	}

	rec, outcome, err := p.rec.SavePair(ctx, row)
	if err != nil {
		p.fail(row, err)
		return
	}
	if p.sink != nil && (outcome != Unchanged || !row.Identity.IsPersisted()) {
		p.sink.ApplyPersisted(row.CID, rec.ID, rec.UpdatedAt)
	}
}

func (p *Persister) fail(row *models.PairRow, err error) {
	p.log.Error("pair write failed", utils.RowID(row.CID), utils.PairKey(row.Key()), utils.Err(err))
	msg := err
	if errors.Is(err, backend.ErrConflict) {
		msg = errors.New("pair was modified on the backend, resync required: " + err.Error())
	}
	p.rec.alert(cache.CollectionPairs, row.Key(), msg)
}
