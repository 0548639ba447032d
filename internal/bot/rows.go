package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"pairarb/internal/feed"
	"pairarb/internal/models"
	"pairarb/pkg/utils"
)

// RowPatch - частичное изменение строки; nil поле не меняется
type RowPatch struct {
	Instrument1 *string
	Instrument2 *string
	Account1    *string
	Account2    *string
	Side1       *models.Side
	Side2       *models.Side
	QtyRatio1   *float64
	QtyRatio2   *float64
	PriceRatio1 *float64
	PriceRatio2 *float64

	Price      *float64
	ClearPrice bool
	TargetQty  *int
	ExecQty    *int

	GetMData     *bool
	StrategyName *string
}

// touchesLegs - меняет ли патч инструменты, счета или стороны
func (p RowPatch) touchesLegs() bool {
	return p.Instrument1 != nil || p.Instrument2 != nil ||
		p.Account1 != nil || p.Account2 != nil ||
		p.Side1 != nil || p.Side2 != nil
}

func (p RowPatch) validate() error {
	var problems []string
	for _, side := range []*models.Side{p.Side1, p.Side2} {
		if side != nil && !side.Valid() {
			problems = append(problems, fmt.Sprintf("invalid side %q", *side))
		}
	}
	for name, v := range map[string]*float64{
		"qty_ratio_1": p.QtyRatio1, "qty_ratio_2": p.QtyRatio2,
		"price_ratio_1": p.PriceRatio1, "price_ratio_2": p.PriceRatio2,
	} {
		if v != nil && *v < 0 {
			problems = append(problems, name+" must not be negative")
		}
	}
	if p.TargetQty != nil && *p.TargetQty < 0 {
		problems = append(problems, "target_qty must not be negative")
	}
	if p.ExecQty != nil && *p.ExecQty < 0 {
		problems = append(problems, "exec_qty must not be negative")
	}
	if (p.Instrument1 != nil && *p.Instrument1 == "") || (p.Instrument2 != nil && *p.Instrument2 == "") {
		problems = append(problems, "instrument code is required")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidRow, strings.Join(problems, ", "))
	}
	return nil
}

// ============================================================
// Команды (выполняются в цикле движка)
// ============================================================

// CreateRow добавляет строку. Строка создаётся невзведённой.
func (e *Engine) CreateRow(ctx context.Context, row *models.PairRow) (*models.PairRow, error) {
	if row == nil || row.Legs[0].Instrument == "" || row.Legs[1].Instrument == "" {
		return nil, fmt.Errorf("%w: both instrument codes are required", ErrInvalidRow)
	}

	var (
		out *models.PairRow
		err error
	)
	callErr := e.call(ctx, func() {
		if e.findByKey(row.Key()) != nil {
			err = ErrPairExists
			return
		}
		r := row.Clone()
		if r.CID == "" {
			r.CID = models.NewPairRow(r.Legs[0].Instrument, r.Legs[1].Instrument).CID
		}
		if _, dup := e.rows[r.CID]; dup {
			err = fmt.Errorf("%w: duplicate correlation id", ErrInvalidRow)
			return
		}
		r.Identity = models.Unpersisted()
		r.Started = false
		r.InFlight = false
		r.RecalcHitPrice()

		e.rows[r.CID] = &rowState{row: r}
		e.order = append(e.order, r.CID)
		e.log.Info("row created", utils.RowID(r.CID), utils.PairKey(r.Key()))

		e.persist.SaveRow(r.Clone())
		out = r.Clone()
	})
	if callErr != nil {
		return nil, callErr
	}
	return out, err
}

// UpdateRow применяет частичное изменение строки
func (e *Engine) UpdateRow(ctx context.Context, cid string, patch RowPatch) (*models.PairRow, error) {
	if err := patch.validate(); err != nil {
		return nil, err
	}

	var (
		out *models.PairRow
		err error
	)
	callErr := e.call(ctx, func() {
		st, ok := e.rows[cid]
		if !ok {
			err = ErrRowNotFound
			return
		}
		r := st.row
		// exec_qty не убывает, пока строка взведена
		if r.Started && (patch.touchesLegs() || patch.ExecQty != nil) {
			err = ErrRowArmed
			return
		}

		k1, k2 := r.Legs[0].Instrument, r.Legs[1].Instrument
		if patch.Instrument1 != nil {
			k1 = *patch.Instrument1
		}
		if patch.Instrument2 != nil {
			k2 = *patch.Instrument2
		}
		if key := models.PairKey(k1, k2); key != r.Key() {
			if other := e.findByKey(key); other != nil && other.row.CID != cid {
				err = ErrPairExists
				return
			}
		}

		from := RowState(r)
		e.applyPatch(st, patch)
		r.RecalcHitPrice()

		// Целевой объём достигнут: строка снимается так же, как после последнего исполнения
		e.stopIfDone(st, "target reached, auto stop")

		// Переключение get_mdata у взведённой строки открывает или закрывает подписки
		if patch.GetMData != nil && r.Started {
			if r.GetMData {
				e.openFeeds(st)
			} else {
				e.feeds.CloseRow(r.CID)
				st.books = [2]*models.OrderBook{}
			}
		}

		e.transition(r, from)
		e.persist.SaveRow(r.Clone())
		e.evaluate(st)
		out = r.Clone()
	})
	if callErr != nil {
		return nil, callErr
	}
	return out, err
}

func (e *Engine) applyPatch(st *rowState, p RowPatch) {
	r := st.row
	legChanged := [2]bool{}

	if p.Instrument1 != nil && *p.Instrument1 != r.Legs[0].Instrument {
		r.Legs[0].Instrument = *p.Instrument1
		r.Legs[0].Price = nil
		st.books[0] = nil
	}
	if p.Instrument2 != nil && *p.Instrument2 != r.Legs[1].Instrument {
		r.Legs[1].Instrument = *p.Instrument2
		r.Legs[1].Price = nil
		st.books[1] = nil
	}
	if p.Account1 != nil {
		r.Legs[0].Account = *p.Account1
	}
	if p.Account2 != nil {
		r.Legs[1].Account = *p.Account2
	}
	if p.Side1 != nil {
		r.Legs[0].Side = *p.Side1
		legChanged[0] = true
	}
	if p.Side2 != nil {
		r.Legs[1].Side = *p.Side2
		legChanged[1] = true
	}
	if p.QtyRatio1 != nil {
		r.Legs[0].QtyRatio = *p.QtyRatio1
		legChanged[0] = true
	}
	if p.QtyRatio2 != nil {
		r.Legs[1].QtyRatio = *p.QtyRatio2
		legChanged[1] = true
	}
	if p.PriceRatio1 != nil {
		r.Legs[0].PriceRatio = *p.PriceRatio1
	}
	if p.PriceRatio2 != nil {
		r.Legs[1].PriceRatio = *p.PriceRatio2
	}
	switch {
	case p.ClearPrice:
		r.Price = nil
	case p.Price != nil:
		r.Price = models.Float(*p.Price)
	}
	if p.TargetQty != nil {
		r.TargetQty = *p.TargetQty
	}
	if p.ExecQty != nil {
		r.ExecQty = *p.ExecQty
	}
	if p.GetMData != nil {
		r.GetMData = *p.GetMData
	}
	if p.StrategyName != nil {
		r.StrategyName = *p.StrategyName
	}

	// Цена ноги пересчитывается по последнему снимку с новой стороной и объёмом
	for i := range legChanged {
		if legChanged[i] && st.books[i] != nil {
			r.Legs[i].Price = legPrice(*st.books[i], r.Legs[i])
		}
	}
}

// DeleteRow удаляет строку и закрывает её подписки
func (e *Engine) DeleteRow(ctx context.Context, cid string) error {
	var err error
	callErr := e.call(ctx, func() {
		st, ok := e.rows[cid]
		if !ok {
			err = ErrRowNotFound
			return
		}
		e.dropRow(st)
		e.persist.DeleteRow(st.row.Clone())
		e.log.Info("row deleted", utils.RowID(cid), utils.PairKey(st.row.Key()))
	})
	if callErr != nil {
		return callErr
	}
	return err
}

// dropRow снимает строку и убирает её из движка без записи на бэкенд
func (e *Engine) dropRow(st *rowState) {
	r := st.row
	e.releaseRow(st)

	delete(e.rows, r.CID)
	for i, cid := range e.order {
		if cid == r.CID {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
}

// releaseRow снимает строку и закрывает её подписки
func (e *Engine) releaseRow(st *rowState) {
	r := st.row
	from := RowState(r)
	e.feeds.CloseRow(r.CID)
	r.Started = false
	r.InFlight = false
	e.transition(r, from)
}

// Arm взводит строку. Неполная строка блокируется до любого сетевого вызова.
func (e *Engine) Arm(ctx context.Context, cid string) (*models.PairRow, error) {
	var (
		out *models.PairRow
		err error
	)
	callErr := e.call(ctx, func() {
		st, ok := e.rows[cid]
		if !ok {
			err = ErrRowNotFound
			return
		}
		if err = e.arm(st); err != nil {
			return
		}
		e.persist.SaveRow(st.row.Clone())
		e.evaluate(st)
		out = st.row.Clone()
	})
	if callErr != nil {
		return nil, callErr
	}
	return out, err
}

func (e *Engine) arm(st *rowState) error {
	r := st.row
	if r.Started {
		return nil
	}
	if err := e.validateArm(r); err != nil {
		return err
	}

	from := RowState(r)
	r.Started = true
	r.Error = ""
	r.InFlight = false

	if r.GetMData {
		// Цены ног заново приходят из свежих подписок
		r.Legs[0].Price = nil
		r.Legs[1].Price = nil
		r.HitPrice = nil
		st.books = [2]*models.OrderBook{}
		e.openFeeds(st)
	}

	e.transition(r, from)
	e.log.Info("row armed", utils.RowID(r.CID), utils.PairKey(r.Key()), utils.Bool("get_mdata", r.GetMData))
	return nil
}

// validateArm собирает все причины, по которым строку нельзя взвести
func (e *Engine) validateArm(r *models.PairRow) error {
	var problems []string
	for i, leg := range r.Legs {
		n := i + 1
		if e.dir != nil {
			if _, ok := e.dir.Instrument(leg.Instrument); !ok {
				problems = append(problems, fmt.Sprintf("unknown instrument %q (leg %d)", leg.Instrument, n))
			}
			if _, ok := e.dir.Account(leg.Account); !ok {
				problems = append(problems, fmt.Sprintf("unknown account %q (leg %d)", leg.Account, n))
			}
		}
		if !leg.Side.Valid() {
			problems = append(problems, fmt.Sprintf("side_%d", n))
		}
		if leg.QtyRatio <= 0 {
			problems = append(problems, fmt.Sprintf("qty_ratio_%d", n))
		}
		if leg.PriceRatio <= 0 {
			problems = append(problems, fmt.Sprintf("price_ratio_%d", n))
		}
	}
	if r.Price == nil {
		problems = append(problems, "price")
	}
	if r.TargetQty <= 0 {
		problems = append(problems, "target_qty")
	} else if r.LeavesQty() <= 0 {
		problems = append(problems, "leaves_qty is zero")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrRowIncomplete, strings.Join(problems, ", "))
	}
	return nil
}

// Disarm снимает строку: подписки закрываются, ошибка сохраняется
func (e *Engine) Disarm(ctx context.Context, cid string) (*models.PairRow, error) {
	var (
		out *models.PairRow
		err error
	)
	callErr := e.call(ctx, func() {
		st, ok := e.rows[cid]
		if !ok {
			err = ErrRowNotFound
			return
		}
		e.disarm(st)
		e.persist.SaveRow(st.row.Clone())
		out = st.row.Clone()
	})
	if callErr != nil {
		return nil, callErr
	}
	return out, err
}

func (e *Engine) disarm(st *rowState) {
	r := st.row
	from := RowState(r)
	wasStarted := r.Started
	r.Started = false
	r.InFlight = false
	e.feeds.CloseRow(r.CID)
	e.transition(r, from)
	if wasStarted {
		e.log.Info("row disarmed", utils.RowID(r.CID), utils.PairKey(r.Key()))
	}
}

// openFeeds открывает подписки обеих ног строки с новым поколением
func (e *Engine) openFeeds(st *rowState) {
	r := st.row
	for i, leg := range r.Legs {
		e.lastGen++
		st.feedGen[i] = e.lastGen
		target := feed.Target{PairKey: r.Key(), Instrument: leg.Instrument, Generation: e.lastGen}
		if e.dir != nil {
			if inst, ok := e.dir.Instrument(leg.Instrument); ok {
				target.ClassCode = inst.ClassCode
				target.SecCode = inst.SecCode
			}
		}
		e.feeds.Open(feed.Slot{RowID: r.CID, Leg: i}, target)
	}
}

// ApplyPersisted привязывает id бэкенда и updated_at после успешной записи.
// Не ждёт выполнения: вызывается из горутины записи, которую ждёт цикл движка.
func (e *Engine) ApplyPersisted(cid string, id int64, updatedAt time.Time) {
	e.post(func() {
		st, ok := e.rows[cid]
		if !ok {
			return
		}
		if id > 0 {
			st.row.Identity = models.Persisted(id)
		}
		if !updatedAt.IsZero() {
			st.row.UpdatedAt = updatedAt
		}
	})
}

// post ставит команду в очередь без ожидания выполнения
func (e *Engine) post(fn func()) {
	go func() {
		select {
		case e.inbox <- fn:
		case <-e.stopped:
		}
	}()
}

// ============================================================
// Запросы
// ============================================================

// Rows возвращает копии строк в порядке создания
func (e *Engine) Rows(ctx context.Context) ([]*models.PairRow, error) {
	var out []*models.PairRow
	err := e.call(ctx, func() {
		out = make([]*models.PairRow, 0, len(e.order))
		for _, cid := range e.order {
			out = append(out, e.rows[cid].row.Clone())
		}
	})
	return out, err
}

// Row возвращает копию строки
func (e *Engine) Row(ctx context.Context, cid string) (*models.PairRow, error) {
	var out *models.PairRow
	err := e.call(ctx, func() {
		if st, ok := e.rows[cid]; ok {
			out = st.row.Clone()
		}
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, ErrRowNotFound
	}
	return out, nil
}

// InstrumentInUse - инструмент используется живой подпиской взведённой строки
func (e *Engine) InstrumentInUse(ctx context.Context, code string) (bool, error) {
	var used bool
	err := e.call(ctx, func() {
		for _, st := range e.rows {
			r := st.row
			if r.Started && r.GetMData && (r.Legs[0].Instrument == code || r.Legs[1].Instrument == code) {
				used = true
				return
			}
		}
	})
	return used, err
}

// ArmedKeys возвращает ключи взведённых строк
func (e *Engine) ArmedKeys(ctx context.Context) (map[string]bool, error) {
	out := make(map[string]bool)
	err := e.call(ctx, func() {
		for _, st := range e.rows {
			if st.row.Started {
				out[st.row.Key()] = true
			}
		}
	})
	return out, err
}

// LoadRows заменяет набор строк (старт терминала, полная пересинхронизация).
//
// Строка, которую движок уже держит (тот же ключ), сохраняет CID. Если она
// взведена или ждёт ответа, движок оставляет её живое состояние (started,
// in_flight, exec_qty, exec_price, подписки) и берёт из загрузки только
// идентичность и updated_at. Невзведённая строка заменяется загруженной копией.
// Новые строки загружаются невзведёнными; строка с ключом из armedKeys
// взводится только при resume. Ещё не сохранённые строки, которых нет
// в загрузке, остаются.
func (e *Engine) LoadRows(ctx context.Context, rows []*models.PairRow, armedKeys map[string]bool, resume bool) error {
	return e.call(ctx, func() {
		prevOrder := e.order
		prevRows := e.rows
		byKey := make(map[string]*rowState, len(prevRows))
		for _, st := range prevRows {
			byKey[st.row.Key()] = st
		}

		e.rows = make(map[string]*rowState, len(rows))
		e.order = nil
		kept := make(map[string]bool)
		var toArm []*rowState

		for _, in := range rows {
			if in == nil {
				continue
			}
			r := in.Clone()
			if e.findByKey(r.Key()) != nil {
				e.log.Warn("duplicate pair skipped on load", utils.PairKey(r.Key()))
				continue
			}

			matched := false
			if prev, ok := byKey[r.Key()]; ok {
				matched = true
				kept[prev.row.CID] = true
				if prev.row.Started || prev.row.InFlight {
					if r.Identity.IsPersisted() {
						prev.row.Identity = r.Identity
						prev.row.UpdatedAt = r.UpdatedAt
					}
					e.rows[prev.row.CID] = prev
					e.order = append(e.order, prev.row.CID)
					continue
				}
				r.CID = prev.row.CID
			}
			if r.CID == "" || (!matched && prevRows[r.CID] != nil) || e.rows[r.CID] != nil {
				r.CID = models.NewPairRow(r.Legs[0].Instrument, r.Legs[1].Instrument).CID
			}
			r.Started = false
			r.InFlight = false
			r.RecalcHitPrice()

			st := &rowState{row: r}
			e.rows[r.CID] = st
			e.order = append(e.order, r.CID)
			if resume && armedKeys[r.Key()] {
				toArm = append(toArm, st)
			}
		}

		for _, cid := range prevOrder {
			st := prevRows[cid]
			if kept[cid] {
				continue
			}
			if !st.row.Identity.IsPersisted() && e.findByKey(st.row.Key()) == nil {
				e.rows[cid] = st
				e.order = append(e.order, cid)
				continue
			}
			e.releaseRow(st)
		}

		for _, st := range toArm {
			if err := e.arm(st); err != nil {
				e.log.Warn("row not re-armed", utils.PairKey(st.row.Key()), utils.Err(err))
			}
		}
		e.log.Info("rows loaded", utils.Int("count", len(e.order)), utils.Bool("resume", resume))
	})
}

func (e *Engine) findByKey(key string) *rowState {
	for _, st := range e.rows {
		if st.row.Key() == key {
			return st
		}
	}
	return nil
}
