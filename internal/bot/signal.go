package bot

import (
	"time"

	"pairarb/internal/feed"
	"pairarb/internal/models"
	"pairarb/internal/pricing"
	rt "pairarb/internal/websocket"
	"pairarb/pkg/utils"
)

// legPrice - цена ноги по снимку с учётом её стороны и объёма
func legPrice(book models.OrderBook, leg models.Leg) *float64 {
	return pricing.LegPrice(book, leg.Side, leg.QtyRatio)
}

// applyBook применяет снимок стакана к ноге строки.
// Снимки закрытых, чужих или прежних подписок игнорируются.
func (e *Engine) applyBook(u feed.Update) {
	st, ok := e.rows[u.Slot.RowID]
	if !ok || u.Slot.Leg < 0 || u.Slot.Leg > 1 {
		return
	}
	r := st.row
	if !r.Started || !r.GetMData {
		return
	}
	if u.Generation != st.feedGen[u.Slot.Leg] {
		EventsProcessed.WithLabelValues("stale_book").Inc()
		return
	}

	book := u.Book
	st.books[u.Slot.Leg] = &book
	r.Legs[u.Slot.Leg].Price = legPrice(book, r.Legs[u.Slot.Leg])
	r.RecalcHitPrice()

	if !u.ReceivedAt.IsZero() {
		BookApplyLatency.Observe(float64(time.Since(u.ReceivedAt).Microseconds()) / 1000)
	}

	e.evaluate(st)
}

// evaluate проверяет условие и отправляет парную заявку.
// Не больше одной заявки на строку: пока in_flight, условие не проверяется.
func (e *Engine) evaluate(st *rowState) {
	r := st.row
	if !r.Started || r.InFlight || r.LeavesQty() <= 0 || !r.ShouldTrigger() {
		return
	}

	req, err := e.buildPairOrder(r)
	if err != nil {
		TriggersTotal.WithLabelValues("unresolved").Inc()
		e.log.Warn("pair order not built", utils.RowID(r.CID), utils.PairKey(r.Key()), utils.Err(err))
		r.Error = err.Error()
		e.disarm(st)
		e.persist.SaveRow(r.Clone())
		return
	}

	from := RowState(r)
	r.InFlight = true
	st.firedAt = time.Now()
	st.firedHit = models.Float(*r.HitPrice)
	e.transition(r, from)

	if e.disp == nil {
		e.revertFire(st, errNoDispatcher)
		return
	}
	if err := e.disp.Dispatch(req); err != nil {
		e.revertFire(st, err)
		return
	}

	TriggersTotal.WithLabelValues("dispatched").Inc()
	e.log.Info("pair order dispatched",
		utils.RowID(r.CID), utils.PairKey(r.Key()),
		utils.Float64("hit_price", *r.HitPrice), utils.Price(*r.Price),
		utils.Int("leaves_qty", r.LeavesQty()))
}

// revertFire снимает in_flight, если заявка не ушла в канал
func (e *Engine) revertFire(st *rowState, err error) {
	r := st.row
	from := RowState(r)
	r.InFlight = false
	st.firedHit = nil
	e.transition(r, from)
	TriggersTotal.WithLabelValues("dispatch_failed").Inc()
	e.log.Error("pair order dispatch failed", utils.RowID(r.CID), utils.Err(err))
}

// stopIfDone снимает взведённую строку без ошибки, когда исполнять больше нечего
func (e *Engine) stopIfDone(st *rowState, msg string) {
	r := st.row
	if !r.Started || r.LeavesQty() > 0 {
		return
	}
	r.Started = false
	e.feeds.CloseRow(r.CID)
	e.log.Info(msg, utils.RowID(r.CID), utils.PairKey(r.Key()),
		utils.Int("exec_qty", r.ExecQty), utils.Int("target_qty", r.TargetQty))
}

// buildPairOrder собирает парную заявку по справочникам
func (e *Engine) buildPairOrder(r *models.PairRow) (*rt.PairOrderRequest, error) {
	if e.dir == nil {
		return nil, errNoDirectory
	}
	var (
		insts [2]models.Instrument
		accs  [2]models.Account
	)
	for i, leg := range r.Legs {
		inst, ok := e.dir.Instrument(leg.Instrument)
		if !ok {
			return nil, &unresolvedError{kind: "instrument", name: leg.Instrument}
		}
		acc, ok := e.dir.Account(leg.Account)
		if !ok {
			return nil, &unresolvedError{kind: "account", name: leg.Account}
		}
		insts[i], accs[i] = inst, acc
	}

	return &rt.PairOrderRequest{
		Action:      rt.ActionSendPairOrder,
		RowID:       r.CID,
		ClassCode1:  insts[0].ClassCode,
		SecCode1:    insts[0].SecCode,
		ClassCode2:  insts[1].ClassCode,
		SecCode2:    insts[1].SecCode,
		Side1:       string(r.Legs[0].Side),
		Side2:       string(r.Legs[1].Side),
		QtyRatio1:   r.Legs[0].QtyRatio,
		QtyRatio2:   r.Legs[1].QtyRatio,
		Account1:    accs[0].AccountNumber,
		ClientCode1: accs[0].ClientCode,
		Account2:    accs[1].AccountNumber,
		ClientCode2: accs[1].ClientCode,
	}, nil
}

// applyReply применяет ответ на парную заявку.
// Ответ по снятой строке учитывается, но строку не взводит.
func (e *Engine) applyReply(reply rt.PairOrderReply) {
	st, ok := e.rows[reply.RowID]
	if !ok {
		RepliesTotal.WithLabelValues("unknown_row").Inc()
		e.log.Warn("pair order reply for unknown row ignored", utils.RowID(reply.RowID), utils.Bool("ok", reply.OK))
		return
	}
	r := st.row
	from := RowState(r)

	if !st.firedAt.IsZero() {
		TriggerToReplyLatency.Observe(float64(time.Since(st.firedAt).Microseconds()) / 1000)
		st.firedAt = time.Time{}
	}
	fired := st.firedHit
	st.firedHit = nil
	r.InFlight = false

	if !reply.OK {
		RepliesTotal.WithLabelValues("failed").Inc()
		r.Error = reply.ErrorText()
		if r.Started {
			r.Started = false
			e.feeds.CloseRow(r.CID)
		}
		e.transition(r, from)
		e.log.Warn("pair order rejected", utils.RowID(r.CID), utils.PairKey(r.Key()), utils.String("error", r.Error))
		e.persist.SaveRow(r.Clone())
		return
	}

	RepliesTotal.WithLabelValues("ok").Inc()
	fill := r.HitPrice
	if fill == nil {
		fill = fired
	}
	prevQty := r.ExecQty
	r.ExecQty++
	switch {
	case fill == nil:
		// Цены исполнения нет: количество учитывается, средняя не меняется
	case prevQty == 0 || r.ExecPrice == nil:
		r.ExecPrice = models.Float(*fill)
	default:
		avg := (*r.ExecPrice*float64(prevQty) + *fill) / float64(r.ExecQty)
		r.ExecPrice = &avg
	}

	e.stopIfDone(st, "row filled, auto stop")
	e.transition(r, from)
	e.persist.SaveRow(r.Clone())

	e.evaluate(st)
}
