// Package pricing - расчёт цены исполнения по стакану.
//
// Все функции чистые: не держат состояния и не меняют входные данные.
package pricing

import (
	"sort"

	"pairarb/internal/models"
)

// Result - исход расчёта средней цены
type Result int

const (
	// Filled - объём полностью набран, цена валидна
	Filled Result = iota
	// NoSignal - объём не задан (qty <= 0); это не ошибка
	NoSignal
	// InsufficientDepth - в стакане не хватило объёма; означает отсутствие цены
	InsufficientDepth
)

func (r Result) String() string {
	switch r {
	case Filled:
		return "filled"
	case NoSignal:
		return "no_signal"
	case InsufficientDepth:
		return "insufficient_depth"
	default:
		return "unknown"
	}
}

// AveragePrice вычисляет средневзвешенную цену исполнения рыночной заявки объёмом qty.
//
// Покупка исполняется по asks от лучшей (минимальной) цены, продажа - по bids
// от лучшей (максимальной). Уровни с одинаковой ценой берутся в порядке поступления.
//
// Формула:
//
//	price = Σ(price_i × min(remaining, volume_i)) / qty
//
// Пример (asks = [[101,4],[102,9]], buy qty=6):
//
//	(4·101 + 2·102) / 6 = 101.333…
//
// Возвращает цену только вместе с Filled; при NoSignal и InsufficientDepth цена = 0.
func AveragePrice(levels []models.Level, qty float64, isBuy bool) (float64, Result) {
	if !(qty > 0) {
		return 0, NoSignal
	}

	// Копия, чтобы не трогать срез вызывающего
	sorted := make([]models.Level, len(levels))
	copy(sorted, levels)
	if isBuy {
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Price < sorted[j].Price })
	} else {
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Price > sorted[j].Price })
	}

	remaining := qty
	cost := 0.0
	for _, lvl := range sorted {
		if remaining <= 0 {
			break
		}
		if lvl.Volume <= 0 {
			continue
		}
		take := lvl.Volume
		if remaining < take {
			take = remaining
		}
		cost += lvl.Price * take
		remaining -= take
	}

	if remaining > 0 {
		return 0, InsufficientDepth
	}
	return cost / qty, Filled
}

// LegPrice - цена ноги по снимку стакана: BUY исполняется по asks, SELL по bids.
// nil означает отсутствие цены (нет объёма, не задана сторона или qty).
func LegPrice(book models.OrderBook, side models.Side, qty float64) *float64 {
	var (
		price float64
		res   Result
	)
	switch side {
	case models.SideBuy:
		price, res = AveragePrice(book.Asks, qty, true)
	case models.SideSell:
		price, res = AveragePrice(book.Bids, qty, false)
	default:
		return nil
	}
	if res != Filled {
		return nil
	}
	return &price
}
