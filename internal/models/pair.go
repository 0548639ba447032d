package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Side - направление ноги
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid - сторона задана одним из допустимых значений
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Operation возвращает код операции для заявки (B/S)
func (s Side) Operation() string {
	if s == SideSell {
		return "S"
	}
	return "B"
}

// ParseSide разбирает сторону без учёта регистра; неизвестное значение = пустая сторона
func ParseSide(s string) Side {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "B":
		return SideBuy
	case "SELL", "S":
		return SideSell
	default:
		return ""
	}
}

// ============================================================
// Identity
// ============================================================

// Identity - идентичность строки на бэкенде: либо ещё не сохранена, либо id.
// В JSON: null или число.
type Identity struct {
	id        int64
	persisted bool
}

// Unpersisted - строка ещё не создана на бэкенде
func Unpersisted() Identity { return Identity{} }

// Persisted - строка сохранена с данным id
func Persisted(id int64) Identity { return Identity{id: id, persisted: true} }

// ID возвращает id и признак сохранённости
func (i Identity) ID() (int64, bool) { return i.id, i.persisted }

// IsPersisted - строка уже имеет id бэкенда
func (i Identity) IsPersisted() bool { return i.persisted }

func (i Identity) String() string {
	if !i.persisted {
		return "unpersisted"
	}
	return strconv.FormatInt(i.id, 10)
}

// MarshalJSON кодирует null либо id
func (i Identity) MarshalJSON() ([]byte, error) {
	if !i.persisted {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(i.id, 10)), nil
}

// UnmarshalJSON принимает null, 0 (не сохранена) или положительный id
func (i *Identity) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == "" {
		*i = Unpersisted()
		return nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("identity: %w", err)
	}
	if id <= 0 {
		*i = Unpersisted()
		return nil
	}
	*i = Persisted(id)
	return nil
}

// ============================================================
// Строка арбитражной пары
// ============================================================

// Leg - одна нога пары
type Leg struct {
	Instrument string   `json:"instrument"` // код инструмента
	Account    string   `json:"account"`    // алиас счёта
	Side       Side     `json:"side"`
	QtyRatio   float64  `json:"qty_ratio"`
	PriceRatio float64  `json:"price_ratio"`
	Price      *float64 `json:"price"` // средняя цена по стакану, nil = нет цены
}

// PairRow - строка арбитражной пары в терминале.
// CID - стабильный идентификатор корреляции, назначается при создании и не меняется.
type PairRow struct {
	CID       string    `json:"cid"`
	Identity  Identity  `json:"id"`
	UpdatedAt time.Time `json:"updated_at"`

	Legs [2]Leg `json:"legs"`

	Price     *float64 `json:"price"` // порог срабатывания
	TargetQty int      `json:"target_qty"`
	ExecQty   int      `json:"exec_qty"`
	ExecPrice *float64 `json:"exec_price"`
	HitPrice  *float64 `json:"hit_price"`

	GetMData bool   `json:"get_mdata"`
	Started  bool   `json:"started"`
	InFlight bool   `json:"in_flight"`
	Error    string `json:"error"`

	StrategyName string `json:"strategy_name"`
}

// NewPairRow создаёт новую несохранённую строку с новым CID
func NewPairRow(instrument1, instrument2 string) *PairRow {
	r := &PairRow{CID: uuid.New().String()}
	r.Legs[0].Instrument = instrument1
	r.Legs[1].Instrument = instrument2
	return r
}

// PairKey - составной естественный ключ пары
func PairKey(instrument1, instrument2 string) string {
	return instrument1 + "|" + instrument2
}

// Key возвращает естественный ключ строки
func (r *PairRow) Key() string {
	return PairKey(r.Legs[0].Instrument, r.Legs[1].Instrument)
}

// LeavesQty = max(target - exec, 0)
func (r *PairRow) LeavesQty() int {
	if r.TargetQty-r.ExecQty < 0 {
		return 0
	}
	return r.TargetQty - r.ExecQty
}

// ComputeHitPrice - price_1*ratio1 - price_2*ratio2; nil, если чего-то не хватает
func (r *PairRow) ComputeHitPrice() *float64 {
	l1, l2 := r.Legs[0], r.Legs[1]
	if l1.Price == nil || l2.Price == nil {
		return nil
	}
	if !validRatio(l1.PriceRatio) || !validRatio(l2.PriceRatio) {
		return nil
	}
	hit := *l1.Price*l1.PriceRatio - *l2.Price*l2.PriceRatio
	if math.IsNaN(hit) || math.IsInf(hit, 0) {
		return nil
	}
	return &hit
}

// RecalcHitPrice пересчитывает HitPrice из текущих входов
func (r *PairRow) RecalcHitPrice() {
	r.HitPrice = r.ComputeHitPrice()
}

// ShouldTrigger - условие срабатывания без учёта состояния строки
func (r *PairRow) ShouldTrigger() bool {
	if r.Price == nil || r.HitPrice == nil || !finite(*r.Price) || !finite(*r.HitPrice) {
		return false
	}
	switch r.Legs[0].Side {
	case SideBuy:
		return *r.HitPrice <= *r.Price
	case SideSell:
		return *r.HitPrice >= *r.Price
	default:
		return false
	}
}

// Clone возвращает глубокую копию (указатели не разделяются)
func (r *PairRow) Clone() *PairRow {
	c := *r
	c.Price = cloneFloat(r.Price)
	c.ExecPrice = cloneFloat(r.ExecPrice)
	c.HitPrice = cloneFloat(r.HitPrice)
	for i := range c.Legs {
		c.Legs[i].Price = cloneFloat(r.Legs[i].Price)
	}
	return &c
}

// Record переводит строку в запись бэкенда
func (r *PairRow) Record() PairRecord {
	id, _ := r.Identity.ID()
	return PairRecord{
		ID:           id,
		Asset1:       r.Legs[0].Instrument,
		Asset2:       r.Legs[1].Instrument,
		Account1:     r.Legs[0].Account,
		Account2:     r.Legs[1].Account,
		Side1:        string(r.Legs[0].Side),
		Side2:        string(r.Legs[1].Side),
		QtyRatio1:    r.Legs[0].QtyRatio,
		QtyRatio2:    r.Legs[1].QtyRatio,
		PriceRatio1:  r.Legs[0].PriceRatio,
		PriceRatio2:  r.Legs[1].PriceRatio,
		Price:        cloneFloat(r.Price),
		TargetQty:    r.TargetQty,
		StrategyName: r.StrategyName,
		ExecPrice:    cloneFloat(r.ExecPrice),
		ExecQty:      r.ExecQty,
		LeavesQty:    r.LeavesQty(),
		Price1:       cloneFloat(r.Legs[0].Price),
		Price2:       cloneFloat(r.Legs[1].Price),
		HitPrice:     cloneFloat(r.HitPrice),
		GetMData:     r.GetMData,
		Started:      r.Started,
		Error:        r.Error,
		UpdatedAt:    r.UpdatedAt,
	}
}

// ============================================================
// Запись пары на бэкенде
// ============================================================

// PairRecord - плоское представление пары в REST API и БД
type PairRecord struct {
	ID     int64  `json:"id,omitempty" db:"id"`
	Asset1 string `json:"asset_1" db:"asset_1"`
	Asset2 string `json:"asset_2" db:"asset_2"`

	Account1 string `json:"account_1" db:"account_1"`
	Account2 string `json:"account_2" db:"account_2"`
	Side1    string `json:"side_1" db:"side_1"`
	Side2    string `json:"side_2" db:"side_2"`

	QtyRatio1   float64 `json:"qty_ratio_1" db:"qty_ratio_1"`
	QtyRatio2   float64 `json:"qty_ratio_2" db:"qty_ratio_2"`
	PriceRatio1 float64 `json:"price_ratio_1" db:"price_ratio_1"`
	PriceRatio2 float64 `json:"price_ratio_2" db:"price_ratio_2"`

	Price        *float64 `json:"price" db:"price"`
	TargetQty    int      `json:"target_qty" db:"target_qty"`
	StrategyName string   `json:"strategy_name" db:"strategy_name"`

	ExecPrice *float64 `json:"exec_price" db:"exec_price"`
	ExecQty   int      `json:"exec_qty" db:"exec_qty"`
	LeavesQty int      `json:"leaves_qty" db:"leaves_qty"`

	Price1   *float64 `json:"price_1" db:"price_1"`
	Price2   *float64 `json:"price_2" db:"price_2"`
	HitPrice *float64 `json:"hit_price" db:"hit_price"`

	GetMData bool   `json:"get_mdata" db:"get_mdata"`
	Started  bool   `json:"started" db:"started"`
	Error    string `json:"error" db:"error"`

	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Key возвращает естественный ключ записи
func (p PairRecord) Key() string { return PairKey(p.Asset1, p.Asset2) }

// Row восстанавливает строку терминала из записи. CID назначается вызывающим.
// in_flight всегда сброшен; hit_price пересчитывается из входов.
func (p PairRecord) Row(cid string) *PairRow {
	if cid == "" {
		cid = uuid.New().String()
	}
	r := &PairRow{
		CID:          cid,
		UpdatedAt:    p.UpdatedAt,
		Price:        cloneFloat(p.Price),
		TargetQty:    p.TargetQty,
		ExecQty:      p.ExecQty,
		ExecPrice:    cloneFloat(p.ExecPrice),
		GetMData:     p.GetMData,
		Started:      p.Started,
		Error:        p.Error,
		StrategyName: p.StrategyName,
	}
	if p.ID > 0 {
		r.Identity = Persisted(p.ID)
	}
	r.Legs[0] = Leg{
		Instrument: p.Asset1,
		Account:    p.Account1,
		Side:       ParseSide(p.Side1),
		QtyRatio:   p.QtyRatio1,
		PriceRatio: p.PriceRatio1,
		Price:      cloneFloat(p.Price1),
	}
	r.Legs[1] = Leg{
		Instrument: p.Asset2,
		Account:    p.Account2,
		Side:       ParseSide(p.Side2),
		QtyRatio:   p.QtyRatio2,
		PriceRatio: p.PriceRatio2,
		Price:      cloneFloat(p.Price2),
	}
	r.RecalcHitPrice()
	return r
}

// SameContent сравнивает пользовательские и вычисляемые поля записи
// (id и updated_at не учитываются)
func (p PairRecord) SameContent(o PairRecord) bool {
	a, b := p, o
	a.ID, b.ID = 0, 0
	a.UpdatedAt, b.UpdatedAt = time.Time{}, time.Time{}
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	return errA == nil && errB == nil && string(ja) == string(jb)
}

// Float возвращает указатель на копию значения
func Float(v float64) *float64 { return &v }

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func validRatio(v float64) bool {
	return v > 0 && finite(v)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
