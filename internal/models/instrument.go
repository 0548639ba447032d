package models

import "time"

// Instrument - справочник инструментов. Естественный ключ - Code.
type Instrument struct {
	ID        int64     `json:"id,omitempty" db:"id"`
	Code      string    `json:"code" db:"code"`             // SBER, GAZP
	Name      string    `json:"name" db:"name"`             // человекочитаемое имя
	ClassCode string    `json:"class_code" db:"class_code"` // режим торгов (TQBR, SPBFUT)
	SecCode   string    `json:"sec_code" db:"sec_code"`     // код бумаги в режиме
	PriceStep float64   `json:"price_step" db:"price_step"` // шаг цены, задаёт точность отображения
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Key возвращает естественный ключ
func (i Instrument) Key() string { return i.Code }

// Persisted - запись уже имеет id бэкенда
func (i Instrument) Persisted() bool { return i.ID > 0 }

// SameContent сравнивает редактируемые поля (id и время не учитываются)
func (i Instrument) SameContent(o Instrument) bool {
	return i.Code == o.Code && i.Name == o.Name && i.ClassCode == o.ClassCode &&
		i.SecCode == o.SecCode && i.PriceStep == o.PriceStep
}
