package models

import "time"

// Column - запись раскладки колонок таблицы пар. Естественный ключ - Name.
type Column struct {
	ID        int64     `json:"id,omitempty" db:"id"`
	Name      string    `json:"name" db:"name"`
	Position  int       `json:"position" db:"position"`
	Width     float64   `json:"width" db:"width"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Key возвращает естественный ключ
func (c Column) Key() string { return c.Name }

// Persisted - запись уже имеет id бэкенда
func (c Column) Persisted() bool { return c.ID > 0 }

// SameLayout - позиция и ширина совпадают (запись на бэкенд не нужна)
func (c Column) SameLayout(o Column) bool {
	return c.Position == o.Position && c.Width == o.Width
}
