package models

import "time"

// Setting - пара ключ/значение пользовательских настроек
type Setting struct {
	ID        int64     `json:"id,omitempty" db:"id"`
	Key       string    `json:"key" db:"key"`
	Value     string    `json:"value" db:"value"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Persisted - запись уже имеет id бэкенда
func (s Setting) Persisted() bool { return s.ID > 0 }
