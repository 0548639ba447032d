package models

import "time"

// Account - торговый счёт. Естественный ключ - Alias.
type Account struct {
	ID            int64     `json:"id,omitempty" db:"id"`
	Alias         string    `json:"alias" db:"alias"`
	AccountNumber string    `json:"account_number" db:"account_number"`
	ClientCode    string    `json:"client_code" db:"client_code"`
	Broker        string    `json:"broker" db:"broker"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// Key возвращает естественный ключ
func (a Account) Key() string { return a.Alias }

// Persisted - запись уже имеет id бэкенда
func (a Account) Persisted() bool { return a.ID > 0 }

// SameContent сравнивает редактируемые поля
func (a Account) SameContent(o Account) bool {
	return a.Alias == o.Alias && a.AccountNumber == o.AccountNumber &&
		a.ClientCode == o.ClientCode && a.Broker == o.Broker
}
