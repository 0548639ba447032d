// Package feed - подписки на стаканы для ног взведённых строк.
//
// Одно соединение на (строка, нога), без дедупликации по инструменту.
// Снимки стакана отдаются через общий канал Updates(); цену ноги считает потребитель.
package feed

import (
	"sort"
	"sync"
	"time"

	"pairarb/pkg/utils"
)

// SlotRecord - запись о последней открытой подписке слота в локальном кэше
type SlotRecord struct {
	Key        string    `json:"key"`
	RowID      string    `json:"row_id"`
	PairKey    string    `json:"pair_key"` // естественный ключ строки, переживает перезапуск
	Leg        int       `json:"leg"`
	Instrument string    `json:"instrument"`
	ClassCode  string    `json:"class_code"`
	SecCode    string    `json:"sec_code"`
	OpenedAt   time.Time `json:"opened_at"`
}

// SlotStore - хранилище слотов (локальный кэш)
type SlotStore interface {
	PutSlot(rec SlotRecord) error
	DeleteSlot(key string) error
}

// Manager управляет подписками всех строк
type Manager struct {
	wsURL  string
	config Config
	store  SlotStore
	log    *utils.Logger

	mu   sync.Mutex
	subs map[Slot]*Subscription

	updates chan Update
}

// NewManager создаёт менеджер подписок. store может быть nil.
func NewManager(wsURL string, cfg Config, store SlotStore, logger *utils.Logger) *Manager {
	if logger == nil {
		logger = utils.L()
	}
	return &Manager{
		wsURL:   wsURL,
		config:  cfg,
		store:   store,
		log:     logger.WithComponent("feed"),
		subs:    make(map[Slot]*Subscription),
		updates: make(chan Update, 256),
	}
}

// Updates - канал снимков стакана всех подписок
func (m *Manager) Updates() <-chan Update {
	return m.updates
}

// Open открывает подписку слота; существующая подписка слота закрывается
func (m *Manager) Open(slot Slot, target Target) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.subs[slot]; ok {
		old.Close()
		delete(m.subs, slot)
	}

	sub := newSubscription(slot, target, m.wsURL, m.config, m.updates, m.log)
	m.subs[slot] = sub
	activeSubscriptions.Set(float64(len(m.subs)))
	go sub.run()

	if m.store != nil {
		rec := SlotRecord{
			Key:        slot.Key(),
			RowID:      slot.RowID,
			PairKey:    target.PairKey,
			Leg:        slot.Leg,
			Instrument: target.Instrument,
			ClassCode:  target.ClassCode,
			SecCode:    target.SecCode,
			OpenedAt:   time.Now().UTC(),
		}
		if err := m.store.PutSlot(rec); err != nil {
			m.log.Warn("failed to persist feed slot", utils.String("slot", slot.Key()), utils.Err(err))
		}
	}
}

// Close закрывает подписку слота синхронно. Отсутствующий слот - не ошибка.
func (m *Manager) Close(slot Slot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeLocked(slot)
}

// CloseRow закрывает обе ноги строки
func (m *Manager) CloseRow(rowID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeLocked(Slot{RowID: rowID, Leg: 0})
	m.closeLocked(Slot{RowID: rowID, Leg: 1})
}

// CloseAll закрывает все подписки (остановка терминала).
// Записи слотов в кэше сохраняются, по ним восстанавливаются взведённые строки.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for slot, sub := range m.subs {
		sub.Close()
		delete(m.subs, slot)
	}
	activeSubscriptions.Set(0)
}

func (m *Manager) closeLocked(slot Slot) {
	sub, ok := m.subs[slot]
	if !ok {
		return
	}
	sub.Close()
	delete(m.subs, slot)
	activeSubscriptions.Set(float64(len(m.subs)))

	if m.store != nil {
		if err := m.store.DeleteSlot(slot.Key()); err != nil {
			m.log.Warn("failed to delete feed slot", utils.String("slot", slot.Key()), utils.Err(err))
		}
	}
}

// IsOpen - слот имеет открытую подписку
func (m *Manager) IsOpen(slot Slot) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.subs[slot]
	return ok
}

// Active возвращает открытые слоты (отсортированы по ключу)
func (m *Manager) Active() []Slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Slot, 0, len(m.subs))
	for slot := range m.subs {
		out = append(out, slot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}
