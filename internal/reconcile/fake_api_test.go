package reconcile

import (
	"context"
	"sync"
	"time"

	"pairarb/internal/backend"
	"pairarb/internal/models"
)

var baseTime = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

// table - коллекция фейкового бэкенда со счётчиками запросов
type table[T any] struct {
	mu    sync.Mutex
	items []T
	next  int64
	idOf  func(T) int64
	stamp func(T, int64, time.Time) T

	lists, creates, updates, deletes int

	listErr  error
	writeErr error
}

func newTable[T any](idOf func(T) int64, stamp func(T, int64, time.Time) T) *table[T] {
	return &table[T]{idOf: idOf, stamp: stamp}
}

func (t *table[T]) seed(items ...T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, it := range items {
		t.next++
		t.items = append(t.items, t.stamp(it, t.next, baseTime))
	}
}

func (t *table[T]) list() ([]T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lists++
	if t.listErr != nil {
		return nil, t.listErr
	}
	return append([]T(nil), t.items...), nil
}

func (t *table[T]) create(v T) (T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.creates++
	if t.writeErr != nil {
		var zero T
		return zero, t.writeErr
	}
	t.next++
	v = t.stamp(v, t.next, baseTime.Add(time.Duration(t.next)*time.Second))
	t.items = append(t.items, v)
	return v, nil
}

func (t *table[T]) update(id int64, v T) (T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.updates++
	if t.writeErr != nil {
		var zero T
		return zero, t.writeErr
	}
	t.next++
	v = t.stamp(v, id, baseTime.Add(time.Duration(t.next)*time.Second))
	for i, it := range t.items {
		if t.idOf(it) == id {
			t.items[i] = v
			return v, nil
		}
	}
	var zero T
	return zero, &backend.StatusError{Method: "PUT", Status: 404}
}

func (t *table[T]) remove(id int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deletes++
	if t.writeErr != nil {
		return t.writeErr
	}
	for i, it := range t.items {
		if t.idOf(it) == id {
			t.items = append(t.items[:i], t.items[i+1:]...)
			return nil
		}
	}
	return &backend.StatusError{Method: "DELETE", Status: 404}
}

func (t *table[T]) writes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.creates + t.updates + t.deletes
}

// fakeAPI - бэкенд в памяти
type fakeAPI struct {
	instruments *table[models.Instrument]
	accounts    *table[models.Account]
	pairs       *table[models.PairRecord]
	columns     *table[models.Column]
	settings    *table[models.Setting]

	mu        sync.Mutex
	lastKnown []time.Time
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		instruments: newTable(func(v models.Instrument) int64 { return v.ID },
			func(v models.Instrument, id int64, ts time.Time) models.Instrument { v.ID, v.UpdatedAt = id, ts; return v }),
		accounts: newTable(func(v models.Account) int64 { return v.ID },
			func(v models.Account, id int64, ts time.Time) models.Account { v.ID, v.UpdatedAt = id, ts; return v }),
		pairs: newTable(func(v models.PairRecord) int64 { return v.ID },
			func(v models.PairRecord, id int64, ts time.Time) models.PairRecord { v.ID, v.UpdatedAt = id, ts; return v }),
		columns: newTable(func(v models.Column) int64 { return v.ID },
			func(v models.Column, id int64, ts time.Time) models.Column { v.ID, v.UpdatedAt = id, ts; return v }),
		settings: newTable(func(v models.Setting) int64 { return v.ID },
			func(v models.Setting, id int64, ts time.Time) models.Setting { v.ID, v.UpdatedAt = id, ts; return v }),
	}
}

func (f *fakeAPI) totalWrites() int {
	return f.instruments.writes() + f.accounts.writes() + f.pairs.writes() + f.columns.writes() + f.settings.writes()
}

func (f *fakeAPI) ListInstruments(context.Context) ([]models.Instrument, error) {
	return f.instruments.list()
}
func (f *fakeAPI) CreateInstrument(_ context.Context, in models.Instrument) (models.Instrument, error) {
	return f.instruments.create(in)
}
func (f *fakeAPI) UpdateInstrument(_ context.Context, id int64, in models.Instrument) (models.Instrument, error) {
	return f.instruments.update(id, in)
}
func (f *fakeAPI) DeleteInstrument(_ context.Context, id int64) error { return f.instruments.remove(id) }

func (f *fakeAPI) ListAccounts(context.Context) ([]models.Account, error) { return f.accounts.list() }
func (f *fakeAPI) CreateAccount(_ context.Context, in models.Account) (models.Account, error) {
	return f.accounts.create(in)
}
func (f *fakeAPI) UpdateAccount(_ context.Context, id int64, in models.Account) (models.Account, error) {
	return f.accounts.update(id, in)
}
func (f *fakeAPI) DeleteAccount(_ context.Context, id int64) error { return f.accounts.remove(id) }

func (f *fakeAPI) ListPairs(context.Context) ([]models.PairRecord, error) { return f.pairs.list() }
func (f *fakeAPI) CreatePair(_ context.Context, in models.PairRecord) (models.PairRecord, error) {
	return f.pairs.create(in)
}
func (f *fakeAPI) UpdatePair(_ context.Context, id int64, in models.PairRecord, lastKnown time.Time) (models.PairRecord, error) {
	f.mu.Lock()
	f.lastKnown = append(f.lastKnown, lastKnown)
	f.mu.Unlock()
	return f.pairs.update(id, in)
}
func (f *fakeAPI) DeletePair(_ context.Context, id int64, lastKnown time.Time) error {
	f.mu.Lock()
	f.lastKnown = append(f.lastKnown, lastKnown)
	f.mu.Unlock()
	return f.pairs.remove(id)
}

func (f *fakeAPI) ListColumns(context.Context) ([]models.Column, error) { return f.columns.list() }
func (f *fakeAPI) CreateColumn(_ context.Context, in models.Column) (models.Column, error) {
	return f.columns.create(in)
}
func (f *fakeAPI) UpdateColumn(_ context.Context, id int64, in models.Column) (models.Column, error) {
	return f.columns.update(id, in)
}
func (f *fakeAPI) DeleteColumn(_ context.Context, id int64) error { return f.columns.remove(id) }

func (f *fakeAPI) ListSettings(context.Context) ([]models.Setting, error) { return f.settings.list() }
func (f *fakeAPI) CreateSetting(_ context.Context, in models.Setting) (models.Setting, error) {
	return f.settings.create(in)
}
func (f *fakeAPI) UpdateSetting(_ context.Context, id int64, in models.Setting) (models.Setting, error) {
	return f.settings.update(id, in)
}
func (f *fakeAPI) DeleteSetting(_ context.Context, id int64) error { return f.settings.remove(id) }

// fakeUsage - занятые инструменты
type fakeUsage map[string]bool

func (u fakeUsage) InstrumentInUse(_ context.Context, code string) (bool, error) {
	return u[code], nil
}
