// Package reconcile - сверка локального рабочего набора с бэкендом.
//
// Разрешение идентичности записи:
//  1. привязанный id бэкенда
//  2. естественный ключ в индексе бэкенда (code, alias, leg1|leg2, name, key)
//  3. новая запись - create без id
//
// Неизменённая запись не порождает ни одного запроса. Конфликт обновления
// пары (409) возвращается вызывающему и не повторяется.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pairarb/internal/backend"
	"pairarb/internal/cache"
	"pairarb/internal/models"
	"pairarb/pkg/retry"
	"pairarb/pkg/utils"
)

var (
	ErrInstrumentInUse = errors.New("instrument is used by an armed row")
	ErrInvalidRecord   = errors.New("invalid record")
	ErrOffline         = errors.New("backend unreachable, working from local cache")
)

// API - операции бэкенда (реализует *backend.Client)
type API interface {
	ListInstruments(ctx context.Context) ([]models.Instrument, error)
	CreateInstrument(ctx context.Context, in models.Instrument) (models.Instrument, error)
	UpdateInstrument(ctx context.Context, id int64, in models.Instrument) (models.Instrument, error)
	DeleteInstrument(ctx context.Context, id int64) error

	ListAccounts(ctx context.Context) ([]models.Account, error)
	CreateAccount(ctx context.Context, in models.Account) (models.Account, error)
	UpdateAccount(ctx context.Context, id int64, in models.Account) (models.Account, error)
	DeleteAccount(ctx context.Context, id int64) error

	ListPairs(ctx context.Context) ([]models.PairRecord, error)
	CreatePair(ctx context.Context, in models.PairRecord) (models.PairRecord, error)
	UpdatePair(ctx context.Context, id int64, in models.PairRecord, lastKnown time.Time) (models.PairRecord, error)
	DeletePair(ctx context.Context, id int64, lastKnown time.Time) error

	ListColumns(ctx context.Context) ([]models.Column, error)
	CreateColumn(ctx context.Context, in models.Column) (models.Column, error)
	UpdateColumn(ctx context.Context, id int64, in models.Column) (models.Column, error)
	DeleteColumn(ctx context.Context, id int64) error

	ListSettings(ctx context.Context) ([]models.Setting, error)
	CreateSetting(ctx context.Context, in models.Setting) (models.Setting, error)
	UpdateSetting(ctx context.Context, id int64, in models.Setting) (models.Setting, error)
	DeleteSetting(ctx context.Context, id int64) error
}

// Cache - локальный снимок коллекций (реализует *cache.Store)
type Cache interface {
	SaveSnapshot(snap cache.Snapshot) error
	LoadSnapshot() (cache.Snapshot, error)
}

// UsageChecker сообщает, держит ли инструмент живая подписка
type UsageChecker interface {
	InstrumentInUse(ctx context.Context, code string) (bool, error)
}

// Alert - ошибка фоновой записи, показываемая оператору
type Alert struct {
	Time       time.Time `json:"time"`
	Collection string    `json:"collection"`
	Key        string    `json:"key"`
	Message    string    `json:"message"`
}

const maxAlerts = 100

// Options - зависимости сверки
type Options struct {
	API    API
	Cache  Cache
	Usage  UsageChecker
	Retry  retry.Config
	Logger *utils.Logger
}

// Reconciler хранит индексы бэкенда и выполняет записи
type Reconciler struct {
	api   API
	cache Cache
	usage UsageChecker
	retry retry.Config
	log   *utils.Logger

	// writeMu упорядочивает записи; mu защищает индексы
	writeMu sync.Mutex
	mu      sync.RWMutex

	instruments *collection[models.Instrument]
	accounts    *collection[models.Account]
	pairs       *collection[models.PairRecord]
	columns     *collection[models.Column]
	settings    *collection[models.Setting]

	alertsMu sync.Mutex
	alerts   []Alert
}

// New создаёт сверку с пустыми индексами
func New(opts Options) *Reconciler {
	if opts.Logger == nil {
		opts.Logger = utils.L()
	}
	if opts.Retry.MaxRetries == 0 {
		opts.Retry = retry.SyncConfig()
	}
	if opts.Retry.RetryIf == nil {
		opts.Retry.RetryIf = retry.IsRetryable
	}

	return &Reconciler{
		api:   opts.API,
		cache: opts.Cache,
		usage: opts.Usage,
		retry: opts.Retry,
		log:   opts.Logger.WithComponent("reconcile"),

		instruments: newCollection(cache.CollectionInstruments,
			func(v models.Instrument) string { return v.Key() },
			func(v models.Instrument) int64 { return v.ID },
			func(a, b models.Instrument) bool { return a.SameContent(b) }),
		accounts: newCollection(cache.CollectionAccounts,
			func(v models.Account) string { return v.Key() },
			func(v models.Account) int64 { return v.ID },
			func(a, b models.Account) bool { return a.SameContent(b) }),
		pairs: newCollection(cache.CollectionPairs,
			func(v models.PairRecord) string { return v.Key() },
			func(v models.PairRecord) int64 { return v.ID },
			func(a, b models.PairRecord) bool { return a.SameContent(b) }),
		columns: newCollection(cache.CollectionColumns,
			func(v models.Column) string { return v.Key() },
			func(v models.Column) int64 { return v.ID },
			func(a, b models.Column) bool { return a.SameLayout(b) }),
		settings: newCollection(cache.CollectionSettings,
			func(v models.Setting) string { return v.Key },
			func(v models.Setting) int64 { return v.ID },
			func(a, b models.Setting) bool { return a.Value == b.Value }),
	}
}

// SetUsageChecker подключает проверку занятости инструментов (движок создаётся позже)
func (r *Reconciler) SetUsageChecker(u UsageChecker) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	r.usage = u
}

// ============================================================
// Справочники для движка
// ============================================================

// Instrument ищет инструмент по коду
func (r *Reconciler) Instrument(code string) (models.Instrument, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.instruments.lookup(code)
}

// Account ищет счёт по алиасу
func (r *Reconciler) Account(alias string) (models.Account, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.accounts.lookup(alias)
}

// Snapshot возвращает текущие индексы
func (r *Reconciler) Snapshot() cache.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cache.Snapshot{
		Instruments: r.instruments.list(),
		Accounts:    r.accounts.list(),
		Pairs:       r.pairs.list(),
		Columns:     r.columns.list(),
		Settings:    r.settings.list(),
	}
}

// ============================================================
// Общая запись
// ============================================================

// save - create или update по результату разрешения идентичности
func save[T any](ctx context.Context, r *Reconciler, c *collection[T], local T,
	create func(context.Context, T) (T, error),
	update func(context.Context, int64, T) (T, error),
) (T, Outcome, error) {
	r.mu.RLock()
	current, id, found := c.resolve(local)
	r.mu.RUnlock()

	if found && c.same(current, local) {
		return current, Unchanged, nil
	}

	var (
		res     T
		outcome Outcome
		err     error
	)
	if id > 0 {
		res, err = update(ctx, id, local)
		outcome = Updated
	} else {
		res, err = create(ctx, local)
		outcome = Created
	}
	if err != nil {
		var zero T
		return zero, Unchanged, fmt.Errorf("%s %s %q: %w", outcome, c.name, c.key(local), err)
	}

	r.mu.Lock()
	c.put(res)
	r.mu.Unlock()

	r.log.Info("record written", utils.Collection(c.name), utils.String("key", c.key(res)),
		utils.BackendID(c.id(res)), utils.String("outcome", outcome.String()))
	return res, outcome, nil
}

// remove - удаление по id; несохранённая запись удаляется только локально
func remove[T any](ctx context.Context, r *Reconciler, c *collection[T], key string,
	del func(context.Context, int64) error,
) (Outcome, error) {
	r.mu.RLock()
	current, ok := c.lookup(key)
	r.mu.RUnlock()
	if !ok || c.id(current) <= 0 {
		return LocalOnly, nil
	}

	if err := del(ctx, c.id(current)); err != nil && !errors.Is(err, backend.ErrNotFound) {
		return Unchanged, fmt.Errorf("delete %s %q: %w", c.name, key, err)
	}

	r.mu.Lock()
	c.remove(key)
	r.mu.Unlock()
	r.log.Info("record deleted", utils.Collection(c.name), utils.String("key", key), utils.BackendID(c.id(current)))
	return Deleted, nil
}

// ============================================================
// Инструменты и счета
// ============================================================

// SaveInstrument создаёт или обновляет инструмент.
// Инструмент живой подписки не меняется.
func (r *Reconciler) SaveInstrument(ctx context.Context, in models.Instrument) (models.Instrument, Outcome, error) {
	if in.Code == "" {
		return in, Unchanged, fmt.Errorf("%w: instrument code is required", ErrInvalidRecord)
	}
	if in.PriceStep < 0 {
		return in, Unchanged, fmt.Errorf("%w: price_step must not be negative", ErrInvalidRecord)
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.RLock()
	current, _, found := r.instruments.resolve(in)
	r.mu.RUnlock()
	if found && !current.SameContent(in) {
		if err := r.checkUnused(ctx, current.Code); err != nil {
			return current, Unchanged, err
		}
	}
	return save(ctx, r, r.instruments, in, r.api.CreateInstrument, r.api.UpdateInstrument)
}

// DeleteInstrument удаляет инструмент по коду
func (r *Reconciler) DeleteInstrument(ctx context.Context, code string) (Outcome, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if err := r.checkUnused(ctx, code); err != nil {
		return Unchanged, err
	}
	return remove(ctx, r, r.instruments, code, r.api.DeleteInstrument)
}

func (r *Reconciler) checkUnused(ctx context.Context, code string) error {
	if r.usage == nil {
		return nil
	}
	used, err := r.usage.InstrumentInUse(ctx, code)
	if err != nil {
		return err
	}
	if used {
		return fmt.Errorf("%w: %s", ErrInstrumentInUse, code)
	}
	return nil
}

// SaveAccount создаёт или обновляет счёт
func (r *Reconciler) SaveAccount(ctx context.Context, in models.Account) (models.Account, Outcome, error) {
	if in.Alias == "" {
		return in, Unchanged, fmt.Errorf("%w: account alias is required", ErrInvalidRecord)
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return save(ctx, r, r.accounts, in, r.api.CreateAccount, r.api.UpdateAccount)
}

// DeleteAccount удаляет счёт по алиасу
func (r *Reconciler) DeleteAccount(ctx context.Context, alias string) (Outcome, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return remove(ctx, r, r.accounts, alias, r.api.DeleteAccount)
}

// ============================================================
// Колонки и настройки
// ============================================================

// SaveColumns сверяет раскладку колонок. Запись идёт только для колонок,
// у которых изменилась позиция или ширина.
func (r *Reconciler) SaveColumns(ctx context.Context, cols []models.Column) ([]models.Column, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	out := make([]models.Column, 0, len(cols))
	var errs []error
	for _, col := range cols {
		if col.Name == "" || col.Width < 0 {
			errs = append(errs, fmt.Errorf("%w: column %q", ErrInvalidRecord, col.Name))
			continue
		}
		res, _, err := save(ctx, r, r.columns, col, r.api.CreateColumn, r.api.UpdateColumn)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, res)
	}
	return out, errors.Join(errs...)
}

// SaveSetting создаёт или обновляет настройку
func (r *Reconciler) SaveSetting(ctx context.Context, in models.Setting) (models.Setting, Outcome, error) {
	if in.Key == "" {
		return in, Unchanged, fmt.Errorf("%w: setting key is required", ErrInvalidRecord)
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return save(ctx, r, r.settings, in, r.api.CreateSetting, r.api.UpdateSetting)
}

// DeleteSetting удаляет настройку по ключу
func (r *Reconciler) DeleteSetting(ctx context.Context, key string) (Outcome, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return remove(ctx, r, r.settings, key, r.api.DeleteSetting)
}

// ============================================================
// Оповещения
// ============================================================

func (r *Reconciler) alert(collection, key string, err error) {
	r.alertsMu.Lock()
	defer r.alertsMu.Unlock()
	r.alerts = append(r.alerts, Alert{Time: time.Now().UTC(), Collection: collection, Key: key, Message: err.Error()})
	if len(r.alerts) > maxAlerts {
		r.alerts = r.alerts[len(r.alerts)-maxAlerts:]
	}
}

// Alerts возвращает последние ошибки фоновых записей
func (r *Reconciler) Alerts() []Alert {
	r.alertsMu.Lock()
	defer r.alertsMu.Unlock()
	return append([]Alert(nil), r.alerts...)
}
