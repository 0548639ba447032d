package reconcile

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pairarb/internal/backend"
	"pairarb/internal/cache"
	"pairarb/internal/models"
	"pairarb/pkg/retry"
	"pairarb/pkg/utils"
)

func newTestReconciler(t *testing.T, api API, c Cache) *Reconciler {
	t.Helper()
	return New(Options{
		API:    api,
		Cache:  c,
		Retry:  retry.Config{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond},
		Logger: utils.NewNop(),
	})
}

func synced(t *testing.T, api *fakeAPI) *Reconciler {
	t.Helper()
	r := newTestReconciler(t, api, nil)
	_, err := r.BackendSync(context.Background())
	require.NoError(t, err)
	return r
}

func pairRecord(a1, a2 string) models.PairRecord {
	return models.PairRecord{
		Asset1: a1, Asset2: a2,
		Account1: "main", Account2: "main",
		Side1: "BUY", Side2: "SELL",
		QtyRatio1: 1, QtyRatio2: 1, PriceRatio1: 1, PriceRatio2: 1,
	}
}

func TestSaveInstrument_CreateThenNoop(t *testing.T) {
	api := newFakeAPI()
	r := synced(t, api)
	ctx := context.Background()

	in := models.Instrument{Code: "SBER", Name: "Сбербанк", ClassCode: "TQBR", SecCode: "SBER", PriceStep: 0.01}
	got, outcome, err := r.SaveInstrument(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, Created, outcome)
	assert.Positive(t, got.ID)
	assert.Equal(t, 1, api.instruments.creates)
	assert.Equal(t, 0, api.instruments.updates)

	// Та же запись без id: разрешается по коду, запросов нет
	_, outcome, err = r.SaveInstrument(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, Unchanged, outcome)
	assert.Equal(t, 1, api.totalWrites())

	in.Name = "Sberbank"
	updated, outcome, err := r.SaveInstrument(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, Updated, outcome)
	assert.Equal(t, got.ID, updated.ID)
	assert.Equal(t, 1, api.instruments.updates)

	idx, ok := r.Instrument("SBER")
	require.True(t, ok)
	assert.Equal(t, "Sberbank", idx.Name)
}

func TestSaveInstrument_IDBindingRenamesKey(t *testing.T) {
	api := newFakeAPI()
	api.instruments.seed(models.Instrument{Code: "SBER", ClassCode: "TQBR", SecCode: "SBER"})
	r := synced(t, api)

	_, outcome, err := r.SaveInstrument(context.Background(),
		models.Instrument{ID: 1, Code: "SBERP", ClassCode: "TQBR", SecCode: "SBERP"})
	require.NoError(t, err)
	assert.Equal(t, Updated, outcome)
	assert.Equal(t, 0, api.instruments.creates)

	_, ok := r.Instrument("SBER")
	assert.False(t, ok)
	got, ok := r.Instrument("SBERP")
	require.True(t, ok)
	assert.Equal(t, int64(1), got.ID)
}

func TestSaveInstrument_Invalid(t *testing.T) {
	api := newFakeAPI()
	r := synced(t, api)

	_, _, err := r.SaveInstrument(context.Background(), models.Instrument{})
	assert.ErrorIs(t, err, ErrInvalidRecord)
	_, _, err = r.SaveInstrument(context.Background(), models.Instrument{Code: "X", PriceStep: -1})
	assert.ErrorIs(t, err, ErrInvalidRecord)
	assert.Equal(t, 0, api.totalWrites())
}

func TestInstrumentInUse(t *testing.T) {
	api := newFakeAPI()
	api.instruments.seed(models.Instrument{Code: "SBER", ClassCode: "TQBR", SecCode: "SBER"})
	r := synced(t, api)
	r.SetUsageChecker(fakeUsage{"SBER": true})
	ctx := context.Background()

	_, _, err := r.SaveInstrument(ctx, models.Instrument{Code: "SBER", ClassCode: "SMAL", SecCode: "SBER"})
	assert.ErrorIs(t, err, ErrInstrumentInUse)

	// Без изменений проверка не нужна
	_, outcome, err := r.SaveInstrument(ctx, models.Instrument{Code: "SBER", ClassCode: "TQBR", SecCode: "SBER"})
	require.NoError(t, err)
	assert.Equal(t, Unchanged, outcome)

	_, err = r.DeleteInstrument(ctx, "SBER")
	assert.ErrorIs(t, err, ErrInstrumentInUse)
	assert.Equal(t, 0, api.totalWrites())

	r.SetUsageChecker(fakeUsage{})
	outcome, err = r.DeleteInstrument(ctx, "SBER")
	require.NoError(t, err)
	assert.Equal(t, Deleted, outcome)
	assert.Equal(t, 1, api.instruments.deletes)
}

func TestDelete_LocalOnlyAndNotFound(t *testing.T) {
	api := newFakeAPI()
	api.accounts.seed(models.Account{Alias: "main", AccountNumber: "L01-00000F00"})
	r := synced(t, api)
	ctx := context.Background()

	outcome, err := r.DeleteAccount(ctx, "unknown")
	require.NoError(t, err)
	assert.Equal(t, LocalOnly, outcome)
	assert.Equal(t, 0, api.accounts.deletes)

	// Запись уже удалена на бэкенде: 404 считается успехом
	api.accounts.items = nil
	outcome, err = r.DeleteAccount(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, Deleted, outcome)
	_, ok := r.Account("main")
	assert.False(t, ok)
}

func TestSaveColumns_OnlyChangedLayout(t *testing.T) {
	api := newFakeAPI()
	api.columns.seed(
		models.Column{Name: "price", Position: 0, Width: 80},
		models.Column{Name: "hit_price", Position: 1, Width: 90},
	)
	r := synced(t, api)

	cols := []models.Column{
		{Name: "price", Position: 0, Width: 80},
		{Name: "hit_price", Position: 2, Width: 90},
		{Name: "exec_qty", Position: 1, Width: 60},
	}
	out, err := r.SaveColumns(context.Background(), cols)
	require.NoError(t, err)
	assert.Len(t, out, 3)
	assert.Equal(t, 1, api.columns.creates)
	assert.Equal(t, 1, api.columns.updates)

	_, err = r.SaveColumns(context.Background(), cols)
	require.NoError(t, err)
	assert.Equal(t, 2, api.columns.writes())
}

func TestSaveColumns_InvalidDoesNotStopOthers(t *testing.T) {
	api := newFakeAPI()
	r := synced(t, api)

	out, err := r.SaveColumns(context.Background(), []models.Column{{Name: ""}, {Name: "price", Width: 50}})
	assert.ErrorIs(t, err, ErrInvalidRecord)
	assert.Len(t, out, 1)
	assert.Equal(t, 1, api.columns.creates)
}

func TestSaveSetting(t *testing.T) {
	api := newFakeAPI()
	api.settings.seed(models.Setting{Key: "theme", Value: "dark"})
	r := synced(t, api)
	ctx := context.Background()

	_, outcome, err := r.SaveSetting(ctx, models.Setting{Key: "theme", Value: "dark"})
	require.NoError(t, err)
	assert.Equal(t, Unchanged, outcome)

	_, outcome, err = r.SaveSetting(ctx, models.Setting{Key: "theme", Value: "light"})
	require.NoError(t, err)
	assert.Equal(t, Updated, outcome)

	outcome, err = r.DeleteSetting(ctx, "theme")
	require.NoError(t, err)
	assert.Equal(t, Deleted, outcome)
}

func TestSavePair_LastKnownFromIndex(t *testing.T) {
	api := newFakeAPI()
	r := synced(t, api)
	ctx := context.Background()

	row := pairRecord("SBER", "GAZP").Row("")
	created, outcome, err := r.SavePair(ctx, row)
	require.NoError(t, err)
	assert.Equal(t, Created, outcome)

	// Строка знает id, но не updated_at: берётся значение индекса
	row.Identity = models.Persisted(created.ID)
	row.Price = models.Float(12.5)
	updated, outcome, err := r.SavePair(ctx, row)
	require.NoError(t, err)
	assert.Equal(t, Updated, outcome)
	require.Len(t, api.lastKnown, 1)
	assert.Equal(t, created.UpdatedAt, api.lastKnown[0])
	assert.True(t, updated.UpdatedAt.After(created.UpdatedAt))

	_, outcome, err = r.SavePair(ctx, row)
	require.NoError(t, err)
	assert.Equal(t, Unchanged, outcome)
	assert.Equal(t, 1, api.pairs.updates)
}

func TestSavePair_ConflictNotRetried(t *testing.T) {
	api := newFakeAPI()
	api.pairs.seed(pairRecord("SBER", "GAZP"))
	r := synced(t, api)

	api.pairs.writeErr = &backend.StatusError{Method: "PUT", Path: "/pairs/1", Status: 409, Code: backend.CodeConflict}
	row := r.Snapshot().Pairs[0].Row("")
	row.TargetQty = 10

	_, _, err := r.SavePair(context.Background(), row)
	assert.ErrorIs(t, err, backend.ErrConflict)
	assert.Equal(t, 1, api.pairs.updates)

	// Индекс остался прежним
	assert.Equal(t, 0, r.Snapshot().Pairs[0].TargetQty)
}

func TestSavePair_RequiresInstruments(t *testing.T) {
	r := synced(t, newFakeAPI())
	_, _, err := r.SavePair(context.Background(), models.NewPairRow("SBER", ""))
	assert.ErrorIs(t, err, ErrInvalidRecord)
}

func TestDeletePair(t *testing.T) {
	api := newFakeAPI()
	api.pairs.seed(pairRecord("SBER", "GAZP"))
	r := synced(t, api)
	ctx := context.Background()

	outcome, err := r.DeletePair(ctx, models.NewPairRow("LKOH", "ROSN"))
	require.NoError(t, err)
	assert.Equal(t, LocalOnly, outcome)
	assert.Equal(t, 0, api.pairs.deletes)

	// Несохранённая строка с ключом, который есть на бэкенде
	outcome, err = r.DeletePair(ctx, models.NewPairRow("SBER", "GAZP"))
	require.NoError(t, err)
	assert.Equal(t, Deleted, outcome)
	assert.Equal(t, 1, api.pairs.deletes)
	assert.Empty(t, r.Snapshot().Pairs)
}

func TestPushPairs_DeletesOrphans(t *testing.T) {
	api := newFakeAPI()
	api.pairs.seed(pairRecord("SBER", "GAZP"), pairRecord("LKOH", "ROSN"))
	r := newTestReconciler(t, api, nil)
	snap, err := r.BackendSync(context.Background())
	require.NoError(t, err)

	var rows []*models.PairRow
	for _, row := range Rows(snap) {
		if row.Key() == "SBER|GAZP" {
			rows = append(rows, row)
		}
	}
	rows = append(rows, pairRecord("VTBR", "MOEX").Row(""))

	results, err := r.PushPairs(context.Background(), rows)
	require.NoError(t, err)

	byKey := make(map[string]Outcome)
	for _, res := range results {
		byKey[res.Record.Key()] = res.Outcome
	}
	assert.Equal(t, map[string]Outcome{
		"SBER|GAZP": Unchanged,
		"VTBR|MOEX": Created,
		"LKOH|ROSN": Deleted,
	}, byKey)
	assert.Equal(t, 1, api.pairs.creates)
	assert.Equal(t, 0, api.pairs.updates)
	assert.Equal(t, 1, api.pairs.deletes)
}

func TestPushPairs_ErrorsDoNotStop(t *testing.T) {
	api := newFakeAPI()
	r := synced(t, api)

	rows := []*models.PairRow{models.NewPairRow("SBER", ""), pairRecord("VTBR", "MOEX").Row("")}
	results, err := r.PushPairs(context.Background(), rows)
	assert.ErrorIs(t, err, ErrInvalidRecord)
	require.Len(t, results, 2)
	assert.Error(t, results[0].Err)
	assert.Equal(t, Created, results[1].Outcome)
}

func TestBackendSync_WritesCache(t *testing.T) {
	store, err := cache.Open("", utils.NewNop())
	require.NoError(t, err)
	defer store.Close()

	api := newFakeAPI()
	api.instruments.seed(models.Instrument{Code: "SBER", ClassCode: "TQBR", SecCode: "SBER"})
	api.accounts.seed(models.Account{Alias: "main"})
	api.pairs.seed(pairRecord("SBER", "GAZP"))

	r := newTestReconciler(t, api, store)
	snap, err := r.BackendSync(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Pairs, 1)
	assert.False(t, snap.SyncedAt.IsZero())

	cached, err := store.LoadSnapshot()
	require.NoError(t, err)
	assert.Len(t, cached.Instruments, 1)
	assert.Len(t, cached.Accounts, 1)
	assert.Equal(t, "SBER|GAZP", cached.Pairs[0].Key())
}

func TestBackendSync_OfflineFallsBackToCache(t *testing.T) {
	store, err := cache.Open("", utils.NewNop())
	require.NoError(t, err)
	defer store.Close()

	online := newFakeAPI()
	online.instruments.seed(models.Instrument{Code: "SBER", ClassCode: "TQBR", SecCode: "SBER"})
	_, err = newTestReconciler(t, online, store).BackendSync(context.Background())
	require.NoError(t, err)

	offline := newFakeAPI()
	offline.pairs.listErr = fmt.Errorf("%w: connection refused", backend.ErrUnavailable)
	r := newTestReconciler(t, offline, store)

	snap, err := r.BackendSync(context.Background())
	assert.ErrorIs(t, err, ErrOffline)
	assert.Len(t, snap.Instruments, 1)
	assert.Equal(t, 2, offline.pairs.lists)

	_, ok := r.Instrument("SBER")
	assert.True(t, ok)
}

func TestBackendSync_OfflineWithoutCache(t *testing.T) {
	store, err := cache.Open("", utils.NewNop())
	require.NoError(t, err)
	defer store.Close()

	api := newFakeAPI()
	api.settings.listErr = &backend.StatusError{Method: "GET", Path: "/settings", Status: 503}
	r := newTestReconciler(t, api, store)

	snap, err := r.BackendSync(context.Background())
	assert.ErrorIs(t, err, ErrOffline)
	assert.Empty(t, snap.Instruments)
}

func TestBackendSync_NonRetryableListError(t *testing.T) {
	api := newFakeAPI()
	api.columns.listErr = &backend.StatusError{Method: "GET", Path: "/columns", Status: 400}
	r := newTestReconciler(t, api, nil)

	_, err := r.BackendSync(context.Background())
	assert.ErrorIs(t, err, ErrOffline)
	assert.Equal(t, 1, api.columns.lists)
}

func TestBackendSync_DuplicateKeysFirstWins(t *testing.T) {
	api := newFakeAPI()
	api.instruments.seed(
		models.Instrument{Code: "SBER", Name: "first"},
		models.Instrument{Code: "SBER", Name: "second"},
	)
	api.pairs.seed(pairRecord("SBER", "GAZP"), pairRecord("SBER", "GAZP"))
	r := newTestReconciler(t, api, nil)

	snap, err := r.BackendSync(context.Background())
	require.NoError(t, err)

	got, ok := r.Instrument("SBER")
	require.True(t, ok)
	assert.Equal(t, "first", got.Name)

	rows := Rows(snap)
	require.Len(t, rows, 1)
	id, _ := rows[0].Identity.ID()
	assert.Equal(t, int64(1), id)
}

func TestAlertsBounded(t *testing.T) {
	r := newTestReconciler(t, newFakeAPI(), nil)
	for i := 0; i < maxAlerts+5; i++ {
		r.alert(cache.CollectionPairs, fmt.Sprintf("k%d", i), errors.New("boom"))
	}
	alerts := r.Alerts()
	assert.Len(t, alerts, maxAlerts)
	assert.Equal(t, "k5", alerts[0].Key)
}
