package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"pairarb/internal/cache"
	"pairarb/internal/models"
	"pairarb/pkg/retry"
	"pairarb/pkg/utils"
)

// BackendSync загружает все коллекции с бэкенда, перестраивает индексы
// и перезаписывает локальный кэш.
//
// Если бэкенд недоступен, индексы строятся из кэша и возвращается снимок
// кэша вместе с ошибкой ErrOffline; это не фатально для терминала.
func (r *Reconciler) BackendSync(ctx context.Context) (cache.Snapshot, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	snap, err := r.pull(ctx)
	if err == nil {
		r.rebuild(snap)
		if r.cache != nil {
			if cerr := r.cache.SaveSnapshot(snap); cerr != nil {
				r.log.Warn("failed to write cache snapshot", utils.Err(cerr))
			}
		}
		r.log.Info("backend sync complete",
			utils.Int("instruments", len(snap.Instruments)), utils.Int("accounts", len(snap.Accounts)),
			utils.Int("pairs", len(snap.Pairs)), utils.Int("columns", len(snap.Columns)),
			utils.Int("settings", len(snap.Settings)))
		return snap, nil
	}

	r.log.Warn("backend sync failed, falling back to cache", utils.Err(err))
	if r.cache == nil {
		return cache.Snapshot{}, fmt.Errorf("%w: %v", ErrOffline, err)
	}
	cached, cerr := r.cache.LoadSnapshot()
	if cerr != nil {
		if errors.Is(cerr, cache.ErrNoSnapshot) {
			r.rebuild(cache.Snapshot{})
		}
		return cache.Snapshot{}, fmt.Errorf("%w: %v (cache: %v)", ErrOffline, err, cerr)
	}
	r.rebuild(cached)
	return cached, fmt.Errorf("%w: %v", ErrOffline, err)
}

// pull читает коллекции параллельно; каждый запрос повторяется по r.retry
func (r *Reconciler) pull(ctx context.Context) (cache.Snapshot, error) {
	var snap cache.Snapshot
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() (err error) {
		snap.Instruments, err = pullList(gctx, r, cache.CollectionInstruments, r.api.ListInstruments)
		return err
	})
	g.Go(func() (err error) {
		snap.Accounts, err = pullList(gctx, r, cache.CollectionAccounts, r.api.ListAccounts)
		return err
	})
	g.Go(func() (err error) {
		snap.Pairs, err = pullList(gctx, r, cache.CollectionPairs, r.api.ListPairs)
		return err
	})
	g.Go(func() (err error) {
		snap.Columns, err = pullList(gctx, r, cache.CollectionColumns, r.api.ListColumns)
		return err
	})
	g.Go(func() (err error) {
		snap.Settings, err = pullList(gctx, r, cache.CollectionSettings, r.api.ListSettings)
		return err
	})

	if err := g.Wait(); err != nil {
		return cache.Snapshot{}, err
	}
	snap.SyncedAt = time.Now().UTC()
	return snap, nil
}

func pullList[T any](ctx context.Context, r *Reconciler, name string, fetch func(context.Context) ([]T, error)) ([]T, error) {
	cfg := r.retry
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		r.log.Warn("backend list retry", utils.Collection(name), utils.Int("attempt", attempt),
			utils.Duration("delay", delay), utils.Err(err))
	}
	items, err := retry.DoWithResult(ctx, func() ([]T, error) { return fetch(ctx) }, cfg)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", name, err)
	}
	return items, nil
}

// rebuild перестраивает индексы. Повтор естественного ключа: остаётся первая запись.
func (r *Reconciler) rebuild(snap cache.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	report := func(name string, dups []string) {
		for _, k := range dups {
			r.log.Warn("duplicate natural key on backend", utils.Collection(name), utils.String("key", k))
		}
	}
	report(cache.CollectionInstruments, r.instruments.reset(snap.Instruments))
	report(cache.CollectionAccounts, r.accounts.reset(snap.Accounts))
	report(cache.CollectionPairs, r.pairs.reset(snap.Pairs))
	report(cache.CollectionColumns, r.columns.reset(snap.Columns))
	report(cache.CollectionSettings, r.settings.reset(snap.Settings))
}

// Rows строит строки терминала из пар снимка; первая запись ключа побеждает
func Rows(snap cache.Snapshot) []*models.PairRow {
	seen := make(map[string]bool, len(snap.Pairs))
	rows := make([]*models.PairRow, 0, len(snap.Pairs))
	for _, rec := range snap.Pairs {
		if seen[rec.Key()] {
			continue
		}
		seen[rec.Key()] = true
		rows = append(rows, rec.Row(""))
	}
	return rows
}
