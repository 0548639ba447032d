package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pairarb/internal/backend"
	"pairarb/internal/models"
	"pairarb/pkg/utils"
)

// PairResult - итог записи строки пары
type PairResult struct {
	CID     string
	Record  models.PairRecord
	Outcome Outcome
	Err     error
}

// SavePair записывает строку пары. Обновление идёт с If-Unmodified-Since
// по последнему известному updated_at; 409 возвращается как backend.ErrConflict.
func (r *Reconciler) SavePair(ctx context.Context, row *models.PairRow) (models.PairRecord, Outcome, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return r.savePair(ctx, row)
}

func (r *Reconciler) savePair(ctx context.Context, row *models.PairRow) (models.PairRecord, Outcome, error) {
	if row == nil || row.Legs[0].Instrument == "" || row.Legs[1].Instrument == "" {
		return models.PairRecord{}, Unchanged, fmt.Errorf("%w: pair without instruments", ErrInvalidRecord)
	}
	local := row.Record()

	update := func(ctx context.Context, id int64, rec models.PairRecord) (models.PairRecord, error) {
		return r.api.UpdatePair(ctx, id, rec, r.lastKnown(id, row.UpdatedAt))
	}
	return save(ctx, r, r.pairs, local, r.api.CreatePair, update)
}

// lastKnown - updated_at записи в индексе; иначе значение строки
func (r *Reconciler) lastKnown(id int64, fallback time.Time) time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if cur, ok := r.pairs.byID(id); ok && !cur.UpdatedAt.IsZero() {
		return cur.UpdatedAt
	}
	return fallback
}

// DeletePair удаляет пару на бэкенде. Несохранённая строка удаляется только локально.
func (r *Reconciler) DeletePair(ctx context.Context, row *models.PairRow) (Outcome, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return r.deletePair(ctx, row.Record())
}

func (r *Reconciler) deletePair(ctx context.Context, local models.PairRecord) (Outcome, error) {
	r.mu.RLock()
	current, id, found := r.pairs.resolve(local)
	r.mu.RUnlock()
	if id <= 0 {
		return LocalOnly, nil
	}

	lastKnown := local.UpdatedAt
	if found && !current.UpdatedAt.IsZero() {
		lastKnown = current.UpdatedAt
	}
	if err := r.api.DeletePair(ctx, id, lastKnown); err != nil && !errors.Is(err, backend.ErrNotFound) {
		return Unchanged, fmt.Errorf("delete pair %q: %w", local.Key(), err)
	}

	r.mu.Lock()
	r.pairs.removeID(id)
	r.mu.Unlock()
	r.log.Info("pair deleted", utils.PairKey(local.Key()), utils.BackendID(id))
	return Deleted, nil
}

// PushPairs - полная сверка пар: все локальные строки записываются,
// пары бэкенда, ключа которых нет локально, удаляются.
// Ошибки отдельных строк не прерывают сверку.
func (r *Reconciler) PushPairs(ctx context.Context, rows []*models.PairRow) ([]PairResult, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	results := make([]PairResult, 0, len(rows))
	localKeys := make(map[string]bool, len(rows))
	var errs []error

	for _, row := range rows {
		if row == nil {
			continue
		}
		localKeys[row.Key()] = true
		rec, outcome, err := r.savePair(ctx, row)
		results = append(results, PairResult{CID: row.CID, Record: rec, Outcome: outcome, Err: err})
		if err != nil {
			errs = append(errs, err)
		}
	}

	r.mu.RLock()
	var orphans []models.PairRecord
	for _, rec := range r.pairs.list() {
		if !localKeys[rec.Key()] {
			orphans = append(orphans, rec)
		}
	}
	r.mu.RUnlock()

	for _, rec := range orphans {
		outcome, err := r.deletePair(ctx, rec)
		results = append(results, PairResult{Record: rec, Outcome: outcome, Err: err})
		if err != nil {
			errs = append(errs, err)
		}
	}

	r.log.Info("pairs pushed", utils.Int("rows", len(rows)), utils.Int("orphans", len(orphans)), utils.Int("errors", len(errs)))
	return results, errors.Join(errs...)
}
