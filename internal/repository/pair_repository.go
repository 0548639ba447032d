package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"pairarb/internal/models"
)

// Ошибки репозитория пар
var (
	ErrPairNotFound = errors.New("pair not found")
	ErrPairExists   = errors.New("pair already exists")
	// ErrPairConflict - запись изменена после updated_at, известного клиенту
	ErrPairConflict = errors.New("pair was modified concurrently")
)

const pairColumns = `id, asset_1, asset_2, account_1, account_2, side_1, side_2,
	qty_ratio_1, qty_ratio_2, price_ratio_1, price_ratio_2,
	price, target_qty, strategy_name, exec_price, exec_qty, leaves_qty,
	price_1, price_2, hit_price, get_mdata, started, error, updated_at`

// PairRepository - работа с таблицей pairs
type PairRepository struct {
	db *sql.DB
}

// NewPairRepository создает новый экземпляр репозитория
func NewPairRepository(db *sql.DB) *PairRepository {
	return &PairRepository{db: db}
}

func scanPair(s scanner) (models.PairRecord, error) {
	var p models.PairRecord
	err := s.Scan(
		&p.ID,
		&p.Asset1,
		&p.Asset2,
		&p.Account1,
		&p.Account2,
		&p.Side1,
		&p.Side2,
		&p.QtyRatio1,
		&p.QtyRatio2,
		&p.PriceRatio1,
		&p.PriceRatio2,
		&p.Price,
		&p.TargetQty,
		&p.StrategyName,
		&p.ExecPrice,
		&p.ExecQty,
		&p.LeavesQty,
		&p.Price1,
		&p.Price2,
		&p.HitPrice,
		&p.GetMData,
		&p.Started,
		&p.Error,
		&p.UpdatedAt,
	)
	return p, err
}

// fields - значения колонок без id и updated_at, в порядке pairColumns
func (r *PairRepository) fields(p *models.PairRecord) []interface{} {
	return []interface{}{
		p.Asset1, p.Asset2, p.Account1, p.Account2, p.Side1, p.Side2,
		p.QtyRatio1, p.QtyRatio2, p.PriceRatio1, p.PriceRatio2,
		p.Price, p.TargetQty, p.StrategyName, p.ExecPrice, p.ExecQty, p.LeavesQty,
		p.Price1, p.Price2, p.HitPrice, p.GetMData, p.Started, p.Error,
	}
}

// List возвращает все пары в порядке создания
func (r *PairRepository) List(ctx context.Context) ([]models.PairRecord, error) {
	return queryAll(ctx, r.db, scanPair, `SELECT `+pairColumns+` FROM pairs ORDER BY id`)
}

// GetByID возвращает пару по ID
func (r *PairRepository) GetByID(ctx context.Context, id int64) (models.PairRecord, error) {
	p, err := scanPair(r.db.QueryRowContext(ctx, `SELECT `+pairColumns+` FROM pairs WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrPairNotFound
	}
	return p, err
}

// Create создает пару
func (r *PairRepository) Create(ctx context.Context, p *models.PairRecord) error {
	query := `
		INSERT INTO pairs (asset_1, asset_2, account_1, account_2, side_1, side_2,
			qty_ratio_1, qty_ratio_2, price_ratio_1, price_ratio_2,
			price, target_qty, strategy_name, exec_price, exec_qty, leaves_qty,
			price_1, price_2, hit_price, get_mdata, started, error, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
		RETURNING id`

	p.UpdatedAt = now()
	args := append(r.fields(p), p.UpdatedAt)

	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&p.ID); err != nil {
		if isUniqueViolation(err) {
			return ErrPairExists
		}
		return err
	}

	return nil
}

// Update перезаписывает пару.
// Если lastKnown не нулевой, запись выполняется только при совпадении updated_at
// (иначе ErrPairConflict).
func (r *PairRepository) Update(ctx context.Context, p *models.PairRecord, lastKnown time.Time) error {
	query := `
		UPDATE pairs
		SET asset_1 = $1, asset_2 = $2, account_1 = $3, account_2 = $4, side_1 = $5, side_2 = $6,
			qty_ratio_1 = $7, qty_ratio_2 = $8, price_ratio_1 = $9, price_ratio_2 = $10,
			price = $11, target_qty = $12, strategy_name = $13, exec_price = $14, exec_qty = $15, leaves_qty = $16,
			price_1 = $17, price_2 = $18, hit_price = $19, get_mdata = $20, started = $21, error = $22,
			updated_at = $23
		WHERE id = $24`

	updatedAt := now()
	args := append(r.fields(p), updatedAt, p.ID)
	if !lastKnown.IsZero() {
		query += ` AND updated_at = $25`
		args = append(args, lastKnown.UTC())
	}

	err := execAffected(ctx, r.db, ErrPairNotFound, query, args...)
	switch {
	case errors.Is(err, ErrPairNotFound) && !lastKnown.IsZero():
		return r.missOrConflict(ctx, p.ID)
	case isUniqueViolation(err):
		return ErrPairExists
	case err != nil:
		return err
	}

	p.UpdatedAt = updatedAt
	return nil
}

// Delete удаляет пару; lastKnown - как в Update
func (r *PairRepository) Delete(ctx context.Context, id int64, lastKnown time.Time) error {
	if lastKnown.IsZero() {
		return execAffected(ctx, r.db, ErrPairNotFound, `DELETE FROM pairs WHERE id = $1`, id)
	}

	err := execAffected(ctx, r.db, ErrPairNotFound,
		`DELETE FROM pairs WHERE id = $1 AND updated_at = $2`, id, lastKnown.UTC())
	if errors.Is(err, ErrPairNotFound) {
		return r.missOrConflict(ctx, id)
	}
	return err
}

// missOrConflict различает отсутствие записи и устаревший updated_at
func (r *PairRepository) missOrConflict(ctx context.Context, id int64) error {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM pairs WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return err
	}
	if exists {
		return ErrPairConflict
	}
	return ErrPairNotFound
}
