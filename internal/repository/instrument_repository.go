package repository

import (
	"context"
	"database/sql"
	"errors"

	"pairarb/internal/models"
)

// Ошибки репозитория инструментов
var (
	ErrInstrumentNotFound = errors.New("instrument not found")
	ErrInstrumentExists   = errors.New("instrument already exists")
)

const instrumentColumns = `id, code, name, class_code, sec_code, price_step, updated_at`

// InstrumentRepository - работа с таблицей instruments
type InstrumentRepository struct {
	db *sql.DB
}

// NewInstrumentRepository создает новый экземпляр репозитория
func NewInstrumentRepository(db *sql.DB) *InstrumentRepository {
	return &InstrumentRepository{db: db}
}

func scanInstrument(s scanner) (models.Instrument, error) {
	var in models.Instrument
	err := s.Scan(&in.ID, &in.Code, &in.Name, &in.ClassCode, &in.SecCode, &in.PriceStep, &in.UpdatedAt)
	return in, err
}

// List возвращает все инструменты в порядке кода
func (r *InstrumentRepository) List(ctx context.Context) ([]models.Instrument, error) {
	return queryAll(ctx, r.db, scanInstrument,
		`SELECT `+instrumentColumns+` FROM instruments ORDER BY code`)
}

// GetByID возвращает инструмент по ID
func (r *InstrumentRepository) GetByID(ctx context.Context, id int64) (models.Instrument, error) {
	in, err := scanInstrument(r.db.QueryRowContext(ctx,
		`SELECT `+instrumentColumns+` FROM instruments WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return in, ErrInstrumentNotFound
	}
	return in, err
}

// Create создает инструмент; заполняет ID и UpdatedAt
func (r *InstrumentRepository) Create(ctx context.Context, in *models.Instrument) error {
	query := `
		INSERT INTO instruments (code, name, class_code, sec_code, price_step, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	in.UpdatedAt = now()
	err := r.db.QueryRowContext(ctx, query,
		in.Code, in.Name, in.ClassCode, in.SecCode, in.PriceStep, in.UpdatedAt,
	).Scan(&in.ID)

	if err != nil {
		if isUniqueViolation(err) {
			return ErrInstrumentExists
		}
		return err
	}

	return nil
}

// Update перезаписывает поля инструмента
func (r *InstrumentRepository) Update(ctx context.Context, in *models.Instrument) error {
	query := `
		UPDATE instruments
		SET code = $1, name = $2, class_code = $3, sec_code = $4, price_step = $5, updated_at = $6
		WHERE id = $7`

	in.UpdatedAt = now()
	err := execAffected(ctx, r.db, ErrInstrumentNotFound, query,
		in.Code, in.Name, in.ClassCode, in.SecCode, in.PriceStep, in.UpdatedAt, in.ID)
	if isUniqueViolation(err) {
		return ErrInstrumentExists
	}
	return err
}

// Delete удаляет инструмент
func (r *InstrumentRepository) Delete(ctx context.Context, id int64) error {
	return execAffected(ctx, r.db, ErrInstrumentNotFound, `DELETE FROM instruments WHERE id = $1`, id)
}
