package repository

import (
	"context"
	"database/sql"
	"errors"

	"pairarb/internal/models"
)

// Ошибки репозитория колонок
var (
	ErrColumnNotFound = errors.New("column not found")
	ErrColumnExists   = errors.New("column already exists")
)

// ColumnRepository - раскладка колонок таблицы пар (таблица table_columns)
type ColumnRepository struct {
	db *sql.DB
}

// NewColumnRepository создает новый экземпляр репозитория
func NewColumnRepository(db *sql.DB) *ColumnRepository {
	return &ColumnRepository{db: db}
}

func scanColumn(s scanner) (models.Column, error) {
	var c models.Column
	err := s.Scan(&c.ID, &c.Name, &c.Position, &c.Width, &c.UpdatedAt)
	return c, err
}

// List возвращает колонки по позиции
func (r *ColumnRepository) List(ctx context.Context) ([]models.Column, error) {
	return queryAll(ctx, r.db, scanColumn,
		`SELECT id, name, position, width, updated_at FROM table_columns ORDER BY position, name`)
}

// GetByID возвращает колонку по ID
func (r *ColumnRepository) GetByID(ctx context.Context, id int64) (models.Column, error) {
	c, err := scanColumn(r.db.QueryRowContext(ctx,
		`SELECT id, name, position, width, updated_at FROM table_columns WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return c, ErrColumnNotFound
	}
	return c, err
}

// Create создает колонку
func (r *ColumnRepository) Create(ctx context.Context, c *models.Column) error {
	c.UpdatedAt = now()
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO table_columns (name, position, width, updated_at) VALUES ($1, $2, $3, $4) RETURNING id`,
		c.Name, c.Position, c.Width, c.UpdatedAt,
	).Scan(&c.ID)

	if err != nil {
		if isUniqueViolation(err) {
			return ErrColumnExists
		}
		return err
	}

	return nil
}

// Update меняет позицию и ширину колонки
func (r *ColumnRepository) Update(ctx context.Context, c *models.Column) error {
	c.UpdatedAt = now()
	err := execAffected(ctx, r.db, ErrColumnNotFound,
		`UPDATE table_columns SET name = $1, position = $2, width = $3, updated_at = $4 WHERE id = $5`,
		c.Name, c.Position, c.Width, c.UpdatedAt, c.ID)
	if isUniqueViolation(err) {
		return ErrColumnExists
	}
	return err
}

// Delete удаляет колонку
func (r *ColumnRepository) Delete(ctx context.Context, id int64) error {
	return execAffected(ctx, r.db, ErrColumnNotFound, `DELETE FROM table_columns WHERE id = $1`, id)
}
