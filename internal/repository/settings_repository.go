package repository

import (
	"context"
	"database/sql"
	"errors"

	"pairarb/internal/models"
)

// Ошибки репозитория настроек
var (
	ErrSettingNotFound = errors.New("setting not found")
	ErrSettingExists   = errors.New("setting already exists")
)

// SettingsRepository - работа с таблицей settings (ключ/значение)
type SettingsRepository struct {
	db *sql.DB
}

// NewSettingsRepository создает новый экземпляр репозитория
func NewSettingsRepository(db *sql.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

func scanSetting(s scanner) (models.Setting, error) {
	var st models.Setting
	err := s.Scan(&st.ID, &st.Key, &st.Value, &st.UpdatedAt)
	return st, err
}

// List возвращает все настройки в порядке ключа
func (r *SettingsRepository) List(ctx context.Context) ([]models.Setting, error) {
	return queryAll(ctx, r.db, scanSetting,
		`SELECT id, key, value, updated_at FROM settings ORDER BY key`)
}

// GetByID возвращает настройку по ID
func (r *SettingsRepository) GetByID(ctx context.Context, id int64) (models.Setting, error) {
	st, err := scanSetting(r.db.QueryRowContext(ctx,
		`SELECT id, key, value, updated_at FROM settings WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return st, ErrSettingNotFound
	}
	return st, err
}

// Create создает настройку
func (r *SettingsRepository) Create(ctx context.Context, st *models.Setting) error {
	st.UpdatedAt = now()
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES ($1, $2, $3) RETURNING id`,
		st.Key, st.Value, st.UpdatedAt,
	).Scan(&st.ID)

	if err != nil {
		if isUniqueViolation(err) {
			return ErrSettingExists
		}
		return err
	}

	return nil
}

// Update меняет значение настройки
func (r *SettingsRepository) Update(ctx context.Context, st *models.Setting) error {
	st.UpdatedAt = now()
	err := execAffected(ctx, r.db, ErrSettingNotFound,
		`UPDATE settings SET key = $1, value = $2, updated_at = $3 WHERE id = $4`,
		st.Key, st.Value, st.UpdatedAt, st.ID)
	if isUniqueViolation(err) {
		return ErrSettingExists
	}
	return err
}

// Delete удаляет настройку
func (r *SettingsRepository) Delete(ctx context.Context, id int64) error {
	return execAffected(ctx, r.db, ErrSettingNotFound, `DELETE FROM settings WHERE id = $1`, id)
}
