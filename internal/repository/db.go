// Package repository - хранение справочников бэкенда в PostgreSQL.
//
// Каждая таблица ведёт updated_at: значение проставляется при каждой записи
// и возвращается клиенту, который передаёт его обратно в If-Unmodified-Since.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/lib/pq"
)

// uniqueViolation - код ошибки PostgreSQL для нарушения UNIQUE
const uniqueViolation = "23505"

// schema - таблицы бэкенда. Естественные ключи уникальны.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS instruments (
		id          BIGSERIAL        PRIMARY KEY,
		code        TEXT             NOT NULL UNIQUE,
		name        TEXT             NOT NULL DEFAULT '',
		class_code  TEXT             NOT NULL DEFAULT '',
		sec_code    TEXT             NOT NULL DEFAULT '',
		price_step  DOUBLE PRECISION NOT NULL DEFAULT 0,
		updated_at  TIMESTAMPTZ      NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS accounts (
		id              BIGSERIAL   PRIMARY KEY,
		alias           TEXT        NOT NULL UNIQUE,
		account_number  TEXT        NOT NULL DEFAULT '',
		client_code     TEXT        NOT NULL DEFAULT '',
		broker          TEXT        NOT NULL DEFAULT '',
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS pairs (
		id             BIGSERIAL        PRIMARY KEY,
		asset_1        TEXT             NOT NULL,
		asset_2        TEXT             NOT NULL,
		account_1      TEXT             NOT NULL DEFAULT '',
		account_2      TEXT             NOT NULL DEFAULT '',
		side_1         TEXT             NOT NULL DEFAULT '',
		side_2         TEXT             NOT NULL DEFAULT '',
		qty_ratio_1    DOUBLE PRECISION NOT NULL DEFAULT 0,
		qty_ratio_2    DOUBLE PRECISION NOT NULL DEFAULT 0,
		price_ratio_1  DOUBLE PRECISION NOT NULL DEFAULT 0,
		price_ratio_2  DOUBLE PRECISION NOT NULL DEFAULT 0,
		price          DOUBLE PRECISION,
		target_qty     INTEGER          NOT NULL DEFAULT 0,
		strategy_name  TEXT             NOT NULL DEFAULT '',
		exec_price     DOUBLE PRECISION,
		exec_qty       INTEGER          NOT NULL DEFAULT 0,
		leaves_qty     INTEGER          NOT NULL DEFAULT 0,
		price_1        DOUBLE PRECISION,
		price_2        DOUBLE PRECISION,
		hit_price      DOUBLE PRECISION,
		get_mdata      BOOLEAN          NOT NULL DEFAULT false,
		started        BOOLEAN          NOT NULL DEFAULT false,
		error          TEXT             NOT NULL DEFAULT '',
		updated_at     TIMESTAMPTZ      NOT NULL DEFAULT now(),
		UNIQUE (asset_1, asset_2)
	)`,
	`CREATE TABLE IF NOT EXISTS table_columns (
		id          BIGSERIAL        PRIMARY KEY,
		name        TEXT             NOT NULL UNIQUE,
		position    INTEGER          NOT NULL DEFAULT 0,
		width       DOUBLE PRECISION NOT NULL DEFAULT 0,
		updated_at  TIMESTAMPTZ      NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS settings (
		id          BIGSERIAL   PRIMARY KEY,
		key         TEXT        NOT NULL UNIQUE,
		value       TEXT        NOT NULL DEFAULT '',
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// Migrate создаёт недостающие таблицы
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// scanner - общий интерфейс *sql.Row и *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

// now - метка updated_at с точностью PostgreSQL (микросекунды),
// чтобы значение, возвращённое клиенту, совпадало с сохранённым
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// isUniqueViolation проверяет, является ли ошибка нарушением UNIQUE constraint
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	return strings.Contains(err.Error(), "duplicate key")
}

// execAffected выполняет запрос и возвращает notFound, если ни одна строка не изменилась
func execAffected(ctx context.Context, db *sql.DB, notFound error, query string, args ...interface{}) error {
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return notFound
	}

	return nil
}

// queryAll выполняет запрос и сканирует все строки
func queryAll[T any](ctx context.Context, db *sql.DB, scan func(scanner) (T, error), query string, args ...interface{}) ([]T, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}
