package repository

import (
	"context"
	"database/sql"
	"errors"

	"pairarb/internal/models"
)

// Ошибки репозитория счетов
var (
	ErrAccountNotFound = errors.New("account not found")
	ErrAccountExists   = errors.New("account already exists")
)

const accountColumns = `id, alias, account_number, client_code, broker, updated_at`

// AccountRepository - работа с таблицей accounts
type AccountRepository struct {
	db *sql.DB
}

// NewAccountRepository создает новый экземпляр репозитория
func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func scanAccount(s scanner) (models.Account, error) {
	var a models.Account
	err := s.Scan(&a.ID, &a.Alias, &a.AccountNumber, &a.ClientCode, &a.Broker, &a.UpdatedAt)
	return a, err
}

// List возвращает все счета в порядке псевдонима
func (r *AccountRepository) List(ctx context.Context) ([]models.Account, error) {
	return queryAll(ctx, r.db, scanAccount,
		`SELECT `+accountColumns+` FROM accounts ORDER BY alias`)
}

// GetByID возвращает счёт по ID
func (r *AccountRepository) GetByID(ctx context.Context, id int64) (models.Account, error) {
	a, err := scanAccount(r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return a, ErrAccountNotFound
	}
	return a, err
}

// Create создает счёт
func (r *AccountRepository) Create(ctx context.Context, a *models.Account) error {
	query := `
		INSERT INTO accounts (alias, account_number, client_code, broker, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	a.UpdatedAt = now()
	err := r.db.QueryRowContext(ctx, query,
		a.Alias, a.AccountNumber, a.ClientCode, a.Broker, a.UpdatedAt,
	).Scan(&a.ID)

	if err != nil {
		if isUniqueViolation(err) {
			return ErrAccountExists
		}
		return err
	}

	return nil
}

// Update перезаписывает поля счёта
func (r *AccountRepository) Update(ctx context.Context, a *models.Account) error {
	query := `
		UPDATE accounts
		SET alias = $1, account_number = $2, client_code = $3, broker = $4, updated_at = $5
		WHERE id = $6`

	a.UpdatedAt = now()
	err := execAffected(ctx, r.db, ErrAccountNotFound, query,
		a.Alias, a.AccountNumber, a.ClientCode, a.Broker, a.UpdatedAt, a.ID)
	if isUniqueViolation(err) {
		return ErrAccountExists
	}
	return err
}

// Delete удаляет счёт
func (r *AccountRepository) Delete(ctx context.Context, id int64) error {
	return execAffected(ctx, r.db, ErrAccountNotFound, `DELETE FROM accounts WHERE id = $1`, id)
}
