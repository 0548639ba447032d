package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"pairarb/internal/models"
	"pairarb/internal/repository"
)

// Ошибки сервисов справочников (обработчики сопоставляют их со статусом HTTP)
var (
	ErrNotFound     = errors.New("record not found")
	ErrDuplicate    = errors.New("natural key already exists")
	ErrConflict     = errors.New("record was modified concurrently")
	ErrInvalidInput = errors.New("invalid input")
)

// CatalogService - CRUD одной коллекции справочника.
//
// Частичное обновление: запись читается из БД, к ней применяется apply
// (обычно JSON тела PATCH поверх текущих значений), id восстанавливается,
// результат валидируется и сохраняется целиком.
type CatalogService[T any] struct {
	repo     Repository[T]
	validate func(*T) error
	setID    func(*T, int64)
	notFound error
	exists   error
}

func newCatalogService[T any](repo Repository[T], validate func(*T) error, setID func(*T, int64), notFound, exists error) *CatalogService[T] {
	return &CatalogService[T]{repo: repo, validate: validate, setID: setID, notFound: notFound, exists: exists}
}

// NewInstrumentService создает сервис инструментов
func NewInstrumentService(repo Repository[models.Instrument]) *CatalogService[models.Instrument] {
	return newCatalogService(repo, validateInstrument,
		func(in *models.Instrument, id int64) { in.ID = id },
		repository.ErrInstrumentNotFound, repository.ErrInstrumentExists)
}

// NewAccountService создает сервис счетов
func NewAccountService(repo Repository[models.Account]) *CatalogService[models.Account] {
	return newCatalogService(repo, validateAccount,
		func(a *models.Account, id int64) { a.ID = id },
		repository.ErrAccountNotFound, repository.ErrAccountExists)
}

// NewColumnService создает сервис раскладки колонок
func NewColumnService(repo Repository[models.Column]) *CatalogService[models.Column] {
	return newCatalogService(repo, validateColumn,
		func(c *models.Column, id int64) { c.ID = id },
		repository.ErrColumnNotFound, repository.ErrColumnExists)
}

// NewSettingService создает сервис настроек
func NewSettingService(repo Repository[models.Setting]) *CatalogService[models.Setting] {
	return newCatalogService(repo, validateSetting,
		func(s *models.Setting, id int64) { s.ID = id },
		repository.ErrSettingNotFound, repository.ErrSettingExists)
}

// List возвращает все записи; пустая коллекция - пустой срез, не nil
func (s *CatalogService[T]) List(ctx context.Context) ([]T, error) {
	items, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []T{}
	}
	return items, nil
}

// Create валидирует и создает запись; id из тела игнорируется
func (s *CatalogService[T]) Create(ctx context.Context, item T) (T, error) {
	s.setID(&item, 0)
	if err := s.validate(&item); err != nil {
		return item, err
	}
	if err := s.repo.Create(ctx, &item); err != nil {
		return item, s.mapError(err)
	}
	return item, nil
}

// Update применяет изменения к сохранённой записи
func (s *CatalogService[T]) Update(ctx context.Context, id int64, apply func(*T) error) (T, error) {
	item, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return item, s.mapError(err)
	}
	if err := apply(&item); err != nil {
		return item, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	s.setID(&item, id)
	if err := s.validate(&item); err != nil {
		return item, err
	}
	if err := s.repo.Update(ctx, &item); err != nil {
		return item, s.mapError(err)
	}
	return item, nil
}

// Delete удаляет запись
func (s *CatalogService[T]) Delete(ctx context.Context, id int64) error {
	return s.mapError(s.repo.Delete(ctx, id))
}

// mapError переводит ошибки репозитория в ошибки сервиса
func (s *CatalogService[T]) mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, s.notFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, s.exists):
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}

// ============ Валидация ============

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func validateInstrument(in *models.Instrument) error {
	in.Code = strings.TrimSpace(in.Code)
	if in.Code == "" {
		return invalid("code is required")
	}
	if in.PriceStep < 0 {
		return invalid("price_step must be non-negative")
	}
	return nil
}

func validateAccount(a *models.Account) error {
	a.Alias = strings.TrimSpace(a.Alias)
	if a.Alias == "" {
		return invalid("alias is required")
	}
	return nil
}

func validateColumn(c *models.Column) error {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return invalid("name is required")
	}
	if c.Position < 0 {
		return invalid("position must be non-negative")
	}
	if c.Width < 0 {
		return invalid("width must be non-negative")
	}
	return nil
}

func validateSetting(st *models.Setting) error {
	st.Key = strings.TrimSpace(st.Key)
	if st.Key == "" {
		return invalid("key is required")
	}
	return nil
}
