package service

import (
	"context"
	"time"

	"pairarb/internal/models"
	"pairarb/internal/repository"
)

// Repository - общий интерфейс репозиториев справочников
type Repository[T any] interface {
	List(ctx context.Context) ([]T, error)
	GetByID(ctx context.Context, id int64) (T, error)
	Create(ctx context.Context, item *T) error
	Update(ctx context.Context, item *T) error
	Delete(ctx context.Context, id int64) error
}

// PairRepositoryInterface - репозиторий пар с проверкой updated_at
type PairRepositoryInterface interface {
	List(ctx context.Context) ([]models.PairRecord, error)
	GetByID(ctx context.Context, id int64) (models.PairRecord, error)
	Create(ctx context.Context, p *models.PairRecord) error
	Update(ctx context.Context, p *models.PairRecord, lastKnown time.Time) error
	Delete(ctx context.Context, id int64, lastKnown time.Time) error
}

// Проверяем, что реальные репозитории реализуют интерфейсы
var _ Repository[models.Instrument] = (*repository.InstrumentRepository)(nil)
var _ Repository[models.Account] = (*repository.AccountRepository)(nil)
var _ Repository[models.Column] = (*repository.ColumnRepository)(nil)
var _ Repository[models.Setting] = (*repository.SettingsRepository)(nil)
var _ PairRepositoryInterface = (*repository.PairRepository)(nil)

// ============ Интерфейсы сервисов для Dependency Injection ============

// CatalogServiceInterface - операции над одной коллекцией справочника
type CatalogServiceInterface[T any] interface {
	List(ctx context.Context) ([]T, error)
	Create(ctx context.Context, item T) (T, error)
	Update(ctx context.Context, id int64, apply func(*T) error) (T, error)
	Delete(ctx context.Context, id int64) error
}

// PairServiceInterface - операции над парами
type PairServiceInterface interface {
	List(ctx context.Context) ([]models.PairRecord, error)
	Create(ctx context.Context, p models.PairRecord) (models.PairRecord, error)
	Update(ctx context.Context, id int64, apply func(*models.PairRecord) error, lastKnown time.Time) (models.PairRecord, error)
	Delete(ctx context.Context, id int64, lastKnown time.Time) error
}

// Проверяем, что реальные сервисы реализуют интерфейсы
var _ CatalogServiceInterface[models.Instrument] = (*CatalogService[models.Instrument])(nil)
var _ PairServiceInterface = (*PairService)(nil)
