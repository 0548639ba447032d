package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pairarb/internal/models"
	"pairarb/internal/service"
)

var ErrMockDatabase = errors.New("mock database error")

// ============ Mock CatalogService ============

type MockCatalogService[T any] struct {
	items []T
	err   error

	created   []T
	updatedID int64
	deletedID int64
	applied   T
}

func (m *MockCatalogService[T]) List(ctx context.Context) ([]T, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.items, nil
}

func (m *MockCatalogService[T]) Create(ctx context.Context, item T) (T, error) {
	if m.err != nil {
		return item, m.err
	}
	m.created = append(m.created, item)
	return item, nil
}

func (m *MockCatalogService[T]) Update(ctx context.Context, id int64, apply func(*T) error) (T, error) {
	m.updatedID = id
	if m.err != nil {
		return m.applied, m.err
	}
	if err := apply(&m.applied); err != nil {
		return m.applied, fmt.Errorf("%w: %v", service.ErrInvalidInput, err)
	}
	return m.applied, nil
}

func (m *MockCatalogService[T]) Delete(ctx context.Context, id int64) error {
	m.deletedID = id
	return m.err
}

// ============ Mock PairService ============

type MockPairService struct {
	pairs []models.PairRecord
	err   error

	lastKnown time.Time
	stored    models.PairRecord
}

func (m *MockPairService) List(ctx context.Context) ([]models.PairRecord, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.pairs, nil
}

func (m *MockPairService) Create(ctx context.Context, p models.PairRecord) (models.PairRecord, error) {
	if m.err != nil {
		return p, m.err
	}
	p.ID = 1
	return p, nil
}

func (m *MockPairService) Update(ctx context.Context, id int64, apply func(*models.PairRecord) error, lastKnown time.Time) (models.PairRecord, error) {
	m.lastKnown = lastKnown
	if m.err != nil {
		return m.stored, m.err
	}
	if err := apply(&m.stored); err != nil {
		return m.stored, fmt.Errorf("%w: %v", service.ErrInvalidInput, err)
	}
	m.stored.ID = id
	return m.stored, nil
}

func (m *MockPairService) Delete(ctx context.Context, id int64, lastKnown time.Time) error {
	m.lastKnown = lastKnown
	return m.err
}
