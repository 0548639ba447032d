package service

import (
	"context"
	"time"

	"pairarb/internal/models"
	"pairarb/internal/repository"
)

// ============ Mock InstrumentRepository ============

type MockInstrumentRepository struct {
	items     map[int64]models.Instrument
	nextID    int64
	listErr   error
	createErr error
	updates   int
}

func NewMockInstrumentRepository() *MockInstrumentRepository {
	return &MockInstrumentRepository{items: make(map[int64]models.Instrument), nextID: 1}
}

func (m *MockInstrumentRepository) List(ctx context.Context) ([]models.Instrument, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []models.Instrument
	for id := int64(1); id < m.nextID; id++ {
		if in, ok := m.items[id]; ok {
			out = append(out, in)
		}
	}
	return out, nil
}

func (m *MockInstrumentRepository) GetByID(ctx context.Context, id int64) (models.Instrument, error) {
	in, ok := m.items[id]
	if !ok {
		return models.Instrument{}, repository.ErrInstrumentNotFound
	}
	return in, nil
}

func (m *MockInstrumentRepository) Create(ctx context.Context, in *models.Instrument) error {
	if m.createErr != nil {
		return m.createErr
	}
	for _, existing := range m.items {
		if existing.Code == in.Code {
			return repository.ErrInstrumentExists
		}
	}
	in.ID = m.nextID
	m.nextID++
	in.UpdatedAt = time.Now()
	m.items[in.ID] = *in
	return nil
}

func (m *MockInstrumentRepository) Update(ctx context.Context, in *models.Instrument) error {
	if _, ok := m.items[in.ID]; !ok {
		return repository.ErrInstrumentNotFound
	}
	m.updates++
	in.UpdatedAt = time.Now()
	m.items[in.ID] = *in
	return nil
}

func (m *MockInstrumentRepository) Delete(ctx context.Context, id int64) error {
	if _, ok := m.items[id]; !ok {
		return repository.ErrInstrumentNotFound
	}
	delete(m.items, id)
	return nil
}

// ============ Mock PairRepository ============

type MockPairRepository struct {
	items  map[int64]models.PairRecord
	nextID int64

	// updated_at, переданные в Update/Delete
	lastKnown []time.Time
}

func NewMockPairRepository() *MockPairRepository {
	return &MockPairRepository{items: make(map[int64]models.PairRecord), nextID: 1}
}

func (m *MockPairRepository) List(ctx context.Context) ([]models.PairRecord, error) {
	var out []models.PairRecord
	for id := int64(1); id < m.nextID; id++ {
		if p, ok := m.items[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *MockPairRepository) GetByID(ctx context.Context, id int64) (models.PairRecord, error) {
	p, ok := m.items[id]
	if !ok {
		return models.PairRecord{}, repository.ErrPairNotFound
	}
	return p, nil
}

func (m *MockPairRepository) Create(ctx context.Context, p *models.PairRecord) error {
	for _, existing := range m.items {
		if existing.Key() == p.Key() {
			return repository.ErrPairExists
		}
	}
	p.ID = m.nextID
	m.nextID++
	p.UpdatedAt = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	m.items[p.ID] = *p
	return nil
}

func (m *MockPairRepository) Update(ctx context.Context, p *models.PairRecord, lastKnown time.Time) error {
	m.lastKnown = append(m.lastKnown, lastKnown)
	stored, ok := m.items[p.ID]
	if !ok {
		return repository.ErrPairNotFound
	}
	if !lastKnown.IsZero() && !stored.UpdatedAt.Equal(lastKnown) {
		return repository.ErrPairConflict
	}
	p.UpdatedAt = stored.UpdatedAt.Add(time.Second)
	m.items[p.ID] = *p
	return nil
}

func (m *MockPairRepository) Delete(ctx context.Context, id int64, lastKnown time.Time) error {
	m.lastKnown = append(m.lastKnown, lastKnown)
	stored, ok := m.items[id]
	if !ok {
		return repository.ErrPairNotFound
	}
	if !lastKnown.IsZero() && !stored.UpdatedAt.Equal(lastKnown) {
		return repository.ErrPairConflict
	}
	delete(m.items, id)
	return nil
}
