package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pairarb/internal/models"
	"pairarb/internal/repository"
)

// PairService - бизнес-логика пар.
//
// Изменение и удаление принимают updated_at, известный клиенту: если запись
// с тех пор изменилась, возвращается ErrConflict и ничего не пишется.
type PairService struct {
	pairRepo PairRepositoryInterface
}

// NewPairService создает новый экземпляр сервиса пар
func NewPairService(pairRepo PairRepositoryInterface) *PairService {
	return &PairService{pairRepo: pairRepo}
}

// List возвращает все пары
func (s *PairService) List(ctx context.Context) ([]models.PairRecord, error) {
	pairs, err := s.pairRepo.List(ctx)
	if err != nil {
		return nil, err
	}
	if pairs == nil {
		pairs = []models.PairRecord{}
	}
	return pairs, nil
}

// Create валидирует и сохраняет новую пару
func (s *PairService) Create(ctx context.Context, p models.PairRecord) (models.PairRecord, error) {
	p.ID = 0
	if err := s.validatePair(&p); err != nil {
		return p, err
	}
	if err := s.pairRepo.Create(ctx, &p); err != nil {
		return p, mapPairError(err)
	}
	return p, nil
}

// Update применяет изменения к сохранённой паре
func (s *PairService) Update(ctx context.Context, id int64, apply func(*models.PairRecord) error, lastKnown time.Time) (models.PairRecord, error) {
	p, err := s.pairRepo.GetByID(ctx, id)
	if err != nil {
		return p, mapPairError(err)
	}

	// Быстрая проверка до разбора тела; окончательная - в UPDATE ... WHERE updated_at
	if !lastKnown.IsZero() && !p.UpdatedAt.Equal(lastKnown) {
		return p, fmt.Errorf("%w: pair %d updated at %s", ErrConflict, id, p.UpdatedAt.Format(time.RFC3339Nano))
	}

	if err := apply(&p); err != nil {
		return p, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	p.ID = id
	if err := s.validatePair(&p); err != nil {
		return p, err
	}
	if err := s.pairRepo.Update(ctx, &p, lastKnown); err != nil {
		return p, mapPairError(err)
	}
	return p, nil
}

// Delete удаляет пару
func (s *PairService) Delete(ctx context.Context, id int64, lastKnown time.Time) error {
	return mapPairError(s.pairRepo.Delete(ctx, id, lastKnown))
}

// validatePair проверяет поля и пересчитывает leaves_qty
func (s *PairService) validatePair(p *models.PairRecord) error {
	p.Asset1 = strings.TrimSpace(p.Asset1)
	p.Asset2 = strings.TrimSpace(p.Asset2)
	if p.Asset1 == "" || p.Asset2 == "" {
		return invalid("asset_1 and asset_2 are required")
	}
	for _, side := range []string{p.Side1, p.Side2} {
		if side != "" && !models.Side(side).Valid() {
			return invalid("side must be BUY or SELL, got %q", side)
		}
	}
	if p.QtyRatio1 < 0 || p.QtyRatio2 < 0 || p.PriceRatio1 < 0 || p.PriceRatio2 < 0 {
		return invalid("ratios must be non-negative")
	}
	if p.TargetQty < 0 || p.ExecQty < 0 {
		return invalid("target_qty and exec_qty must be non-negative")
	}
	p.LeavesQty = max(p.TargetQty-p.ExecQty, 0)
	return nil
}

func mapPairError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrPairNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, repository.ErrPairExists):
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	case errors.Is(err, repository.ErrPairConflict):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}
