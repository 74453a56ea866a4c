package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/escalation-service/internal/domain"
)

// MemoryOperatorRepository is the in-process operator store.
type MemoryOperatorRepository struct {
	mu        sync.RWMutex
	operators map[string]domain.Operator
}

// NewMemoryOperatorRepository returns an empty repository.
func NewMemoryOperatorRepository() *MemoryOperatorRepository {
	return &MemoryOperatorRepository{operators: make(map[string]domain.Operator)}
}

func (r *MemoryOperatorRepository) Create(_ context.Context, op *domain.Operator) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.operators {
		if strings.EqualFold(existing.Email, op.Email) {
			return ErrDuplicateOperator
		}
	}
	now := time.Now().UTC()
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	op.CreatedAt, op.UpdatedAt = now, now
	r.operators[op.ID] = *op
	return nil
}

func (r *MemoryOperatorRepository) Update(_ context.Context, op *domain.Operator) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.operators[op.ID]; !ok {
		return domain.ErrNotFound
	}
	op.UpdatedAt = time.Now().UTC()
	r.operators[op.ID] = *op
	return nil
}

func (r *MemoryOperatorRepository) GetByID(_ context.Context, id string) (*domain.Operator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	op, ok := r.operators[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &op, nil
}

func (r *MemoryOperatorRepository) GetByEmail(_ context.Context, email string) (*domain.Operator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, op := range r.operators {
		if strings.EqualFold(op.Email, email) {
			found := op
			return &found, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MemoryOperatorRepository) List(_ context.Context, filter OperatorFilter) ([]domain.Operator, error) {
	r.mu.RLock()
	var result []domain.Operator
	for _, op := range r.operators {
		if op.OrganizationID != filter.OrganizationID {
			continue
		}
		if filter.Role != nil && op.Role != *filter.Role {
			continue
		}
		if filter.Active != nil && op.Active != *filter.Active {
			continue
		}
		result = append(result, op)
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(result) {
		return nil, nil
	}
	result = result[offset:]
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
