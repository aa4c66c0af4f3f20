package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/gosuda/tenantctx/internal/domain"
)

type TenantRepo Store

// Create assigns the next internal id when t.ID is zero.
func (r *TenantRepo) Create(_ context.Context, t *domain.Tenant) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == 0 {
		s.nextTenantID++
		t.ID = s.nextTenantID
	} else if t.ID > s.nextTenantID {
		s.nextTenantID = t.ID
	}
	if _, exists := s.tenants[t.ID]; exists {
		return fmt.Errorf("tenantRepo.Create: %w", domain.ErrConflict)
	}
	if t.UUID == uuid.Nil {
		t.UUID = uuid.New()
	}
	for _, other := range s.tenants {
		if other.UUID == t.UUID || (t.Domain != "" && other.Domain == t.Domain) {
			return fmt.Errorf("tenantRepo.Create: %w", domain.ErrConflict)
		}
	}

	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	s.tenants[t.ID] = copyTenant(t)
	return nil
}

func (r *TenantRepo) GetByID(_ context.Context, id int64) (*domain.Tenant, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tenants[id]
	if !ok {
		return nil, fmt.Errorf("tenantRepo.GetByID: %w", domain.ErrNotFound)
	}
	return copyTenant(t), nil
}

func (r *TenantRepo) GetByUUID(_ context.Context, id uuid.UUID) (*domain.Tenant, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.tenants {
		if t.UUID == id {
			return copyTenant(t), nil
		}
	}
	return nil, fmt.Errorf("tenantRepo.GetByUUID: %w", domain.ErrNotFound)
}

// Update replaces name, domain and suspension. UUID is immutable.
func (r *TenantRepo) Update(_ context.Context, t *domain.Tenant) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.tenants[t.ID]
	if !ok {
		return fmt.Errorf("tenantRepo.Update: %w", domain.ErrNotFound)
	}
	if t.Domain != "" {
		for id, other := range s.tenants {
			if id != t.ID && other.Domain == t.Domain {
				return fmt.Errorf("tenantRepo.Update: %w", domain.ErrConflict)
			}
		}
	}

	updated := copyTenant(t)
	updated.UUID = existing.UUID
	updated.CreatedAt = existing.CreatedAt
	updated.UpdatedAt = time.Now()
	t.UpdatedAt = updated.UpdatedAt
	s.tenants[t.ID] = updated
	return nil
}

func (r *TenantRepo) List(_ context.Context) ([]*domain.Tenant, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Tenant, 0, len(s.tenants))
	for _, t := range s.tenants {
		out = append(out, copyTenant(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
