package memory

import (
	"context"

	"github.com/gosuda/tenantctx/internal/domain"
)

type AuditRepo Store

func (r *AuditRepo) Record(_ context.Context, entry *domain.AuditEntry) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *entry
	s.audit = append(s.audit, &c)
	return nil
}

// ListByTenant returns newest entries first.
func (r *AuditRepo) ListByTenant(_ context.Context, tenantID int64, limit, offset int) ([]*domain.AuditEntry, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*domain.AuditEntry
	for i := len(s.audit) - 1; i >= 0; i-- {
		if s.audit[i].TenantID == tenantID {
			c := *s.audit[i]
			matched = append(matched, &c)
		}
	}
	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}
