// Package directory resolves tenant ids to tenants through a bounded,
// expiring cache in front of the tenant repository.
package directory

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/tenantctx/internal/domain"
)

// Publisher broadcasts invalidations to other instances.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Subscriber receives invalidations published by other instances.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)
}

type Directory struct {
	tenants domain.TenantRepository
	byID    *expirable.LRU[int64, *domain.Tenant]
	byUUID  *expirable.LRU[uuid.UUID, int64]

	pub     Publisher
	channel string
}

// Option configures a Directory.
type Option func(*Directory)

// WithInvalidation publishes tenant updates on channel so that peers can
// drop their cached copies.
func WithInvalidation(pub Publisher, channel string) Option {
	return func(d *Directory) {
		d.pub = pub
		d.channel = channel
	}
}

// New returns a directory caching up to size tenants for ttl.
func New(tenants domain.TenantRepository, size int, ttl time.Duration, opts ...Option) *Directory {
	d := &Directory{
		tenants: tenants,
		byID:    expirable.NewLRU[int64, *domain.Tenant](size, nil, ttl),
		byUUID:  expirable.NewLRU[uuid.UUID, int64](size, nil, ttl),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Resolve returns the tenant with the given internal id or domain.ErrNotFound.
func (d *Directory) Resolve(ctx context.Context, id int64) (*domain.Tenant, error) {
	if t, ok := d.byID.Get(id); ok {
		return clone(t), nil
	}

	t, err := d.tenants.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("directory.Resolve: %w", err)
	}
	d.store(t)
	return clone(t), nil
}

// ResolveUUID looks a tenant up by its external identifier.
func (d *Directory) ResolveUUID(ctx context.Context, id uuid.UUID) (*domain.Tenant, error) {
	if tenantID, ok := d.byUUID.Get(id); ok {
		return d.Resolve(ctx, tenantID)
	}

	t, err := d.tenants.GetByUUID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("directory.ResolveUUID: %w", err)
	}
	d.store(t)
	return clone(t), nil
}

// Update persists t, drops the local cache entry and notifies peers.
func (d *Directory) Update(ctx context.Context, t *domain.Tenant) error {
	if err := d.tenants.Update(ctx, t); err != nil {
		return fmt.Errorf("directory.Update: %w", err)
	}
	d.Invalidate(t.ID)

	if d.pub != nil {
		payload := []byte(strconv.FormatInt(t.ID, 10))
		if err := d.pub.Publish(ctx, d.channel, payload); err != nil {
			log.Ctx(ctx).Warn().Err(err).Int64("tenant_id", t.ID).Msg("directory: publish invalidation failed")
		}
	}
	return nil
}

// Invalidate drops the cached copy of a tenant.
func (d *Directory) Invalidate(id int64) {
	if t, ok := d.byID.Peek(id); ok {
		d.byUUID.Remove(t.UUID)
	}
	d.byID.Remove(id)
}

// Listen drops cache entries named on the invalidation channel until ctx is
// done. It blocks.
func (d *Directory) Listen(ctx context.Context, sub Subscriber, channel string) error {
	msgs, cleanup, err := sub.Subscribe(ctx, channel)
	if err != nil {
		return fmt.Errorf("directory.Listen: %w", err)
	}
	defer cleanup()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			id, err := strconv.ParseInt(string(msg), 10, 64)
			if err != nil {
				log.Warn().Str("payload", string(msg)).Msg("directory: bad invalidation payload")
				continue
			}
			d.Invalidate(id)
		}
	}
}

func (d *Directory) store(t *domain.Tenant) {
	d.byID.Add(t.ID, clone(t))
	d.byUUID.Add(t.UUID, t.ID)
}

func clone(t *domain.Tenant) *domain.Tenant {
	c := *t
	if t.SuspendedAt != nil {
		at := *t.SuspendedAt
		c.SuspendedAt = &at
	}
	return &c
}
