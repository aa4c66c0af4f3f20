package directory_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/tenantctx/internal/directory"
	"github.com/gosuda/tenantctx/internal/domain"
	"github.com/gosuda/tenantctx/internal/store/memory"
)

// countingRepo counts repository reads so cache hits are observable.
type countingRepo struct {
	domain.TenantRepository
	reads atomic.Int32
}

func (r *countingRepo) GetByID(ctx context.Context, id int64) (*domain.Tenant, error) {
	r.reads.Add(1)
	return r.TenantRepository.GetByID(ctx, id)
}

func (r *countingRepo) GetByUUID(ctx context.Context, id uuid.UUID) (*domain.Tenant, error) {
	r.reads.Add(1)
	return r.TenantRepository.GetByUUID(ctx, id)
}

func setup(t *testing.T, opts ...directory.Option) (*directory.Directory, *countingRepo, *domain.Tenant) {
	t.Helper()
	store := memory.New()
	tenant := &domain.Tenant{Name: "Acme"}
	require.NoError(t, store.Tenants().Create(t.Context(), tenant))

	repo := &countingRepo{TenantRepository: store.Tenants()}
	return directory.New(repo, 16, time.Minute, opts...), repo, tenant
}

func TestResolve(t *testing.T) {
	t.Parallel()

	t.Run("caches hits", func(t *testing.T) {
		t.Parallel()
		dir, repo, tenant := setup(t)

		for range 3 {
			got, err := dir.Resolve(t.Context(), tenant.ID)
			require.NoError(t, err)
			assert.Equal(t, "Acme", got.Name)
		}
		assert.Equal(t, int32(1), repo.reads.Load())
	})

	t.Run("unknown id", func(t *testing.T) {
		t.Parallel()
		dir, _, _ := setup(t)

		_, err := dir.Resolve(t.Context(), 404)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("returned tenants are copies", func(t *testing.T) {
		t.Parallel()
		dir, _, tenant := setup(t)

		got, err := dir.Resolve(t.Context(), tenant.ID)
		require.NoError(t, err)
		got.Name = "mutated"

		again, err := dir.Resolve(t.Context(), tenant.ID)
		require.NoError(t, err)
		assert.Equal(t, "Acme", again.Name)
	})
}

func TestResolveUUID(t *testing.T) {
	t.Parallel()
	dir, repo, tenant := setup(t)

	got, err := dir.ResolveUUID(t.Context(), tenant.UUID)
	require.NoError(t, err)
	assert.Equal(t, tenant.ID, got.ID)

	_, err = dir.Resolve(t.Context(), tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(1), repo.reads.Load(), "uuid lookup should warm the id cache")

	_, err = dir.ResolveUUID(t.Context(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpdateInvalidates(t *testing.T) {
	t.Parallel()

	ps := memory.NewPubSub()
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	msgs, cleanup, err := ps.Subscribe(ctx, "tenants:invalidate")
	require.NoError(t, err)
	defer cleanup()

	dir, _, tenant := setup(t, directory.WithInvalidation(ps, "tenants:invalidate"))

	_, err = dir.Resolve(ctx, tenant.ID)
	require.NoError(t, err)

	tenant.Name = "Acme Corp"
	require.NoError(t, dir.Update(ctx, tenant))

	got, err := dir.Resolve(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", got.Name)

	select {
	case msg := <-msgs:
		assert.Equal(t, "1", string(msg))
	case <-time.After(time.Second):
		t.Fatal("invalidation not published")
	}
}

func TestListen(t *testing.T) {
	t.Parallel()

	store := memory.New()
	tenant := &domain.Tenant{Name: "Acme"}
	require.NoError(t, store.Tenants().Create(t.Context(), tenant))
	dir := directory.New(store.Tenants(), 16, time.Hour)

	ps := memory.NewPubSub()
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- dir.Listen(ctx, ps, "tenants:invalidate") }()

	_, err := dir.Resolve(ctx, tenant.ID)
	require.NoError(t, err)

	// A peer renames the tenant behind this instance's back.
	tenant.Name = "Renamed"
	require.NoError(t, store.Tenants().Update(ctx, tenant))

	assert.Eventually(t, func() bool {
		_ = ps.Publish(ctx, "tenants:invalidate", []byte("1"))
		got, err := dir.Resolve(ctx, tenant.ID)
		return err == nil && got.Name == "Renamed"
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Listen did not return after cancel")
	}
}
