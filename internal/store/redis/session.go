package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/gosuda/tenantctx/internal/domain"
)

const (
	sessionKeyPrefix = "sess:"

	fieldUserID       = "user_id"
	fieldCreatedAt    = "created_at"
	fieldExpiresAt    = "expires_at"
	fieldActiveTenant = "active_tenant_id"
	dataFieldPrefix   = "data:"
)

// Every script returns -1 when the session key is gone so callers can map
// it to domain.ErrSessionNotFound. Each one touches a single hash field.

// createScript writes the whole hash and its expiry in one step, so a
// session never exists without a TTL. ARGV[1] is the expiry in unix ms,
// the rest are field/value pairs.
const createScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1], unpack(ARGV, 2))
redis.call("PEXPIREAT", KEYS[1], ARGV[1])
return 1
`

const setFieldScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
redis.call("HSET", KEYS[1], ARGV[1], ARGV[2])
return 1
`

const clearFieldScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
return redis.call("HDEL", KEYS[1], ARGV[1])
`

const compareAndClearScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
if redis.call("HGET", KEYS[1], ARGV[1]) == ARGV[2] then
  redis.call("HDEL", KEYS[1], ARGV[1])
  return 1
end
return 0
`

const popFieldScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return {-1}
end
local v = redis.call("HGET", KEYS[1], ARGV[1])
if not v then
  return {0}
end
redis.call("HDEL", KEYS[1], ARGV[1])
return {1, v}
`

var (
	createLua          = redis.NewScript(createScript)
	setFieldLua        = redis.NewScript(setFieldScript)
	clearFieldLua      = redis.NewScript(clearFieldScript)
	compareAndClearLua = redis.NewScript(compareAndClearScript)
	popFieldLua        = redis.NewScript(popFieldScript)
)

// SessionStore keeps each session in one hash. The active tenant is its own
// field, so switching rewrites that field and nothing else.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSessionStore returns a store that expires sessions after ttl unless
// the session carries its own ExpiresAt.
func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl}
}

func sessionKey(id uuid.UUID) string {
	return sessionKeyPrefix + id.String()
}

func (s *SessionStore) Create(ctx context.Context, sess *domain.Session) error {
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now()
	}
	if sess.ExpiresAt.IsZero() {
		sess.ExpiresAt = sess.CreatedAt.Add(s.ttl)
	}

	args := []any{
		sess.ExpiresAt.UnixMilli(),
		fieldUserID, sess.UserID.String(),
		fieldCreatedAt, sess.CreatedAt.UTC().Format(time.RFC3339Nano),
		fieldExpiresAt, sess.ExpiresAt.UTC().Format(time.RFC3339Nano),
	}
	if sess.ActiveTenantID != nil {
		args = append(args, fieldActiveTenant, strconv.FormatInt(*sess.ActiveTenantID, 10))
	}
	for k, v := range sess.Data {
		args = append(args, dataFieldPrefix+k, v)
	}

	created, err := createLua.Run(ctx, s.client, []string{sessionKey(sess.ID)}, args...).Int()
	if err != nil {
		return fmt.Errorf("redis.SessionStore.Create: %w", err)
	}
	if created == 0 {
		return fmt.Errorf("redis.SessionStore.Create: %w", domain.ErrConflict)
	}
	return nil
}

func (s *SessionStore) Get(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	raw, err := s.client.HGetAll(ctx, sessionKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis.SessionStore.Get: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("redis.SessionStore.Get: %w", domain.ErrSessionNotFound)
	}

	sess := &domain.Session{ID: id, Data: make(map[string]string)}
	for k, v := range raw {
		switch {
		case k == fieldUserID:
			sess.UserID, err = uuid.Parse(v)
		case k == fieldCreatedAt:
			sess.CreatedAt, err = time.Parse(time.RFC3339Nano, v)
		case k == fieldExpiresAt:
			sess.ExpiresAt, err = time.Parse(time.RFC3339Nano, v)
		case k == fieldActiveTenant:
			var tenantID int64
			tenantID, err = strconv.ParseInt(v, 10, 64)
			sess.ActiveTenantID = &tenantID
		case strings.HasPrefix(k, dataFieldPrefix):
			sess.Data[strings.TrimPrefix(k, dataFieldPrefix)] = v
		}
		if err != nil {
			return nil, fmt.Errorf("redis.SessionStore.Get: field %s: %w", k, err)
		}
	}
	return sess, nil
}

func (s *SessionStore) Delete(ctx context.Context, id uuid.UUID) error {
	n, err := s.client.Del(ctx, sessionKey(id)).Result()
	if err != nil {
		return fmt.Errorf("redis.SessionStore.Delete: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("redis.SessionStore.Delete: %w", domain.ErrSessionNotFound)
	}
	return nil
}

func (s *SessionStore) SetValue(ctx context.Context, id uuid.UUID, key, value string) error {
	if err := s.setField(ctx, id, dataFieldPrefix+key, value); err != nil {
		return fmt.Errorf("redis.SessionStore.SetValue: %w", err)
	}
	return nil
}

func (s *SessionStore) PopValue(ctx context.Context, id uuid.UUID, key string) (string, bool, error) {
	res, err := popFieldLua.Run(ctx, s.client, []string{sessionKey(id)}, dataFieldPrefix+key).Slice()
	if err != nil {
		return "", false, fmt.Errorf("redis.SessionStore.PopValue: %w", err)
	}
	if len(res) == 0 {
		return "", false, errors.New("redis.SessionStore.PopValue: empty script result")
	}
	status, _ := res[0].(int64)
	switch status {
	case -1:
		return "", false, fmt.Errorf("redis.SessionStore.PopValue: %w", domain.ErrSessionNotFound)
	case 0:
		return "", false, nil
	}
	if len(res) < 2 {
		return "", false, errors.New("redis.SessionStore.PopValue: missing value")
	}
	v, _ := res[1].(string)
	return v, true, nil
}

func (s *SessionStore) ActiveTenant(ctx context.Context, id uuid.UUID) (int64, bool, error) {
	vals, err := s.client.HMGet(ctx, sessionKey(id), fieldUserID, fieldActiveTenant).Result()
	if err != nil {
		return 0, false, fmt.Errorf("redis.SessionStore.ActiveTenant: %w", err)
	}
	if vals[0] == nil {
		return 0, false, fmt.Errorf("redis.SessionStore.ActiveTenant: %w", domain.ErrSessionNotFound)
	}
	raw, ok := vals[1].(string)
	if !ok {
		return 0, false, nil
	}
	tenantID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("redis.SessionStore.ActiveTenant: parse: %w", err)
	}
	return tenantID, true, nil
}

func (s *SessionStore) SetActiveTenant(ctx context.Context, id uuid.UUID, tenantID int64) error {
	if err := s.setField(ctx, id, fieldActiveTenant, strconv.FormatInt(tenantID, 10)); err != nil {
		return fmt.Errorf("redis.SessionStore.SetActiveTenant: %w", err)
	}
	return nil
}

func (s *SessionStore) ClearActiveTenant(ctx context.Context, id uuid.UUID) error {
	n, err := clearFieldLua.Run(ctx, s.client, []string{sessionKey(id)}, fieldActiveTenant).Int64()
	if err != nil {
		return fmt.Errorf("redis.SessionStore.ClearActiveTenant: %w", err)
	}
	if n < 0 {
		return fmt.Errorf("redis.SessionStore.ClearActiveTenant: %w", domain.ErrSessionNotFound)
	}
	return nil
}

func (s *SessionStore) CompareAndClearActiveTenant(ctx context.Context, id uuid.UUID, expected int64) (bool, error) {
	n, err := compareAndClearLua.Run(ctx, s.client, []string{sessionKey(id)},
		fieldActiveTenant, strconv.FormatInt(expected, 10)).Int64()
	if err != nil {
		return false, fmt.Errorf("redis.SessionStore.CompareAndClearActiveTenant: %w", err)
	}
	if n < 0 {
		return false, fmt.Errorf("redis.SessionStore.CompareAndClearActiveTenant: %w", domain.ErrSessionNotFound)
	}
	return n == 1, nil
}

func (s *SessionStore) setField(ctx context.Context, id uuid.UUID, field, value string) error {
	n, err := setFieldLua.Run(ctx, s.client, []string{sessionKey(id)}, field, value).Int64()
	if err != nil {
		return err
	}
	if n < 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}
