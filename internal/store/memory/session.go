package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gosuda/tenantctx/internal/domain"
)

// SessionStore is an in-process domain.SessionStore. Each session carries its
// own lock; the map lock is only held to find or drop entries.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*sessionEntry
	now      func() time.Time
}

type sessionEntry struct {
	mu   sync.Mutex
	sess domain.Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[uuid.UUID]*sessionEntry),
		now:      time.Now,
	}
}

func (s *SessionStore) Create(_ context.Context, sess *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sess.ID]; exists {
		return fmt.Errorf("memory.SessionStore.Create: %w", domain.ErrConflict)
	}
	e := &sessionEntry{sess: copySession(sess)}
	s.sessions[sess.ID] = e
	return nil
}

func (s *SessionStore) Get(_ context.Context, id uuid.UUID) (*domain.Session, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, fmt.Errorf("memory.SessionStore.Get: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	c := copySession(&e.sess)
	return &c, nil
}

func (s *SessionStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return fmt.Errorf("memory.SessionStore.Delete: %w", domain.ErrSessionNotFound)
	}
	delete(s.sessions, id)
	return nil
}

func (s *SessionStore) SetValue(_ context.Context, id uuid.UUID, key, value string) error {
	e, err := s.entry(id)
	if err != nil {
		return fmt.Errorf("memory.SessionStore.SetValue: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sess.Data == nil {
		e.sess.Data = make(map[string]string)
	}
	e.sess.Data[key] = value
	return nil
}

func (s *SessionStore) PopValue(_ context.Context, id uuid.UUID, key string) (string, bool, error) {
	e, err := s.entry(id)
	if err != nil {
		return "", false, fmt.Errorf("memory.SessionStore.PopValue: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	v, ok := e.sess.Data[key]
	if ok {
		delete(e.sess.Data, key)
	}
	return v, ok, nil
}

func (s *SessionStore) ActiveTenant(_ context.Context, id uuid.UUID) (int64, bool, error) {
	e, err := s.entry(id)
	if err != nil {
		return 0, false, fmt.Errorf("memory.SessionStore.ActiveTenant: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sess.ActiveTenantID == nil {
		return 0, false, nil
	}
	return *e.sess.ActiveTenantID, true, nil
}

func (s *SessionStore) SetActiveTenant(_ context.Context, id uuid.UUID, tenantID int64) error {
	e, err := s.entry(id)
	if err != nil {
		return fmt.Errorf("memory.SessionStore.SetActiveTenant: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.sess.ActiveTenantID = &tenantID
	return nil
}

func (s *SessionStore) ClearActiveTenant(_ context.Context, id uuid.UUID) error {
	e, err := s.entry(id)
	if err != nil {
		return fmt.Errorf("memory.SessionStore.ClearActiveTenant: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.sess.ActiveTenantID = nil
	return nil
}

func (s *SessionStore) CompareAndClearActiveTenant(_ context.Context, id uuid.UUID, expected int64) (bool, error) {
	e, err := s.entry(id)
	if err != nil {
		return false, fmt.Errorf("memory.SessionStore.CompareAndClearActiveTenant: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sess.ActiveTenantID == nil || *e.sess.ActiveTenantID != expected {
		return false, nil
	}
	e.sess.ActiveTenantID = nil
	return true, nil
}

// entry returns the live entry for id, dropping it if it has expired.
func (s *SessionStore) entry(id uuid.UUID) (*sessionEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	if !e.sess.ExpiresAt.IsZero() && !s.now().Before(e.sess.ExpiresAt) {
		delete(s.sessions, id)
		return nil, domain.ErrSessionNotFound
	}
	return e, nil
}

func copySession(sess *domain.Session) domain.Session {
	c := *sess
	if sess.ActiveTenantID != nil {
		v := *sess.ActiveTenantID
		c.ActiveTenantID = &v
	}
	c.Data = make(map[string]string, len(sess.Data))
	for k, v := range sess.Data {
		c.Data[k] = v
	}
	return c
}
