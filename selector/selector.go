// Package selector is the client side of tenant switching: it keeps the list
// of tenants a user can pick from and the currently selected one, and talks
// to the /tenants endpoints of the API.
//
// Select is optimistic. Current reports the requested tenant as soon as
// Select is called and falls back to the last tenant the server confirmed
// if the switch is refused.
package selector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ErrTenantNotFound is returned when the server does not know the tenant or
// the user is not a member of it. The server does not distinguish the two.
var ErrTenantNotFound = errors.New("selector: tenant not found")

// Tenant is a selectable tenant.
type Tenant struct {
	ID     int64     `json:"id"`
	UUID   uuid.UUID `json:"uuid"`
	Name   string    `json:"name"`
	Domain string    `json:"domain,omitempty"`
	Role   string    `json:"role,omitempty"`
}

// StatusError is an unexpected HTTP response.
type StatusError struct {
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("selector: unexpected status %d", e.Code)
	}
	return fmt.Sprintf("selector: unexpected status %d: %s", e.Code, e.Detail)
}

// Option configures a Selector.
type Option func(*Selector)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Selector) { s.client = c }
}

// WithToken sets the bearer token sent with every request.
func WithToken(token string) Option {
	return func(s *Selector) { s.token = token }
}

// WithOnChange registers fn to observe every change of the current tenant,
// including optimistic selections and their rollback. fn receives a copy and
// is called without the selector's lock held.
func WithOnChange(fn func(current *Tenant)) Option {
	return func(s *Selector) { s.onChange = fn }
}

// Selector is safe for concurrent use.
type Selector struct {
	baseURL  string
	client   *http.Client
	token    string
	onChange func(current *Tenant)

	mu        sync.Mutex
	available []Tenant
	current   *Tenant
	gen       uint64 // bumped by every Select and Refresh

	// confirmed is the server's view as of the newest settled request;
	// confirmedGen is that request's generation.
	confirmed    *Tenant
	confirmedGen uint64
	settled      uint64 // newest generation whose request has finished
}

// New returns a Selector for the API rooted at baseURL, e.g.
// "https://app.example.com/api/v1".
func New(baseURL string, opts ...Option) *Selector {
	s := &Selector{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  http.DefaultClient,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Available returns a copy of the selectable tenants.
func (s *Selector) Available() []Tenant {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Tenant, len(s.available))
	copy(out, s.available)
	return out
}

// Current returns a copy of the selected tenant, or nil.
func (s *Selector) Current() *Tenant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.current)
}

type availableResponse struct {
	Tenants       []Tenant `json:"tenants"`
	CurrentTenant *Tenant  `json:"currentTenant"`
}

// Refresh loads the selectable tenants and the server's view of the current
// one.
func (s *Selector) Refresh(ctx context.Context) error {
	var body availableResponse
	if err := s.do(ctx, http.MethodGet, "/tenants/available", nil, &body); err != nil {
		return fmt.Errorf("selector.Refresh: %w", err)
	}

	s.mu.Lock()
	s.available = body.Tenants
	s.current = clone(body.CurrentTenant)
	s.gen++
	s.confirmed = clone(body.CurrentTenant)
	s.confirmedGen = s.gen
	s.settled = s.gen
	current := clone(s.current)
	s.mu.Unlock()

	s.notify(current)
	return nil
}

type switchResponse struct {
	Tenant  Tenant `json:"tenant"`
	Message string `json:"message"`
}

// Select switches the session to tenantID. Current reflects the new tenant
// immediately. On failure it returns to the last server-confirmed tenant,
// unless a newer Select or Refresh has happened in the meantime; the newer
// call settles Current instead.
func (s *Selector) Select(ctx context.Context, tenantID int64) (*Tenant, error) {
	s.mu.Lock()
	optimistic := &Tenant{ID: tenantID}
	for i := range s.available {
		if s.available[i].ID == tenantID {
			optimistic = clone(&s.available[i])
			break
		}
	}
	s.current = optimistic
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	s.notify(clone(optimistic))

	var body switchResponse
	err := s.do(ctx, http.MethodPost, "/tenants/switch", map[string]int64{"tenant_id": tenantID}, &body)

	s.mu.Lock()
	confirmedHere := false
	if err == nil && gen > s.confirmedGen {
		s.confirmed = clone(&body.Tenant)
		s.confirmedGen = gen
		confirmedHere = true
	}
	// A newer call is still in flight, or it settled and this older
	// success does not change what the server last confirmed.
	if s.gen != gen && (s.settled != s.gen || !confirmedHere) {
		s.settled = max(s.settled, gen)
		s.mu.Unlock()
		if err != nil {
			return nil, fmt.Errorf("selector.Select: %w", err)
		}
		return clone(&body.Tenant), nil
	}
	s.settled = max(s.settled, gen)
	s.current = clone(s.confirmed)
	current := clone(s.current)
	s.mu.Unlock()

	s.notify(current)
	if err != nil {
		return nil, fmt.Errorf("selector.Select: %w", err)
	}
	return clone(&body.Tenant), nil
}

func (s *Selector) notify(current *Tenant) {
	if s.onChange != nil {
		s.onChange(current)
	}
}

func (s *Selector) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrTenantNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		var problem struct {
			Detail string `json:"detail"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&problem)
		return &StatusError{Code: resp.StatusCode, Detail: problem.Detail}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func clone(t *Tenant) *Tenant {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}
