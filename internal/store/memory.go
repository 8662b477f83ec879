package store

import (
	"context"
	"sync"
)

// MemoryStore is a map-backed Store used for tests and for running the
// service without a database. Each logical table has its own lock so a
// single-table read-modify-write is atomic per call.
type MemoryStore struct {
	requestsMu   sync.RWMutex
	requests     map[string]*SalesRequest
	requestOrder []string // insertion order, oldest first

	usersMu sync.RWMutex
	users   map[string]*User

	labelsMu sync.RWMutex
	labels   RoleLabels

	notifsMu   sync.RWMutex
	notifs     map[string]*Notification
	notifOrder []string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests: make(map[string]*SalesRequest),
		users:    make(map[string]*User),
		notifs:   make(map[string]*Notification),
	}
}

var _ Store = (*MemoryStore)(nil)

// ── Requests ─────────────────────────────────────────────────────────────────

func (m *MemoryStore) ListRequests(ctx context.Context) ([]*SalesRequest, error) {
	m.requestsMu.RLock()
	defer m.requestsMu.RUnlock()

	out := make([]*SalesRequest, 0, len(m.requestOrder))
	for i := len(m.requestOrder) - 1; i >= 0; i-- {
		if req, ok := m.requests[m.requestOrder[i]]; ok {
			out = append(out, req.Clone())
		}
	}
	return out, nil
}

func (m *MemoryStore) GetRequest(ctx context.Context, id string) (*SalesRequest, error) {
	m.requestsMu.RLock()
	defer m.requestsMu.RUnlock()

	req, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	return req.Clone(), nil
}

func (m *MemoryStore) InsertRequest(ctx context.Context, req *SalesRequest) error {
	m.requestsMu.Lock()
	defer m.requestsMu.Unlock()

	m.requests[req.ID] = req.Clone()
	m.requestOrder = append(m.requestOrder, req.ID)
	return nil
}

func (m *MemoryStore) UpdateRequest(ctx context.Context, req *SalesRequest) error {
	m.requestsMu.Lock()
	defer m.requestsMu.Unlock()

	current, ok := m.requests[req.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != req.Version {
		return ErrVersionConflict
	}
	req.Version++
	m.requests[req.ID] = req.Clone()
	return nil
}

func (m *MemoryStore) DeleteRequest(ctx context.Context, id string) error {
	m.requestsMu.Lock()
	defer m.requestsMu.Unlock()

	if _, ok := m.requests[id]; !ok {
		return ErrNotFound
	}
	delete(m.requests, id)
	return nil
}

// ── Users ────────────────────────────────────────────────────────────────────

func (m *MemoryStore) ListUsers(ctx context.Context) ([]*User, error) {
	m.usersMu.RLock()
	defer m.usersMu.RUnlock()

	out := make([]*User, 0, len(m.users))
	for _, u := range m.users {
		cp := *u
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) GetUser(ctx context.Context, id string) (*User, error) {
	m.usersMu.RLock()
	defer m.usersMu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	m.usersMu.RLock()
	defer m.usersMu.RUnlock()

	for _, u := range m.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) PutUser(ctx context.Context, user *User) error {
	m.usersMu.Lock()
	defer m.usersMu.Unlock()

	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *MemoryStore) DeleteUser(ctx context.Context, id string) error {
	m.usersMu.Lock()
	defer m.usersMu.Unlock()

	if _, ok := m.users[id]; !ok {
		return ErrNotFound
	}
	delete(m.users, id)
	return nil
}

// ── Role labels ──────────────────────────────────────────────────────────────

func (m *MemoryStore) GetRoleLabels(ctx context.Context) (RoleLabels, error) {
	m.labelsMu.RLock()
	defer m.labelsMu.RUnlock()

	out := make(RoleLabels, len(m.labels))
	for k, v := range m.labels {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryStore) PutRoleLabels(ctx context.Context, labels RoleLabels) error {
	m.labelsMu.Lock()
	defer m.labelsMu.Unlock()

	cp := make(RoleLabels, len(labels))
	for k, v := range labels {
		cp[k] = v
	}
	m.labels = cp
	return nil
}

// ── Notifications ────────────────────────────────────────────────────────────

func (m *MemoryStore) ListNotificationsFor(ctx context.Context, recipient string) ([]*Notification, error) {
	m.notifsMu.RLock()
	defer m.notifsMu.RUnlock()

	var out []*Notification
	for i := len(m.notifOrder) - 1; i >= 0; i-- {
		n, ok := m.notifs[m.notifOrder[i]]
		if ok && n.Recipient == recipient {
			cp := *n
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) GetNotification(ctx context.Context, id string) (*Notification, error) {
	m.notifsMu.RLock()
	defer m.notifsMu.RUnlock()

	n, ok := m.notifs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *n
	return &cp, nil
}

func (m *MemoryStore) InsertNotification(ctx context.Context, n *Notification) error {
	m.notifsMu.Lock()
	defer m.notifsMu.Unlock()

	cp := *n
	m.notifs[n.ID] = &cp
	m.notifOrder = append(m.notifOrder, n.ID)
	return nil
}

func (m *MemoryStore) UpdateNotification(ctx context.Context, n *Notification) error {
	m.notifsMu.Lock()
	defer m.notifsMu.Unlock()

	if _, ok := m.notifs[n.ID]; !ok {
		return ErrNotFound
	}
	cp := *n
	m.notifs[n.ID] = &cp
	return nil
}
