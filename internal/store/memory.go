package store

import (
	"context"
	"sync"

	"github.com/a-essam23/chirp-relay/pkg/state"
)

// Memory is a map-backed Repository, safe for concurrent use.
type Memory struct {
	mu    sync.RWMutex
	users map[state.UserID]User
}

func NewMemory() *Memory {
	return &Memory{users: make(map[state.UserID]User)}
}

var _ Repository = (*Memory)(nil)

func (m *Memory) Find(_ context.Context, id state.UserID) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(u), nil
}

func (m *Memory) Exists(_ context.Context, id state.UserID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.users[id]
	return ok, nil
}

func (m *Memory) Insert(_ context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.ID]; ok {
		return ErrDuplicate
	}
	m.users[user.ID] = *cloneUser(*user)
	return nil
}

func (m *Memory) UpdateName(_ context.Context, id state.UserID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.Name = name
	m.users[id] = u
	return nil
}

func (m *Memory) UpdateImage(_ context.Context, id state.UserID, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.ImageLink = &link
	m.users[id] = u
	return nil
}

func (m *Memory) Close() error { return nil }

// Len reports how many records are stored.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users)
}

func cloneUser(u User) *User {
	c := u
	if u.ImageLink != nil {
		link := *u.ImageLink
		c.ImageLink = &link
	}
	return &c
}
