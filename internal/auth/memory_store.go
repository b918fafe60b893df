package auth

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore provides an in-memory implementation of the Store interface,
// intended for development and testing scenarios.
type MemoryStore struct {
	mu      sync.RWMutex
	byEmail map[string]*User
	byID    map[string]*User
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byEmail: make(map[string]*User),
		byID:    make(map[string]*User),
	}
}

// CreateUser implements Store.
func (s *MemoryStore) CreateUser(_ context.Context, user *User) error {
	email := strings.ToLower(strings.TrimSpace(user.Email))
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byEmail[email]; exists {
		return ErrUserExists
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	user.Email = email
	stored := *user
	s.byEmail[email] = &stored
	s.byID[stored.ID] = &stored
	return nil
}

// FindUserByEmail implements Store.
func (s *MemoryStore) FindUserByEmail(_ context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, ErrUserNotFound
	}
	clone := *user
	return &clone, nil
}

// FindUserByID implements Store.
func (s *MemoryStore) FindUserByID(_ context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.byID[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	clone := *user
	return &clone, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
