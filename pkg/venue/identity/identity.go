// Package identity issues api keys and resolves them back to owners. The
// rest of the venue trusts the resolved owner id and performs no further
// authentication.
package identity

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/avralex/bourse/pkg/storage"
	"github.com/avralex/bourse/pkg/venue"
)

type Service struct {
	db *storage.DB
}

func New(db *storage.DB) *Service {
	return &Service{db: db}
}

func userKey(id string) []byte { return []byte("usr/" + id) }
func apiKeyKey(key string) []byte { return []byte("k/" + key) }

func (s *Service) create(name string, role venue.Role) (*venue.User, error) {
	user := &venue.User{
		ID:     uuid.NewString(),
		Name:   name,
		Role:   role,
		APIKey: uuid.NewString(),
	}

	u := s.db.Begin()
	defer u.Rollback()

	val, err := storage.EncodeGob(user)
	if err != nil {
		return nil, fmt.Errorf("%w: encode user: %v", venue.ErrStorage, err)
	}
	if err := u.Set(userKey(user.ID), val); err != nil {
		return nil, fmt.Errorf("%w: write user: %v", venue.ErrStorage, err)
	}
	if err := u.Set(apiKeyKey(user.APIKey), []byte(user.ID)); err != nil {
		return nil, fmt.Errorf("%w: write api key: %v", venue.ErrStorage, err)
	}
	if err := u.Commit(); err != nil {
		return nil, fmt.Errorf("%w: %v", venue.ErrStorage, err)
	}
	return user, nil
}

// Register creates a regular user and issues its api key.
func (s *Service) Register(name string) (*venue.User, error) {
	if len(name) < 3 {
		return nil, fmt.Errorf("%w: name must be at least 3 characters", venue.ErrInvalidOrder)
	}
	return s.create(name, venue.RoleUser)
}

// EnsureAdmin creates the named admin user on first start and returns it.
// Subsequent starts return the existing admin unchanged.
func (s *Service) EnsureAdmin(name string) (*venue.User, bool, error) {
	var existing *venue.User
	err := s.db.Scan([]byte("usr/"), func(k, val []byte) (bool, error) {
		var user venue.User
		if err := storage.DecodeGob(val, &user); err != nil {
			return false, err
		}
		if user.Role == venue.RoleAdmin {
			existing = &user
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("%w: scan users: %v", venue.ErrStorage, err)
	}
	if existing != nil {
		return existing, false, nil
	}
	user, err := s.create(name, venue.RoleAdmin)
	if err != nil {
		return nil, false, err
	}
	return user, true, nil
}

// Authenticate resolves an api key to its user.
func (s *Service) Authenticate(apiKey string) (*venue.User, error) {
	id, ok, err := s.db.Get(apiKeyKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("%w: read api key: %v", venue.ErrStorage, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: invalid token", venue.ErrUnauthorized)
	}
	return s.Get(string(id))
}

// Delete removes a user and revokes the api key issued to them. Orders
// and balances the user accumulated are left in place; they are venue
// records, not identity records.
func (s *Service) Delete(id string) (*venue.User, error) {
	user, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	u := s.db.Begin()
	defer u.Rollback()

	if err := u.Delete(userKey(user.ID)); err != nil {
		return nil, fmt.Errorf("%w: delete user: %v", venue.ErrStorage, err)
	}
	if err := u.Delete(apiKeyKey(user.APIKey)); err != nil {
		return nil, fmt.Errorf("%w: revoke api key: %v", venue.ErrStorage, err)
	}
	if err := u.Commit(); err != nil {
		return nil, fmt.Errorf("%w: %v", venue.ErrStorage, err)
	}
	return user, nil
}

func (s *Service) Get(id string) (*venue.User, error) {
	val, ok, err := s.db.Get(userKey(id))
	if err != nil {
		return nil, fmt.Errorf("%w: read user: %v", venue.ErrStorage, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", venue.ErrUserNotFound, id)
	}
	var user venue.User
	if err := storage.DecodeGob(val, &user); err != nil {
		return nil, fmt.Errorf("%w: decode user: %v", venue.ErrStorage, err)
	}
	return &user, nil
}
