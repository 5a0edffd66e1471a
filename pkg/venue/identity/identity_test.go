package identity

import (
	"errors"
	"testing"

	"github.com/avralex/bourse/pkg/storage"
	"github.com/avralex/bourse/pkg/venue"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return New(db)
}

func TestRegisterAndAuthenticate(t *testing.T) {
	s := newTestService(t)

	user, err := s.Register("alice")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.Role != venue.RoleUser {
		t.Fatalf("role: got %s, want USER", user.Role)
	}
	if user.APIKey == "" {
		t.Fatal("no api key issued")
	}

	got, err := s.Authenticate(user.APIKey)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if got.ID != user.ID || got.Name != "alice" {
		t.Fatalf("authenticated wrong user: %+v", got)
	}
}

func TestRegisterRejectsShortName(t *testing.T) {
	s := newTestService(t)
	if _, err := s.Register("ab"); !errors.Is(err, venue.ErrInvalidOrder) {
		t.Fatalf("short name: got %v, want ErrInvalidOrder", err)
	}
}

func TestAuthenticateUnknownKey(t *testing.T) {
	s := newTestService(t)
	if _, err := s.Authenticate("not-a-key"); !errors.Is(err, venue.ErrUnauthorized) {
		t.Fatalf("unknown key: got %v, want ErrUnauthorized", err)
	}
}

func TestDeleteRevokesAPIKey(t *testing.T) {
	s := newTestService(t)

	user, err := s.Register("alice")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	deleted, err := s.Delete(user.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleted.ID != user.ID {
		t.Fatalf("deleted wrong user: %+v", deleted)
	}

	if _, err := s.Get(user.ID); !errors.Is(err, venue.ErrUserNotFound) {
		t.Fatalf("deleted user still readable: %v", err)
	}
	if _, err := s.Authenticate(user.APIKey); !errors.Is(err, venue.ErrUnauthorized) {
		t.Fatalf("revoked key still authenticates: %v", err)
	}
}

func TestDeleteUnknownUser(t *testing.T) {
	s := newTestService(t)
	if _, err := s.Delete("nope"); !errors.Is(err, venue.ErrUserNotFound) {
		t.Fatalf("delete missing user: got %v, want ErrUserNotFound", err)
	}
}

func TestEnsureAdminIdempotent(t *testing.T) {
	s := newTestService(t)

	admin, created, err := s.EnsureAdmin("admin")
	if err != nil {
		t.Fatalf("ensure admin: %v", err)
	}
	if !created {
		t.Fatal("first call did not create the admin")
	}
	if admin.Role != venue.RoleAdmin {
		t.Fatalf("role: got %s, want ADMIN", admin.Role)
	}

	again, created, err := s.EnsureAdmin("other-name")
	if err != nil {
		t.Fatalf("ensure admin again: %v", err)
	}
	if created {
		t.Fatal("second call created another admin")
	}
	if again.ID != admin.ID {
		t.Fatalf("admin changed across calls: %s vs %s", again.ID, admin.ID)
	}
}
