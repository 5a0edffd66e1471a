package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/avralex/bourse/pkg/venue"
)

type contextKey struct{}

var userContextKey contextKey

// currentUser returns the authenticated user stored by withAuth.
func currentUser(r *http.Request) *venue.User {
	user, _ := r.Context().Value(userContextKey).(*venue.User)
	return user
}

// withAuth resolves the `Authorization: TOKEN <key>` header to a user and
// rejects the request otherwise.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "TOKEN ") {
			s.writeError(w, http.StatusUnauthorized, "authorization header missing or malformed")
			return
		}
		user, err := s.identity.Authenticate(strings.TrimPrefix(header, "TOKEN "))
		if err != nil {
			s.writeErr(w, err)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userContextKey, user)))
	}
}

// withAdmin additionally requires the ADMIN role.
func (s *Server) withAdmin(next http.HandlerFunc) http.HandlerFunc {
	return s.withAuth(func(w http.ResponseWriter, r *http.Request) {
		if currentUser(r).Role != venue.RoleAdmin {
			s.writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		next(w, r)
	})
}
