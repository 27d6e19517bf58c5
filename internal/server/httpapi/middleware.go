package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/vaultfs/vaultfs/internal/server/auth"
)

type ctxKey string

const userIDKey ctxKey = "userID"

// withAuth validates the bearer token and stores the authenticated user
// id in the request context.
func (s *Server) withAuth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}

		userID, err := auth.GetUserIDFromToken(token, s.jwtSecret)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	})
}

// authedUser returns the user id placed in the context by withAuth.
func authedUser(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}
