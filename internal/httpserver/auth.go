package httpserver

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/VisoroGroup/Voice-to-text/pkg/password"
)

// HandleLogin checks the dashboard password and issues an access token.
func (s *Server) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if s.opts.AdminPasswordHash == "" {
		s.handleError(w, NewValidationError("Dashboard auth is not configured"))
		return
	}

	var payload struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.handleError(w, NewValidationError("Invalid JSON format: "+err.Error()))
		return
	}

	if err := password.Verify(s.opts.AdminPasswordHash, payload.Password); err != nil {
		s.handleError(w, NewUnauthorizedError("Invalid password"))
		return
	}

	token, err := s.jwtService.GenerateToken("dashboard")
	if err != nil {
		s.handleError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]string{"token": token})
}

// AuthMiddleware requires a valid bearer token on mutating dashboard
// routes. When no admin password is configured auth is disabled, which
// keeps local development friction-free.
func (s *Server) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.AdminPasswordHash == "" {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || token == "" {
			s.handleError(w, NewUnauthorizedError("Missing bearer token"))
			return
		}

		if _, err := s.jwtService.ValidateToken(token); err != nil {
			s.handleError(w, NewUnauthorizedError("Invalid token"))
			return
		}

		next.ServeHTTP(w, r)
	})
}
