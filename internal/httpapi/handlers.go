package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"vpnpanel/internal/cert"
	"vpnpanel/internal/model"

	"golang.org/x/crypto/bcrypt"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":   true,
		"time": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

type createUserRequest struct {
	Username string     `json:"username"`
	Password string     `json:"password"`
	FullName string     `json:"full_name"`
	Email    string     `json:"email"`
	Role     model.Role `json:"role"`
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if !claims.isAdmin() {
		writeError(w, http.StatusForbidden, "forbidden", "admin role required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		users, err := s.store.ListUsers(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"users": users})

	case http.MethodPost:
		var req createUserRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON")
			return
		}
		req.Username = strings.TrimSpace(req.Username)
		req.Email = strings.TrimSpace(req.Email)
		if !usernameRegex.MatchString(req.Username) {
			writeError(w, http.StatusBadRequest, "invalid_username", "username must be 3-30 characters (letters, numbers, _, ., -)")
			return
		}
		if !emailRegex.MatchString(req.Email) {
			writeError(w, http.StatusBadRequest, "invalid_email", "a valid email address is required")
			return
		}
		if msg := validatePassword(req.Password); msg != "" {
			writeError(w, http.StatusBadRequest, "invalid_password", msg)
			return
		}
		role := req.Role
		if role == "" {
			role = model.RoleUser
		}
		if role != model.RoleUser && role != model.RoleAdmin {
			writeError(w, http.StatusBadRequest, "invalid_role", "role must be USER or ADMIN")
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal", "failed to hash password")
			return
		}

		created, err := s.store.CreateUser(r.Context(), model.User{
			Username:     req.Username,
			FullName:     strings.TrimSpace(req.FullName),
			Email:        req.Email,
			PasswordHash: string(hash),
			Role:         role,
			Active:       true,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"user": created})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	id := r.PathValue("id")
	claims := claimsFromContext(r.Context())
	if !claims.isAdmin() && claims.UserID != id {
		writeError(w, http.StatusForbidden, "forbidden", "not your account")
		return
	}

	user, err := s.store.GetUserByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

type userActiveRequest struct {
	Active bool `json:"active"`
}

func (s *Server) handleUserActive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "PUT only")
		return
	}

	claims := claimsFromContext(r.Context())
	if !claims.isAdmin() {
		writeError(w, http.StatusForbidden, "forbidden", "admin role required")
		return
	}

	id := r.PathValue("id")
	if id == claims.UserID {
		writeError(w, http.StatusBadRequest, "invalid_request", "cannot change your own account state")
		return
	}

	var req userActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON")
		return
	}

	if err := s.store.SetUserActive(r.Context(), id, req.Active); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": id, "active": req.Active})
}

func (s *Server) handleUserCertificates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	id := r.PathValue("id")
	claims := claimsFromContext(r.Context())
	if !claims.isAdmin() && claims.UserID != id {
		writeError(w, http.StatusForbidden, "forbidden", "not your account")
		return
	}

	infos, err := s.certs.ListUserCertificates(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"certificates": infos})
}

type issueRequest struct {
	UserID       string `json:"user_id"`
	ValidityDays int    `json:"validity_days"`
}

func (s *Server) handleCertIssue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST only")
		return
	}

	var req issueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON")
		return
	}

	claims := claimsFromContext(r.Context())
	if req.UserID == "" {
		req.UserID = claims.UserID
	}
	if !claims.isAdmin() && req.UserID != claims.UserID {
		writeError(w, http.StatusForbidden, "forbidden", "cannot issue for another user")
		return
	}
	if req.ValidityDays == 0 {
		req.ValidityDays = s.cfg.DefaultValidityDays
	}

	info, err := s.certs.Issue(r.Context(), req.UserID, req.ValidityDays)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	s.stats.invalidate()
	writeJSON(w, http.StatusCreated, map[string]any{"certificate": info})
}

type renewRequest struct {
	ValidityDays int `json:"validity_days"`
}

func (s *Server) handleCertRenew(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST only")
		return
	}

	certID := r.PathValue("id")
	if !s.authorizeCertAccess(w, r, certID) {
		return
	}

	var req renewRequest
	if r.Body != nil {
		// A missing or empty body means the configured default validity.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.ValidityDays == 0 {
		req.ValidityDays = s.cfg.DefaultValidityDays
	}

	info, err := s.certs.Renew(r.Context(), certID, req.ValidityDays)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	s.stats.invalidate()
	writeJSON(w, http.StatusOK, map[string]any{"certificate": info})
}

func (s *Server) handleCertRevoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST only")
		return
	}

	certID := r.PathValue("id")
	if !s.authorizeCertAccess(w, r, certID) {
		return
	}

	if err := s.certs.Revoke(r.Context(), certID); err != nil {
		writeServiceError(w, err)
		return
	}

	s.stats.invalidate()
	writeJSON(w, http.StatusOK, map[string]any{"revoked": certID})
}

func (s *Server) handleCertsExpired(w http.ResponseWriter, r *http.Request) {
	s.handleCertFilter(w, r, func(now time.Time) ([]model.User, error) {
		return s.store.ListExpired(r.Context(), now)
	})
}

func (s *Server) handleCertsExpiring(w http.ResponseWriter, r *http.Request) {
	s.handleCertFilter(w, r, func(now time.Time) ([]model.User, error) {
		return s.store.ListExpiring(r.Context(), now, now.Add(s.cfg.WarnWindow()))
	})
}

func (s *Server) handleCertsRevoked(w http.ResponseWriter, r *http.Request) {
	s.handleCertFilter(w, r, func(time.Time) ([]model.User, error) {
		return s.store.ListRevoked(r.Context())
	})
}

// handleCertFilter is the shared admin listing: run the store query and
// surface each holder's credential with its derived status.
func (s *Server) handleCertFilter(w http.ResponseWriter, r *http.Request, list func(now time.Time) ([]model.User, error)) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	claims := claimsFromContext(r.Context())
	if !claims.isAdmin() {
		writeError(w, http.StatusForbidden, "forbidden", "admin role required")
		return
	}

	now := time.Now().UTC()
	users, err := list(now)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	infos := make([]cert.Info, 0, len(users))
	for _, u := range users {
		infos = append(infos, cert.Info{
			CertID:     u.Credential.ID,
			UserID:     u.ID,
			CommonName: u.Username,
			ExpiresAt:  u.Credential.ExpiresAt,
			Status:     u.Credential.StatusAt(now),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"certificates": infos})
}

// authorizeCertAccess allows admins through and checks ownership for
// everyone else. Writes the error response itself and reports whether the
// handler may proceed.
func (s *Server) authorizeCertAccess(w http.ResponseWriter, r *http.Request, certID string) bool {
	claims := claimsFromContext(r.Context())
	if claims.isAdmin() {
		return true
	}
	ok, err := s.certs.IsOwner(r.Context(), certID, claims.UserID)
	if err != nil {
		writeServiceError(w, err)
		return false
	}
	if !ok {
		writeError(w, http.StatusForbidden, "forbidden", "certificate does not belong to you")
		return false
	}
	return true
}
