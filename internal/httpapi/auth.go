package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode"

	"vpnpanel/internal/model"
	"vpnpanel/internal/store"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string     `json:"token"`
	User  model.User `json:"user"`
}

var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]{3,30}$`)
var emailRegex = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

func validatePassword(pw string) string {
	if len(pw) < 6 {
		return "password must be at least 6 characters"
	}
	hasUpper := false
	hasSpecial := false
	for _, r := range pw {
		if unicode.IsUpper(r) {
			hasUpper = true
		}
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			hasSpecial = true
		}
	}
	if !hasUpper {
		return "password must contain at least one uppercase letter"
	}
	if !hasSpecial {
		return "password must contain at least one special character"
	}
	return ""
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST only")
		return
	}

	var req registerRequest
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

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to hash password")
		return
	}

	user := model.User{
		Username:     req.Username,
		FullName:     strings.TrimSpace(req.FullName),
		Email:        req.Email,
		PasswordHash: string(hash),
		Role:         model.RoleUser,
		Active:       true,
	}

	created, err := s.store.CreateUser(r.Context(), user)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			writeError(w, http.StatusConflict, "conflict", "username or email already exists")
			return
		}
		writeServiceError(w, err)
		return
	}

	token, err := generateJWT(created)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to generate token")
		return
	}

	writeJSON(w, http.StatusCreated, authResponse{Token: token, User: created})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST only")
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON")
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "username is required")
		return
	}

	user, err := s.store.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid username or password")
		return
	}

	now := time.Now().UTC()
	lo := user.Lockout
	wasLocked := lo.Locked
	if lo.IsLocked(now, s.cfg.LockDuration()) {
		writeError(w, http.StatusLocked, "account_locked", "account temporarily locked, try again later")
		return
	}
	if wasLocked {
		// The lock expired lazily; persist the reset so the counter does
		// not carry over.
		if err := s.store.UpdateLockout(r.Context(), user.ID, lo); err != nil {
			s.log.Error("lockout reset persist failed", zap.String("user_id", user.ID), zap.Error(err))
		}
	}

	if !user.Active {
		writeError(w, http.StatusForbidden, "account_disabled", "account is disabled")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		locked := lo.RecordFailure(s.cfg.MaxLoginAttempts, now)
		if err := s.store.UpdateLockout(r.Context(), user.ID, lo); err != nil {
			s.log.Error("lockout persist failed", zap.String("user_id", user.ID), zap.Error(err))
		}
		if locked {
			s.log.Warn("account locked after repeated failures",
				zap.String("user_id", user.ID),
				zap.Int("failed_attempts", lo.FailedAttempts))
			writeError(w, http.StatusLocked, "account_locked", "account temporarily locked, try again later")
			return
		}
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid username or password")
		return
	}

	lo.RecordSuccess()
	if err := s.store.UpdateLockout(r.Context(), user.ID, lo); err != nil {
		s.log.Error("lockout reset persist failed", zap.String("user_id", user.ID), zap.Error(err))
	}
	if err := s.store.TouchLastLogin(r.Context(), user.ID, now); err != nil {
		s.log.Error("last login persist failed", zap.String("user_id", user.ID), zap.Error(err))
	}

	token, err := generateJWT(*user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to generate token")
		return
	}

	writeJSON(w, http.StatusOK, authResponse{Token: token, User: *user})
}

func (s *Server) handleAuthVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET only")
		return
	}

	auth := r.Header.Get("Authorization")
	if auth == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "no token provided")
		return
	}

	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(auth, bearerPrefix) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token format")
		return
	}

	claims, err := parseJWT(strings.TrimSpace(strings.TrimPrefix(auth, bearerPrefix)))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"user_id":  claims.UserID,
		"username": claims.Username,
		"role":     string(claims.Role),
	})
}
