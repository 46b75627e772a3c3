package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"vpnpanel/internal/cert"
	"vpnpanel/internal/config"
	"vpnpanel/internal/model"
	"vpnpanel/internal/signer"
	"vpnpanel/internal/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const testPassword = "Secr3t!pw"

type okSigner struct{}

func (okSigner) Run(context.Context, string, signer.Action) error { return nil }

func newTestServer(t *testing.T) (*Server, *memory.Store) {
	t.Helper()
	st := memory.NewStore()
	cfg := config.Config{
		JWTSecret:           "test-secret",
		DefaultValidityDays: 30,
		WarnWindowDays:      30,
		MaxLoginAttempts:    3,
		LockDurationMinutes: 15,
		CertsDir:            t.TempDir(),
		CRLPath:             filepath.Join(t.TempDir(), "crl.pem"),
	}
	certs := cert.NewService(st, okSigner{}, zap.NewNop())
	return NewServer(cfg, st, certs, zap.NewNop()), st
}

func seedAccount(t *testing.T, st *memory.Store, username string, role model.Role) model.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)
	u, err := st.CreateUser(context.Background(), model.User{
		Username:     username,
		FullName:     "Test " + username,
		Email:        username + "@example.com",
		PasswordHash: string(hash),
		Role:         role,
		Active:       true,
	})
	require.NoError(t, err)
	return u
}

func tokenFor(t *testing.T, u model.User) string {
	t.Helper()
	token, err := generateJWT(u)
	require.NoError(t, err)
	return token
}

func doRequest(t *testing.T, srv *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var res errorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	return res.Error.Code
}

func TestRegisterAndLogin(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/v1/auth/register", "", map[string]string{
		"username":  "alice",
		"password":  testPassword,
		"full_name": "Alice Silva",
		"email":     "alice@example.com",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var reg authResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&reg))
	assert.NotEmpty(t, reg.Token)
	assert.Equal(t, model.RoleUser, reg.User.Role)
	assert.Empty(t, reg.User.PasswordHash)

	rec = doRequest(t, srv, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"username": "alice",
		"password": testPassword,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var login authResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&login))

	rec = doRequest(t, srv, http.MethodGet, "/v1/auth/verify", login.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRegisterValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	cases := []struct {
		name string
		body map[string]string
		code string
	}{
		{"short username", map[string]string{"username": "ab", "password": testPassword, "email": "a@b.co"}, "invalid_username"},
		{"bad email", map[string]string{"username": "bob", "password": testPassword, "email": "not-an-email"}, "invalid_email"},
		{"weak password", map[string]string{"username": "bob", "password": "short", "email": "bob@example.com"}, "invalid_password"},
		{"no uppercase", map[string]string{"username": "bob", "password": "secr3t!pw", "email": "bob@example.com"}, "invalid_password"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(t, srv, http.MethodPost, "/v1/auth/register", "", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tc.code, errorCode(t, rec))
		})
	}
}

func TestRegisterDuplicateUsername(t *testing.T) {
	srv, st := newTestServer(t)
	seedAccount(t, st, "alice", model.RoleUser)

	rec := doRequest(t, srv, http.MethodPost, "/v1/auth/register", "", map[string]string{
		"username": "alice",
		"password": testPassword,
		"email":    "other@example.com",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestLoginLocksAfterRepeatedFailures(t *testing.T) {
	srv, st := newTestServer(t)
	u := seedAccount(t, st, "alice", model.RoleUser)

	bad := map[string]string{"username": "alice", "password": "wrong"}
	rec := doRequest(t, srv, http.MethodPost, "/v1/auth/login", "", bad)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = doRequest(t, srv, http.MethodPost, "/v1/auth/login", "", bad)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Third failure trips the lock.
	rec = doRequest(t, srv, http.MethodPost, "/v1/auth/login", "", bad)
	assert.Equal(t, http.StatusLocked, rec.Code)
	assert.Equal(t, "account_locked", errorCode(t, rec))

	// Even the right password is rejected while locked.
	rec = doRequest(t, srv, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"username": "alice", "password": testPassword,
	})
	assert.Equal(t, http.StatusLocked, rec.Code)

	got, err := st.GetUserByID(context.Background(), u.ID)
	require.NoError(t, err)
	assert.True(t, got.Lockout.Locked)
	require.NotNil(t, got.Lockout.LockedAt)
}

func TestLoginSuccessResetsFailureCounter(t *testing.T) {
	srv, st := newTestServer(t)
	u := seedAccount(t, st, "alice", model.RoleUser)

	bad := map[string]string{"username": "alice", "password": "wrong"}
	good := map[string]string{"username": "alice", "password": testPassword}

	doRequest(t, srv, http.MethodPost, "/v1/auth/login", "", bad)
	doRequest(t, srv, http.MethodPost, "/v1/auth/login", "", bad)

	rec := doRequest(t, srv, http.MethodPost, "/v1/auth/login", "", good)
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := st.GetUserByID(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Lockout.FailedAttempts)
	require.NotNil(t, got.LastLogin)

	// The counter restarted, so two more failures stay below the limit.
	doRequest(t, srv, http.MethodPost, "/v1/auth/login", "", bad)
	rec = doRequest(t, srv, http.MethodPost, "/v1/auth/login", "", bad)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginUnlocksAfterLockWindow(t *testing.T) {
	srv, st := newTestServer(t)
	u := seedAccount(t, st, "alice", model.RoleUser)

	lockedAt := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, st.UpdateLockout(context.Background(), u.ID, model.Lockout{
		FailedAttempts: 3,
		Locked:         true,
		LockedAt:       &lockedAt,
	}))

	rec := doRequest(t, srv, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"username": "alice", "password": testPassword,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got, err := st.GetUserByID(context.Background(), u.ID)
	require.NoError(t, err)
	assert.False(t, got.Lockout.Locked)
	assert.Equal(t, 0, got.Lockout.FailedAttempts)
}

func TestAuthRequired(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/v1/users", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/v1/users", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUsersAdminOnly(t *testing.T) {
	srv, st := newTestServer(t)
	user := seedAccount(t, st, "alice", model.RoleUser)
	admin := seedAccount(t, st, "root", model.RoleAdmin)

	rec := doRequest(t, srv, http.MethodGet, "/v1/users", tokenFor(t, user), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/v1/users", tokenFor(t, admin), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Self lookup is allowed without admin.
	rec = doRequest(t, srv, http.MethodGet, "/v1/users/"+user.ID, tokenFor(t, user), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/v1/users/"+admin.ID, tokenFor(t, user), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdminCreatesUserWithRole(t *testing.T) {
	srv, st := newTestServer(t)
	admin := seedAccount(t, st, "root", model.RoleAdmin)

	rec := doRequest(t, srv, http.MethodPost, "/v1/users", tokenFor(t, admin), map[string]string{
		"username": "operator",
		"password": testPassword,
		"email":    "op@example.com",
		"role":     "ADMIN",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	got, err := st.GetUserByUsername(context.Background(), "operator")
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, got.Role)
}

func TestCertificateLifecycleOverHTTP(t *testing.T) {
	srv, st := newTestServer(t)
	user := seedAccount(t, st, "alice", model.RoleUser)
	token := tokenFor(t, user)

	rec := doRequest(t, srv, http.MethodPost, "/v1/certificates/issue", token, map[string]any{})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var issued map[string]cert.Info
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&issued))
	certID := issued["certificate"].CertID
	require.NotEmpty(t, certID)
	assert.Equal(t, model.StatusActive, issued["certificate"].Status)

	rec = doRequest(t, srv, http.MethodGet, "/v1/users/"+user.ID+"/certificates", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/v1/certificates/"+certID+"/renew", token, map[string]int{"validity_days": 90})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var renewed map[string]cert.Info
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&renewed))
	assert.Equal(t, model.StatusRenewed, renewed["certificate"].Status)

	rec = doRequest(t, srv, http.MethodPost, "/v1/certificates/"+certID+"/revoke", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got, err := st.GetUserByCertID(context.Background(), certID)
	require.NoError(t, err)
	assert.False(t, got.Credential.Enabled)
}

func TestCertificateOwnershipEnforced(t *testing.T) {
	srv, st := newTestServer(t)
	alice := seedAccount(t, st, "alice", model.RoleUser)
	mallory := seedAccount(t, st, "mallory", model.RoleUser)
	admin := seedAccount(t, st, "root", model.RoleAdmin)

	rec := doRequest(t, srv, http.MethodPost, "/v1/certificates/issue", tokenFor(t, alice), map[string]any{})
	require.Equal(t, http.StatusCreated, rec.Code)
	var issued map[string]cert.Info
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&issued))
	certID := issued["certificate"].CertID

	// Another user cannot touch it.
	rec = doRequest(t, srv, http.MethodPost, "/v1/certificates/"+certID+"/revoke", tokenFor(t, mallory), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Issuing for someone else requires admin.
	rec = doRequest(t, srv, http.MethodPost, "/v1/certificates/issue", tokenFor(t, mallory), map[string]any{
		"user_id": alice.ID,
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Admin can do both.
	rec = doRequest(t, srv, http.MethodPost, "/v1/certificates/"+certID+"/revoke", tokenFor(t, admin), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCertificateStatsAdminOnly(t *testing.T) {
	srv, st := newTestServer(t)
	user := seedAccount(t, st, "alice", model.RoleUser)
	admin := seedAccount(t, st, "root", model.RoleAdmin)

	rec := doRequest(t, srv, http.MethodGet, "/v1/certificates/stats", tokenFor(t, user), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	doRequest(t, srv, http.MethodPost, "/v1/certificates/issue", tokenFor(t, user), map[string]any{})

	rec = doRequest(t, srv, http.MethodGet, "/v1/certificates/stats", tokenFor(t, admin), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp map[string]model.CertStats
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 1, resp["stats"].Total)
	assert.Equal(t, 1, resp["stats"].Active)
}

func TestCertificateDownload(t *testing.T) {
	srv, st := newTestServer(t)
	alice := seedAccount(t, st, "alice", model.RoleUser)
	mallory := seedAccount(t, st, "mallory", model.RoleUser)

	rec := doRequest(t, srv, http.MethodPost, "/v1/certificates/issue", tokenFor(t, alice), map[string]any{})
	require.Equal(t, http.StatusCreated, rec.Code)
	var issued map[string]cert.Info
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&issued))
	certID := issued["certificate"].CertID

	// The signer has not produced a bundle yet.
	rec = doRequest(t, srv, http.MethodGet, "/v1/certificates/"+certID+"/download", tokenFor(t, alice), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", errorCode(t, rec))

	bundleDir := filepath.Join(srv.cfg.CertsDir, certID)
	require.NoError(t, os.MkdirAll(bundleDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(bundleDir, certID+".zip"), []byte("zip-bytes"), 0o644))

	rec = doRequest(t, srv, http.MethodGet, "/v1/certificates/"+certID+"/download", tokenFor(t, alice), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), certID+".zip")
	assert.Equal(t, "zip-bytes", rec.Body.String())

	// Someone else's bundle stays off limits.
	rec = doRequest(t, srv, http.MethodGet, "/v1/certificates/"+certID+"/download", tokenFor(t, mallory), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// A path-traversal shaped identifier never reaches the filesystem.
	rec = doRequest(t, srv, http.MethodGet, "/v1/certificates/..%2Fsecrets/download", tokenFor(t, alice), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCRLDownload(t *testing.T) {
	srv, st := newTestServer(t)
	user := seedAccount(t, st, "alice", model.RoleUser)
	admin := seedAccount(t, st, "root", model.RoleAdmin)

	rec := doRequest(t, srv, http.MethodGet, "/v1/certificates/crl", tokenFor(t, user), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/v1/certificates/crl", tokenFor(t, admin), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.NoError(t, os.WriteFile(srv.cfg.CRLPath, []byte("-----BEGIN X509 CRL-----"), 0o644))
	rec = doRequest(t, srv, http.MethodGet, "/v1/certificates/crl", tokenFor(t, admin), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "-----BEGIN X509 CRL-----", rec.Body.String())
}

func TestAdminCertificateFilters(t *testing.T) {
	srv, st := newTestServer(t)
	ctx := context.Background()
	admin := seedAccount(t, st, "root", model.RoleAdmin)

	issue := func(username string) string {
		u := seedAccount(t, st, username, model.RoleUser)
		rec := doRequest(t, srv, http.MethodPost, "/v1/certificates/issue", tokenFor(t, u), map[string]any{})
		require.Equal(t, http.StatusCreated, rec.Code)
		var issued map[string]cert.Info
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&issued))
		return issued["certificate"].CertID
	}

	expiredID := issue("expired")
	revokedID := issue("revoked")
	healthyID := issue("healthy")

	require.NoError(t, st.ActivateCredential(ctx, expiredID, time.Now().UTC().Add(-time.Hour)))
	rec := doRequest(t, srv, http.MethodPost, "/v1/certificates/"+revokedID+"/revoke", tokenFor(t, admin), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	certIDs := func(path string) []string {
		rec := doRequest(t, srv, http.MethodGet, path, tokenFor(t, admin), nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var resp map[string][]cert.Info
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		ids := make([]string, 0, len(resp["certificates"]))
		for _, info := range resp["certificates"] {
			ids = append(ids, info.CertID)
		}
		return ids
	}

	assert.Equal(t, []string{expiredID}, certIDs("/v1/certificates/expired"))
	assert.Equal(t, []string{revokedID}, certIDs("/v1/certificates/revoked"))
	// The healthy 30-day credential falls inside the 30-day warn window.
	assert.Equal(t, []string{healthyID}, certIDs("/v1/certificates/expiring"))

	// Admin only.
	user := seedAccount(t, st, "plain", model.RoleUser)
	rec = doRequest(t, srv, http.MethodGet, "/v1/certificates/expired", tokenFor(t, user), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestUserDeactivation(t *testing.T) {
	srv, st := newTestServer(t)
	user := seedAccount(t, st, "alice", model.RoleUser)
	admin := seedAccount(t, st, "root", model.RoleAdmin)

	// Only admins may flip the flag.
	rec := doRequest(t, srv, http.MethodPut, "/v1/users/"+user.ID+"/active", tokenFor(t, user), map[string]bool{"active": false})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(t, srv, http.MethodPut, "/v1/users/"+user.ID+"/active", tokenFor(t, admin), map[string]bool{"active": false})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doRequest(t, srv, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"username": "alice", "password": testPassword,
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "account_disabled", errorCode(t, rec))

	// Admins cannot lock themselves out of the panel.
	rec = doRequest(t, srv, http.MethodPut, "/v1/users/"+admin.ID+"/active", tokenFor(t, admin), map[string]bool{"active": false})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, srv, http.MethodPut, "/v1/users/"+user.ID+"/active", tokenFor(t, admin), map[string]bool{"active": true})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"username": "alice", "password": testPassword,
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRenewUnknownCertificate(t *testing.T) {
	srv, st := newTestServer(t)
	admin := seedAccount(t, st, "root", model.RoleAdmin)

	rec := doRequest(t, srv, http.MethodPost, "/v1/certificates/AAAAAA1/renew", tokenFor(t, admin), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/v1/certificates/lowercase/renew", tokenFor(t, admin), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", errorCode(t, rec))
}
