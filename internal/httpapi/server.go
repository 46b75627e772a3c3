// Package httpapi exposes the panel over JSON HTTP: user registration and
// login, certificate lifecycle operations, and the admin stats view.
package httpapi

import (
	"net/http"

	"vpnpanel/internal/cert"
	"vpnpanel/internal/config"
	"vpnpanel/internal/store"

	"go.uber.org/zap"
)

type Server struct {
	cfg   config.Config
	store store.Store
	certs *cert.Service
	log   *zap.Logger
	mux   *http.ServeMux
	stats *statsCache
}

func NewServer(cfg config.Config, st store.Store, certs *cert.Service, log *zap.Logger) *Server {
	initJWTKey(cfg.JWTSecret)
	s := &Server{
		cfg:   cfg,
		store: st,
		certs: certs,
		log:   log,
		mux:   http.NewServeMux(),
		stats: newStatsCache(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = recoverMiddleware(s.log, h)
	h = requestIDMiddleware(h)
	h = loggingMiddleware(s.log, h)
	h = authMiddleware(h)
	return h
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)

	s.mux.HandleFunc("/v1/auth/register", s.handleRegister)
	s.mux.HandleFunc("/v1/auth/login", s.handleLogin)
	s.mux.HandleFunc("/v1/auth/verify", s.handleAuthVerify)

	s.mux.HandleFunc("/v1/users", s.handleUsers)
	s.mux.HandleFunc("/v1/users/{id}", s.handleUser)
	s.mux.HandleFunc("/v1/users/{id}/active", s.handleUserActive)
	s.mux.HandleFunc("/v1/users/{id}/certificates", s.handleUserCertificates)

	s.mux.HandleFunc("/v1/certificates/issue", s.handleCertIssue)
	s.mux.HandleFunc("/v1/certificates/{id}/renew", s.handleCertRenew)
	s.mux.HandleFunc("/v1/certificates/{id}/revoke", s.handleCertRevoke)
	s.mux.HandleFunc("/v1/certificates/{id}/download", s.handleCertDownload)
	s.mux.HandleFunc("/v1/certificates/expired", s.handleCertsExpired)
	s.mux.HandleFunc("/v1/certificates/expiring", s.handleCertsExpiring)
	s.mux.HandleFunc("/v1/certificates/revoked", s.handleCertsRevoked)
	s.mux.HandleFunc("/v1/certificates/crl", s.handleCRLDownload)
	s.mux.HandleFunc("/v1/certificates/stats", s.handleCertStats)
}
