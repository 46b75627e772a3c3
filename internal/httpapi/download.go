package httpapi

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"vpnpanel/internal/certid"
)

// handleCertDownload serves the generated client bundle for one
// credential: <certs dir>/<id>/<id>.zip, produced by the signer script on
// generate. Ownership-gated like every other per-credential operation.
func (s *Server) handleCertDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET only")
		return
	}

	certID := r.PathValue("id")
	// The format check also pins the identifier to a safe character set
	// before it becomes part of a filesystem path.
	if !certid.Valid(certID) {
		writeError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("invalid certificate identifier %q", certID))
		return
	}
	if !s.authorizeCertAccess(w, r, certID) {
		return
	}

	path := filepath.Join(s.cfg.CertsDir, certID, certID+".zip")
	s.serveFile(w, path, certID+".zip", "application/zip", "certificate bundle not available")
}

// handleCRLDownload serves the current revocation list. Admin only; the
// file is maintained by the signer script's generate_crl action.
func (s *Server) handleCRLDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET only")
		return
	}

	claims := claimsFromContext(r.Context())
	if !claims.isAdmin() {
		writeError(w, http.StatusForbidden, "forbidden", "admin role required")
		return
	}

	s.serveFile(w, s.cfg.CRLPath, filepath.Base(s.cfg.CRLPath), "application/x-pem-file", "revocation list not available")
}

func (s *Server) serveFile(w http.ResponseWriter, path, name, contentType, missingMsg string) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			writeError(w, http.StatusNotFound, "not_found", missingMsg)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", "failed to read file")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, f)
}
