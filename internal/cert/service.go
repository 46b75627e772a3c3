// Package cert owns the certificate lifecycle: issuance, renewal, and
// revocation of per-user VPN credentials, plus the periodic sweeper that
// warns about and reaps expiring ones. State transitions live in the
// store; cryptography lives behind the signer gateway. This package only
// orchestrates the two.
package cert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vpnpanel/internal/certid"
	"vpnpanel/internal/model"
	"vpnpanel/internal/signer"
	"vpnpanel/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// idProvenance tags whether the identifier involved in an issuance was
// generated in this call or already belonged to the user. The failure
// handler needs the distinction explicitly: a fresh identifier that never
// activated is rolled back, a pre-existing one is kept.
type idProvenance int

const (
	existingID idProvenance = iota
	freshID
)

type Service struct {
	store  store.Store
	signer signer.Signer
	log    *zap.Logger
	now    func() time.Time
}

func NewService(st store.Store, sg signer.Signer, log *zap.Logger) *Service {
	return &Service{store: st, signer: sg, log: log, now: time.Now}
}

// Info describes one credential as surfaced by the API. Status is always
// derived, never stored.
type Info struct {
	CertID     string     `json:"cert_id"`
	UserID     string     `json:"user_id"`
	CommonName string     `json:"common_name"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	Status     string     `json:"status"`
}

func validateCertID(id string) error {
	if !certid.Valid(id) {
		return fmt.Errorf("%w: certificate identifier %q", ErrInvalidFormat, id)
	}
	return nil
}

func validateUserID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: user id %q", ErrInvalidFormat, id)
	}
	return nil
}

func validateValidityDays(days int) error {
	if days < 1 {
		return fmt.Errorf("%w: validity days must be >= 1, got %d", ErrInvalidFormat, days)
	}
	return nil
}

// Issue provisions a credential for the user, generating a fresh
// identifier if the user never held one. If the signer fails, a freshly
// generated identifier is rolled back so it does not linger reserved but
// dead; a pre-existing identifier is left untouched so a transient failure
// of a re-issue cannot discard live material.
func (s *Service) Issue(ctx context.Context, userID string, validityDays int) (Info, error) {
	if err := validateUserID(userID); err != nil {
		return Info{}, err
	}
	if err := validateValidityDays(validityDays); err != nil {
		return Info{}, err
	}

	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Info{}, err
	}

	certID := user.Credential.ID
	provenance := existingID
	if certID == "" {
		certID, err = certid.Generate(ctx, s.store.CertIDExists)
		if err != nil {
			return Info{}, err
		}
		if err := s.store.AssignCertID(ctx, userID, certID); err != nil {
			return Info{}, err
		}
		provenance = freshID
	}

	if err := s.signer.Run(ctx, certID, signer.ActionGenerate); err != nil {
		s.rollbackIssue(ctx, userID, certID, provenance)
		s.log.Error("certificate issuance failed",
			zap.String("user_id", userID),
			zap.String("cert_id", certID),
			zap.Error(err))
		return Info{}, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	now := s.now().UTC()
	expiresAt := now.AddDate(0, 0, validityDays)
	if err := s.store.ActivateCredential(ctx, certID, expiresAt); err != nil {
		s.rollbackIssue(ctx, userID, certID, provenance)
		return Info{}, err
	}

	s.log.Info("certificate issued",
		zap.String("user_id", userID),
		zap.String("cert_id", certID),
		zap.Time("expires_at", expiresAt))

	return Info{
		CertID:     certID,
		UserID:     user.ID,
		CommonName: user.Username,
		ExpiresAt:  &expiresAt,
		Status:     model.StatusActive,
	}, nil
}

// rollbackIssue clears an identifier generated within the failing call.
// Identifiers the user already held are kept as-is.
func (s *Service) rollbackIssue(ctx context.Context, userID, certID string, p idProvenance) {
	if p != freshID {
		return
	}
	if err := s.store.ClearCertID(ctx, userID, certID); err != nil {
		s.log.Error("rollback of fresh certificate identifier failed",
			zap.String("user_id", userID),
			zap.String("cert_id", certID),
			zap.Error(err))
	}
}

// Renew re-signs an existing credential and pushes its expiry out. The
// identifier never changes; a failure leaves the credential exactly as it
// was.
func (s *Service) Renew(ctx context.Context, certID string, validityDays int) (Info, error) {
	if err := validateCertID(certID); err != nil {
		return Info{}, err
	}
	if err := validateValidityDays(validityDays); err != nil {
		return Info{}, err
	}

	user, err := s.store.GetUserByCertID(ctx, certID)
	if err != nil {
		return Info{}, err
	}

	if err := s.signer.Run(ctx, certID, signer.ActionGenerate); err != nil {
		s.log.Error("certificate renewal failed",
			zap.String("cert_id", certID),
			zap.Error(err))
		return Info{}, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	now := s.now().UTC()
	expiresAt := now.AddDate(0, 0, validityDays)
	if err := s.store.ActivateCredential(ctx, certID, expiresAt); err != nil {
		return Info{}, err
	}

	s.log.Info("certificate renewed",
		zap.String("cert_id", certID),
		zap.Time("expires_at", expiresAt))

	return Info{
		CertID:     certID,
		UserID:     user.ID,
		CommonName: user.Username,
		ExpiresAt:  &expiresAt,
		Status:     model.StatusRenewed,
	}, nil
}

// Revoke disables a credential. The expiry is backdated one second so the
// activity predicate reads it as already invalid; there is no separate
// revoked flag. Revocation either fully commits or fully fails.
func (s *Service) Revoke(ctx context.Context, certID string) error {
	if err := validateCertID(certID); err != nil {
		return err
	}

	user, err := s.store.GetUserByCertID(ctx, certID)
	if err != nil {
		return err
	}

	if err := s.signer.Run(ctx, certID, signer.ActionRevoke); err != nil {
		s.log.Error("certificate revocation failed",
			zap.String("cert_id", certID),
			zap.Error(err))
		return fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	backdated := s.now().UTC().Add(-time.Second)
	if err := s.store.RevokeCredential(ctx, certID, backdated); err != nil {
		return err
	}

	s.log.Info("certificate revoked",
		zap.String("cert_id", certID),
		zap.String("user_id", user.ID))

	// The revocation is committed; a CRL refresh failure only delays
	// propagation and is retried on the next revoke.
	if err := s.signer.Run(ctx, certID, signer.ActionGenerateCRL); err != nil {
		s.log.Warn("CRL refresh failed after revoke",
			zap.String("cert_id", certID),
			zap.Error(err))
	}
	return nil
}

// IsOwner reports whether certID belongs to userID. Pure lookup, used as
// an authorization predicate; it must never mutate anything.
func (s *Service) IsOwner(ctx context.Context, certID, userID string) (bool, error) {
	if err := validateCertID(certID); err != nil {
		return false, err
	}
	if err := validateUserID(userID); err != nil {
		return false, err
	}

	user, err := s.store.GetUserByCertID(ctx, certID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return user.ID == userID, nil
}

// ListUserCertificates returns the user's credential (at most one) with
// its derived status.
func (s *Service) ListUserCertificates(ctx context.Context, userID string) ([]Info, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}

	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if user.Credential.ID == "" {
		return []Info{}, nil
	}
	return []Info{{
		CertID:     user.Credential.ID,
		UserID:     user.ID,
		CommonName: user.Username,
		ExpiresAt:  user.Credential.ExpiresAt,
		Status:     user.Credential.StatusAt(s.now().UTC()),
	}}, nil
}

// Stats aggregates credential counts, with "expiring soon" meaning within
// the next 30 days.
func (s *Service) Stats(ctx context.Context) (model.CertStats, error) {
	now := s.now().UTC()
	return s.store.CertificateStats(ctx, now, now.AddDate(0, 0, 30))
}
