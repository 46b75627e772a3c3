// Package store defines the persistent keyed store behind the panel.
// Implementations must make every credential transition a conditional
// read-modify-write on a single user record: concurrent renew/revoke on
// the same identifier must never both succeed against stale state.
package store

import (
	"context"
	"errors"
	"time"

	"vpnpanel/internal/model"
)

var (
	ErrNotFound = errors.New("not_found")
	ErrConflict = errors.New("conflict")

	// ErrUnavailable wraps persistence-layer failures (connection loss,
	// statement timeout). No partial write may be assumed committed.
	ErrUnavailable = errors.New("store_unavailable")
)

type Store interface {
	CreateUser(ctx context.Context, u model.User) (model.User, error)
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	GetUserByCertID(ctx context.Context, certID string) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)

	// SetUserActive flips the account-enabled flag. A disabled account
	// cannot log in; its credential state is untouched.
	SetUserActive(ctx context.Context, userID string, active bool) error

	// CertIDExists is the global uniqueness check used by the identifier
	// generator.
	CertIDExists(ctx context.Context, certID string) (bool, error)

	// AssignCertID reserves a freshly generated identifier for a user that
	// holds none. ErrConflict if the user already has an identifier.
	AssignCertID(ctx context.Context, userID, certID string) error

	// ClearCertID rolls back a reservation made by AssignCertID. The clear
	// only applies while the user still holds exactly certID.
	ClearCertID(ctx context.Context, userID, certID string) error

	// ActivateCredential enables the credential and sets its expiry,
	// conditioned on the user still holding certID.
	ActivateCredential(ctx context.Context, certID string, expiresAt time.Time) error

	// RevokeCredential disables the credential and backdates its expiry,
	// conditioned on the user still holding certID.
	RevokeCredential(ctx context.Context, certID string, expiresAt time.Time) error

	// UpdateLockout persists the account lockout state as a point write.
	UpdateLockout(ctx context.Context, userID string, lo model.Lockout) error

	TouchLastLogin(ctx context.Context, userID string, at time.Time) error

	// ListExpiring returns users with an enabled credential expiring in
	// (from, until]. ListExpired returns users with an enabled credential
	// already expired at asOf. Both feed the sweeper.
	ListExpiring(ctx context.Context, from, until time.Time) ([]model.User, error)
	ListExpired(ctx context.Context, asOf time.Time) ([]model.User, error)

	// ListRevoked returns users whose credential was revoked: disabled
	// with an expiry still set.
	ListRevoked(ctx context.Context) ([]model.User, error)

	CertificateStats(ctx context.Context, now, soon time.Time) (model.CertStats, error)
}
