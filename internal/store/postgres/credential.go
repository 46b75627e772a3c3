package postgres

import (
	"context"
	"errors"
	"time"

	"vpnpanel/internal/model"
	"vpnpanel/internal/store"
)

func (s *Store) CertIDExists(ctx context.Context, certID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		select exists(select 1 from users where cert_id = $1)
	`, certID).Scan(&exists)
	if err != nil {
		return false, mapPgErr(err)
	}
	return exists, nil
}

func (s *Store) AssignCertID(ctx context.Context, userID, certID string) error {
	tag, err := s.pool.Exec(ctx, `
		update users
		set cert_id = $2,
		    updated_at = now()
		where id = $1::uuid and cert_id is null
	`, userID, certID)
	if err != nil {
		return mapPgErr(err)
	}
	if tag.RowsAffected() == 0 {
		return s.userMissingOrConflict(ctx, userID)
	}
	return nil
}

func (s *Store) ClearCertID(ctx context.Context, userID, certID string) error {
	tag, err := s.pool.Exec(ctx, `
		update users
		set cert_id = null,
		    cert_expires_at = null,
		    cert_enabled = false,
		    updated_at = now()
		where id = $1::uuid and cert_id = $2
	`, userID, certID)
	if err != nil {
		return mapPgErr(err)
	}
	if tag.RowsAffected() == 0 {
		return s.userMissingOrConflict(ctx, userID)
	}
	return nil
}

func (s *Store) ActivateCredential(ctx context.Context, certID string, expiresAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		update users
		set cert_expires_at = $2,
		    cert_enabled = true,
		    updated_at = now()
		where cert_id = $1
	`, certID, expiresAt)
	if err != nil {
		return mapPgErr(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) RevokeCredential(ctx context.Context, certID string, expiresAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		update users
		set cert_expires_at = $2,
		    cert_enabled = false,
		    updated_at = now()
		where cert_id = $1
	`, certID, expiresAt)
	if err != nil {
		return mapPgErr(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// userMissingOrConflict disambiguates a zero-row conditional update: the
// user either does not exist (not found) or exists with a different
// credential state (conflict).
func (s *Store) userMissingOrConflict(ctx context.Context, userID string) error {
	_, err := s.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.ErrNotFound
		}
		return err
	}
	return store.ErrConflict
}

func (s *Store) ListExpiring(ctx context.Context, from, until time.Time) ([]model.User, error) {
	return s.listByExpiry(ctx, `
		select `+userColumns+`
		from users
		where cert_enabled and cert_expires_at > $1 and cert_expires_at <= $2
		order by cert_expires_at
	`, from, until)
}

func (s *Store) ListExpired(ctx context.Context, asOf time.Time) ([]model.User, error) {
	return s.listByExpiry(ctx, `
		select `+userColumns+`
		from users
		where cert_enabled and cert_expires_at <= $1
		order by cert_expires_at
	`, asOf)
}

func (s *Store) ListRevoked(ctx context.Context) ([]model.User, error) {
	return s.listByExpiry(ctx, `
		select `+userColumns+`
		from users
		where cert_id is not null and not cert_enabled and cert_expires_at is not null
		order by cert_expires_at
	`)
}

func (s *Store) listByExpiry(ctx context.Context, query string, args ...any) ([]model.User, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapPgErr(err)
	}
	defer rows.Close()

	var out []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgErr(err)
	}
	return out, nil
}

func (s *Store) CertificateStats(ctx context.Context, now, soon time.Time) (model.CertStats, error) {
	var st model.CertStats
	err := s.pool.QueryRow(ctx, `
		select
			count(*) filter (where cert_id is not null),
			count(*) filter (where cert_enabled and cert_expires_at > $1),
			count(*) filter (where cert_id is not null and not cert_enabled and cert_expires_at is not null),
			count(*) filter (where cert_enabled and cert_expires_at > $1 and cert_expires_at <= $2)
		from users
	`, now, soon).Scan(&st.Total, &st.Active, &st.Revoked, &st.ExpiringSoon)
	if err != nil {
		return model.CertStats{}, mapPgErr(err)
	}
	st.Expired = st.Total - st.Active - st.Revoked
	return st, nil
}
