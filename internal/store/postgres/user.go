package postgres

import (
	"context"
	"time"

	"vpnpanel/internal/model"
	"vpnpanel/internal/store"

	"github.com/jackc/pgx/v5"
)

const userColumns = `
	id::text, username, full_name, email, password_hash, role, active,
	coalesce(cert_id, ''), cert_expires_at, cert_enabled,
	failed_attempts, locked, locked_at,
	last_login, created_at, updated_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(
		&u.ID, &u.Username, &u.FullName, &u.Email, &u.PasswordHash, &u.Role, &u.Active,
		&u.Credential.ID, &u.Credential.ExpiresAt, &u.Credential.Enabled,
		&u.Lockout.FailedAttempts, &u.Lockout.Locked, &u.Lockout.LockedAt,
		&u.LastLogin, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, mapPgErr(err)
	}
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, u model.User) (model.User, error) {
	if u.Role == "" {
		u.Role = model.RoleUser
	}
	row := s.pool.QueryRow(ctx, `
		insert into users (username, full_name, email, password_hash, role)
		values ($1, $2, $3, $4, $5)
		returning `+userColumns,
		u.Username, u.FullName, u.Email, u.PasswordHash, string(u.Role))

	out, err := scanUser(row)
	if err != nil {
		return model.User{}, err
	}
	return *out, nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return scanUser(s.pool.QueryRow(ctx, `
		select `+userColumns+`
		from users
		where id = $1::uuid
	`, id))
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return scanUser(s.pool.QueryRow(ctx, `
		select `+userColumns+`
		from users
		where lower(username) = lower($1)
	`, username))
}

func (s *Store) GetUserByCertID(ctx context.Context, certID string) (*model.User, error) {
	return scanUser(s.pool.QueryRow(ctx, `
		select `+userColumns+`
		from users
		where cert_id = $1
	`, certID))
}

func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.pool.Query(ctx, `
		select `+userColumns+`
		from users
		order by created_at
	`)
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

func (s *Store) SetUserActive(ctx context.Context, userID string, active bool) error {
	tag, err := s.pool.Exec(ctx, `
		update users
		set active = $2,
		    updated_at = now()
		where id = $1::uuid
	`, userID, active)
	if err != nil {
		return mapPgErr(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateLockout(ctx context.Context, userID string, lo model.Lockout) error {
	tag, err := s.pool.Exec(ctx, `
		update users
		set failed_attempts = $2,
		    locked = $3,
		    locked_at = $4,
		    updated_at = now()
		where id = $1::uuid
	`, userID, lo.FailedAttempts, lo.Locked, lo.LockedAt)
	if err != nil {
		return mapPgErr(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) TouchLastLogin(ctx context.Context, userID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		update users
		set last_login = $2,
		    updated_at = now()
		where id = $1::uuid
	`, userID, at)
	if err != nil {
		return mapPgErr(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
