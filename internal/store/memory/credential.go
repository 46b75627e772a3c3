package memory

import (
	"context"
	"sort"
	"time"

	"vpnpanel/internal/model"
	"vpnpanel/internal/store"
)

func (s *Store) CertIDExists(_ context.Context, certID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Credential.ID == certID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) AssignCertID(_ context.Context, userID, certID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	if u.Credential.ID != "" {
		return store.ErrConflict
	}
	u.Credential.ID = certID
	u.UpdatedAt = time.Now().UTC()
	s.users[userID] = u
	return nil
}

func (s *Store) ClearCertID(_ context.Context, userID, certID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	if u.Credential.ID != certID {
		return store.ErrConflict
	}
	u.Credential = model.Credential{}
	u.UpdatedAt = time.Now().UTC()
	s.users[userID] = u
	return nil
}

func (s *Store) ActivateCredential(_ context.Context, certID string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, u := range s.users {
		if u.Credential.ID != certID {
			continue
		}
		u.Credential.ExpiresAt = &expiresAt
		u.Credential.Enabled = true
		u.UpdatedAt = time.Now().UTC()
		s.users[id] = u
		return nil
	}
	return store.ErrNotFound
}

func (s *Store) RevokeCredential(_ context.Context, certID string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, u := range s.users {
		if u.Credential.ID != certID {
			continue
		}
		u.Credential.ExpiresAt = &expiresAt
		u.Credential.Enabled = false
		u.UpdatedAt = time.Now().UTC()
		s.users[id] = u
		return nil
	}
	return store.ErrNotFound
}

func (s *Store) ListExpiring(_ context.Context, from, until time.Time) ([]model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.User
	for _, u := range s.users {
		c := u.Credential
		if !c.Enabled || c.ExpiresAt == nil {
			continue
		}
		if c.ExpiresAt.After(from) && !c.ExpiresAt.After(until) {
			out = append(out, u)
		}
	}
	sortByExpiry(out)
	return out, nil
}

func (s *Store) ListExpired(_ context.Context, asOf time.Time) ([]model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.User
	for _, u := range s.users {
		c := u.Credential
		if !c.Enabled || c.ExpiresAt == nil {
			continue
		}
		if !c.ExpiresAt.After(asOf) {
			out = append(out, u)
		}
	}
	sortByExpiry(out)
	return out, nil
}

func (s *Store) ListRevoked(_ context.Context) ([]model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.User
	for _, u := range s.users {
		c := u.Credential
		if c.ID == "" || c.Enabled || c.ExpiresAt == nil {
			continue
		}
		out = append(out, u)
	}
	sortByExpiry(out)
	return out, nil
}

func (s *Store) CertificateStats(_ context.Context, now, soon time.Time) (model.CertStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st model.CertStats
	for _, u := range s.users {
		c := u.Credential
		if c.ID == "" {
			continue
		}
		st.Total++
		switch c.StatusAt(now) {
		case model.StatusActive:
			st.Active++
			if !c.ExpiresAt.After(soon) {
				st.ExpiringSoon++
			}
		case model.StatusRevoked:
			st.Revoked++
		default:
			st.Expired++
		}
	}
	return st, nil
}

func sortByExpiry(users []model.User) {
	sort.Slice(users, func(i, j int) bool {
		return users[i].Credential.ExpiresAt.Before(*users[j].Credential.ExpiresAt)
	})
}
