package model

import "time"

// Lockout tracks failed authentication attempts for one account. It is
// embedded in User and persisted as a whole on every transition.
//
// A locked account with a nil LockedAt cannot compute an unlock time and
// is treated as locked until an explicit reset.
type Lockout struct {
	FailedAttempts int        `json:"failed_attempts"`
	Locked         bool       `json:"locked"`
	LockedAt       *time.Time `json:"locked_at,omitempty"`
}

// RecordFailure bumps the failure counter and locks the account once it
// reaches maxAttempts. Returns true if the account is now locked.
func (l *Lockout) RecordFailure(maxAttempts int, now time.Time) bool {
	l.FailedAttempts++
	if l.FailedAttempts >= maxAttempts {
		l.Locked = true
		l.LockedAt = &now
		return true
	}
	return false
}

// RecordSuccess clears the lock and resets the counter. This is the only
// transition that resets FailedAttempts.
func (l *Lockout) RecordSuccess() {
	l.FailedAttempts = 0
	l.Locked = false
	l.LockedAt = nil
}

// IsLocked reports whether the account is locked at now, unlocking lazily
// once lockFor has elapsed since LockedAt. There is no background unlock;
// the next authentication attempt applies the transition, so callers must
// persist the state when this returns false for a previously locked
// account.
func (l *Lockout) IsLocked(now time.Time, lockFor time.Duration) bool {
	if !l.Locked {
		return false
	}
	if l.LockedAt == nil {
		// Inconsistent state: locked with no lock time. Stay locked
		// until an explicit reset.
		return true
	}
	if now.After(l.LockedAt.Add(lockFor)) {
		l.RecordSuccess()
		return false
	}
	return true
}
