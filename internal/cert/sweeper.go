package cert

import (
	"context"
	"fmt"
	"time"

	"vpnpanel/internal/notify"
	"vpnpanel/internal/store"

	"go.uber.org/zap"
)

const defaultWarnWindow = 30 * 24 * time.Hour

// Sweeper runs the periodic credential passes: warn users whose
// credential expires soon, revoke credentials already past expiry, and
// log an aggregate report. Failures are isolated per record; one bad user
// never aborts a pass, the next sweep retries whatever was left.
type Sweeper struct {
	store      store.Store
	certs      *Service
	notifier   notify.Notifier
	warned     *warnTracker
	warnWindow time.Duration
	log        *zap.Logger
	now        func() time.Time
}

func NewSweeper(st store.Store, certs *Service, n notify.Notifier, warnWindow time.Duration, log *zap.Logger) *Sweeper {
	if warnWindow <= 0 {
		warnWindow = defaultWarnWindow
	}
	return &Sweeper{
		store:      st,
		certs:      certs,
		notifier:   n,
		warned:     newWarnTracker(23 * time.Hour),
		warnWindow: warnWindow,
		log:        log,
		now:        time.Now,
	}
}

// WarnExpiring notifies every user with an enabled credential expiring
// within the warn window. Returns the number of notifications delivered.
func (s *Sweeper) WarnExpiring(ctx context.Context) int {
	now := s.now().UTC()
	users, err := s.store.ListExpiring(ctx, now, now.Add(s.warnWindow))
	if err != nil {
		s.log.Error("expiring credential scan failed", zap.Error(err))
		return 0
	}

	s.log.Info("warn pass started", zap.Int("candidates", len(users)))

	sent := 0
	for _, u := range users {
		if u.Credential.ID == "" || u.Email == "" {
			s.log.Warn("cannot warn user about expiry: incomplete record",
				zap.String("user_id", u.ID))
			continue
		}
		if !s.warned.shouldNotify(u.Credential.ID, now) {
			continue
		}

		days := daysToExpire(now, *u.Credential.ExpiresAt)
		subject := fmt.Sprintf("Seu certificado VPN expira em %d dias", days)
		body := fmt.Sprintf(
			"Olá %s,\n\n"+
				"Seu certificado VPN (%s) irá expirar em %d dias (em %s).\n"+
				"Por favor, renove seu certificado o mais breve possível para evitar interrupções no serviço.\n\n"+
				"Atenciosamente,\nEquipe de Suporte VPN",
			displayName(u.FullName, u.Username),
			u.Credential.ID,
			days,
			u.Credential.ExpiresAt.Format("2006-01-02"),
		)

		if err := s.notifier.Send(ctx, u.Email, subject, body); err != nil {
			s.warned.forget(u.Credential.ID)
			s.log.Error("expiry warning delivery failed",
				zap.String("user_id", u.ID),
				zap.String("cert_id", u.Credential.ID),
				zap.Error(err))
			continue
		}
		sent++
	}

	s.log.Info("warn pass finished", zap.Int("sent", sent))
	return sent
}

// ReapExpired revokes every enabled credential already past its expiry.
// Returns the number of credentials revoked; failed ones stay enabled so
// the next sweep picks them up again.
func (s *Sweeper) ReapExpired(ctx context.Context) int {
	now := s.now().UTC()
	users, err := s.store.ListExpired(ctx, now)
	if err != nil {
		s.log.Error("expired credential scan failed", zap.Error(err))
		return 0
	}

	s.log.Info("reap pass started", zap.Int("candidates", len(users)))

	revoked := 0
	for _, u := range users {
		if u.Credential.ID == "" {
			continue
		}
		if err := s.certs.Revoke(ctx, u.Credential.ID); err != nil {
			s.log.Error("expired credential revoke failed",
				zap.String("user_id", u.ID),
				zap.String("cert_id", u.Credential.ID),
				zap.Error(err))
			continue
		}
		s.warned.forget(u.Credential.ID)
		revoked++
	}

	s.log.Info("reap pass finished", zap.Int("revoked", revoked))
	return revoked
}

// Report logs the aggregate credential counts.
func (s *Sweeper) Report(ctx context.Context) {
	stats, err := s.certs.Stats(ctx)
	if err != nil {
		s.log.Error("certificate report failed", zap.Error(err))
		return
	}
	s.log.Info("certificate report",
		zap.Int("total", stats.Total),
		zap.Int("active", stats.Active),
		zap.Int("expired", stats.Expired),
		zap.Int("revoked", stats.Revoked),
		zap.Int("expiring_soon", stats.ExpiringSoon))
}

// Run drives the three passes from tickers until the context is
// cancelled. Warn and reap also run once at startup so a restarted panel
// catches up immediately.
func (s *Sweeper) Run(ctx context.Context, warnEvery, reapEvery, reportEvery time.Duration) {
	s.ReapExpired(ctx)
	s.WarnExpiring(ctx)

	warnT := time.NewTicker(warnEvery)
	defer warnT.Stop()
	reapT := time.NewTicker(reapEvery)
	defer reapT.Stop()
	reportT := time.NewTicker(reportEvery)
	defer reportT.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-warnT.C:
			s.WarnExpiring(ctx)
		case <-reapT.C:
			s.ReapExpired(ctx)
		case <-reportT.C:
			s.Report(ctx)
		}
	}
}

func daysToExpire(now, expiresAt time.Time) int {
	d := int(expiresAt.Sub(now).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}

func displayName(fullName, username string) string {
	if fullName != "" {
		return fullName
	}
	return username
}
