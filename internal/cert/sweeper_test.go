package cert

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"vpnpanel/internal/model"
	"vpnpanel/internal/signer"
	"vpnpanel/internal/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type sentMail struct {
	to      string
	subject string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (f *fakeNotifier) Send(_ context.Context, to, subject, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMail{to: to, subject: subject})
	return nil
}

func (f *fakeNotifier) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeNotifier) sentCopy() []sentMail {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentMail, len(f.sent))
	copy(out, f.sent)
	return out
}

func newTestSweeper(t *testing.T) (*Sweeper, *Service, *memory.Store, *fakeSigner, *fakeNotifier) {
	t.Helper()
	st := memory.NewStore()
	sg := newFakeSigner()
	svc := NewService(st, sg, zap.NewNop())
	n := &fakeNotifier{}
	sw := NewSweeper(st, svc, n, 0, zap.NewNop())
	return sw, svc, st, sg, n
}

func issueFor(t *testing.T, svc *Service, st *memory.Store, username string, days int) Info {
	t.Helper()
	u := seedUser(t, st, username)
	info, err := svc.Issue(context.Background(), u.ID, days)
	require.NoError(t, err)
	return info
}

func TestWarnExpiring(t *testing.T) {
	sw, svc, st, _, n := newTestSweeper(t)
	ctx := context.Background()

	issueFor(t, svc, st, "soon", 10)
	issueFor(t, svc, st, "later", 60)

	sent := sw.WarnExpiring(ctx)
	assert.Equal(t, 1, sent)

	mails := n.sentCopy()
	require.Len(t, mails, 1)
	assert.Equal(t, "soon@example.com", mails[0].to)
	// 9, not 10: the pass runs moments after issuance, so a shade under
	// ten full days remain.
	assert.Equal(t, "Seu certificado VPN expira em 9 dias", mails[0].subject)
}

func TestWarnExpiringHonorsConfiguredWindow(t *testing.T) {
	st := memory.NewStore()
	svc := NewService(st, newFakeSigner(), zap.NewNop())
	n := &fakeNotifier{}
	sw := NewSweeper(st, svc, n, 5*24*time.Hour, zap.NewNop())
	ctx := context.Background()

	issueFor(t, svc, st, "close", 3)
	issueFor(t, svc, st, "far", 10)

	// With a 5-day window only the 3-day credential qualifies; the 10-day
	// one would have been caught by the 30-day default.
	assert.Equal(t, 1, sw.WarnExpiring(ctx))
	mails := n.sentCopy()
	require.Len(t, mails, 1)
	assert.Equal(t, "close@example.com", mails[0].to)
}

func TestWarnExpiringCooldown(t *testing.T) {
	sw, svc, st, _, n := newTestSweeper(t)
	ctx := context.Background()

	issueFor(t, svc, st, "soon", 10)

	assert.Equal(t, 1, sw.WarnExpiring(ctx))
	// A second pass within the cooldown must stay quiet.
	assert.Equal(t, 0, sw.WarnExpiring(ctx))
	assert.Len(t, n.sentCopy(), 1)
}

func TestWarnExpiringRetriesFailedDelivery(t *testing.T) {
	sw, svc, st, _, n := newTestSweeper(t)
	ctx := context.Background()

	issueFor(t, svc, st, "soon", 10)

	n.setErr(fmt.Errorf("smtp down"))
	assert.Equal(t, 0, sw.WarnExpiring(ctx))

	// Delivery failure clears the cooldown, so the next pass retries.
	n.setErr(nil)
	assert.Equal(t, 1, sw.WarnExpiring(ctx))
}

func TestWarnExpiringIsolatesFailures(t *testing.T) {
	sw, svc, st, _, _ := newTestSweeper(t)
	ctx := context.Background()

	issueFor(t, svc, st, "one", 5)
	issueFor(t, svc, st, "two", 15)

	// A notifier that rejects one recipient must not abort the pass.
	picky := &pickyNotifier{reject: "one@example.com"}
	sw.notifier = picky

	sent := sw.WarnExpiring(ctx)
	assert.Equal(t, 1, sent)
	assert.Equal(t, []string{"two@example.com"}, picky.delivered)
}

type pickyNotifier struct {
	mu        sync.Mutex
	reject    string
	delivered []string
}

func (p *pickyNotifier) Send(_ context.Context, to, _, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if to == p.reject {
		return fmt.Errorf("mailbox unavailable")
	}
	p.delivered = append(p.delivered, to)
	return nil
}

func TestReapExpired(t *testing.T) {
	sw, svc, st, _, _ := newTestSweeper(t)
	ctx := context.Background()

	// Backdate one credential past its expiry; leave one healthy.
	expired := issueFor(t, svc, st, "expired", 30)
	healthy := issueFor(t, svc, st, "healthy", 30)
	require.NoError(t, st.ActivateCredential(ctx, expired.CertID, time.Now().UTC().Add(-time.Hour)))

	assert.Equal(t, 1, sw.ReapExpired(ctx))

	got, err := st.GetUserByCertID(ctx, expired.CertID)
	require.NoError(t, err)
	assert.False(t, got.Credential.Enabled)
	assert.Equal(t, model.StatusRevoked, got.Credential.StatusAt(time.Now().UTC()))

	got, err = st.GetUserByCertID(ctx, healthy.CertID)
	require.NoError(t, err)
	assert.True(t, got.Credential.Enabled)

	// Nothing left to reap.
	assert.Equal(t, 0, sw.ReapExpired(ctx))
}

func TestReapExpiredIsolatesSignerFailures(t *testing.T) {
	sw, svc, st, sg, _ := newTestSweeper(t)
	ctx := context.Background()

	bad := issueFor(t, svc, st, "bad", 30)
	good := issueFor(t, svc, st, "good", 30)
	past := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, st.ActivateCredential(ctx, bad.CertID, past))
	require.NoError(t, st.ActivateCredential(ctx, good.CertID, past))

	sg.failOn(bad.CertID, signer.ActionRevoke, fmt.Errorf("signer down"))

	// Only the succeeding credential transitions; the failing one stays
	// for the next sweep.
	assert.Equal(t, 1, sw.ReapExpired(ctx))

	gotBad, err := st.GetUserByCertID(ctx, bad.CertID)
	require.NoError(t, err)
	assert.True(t, gotBad.Credential.Enabled)

	gotGood, err := st.GetUserByCertID(ctx, good.CertID)
	require.NoError(t, err)
	assert.False(t, gotGood.Credential.Enabled)

	// Next sweep retries the failed one.
	sg.failOn(bad.CertID, signer.ActionRevoke, nil)
	assert.Equal(t, 1, sw.ReapExpired(ctx))
	gotBad, err = st.GetUserByCertID(ctx, bad.CertID)
	require.NoError(t, err)
	assert.False(t, gotBad.Credential.Enabled)
}

func TestReport(t *testing.T) {
	sw, svc, st, _, _ := newTestSweeper(t)

	issueFor(t, svc, st, "alice", 30)

	// Report only logs; it must not error or mutate anything.
	sw.Report(context.Background())

	got, err := st.GetUserByUsername(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, got.Credential.Enabled)
}

func TestSweeperRunStopsOnCancel(t *testing.T) {
	sw, _, _, _, _ := newTestSweeper(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sw.Run(ctx, time.Hour, time.Hour, time.Hour)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop on context cancel")
	}
}
