package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"stock-order-flow/internal/captcha"
	"stock-order-flow/internal/domain"
	"stock-order-flow/internal/fingerprint"
	"stock-order-flow/internal/phonepool"
	"stock-order-flow/internal/proxy"
	"stock-order-flow/internal/storage"
	"stock-order-flow/internal/storage/memory"
)

func newTestManager(t *testing.T, gw Gateway, proxies []string) *Manager {
	t.Helper()
	chain := captcha.NewChain(zap.NewNop()).
		Use(&captcha.StubSolver{Strategy: "stub", Text: "abcd", Confidence: 0.9}, time.Second, 0.5)
	phones := phonepool.New(0, zap.NewNop())
	if err := phones.Add("13800000000", domain.PhoneSourceManual); err != nil {
		t.Fatalf("add phone: %v", err)
	}
	cfg := DefaultConfig()
	cfg.BackoffInitial = time.Millisecond
	cfg.BackoffMax = 2 * time.Millisecond
	return New(cfg, Deps{
		Gateway:  gw,
		Sessions: memory.NewSessionStore(),
		Accounts: memory.NewAccountStore(),
		Phones:   phones,
		Proxies:  proxy.New(proxies, 30, zap.NewNop()),
		Prints:   fingerprint.New(1),
		Captchas: chain,
		Logger:   zap.NewNop(),
	})
}

func seedAccount(t *testing.T, m *Manager, username string) *domain.Account {
	t.Helper()
	a := &domain.Account{
		ID:        "acct-" + username,
		Username:  username,
		Email:     username + "@example.com",
		Password:  "secret",
		CreatedAt: time.Now().UnixMilli(),
	}
	if err := m.deps.Accounts.Insert(context.Background(), a); err != nil {
		t.Fatalf("seed account: %v", err)
	}
	return a
}

func TestLoginCreatesActiveSession(t *testing.T) {
	gw := &StubGateway{}
	m := newTestManager(t, gw, nil)
	seedAccount(t, m, "trader")

	sess, err := m.Login(context.Background(), "trader", "")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if sess.State != domain.SessionActive {
		t.Fatalf("state = %s, want active", sess.State)
	}
	if sess.Token != "tok-trader" {
		t.Fatalf("token = %q", sess.Token)
	}
	if sess.AccountRef != "acct-trader" {
		t.Fatalf("account ref = %q", sess.AccountRef)
	}
	if sess.ExpiresAt <= sess.CreatedAt {
		t.Fatalf("expiry %d not after creation %d", sess.ExpiresAt, sess.CreatedAt)
	}
	stored, err := m.deps.Sessions.GetByID(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("stored session: %v", err)
	}
	if stored.State != domain.SessionActive {
		t.Fatalf("stored state = %s", stored.State)
	}
}

func TestLoginCoalescesConcurrentCalls(t *testing.T) {
	gw := &StubGateway{Block: make(chan struct{})}
	m := newTestManager(t, gw, nil)
	seedAccount(t, m, "trader")

	results := make([]domain.Session, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = m.Login(context.Background(), "trader", "")
		}(i)
	}
	// Wait until the first flight reached the gateway, then unblock.
	deadline := time.After(2 * time.Second)
	for gw.LoginCalls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("gateway never reached")
		case <-time.After(time.Millisecond):
		}
	}
	close(gw.Block)
	wg.Wait()

	for i := 0; i < 2; i++ {
		if errs[i] != nil {
			t.Fatalf("login %d: %v", i, errs[i])
		}
	}
	if results[0].ID != results[1].ID {
		t.Fatalf("sessions differ: %s vs %s", results[0].ID, results[1].ID)
	}
	if n := gw.LoginCalls.Load(); n != 1 {
		t.Fatalf("gateway login calls = %d, want 1", n)
	}
}

func TestLoginRetriesTransientFailures(t *testing.T) {
	gw := &StubGateway{FailLogins: 2}
	m := newTestManager(t, gw, nil)
	seedAccount(t, m, "trader")

	sess, err := m.Login(context.Background(), "trader", "")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if sess.Token == "" {
		t.Fatal("empty token")
	}
	if n := gw.LoginCalls.Load(); n != 3 {
		t.Fatalf("login calls = %d, want 3", n)
	}
}

func TestLoginStopsOnPermanentRejection(t *testing.T) {
	gw := &StubGateway{LoginErr: &AuthError{Username: "trader", Reason: "bad password", Permanent: true}}
	m := newTestManager(t, gw, nil)
	seedAccount(t, m, "trader")

	_, err := m.Login(context.Background(), "trader", "wrong")
	if err == nil {
		t.Fatal("expected error")
	}
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("error %v is not an AuthError", err)
	}
	if n := gw.LoginCalls.Load(); n != 1 {
		t.Fatalf("login calls = %d, want 1", n)
	}
}

func TestLoginUnknownAccount(t *testing.T) {
	gw := &StubGateway{}
	m := newTestManager(t, gw, nil)

	_, err := m.Login(context.Background(), "ghost", "pw")
	var authErr *AuthError
	if !errors.As(err, &authErr) || !authErr.Permanent {
		t.Fatalf("error = %v, want permanent AuthError", err)
	}
	if n := gw.LoginCalls.Load(); n != 0 {
		t.Fatalf("gateway was reached %d times", n)
	}
}

func TestLoginReleasesProxyOnFailure(t *testing.T) {
	gw := &StubGateway{LoginErr: errors.New("connection reset")}
	m := newTestManager(t, gw, []string{"http://p1:8080"})
	m.cfg.AttemptCap = 1
	seedAccount(t, m, "trader")

	if _, err := m.Login(context.Background(), "trader", ""); err == nil {
		t.Fatal("expected error")
	}
	snap := m.deps.Proxies.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("snapshot len = %d", len(snap))
	}
	if snap[0].Leased {
		t.Fatal("proxy still leased after failed login")
	}
	if snap[0].HealthScore >= 100 {
		t.Fatalf("health = %f, want penalized", snap[0].HealthScore)
	}
}

func TestAcquirePicksLeastUsedAndExpiresStale(t *testing.T) {
	m := newTestManager(t, &StubGateway{}, nil)
	now := time.Now().UnixMilli()
	ctx := context.Background()

	busy := &domain.Session{ID: "s-busy", AccountRef: "a", Token: "t1", CreatedAt: now, ExpiresAt: now + 60_000, State: domain.SessionActive, RequestCount: 5}
	idle := &domain.Session{ID: "s-idle", AccountRef: "a", Token: "t2", CreatedAt: now, ExpiresAt: now + 60_000, State: domain.SessionActive, RequestCount: 1}
	stale := &domain.Session{ID: "s-stale", AccountRef: "a", Token: "t3", CreatedAt: now - 120_000, ExpiresAt: now - 1, State: domain.SessionActive}
	for _, s := range []*domain.Session{busy, idle, stale} {
		if err := m.deps.Sessions.Insert(ctx, s); err != nil {
			t.Fatalf("insert %s: %v", s.ID, err)
		}
	}

	got, err := m.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if got.ID != "s-idle" {
		t.Fatalf("acquired %s, want s-idle", got.ID)
	}
	if got.RequestCount != 2 {
		t.Fatalf("request count = %d, want 2", got.RequestCount)
	}

	swept, err := m.deps.Sessions.GetByID(ctx, "s-stale")
	if err != nil {
		t.Fatalf("stale lookup: %v", err)
	}
	if swept.State != domain.SessionExpired {
		t.Fatalf("stale state = %s, want expired", swept.State)
	}
}

func TestAcquireEmpty(t *testing.T) {
	m := newTestManager(t, &StubGateway{}, nil)
	if _, err := m.Acquire(context.Background()); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("err = %v, want ErrNoActiveSession", err)
	}
}

func TestRevoke(t *testing.T) {
	m := newTestManager(t, &StubGateway{}, nil)
	ctx := context.Background()
	now := time.Now().UnixMilli()
	s := &domain.Session{ID: "s-1", AccountRef: "a", Token: "t", CreatedAt: now, ExpiresAt: now + 60_000, State: domain.SessionActive}
	if err := m.deps.Sessions.Insert(ctx, s); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := m.Revoke(ctx, "s-1"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	got, err := m.deps.Sessions.GetByID(ctx, "s-1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.State != domain.SessionRevoked {
		t.Fatalf("state = %s, want revoked", got.State)
	}
	// Idempotent.
	if err := m.Revoke(ctx, "s-1"); err != nil {
		t.Fatalf("second revoke: %v", err)
	}
	if err := m.Revoke(ctx, "nope"); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("unknown revoke err = %v", err)
	}
}

func TestCleanupSweep(t *testing.T) {
	m := newTestManager(t, &StubGateway{}, nil)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	stale := &domain.Session{ID: "s-stale", AccountRef: "a", Token: "t", CreatedAt: now - 120_000, ExpiresAt: now - 1, State: domain.SessionActive}
	revoked := &domain.Session{ID: "s-revoked", AccountRef: "a", Token: "t", CreatedAt: now, ExpiresAt: now + 60_000, State: domain.SessionRevoked}
	live := &domain.Session{ID: "s-live", AccountRef: "a", Token: "t", CreatedAt: now, ExpiresAt: now + 60_000, State: domain.SessionActive}
	for _, s := range []*domain.Session{stale, revoked, live} {
		if err := m.deps.Sessions.Insert(ctx, s); err != nil {
			t.Fatalf("insert %s: %v", s.ID, err)
		}
	}
	if err := m.deps.Phones.MarkExhausted("13800000000"); err != nil {
		t.Fatalf("mark exhausted: %v", err)
	}

	report, err := m.Cleanup(ctx)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if report.SessionsExpired != 1 {
		t.Fatalf("expired = %d, want 1", report.SessionsExpired)
	}
	if report.SessionsDeleted != 2 {
		t.Fatalf("deleted = %d, want 2", report.SessionsDeleted)
	}
	if report.PhonesDropped != 1 {
		t.Fatalf("phones dropped = %d, want 1", report.PhonesDropped)
	}
	if _, err := m.deps.Sessions.GetByID(ctx, "s-live"); err != nil {
		t.Fatalf("live session gone: %v", err)
	}
	if _, err := m.deps.Sessions.GetByID(ctx, "s-stale"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("stale session still present: %v", err)
	}
}
