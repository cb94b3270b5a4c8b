package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"stock-order-flow/internal/captcha"
	"stock-order-flow/internal/domain"
	"stock-order-flow/internal/fingerprint"
	"stock-order-flow/internal/idhash"
	"stock-order-flow/internal/observability"
	"stock-order-flow/internal/phonepool"
	"stock-order-flow/internal/proxy"
	"stock-order-flow/internal/storage"
)

// Config tunes session issuance and retry behavior.
type Config struct {
	// TokenTTL is applied when the member API grants a token without
	// its own expiry.
	TokenTTL time.Duration
	// AttemptCap bounds login attempts per call; backoff stops there.
	AttemptCap     int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		TokenTTL:       30 * time.Minute,
		AttemptCap:     5,
		BackoffInitial: 500 * time.Millisecond,
		BackoffMax:     30 * time.Second,
	}
}

// Deps are the collaborators the manager drives. All are required
// except Proxies, which may be an empty rotator for direct connections.
type Deps struct {
	Gateway  Gateway
	Sessions storage.SessionStore
	Accounts storage.AccountStore
	Phones   *phonepool.Pool
	Proxies  *proxy.Rotator
	Prints   *fingerprint.Generator
	Captchas *captcha.Chain
	Logger   *zap.Logger
}

// Manager owns the session lifecycle: registration, login, acquisition
// for gated fetches, revocation and expiry sweeps. Concurrent logins or
// registrations for the same username are coalesced into one flight so
// the member API never sees duplicate authentication attempts and a
// phone number is never reserved twice for one identity.
type Manager struct {
	cfg   Config
	deps  Deps
	log   *zap.Logger
	now   func() time.Time
	nonce atomic.Uint64

	mu       sync.Mutex
	inflight map[string]*flight

	// pickMu serializes Acquire's read-modify-write of request counts.
	pickMu sync.Mutex
}

type flight struct {
	done    chan struct{}
	session domain.Session
	err     error
}

func New(cfg Config, deps Deps) *Manager {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.AttemptCap <= 0 {
		cfg.AttemptCap = DefaultConfig().AttemptCap
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultConfig().TokenTTL
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = DefaultConfig().BackoffInitial
	}
	if cfg.BackoffMax < cfg.BackoffInitial {
		cfg.BackoffMax = DefaultConfig().BackoffMax
	}
	return &Manager{
		cfg:      cfg,
		deps:     deps,
		log:      log,
		now:      time.Now,
		inflight: make(map[string]*flight),
	}
}

// Login authenticates the account and persists a new Active session.
// If password is empty the stored account password is used. A second
// Login for the same username while one is in flight waits for and
// shares the first flight's result.
func (m *Manager) Login(ctx context.Context, username, password string) (domain.Session, error) {
	return m.singleFlight(ctx, username, func() (domain.Session, error) {
		return m.attemptWithBackoff(ctx, "login", username, func() (domain.Session, error) {
			return m.authenticate(ctx, username, password)
		})
	})
}

// Acquire hands out the least-used Active session, lazily expiring
// stale ones on the way. Implements provider.SessionSource.
func (m *Manager) Acquire(ctx context.Context) (domain.Session, error) {
	m.pickMu.Lock()
	defer m.pickMu.Unlock()

	active, err := m.deps.Sessions.ListByState(ctx, domain.SessionActive)
	if err != nil {
		return domain.Session{}, fmt.Errorf("acquire session: %w", err)
	}
	now := m.now().UnixMilli()
	var best *domain.Session
	live := 0
	for _, s := range active {
		if s.ExpiredAt(now) {
			s.State = domain.SessionExpired
			if err := m.deps.Sessions.Update(ctx, s); err != nil {
				return domain.Session{}, fmt.Errorf("expire session %s: %w", s.ID, err)
			}
			observability.RecordSessionEvent("expired")
			m.log.Info("session expired", zap.String("session_id", s.ID))
			continue
		}
		live++
		if best == nil || s.RequestCount < best.RequestCount {
			best = s
		}
	}
	observability.UpdateActiveSessions(live)
	if best == nil {
		return domain.Session{}, ErrNoActiveSession
	}
	best.RequestCount++
	if err := m.deps.Sessions.Update(ctx, best); err != nil {
		return domain.Session{}, fmt.Errorf("acquire session %s: %w", best.ID, err)
	}
	return *best, nil
}

// Revoke terminally invalidates a session, typically after the member
// API answered 401 or 403 on its token.
func (m *Manager) Revoke(ctx context.Context, sessionID string) error {
	s, err := m.deps.Sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrUnknownSession
		}
		return fmt.Errorf("revoke session %s: %w", sessionID, err)
	}
	if s.State == domain.SessionRevoked {
		return nil
	}
	s.State = domain.SessionRevoked
	if err := m.deps.Sessions.Update(ctx, s); err != nil {
		return fmt.Errorf("revoke session %s: %w", sessionID, err)
	}
	observability.RecordSessionEvent("revoked")
	m.log.Warn("session revoked", zap.String("session_id", sessionID), zap.String("account_ref", s.AccountRef))
	return nil
}

// CleanupReport summarizes one Cleanup sweep.
type CleanupReport struct {
	SessionsExpired int `json:"sessions_expired"`
	SessionsDeleted int `json:"sessions_deleted"`
	PhonesDropped   int `json:"phones_dropped"`
}

// Cleanup expires stale sessions, purges Expired and Revoked records
// and drops exhausted phone numbers from the pool.
func (m *Manager) Cleanup(ctx context.Context) (CleanupReport, error) {
	var report CleanupReport

	active, err := m.deps.Sessions.ListByState(ctx, domain.SessionActive)
	if err != nil {
		return report, fmt.Errorf("cleanup: %w", err)
	}
	now := m.now().UnixMilli()
	live := 0
	for _, s := range active {
		if !s.ExpiredAt(now) {
			live++
			continue
		}
		s.State = domain.SessionExpired
		if err := m.deps.Sessions.Update(ctx, s); err != nil {
			return report, fmt.Errorf("cleanup: expire %s: %w", s.ID, err)
		}
		observability.RecordSessionEvent("expired")
		report.SessionsExpired++
	}
	observability.UpdateActiveSessions(live)

	for _, state := range []domain.SessionState{domain.SessionExpired, domain.SessionRevoked} {
		n, err := m.deps.Sessions.DeleteByState(ctx, state)
		if err != nil {
			return report, fmt.Errorf("cleanup: delete %s sessions: %w", state, err)
		}
		report.SessionsDeleted += n
	}

	report.PhonesDropped = m.deps.Phones.DropExhausted()
	m.publishPoolGauges()

	m.log.Info("cleanup sweep done",
		zap.Int("sessions_expired", report.SessionsExpired),
		zap.Int("sessions_deleted", report.SessionsDeleted),
		zap.Int("phones_dropped", report.PhonesDropped),
	)
	return report, nil
}

func (m *Manager) singleFlight(ctx context.Context, key string, fn func() (domain.Session, error)) (domain.Session, error) {
	m.mu.Lock()
	if f, ok := m.inflight[key]; ok {
		m.mu.Unlock()
		select {
		case <-f.done:
			return f.session, f.err
		case <-ctx.Done():
			return domain.Session{}, ctx.Err()
		}
	}
	f := &flight{done: make(chan struct{})}
	m.inflight[key] = f
	m.mu.Unlock()

	f.session, f.err = fn()

	m.mu.Lock()
	delete(m.inflight, key)
	m.mu.Unlock()
	close(f.done)
	return f.session, f.err
}

// attemptWithBackoff drives both login and registration attempts:
// transient failures are retried with exponential backoff up to
// AttemptCap, permanent rejections stop the loop immediately.
func (m *Manager) attemptWithBackoff(ctx context.Context, op, identity string, fn func() (domain.Session, error)) (domain.Session, error) {
	backoff := m.cfg.BackoffInitial
	var lastErr error
	for attempt := 1; attempt <= m.cfg.AttemptCap; attempt++ {
		sess, err := fn()
		if err == nil {
			return sess, nil
		}
		lastErr = err
		if permanentFailure(err) {
			break
		}
		if attempt == m.cfg.AttemptCap {
			break
		}
		m.log.Warn(op+" attempt failed",
			zap.String("username", identity),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return domain.Session{}, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > m.cfg.BackoffMax {
			backoff = m.cfg.BackoffMax
		}
	}
	return domain.Session{}, fmt.Errorf("%s %s: %w", op, identity, lastErr)
}

// permanentFailure reports errors no retry can recover from within one
// call: rejected credentials, an already-taken username, an empty
// phone pool.
func permanentFailure(err error) bool {
	var authErr *AuthError
	if errors.As(err, &authErr) && authErr.Permanent {
		return true
	}
	return errors.Is(err, storage.ErrDuplicateKey) || errors.Is(err, phonepool.ErrEmptyPool)
}

func (m *Manager) authenticate(ctx context.Context, username, password string) (domain.Session, error) {
	account, err := m.deps.Accounts.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.Session{}, &AuthError{Username: username, Reason: "account not registered", Permanent: true}
		}
		return domain.Session{}, fmt.Errorf("load account %s: %w", username, err)
	}
	if password == "" {
		password = account.Password
	}

	proxyEndpoint := m.leaseProxy()
	reported := false
	report := func(ok bool) {
		if proxyEndpoint != "" && !reported {
			reported = true
			m.deps.Proxies.Report(proxyEndpoint, ok)
		}
	}
	// The lease is released exactly once; failure paths that never
	// reached report fall through here as a proxy failure.
	defer func() { report(false) }()

	fp := m.deps.Prints.Generate()

	img, err := m.deps.Gateway.FetchCaptcha(ctx, fp, proxyEndpoint)
	if err != nil {
		return domain.Session{}, err
	}
	sol, err := m.deps.Captchas.Solve(ctx, img, captcha.KindImage)
	if err != nil {
		report(true)
		return domain.Session{}, err
	}

	creds := Credentials{Username: username, Password: password, Email: account.Email}
	grant, err := m.deps.Gateway.Login(ctx, creds, sol.Text, fp, proxyEndpoint)
	if err != nil {
		// A rejection means the proxy carried the request fine.
		var authErr *AuthError
		report(errors.As(err, &authErr))
		return domain.Session{}, err
	}
	report(true)

	sess, err := m.storeSession(ctx, account, grant, fp, proxyEndpoint)
	if err != nil {
		return domain.Session{}, err
	}
	m.log.Info("login succeeded",
		zap.String("username", username),
		zap.String("session_id", sess.ID),
		zap.String("proxy", proxyEndpoint),
	)
	return sess, nil
}

func (m *Manager) storeSession(ctx context.Context, account *domain.Account, grant TokenGrant, fp domain.Fingerprint, proxyEndpoint string) (domain.Session, error) {
	created := m.now().UnixMilli()
	expires := grant.ExpiresAt
	if expires == 0 {
		expires = created + m.cfg.TokenTTL.Milliseconds()
	}
	sess := domain.Session{
		ID:          idhash.SessionID(account.ID, created, m.nonce.Add(1)),
		AccountRef:  account.ID,
		Token:       grant.Token,
		Fingerprint: fp,
		Proxy:       proxyEndpoint,
		CreatedAt:   created,
		ExpiresAt:   expires,
		State:       domain.SessionActive,
	}
	if err := m.deps.Sessions.Insert(ctx, &sess); err != nil {
		return domain.Session{}, fmt.Errorf("persist session: %w", err)
	}
	observability.RecordSessionEvent("created")
	return sess, nil
}

// leaseProxy returns "" when no proxy is available; sessions then run
// direct rather than failing.
func (m *Manager) leaseProxy() string {
	if m.deps.Proxies == nil || m.deps.Proxies.Len() == 0 {
		return ""
	}
	ent, err := m.deps.Proxies.Lease()
	if err != nil {
		m.log.Warn("no healthy proxy, running direct", zap.Error(err))
		return ""
	}
	return ent.Endpoint
}

func (m *Manager) publishPoolGauges() {
	var available, reserved, exhausted int
	for _, ph := range m.deps.Phones.Snapshot() {
		switch ph.State {
		case domain.PhoneAvailable:
			available++
		case domain.PhoneReserved:
			reserved++
		case domain.PhoneExhausted:
			exhausted++
		}
	}
	observability.UpdatePhonePool(available, reserved, exhausted)

	if m.deps.Proxies != nil {
		leased := 0
		for _, ent := range m.deps.Proxies.Snapshot() {
			if ent.Leased {
				leased++
			}
		}
		observability.UpdateProxies(m.deps.Proxies.Healthy(), leased)
	}
}
