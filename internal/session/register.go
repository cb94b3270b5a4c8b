package session

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"stock-order-flow/internal/captcha"
	"stock-order-flow/internal/domain"
	"stock-order-flow/internal/idhash"
	"stock-order-flow/internal/storage"
)

// Register opens a new account on the member API and returns its first
// Active session. The flow reserves a phone number, leases a proxy,
// solves the image captcha, triggers and reads the SMS code, submits
// the registration and persists the account. The phone reservation and
// the proxy lease are released on every exit path, including context
// cancellation partway through. Transient failures are retried with
// the same backoff schedule as Login; each attempt reserves and
// releases its own phone number. Concurrent Register calls for the
// same username share one flight.
func (m *Manager) Register(ctx context.Context, creds Credentials) (domain.Session, error) {
	return m.singleFlight(ctx, creds.Username, func() (domain.Session, error) {
		return m.attemptWithBackoff(ctx, "register", creds.Username, func() (domain.Session, error) {
			return m.register(ctx, creds)
		})
	})
}

func (m *Manager) register(ctx context.Context, creds Credentials) (domain.Session, error) {
	if _, err := m.deps.Accounts.GetByUsername(ctx, creds.Username); err == nil {
		return domain.Session{}, storage.ErrDuplicateKey
	} else if !errors.Is(err, storage.ErrNotFound) {
		return domain.Session{}, err
	}

	phone, err := m.deps.Phones.Reserve("register:" + creds.Username)
	if err != nil {
		return domain.Session{}, err
	}
	// Release covers success too: it hands the number back to the pool
	// with one more usage counted, exhausting it at the cap.
	defer func() {
		if err := m.deps.Phones.Release(phone.Number); err != nil {
			m.log.Error("phone release failed", zap.String("number", phone.Number), zap.Error(err))
		}
	}()

	proxyEndpoint := m.leaseProxy()
	reported := false
	report := func(ok bool) {
		if proxyEndpoint != "" && !reported {
			reported = true
			m.deps.Proxies.Report(proxyEndpoint, ok)
		}
	}
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

	if err := m.deps.Gateway.RequestSMS(ctx, phone.Number, sol.Text, fp, proxyEndpoint); err != nil {
		return domain.Session{}, err
	}
	// The SMS chain receives the phone number and yields the code that
	// arrived on it.
	code, err := m.deps.Captchas.Solve(ctx, []byte(phone.Number), captcha.KindSMS)
	if err != nil {
		report(true)
		return domain.Session{}, err
	}

	reg := Registration{
		Credentials: creds,
		Phone:       phone.Number,
		SMSCode:     code.Text,
		CaptchaText: sol.Text,
	}
	grant, err := m.deps.Gateway.Register(ctx, reg, fp, proxyEndpoint)
	if err != nil {
		var authErr *AuthError
		report(errors.As(err, &authErr))
		return domain.Session{}, err
	}
	report(true)

	created := m.now().UnixMilli()
	account := &domain.Account{
		ID:          idhash.AccountID(creds.Username, phone.Number),
		Username:    creds.Username,
		Email:       creds.Email,
		Phone:       phone.Number,
		Password:    creds.Password,
		Token:       grant.Token,
		Fingerprint: fp.UserAgent,
		CreatedAt:   created,
	}
	if err := m.deps.Accounts.Insert(ctx, account); err != nil {
		return domain.Session{}, fmt.Errorf("persist account: %w", err)
	}

	sess, err := m.storeSession(ctx, account, grant, fp, proxyEndpoint)
	if err != nil {
		return domain.Session{}, err
	}
	m.publishPoolGauges()
	m.log.Info("account registered",
		zap.String("username", creds.Username),
		zap.String("account_id", account.ID),
		zap.String("phone", phone.Number),
		zap.String("session_id", sess.ID),
	)
	return sess, nil
}
