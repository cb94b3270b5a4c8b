package session

import (
	"context"
	"sync"
	"sync/atomic"

	"stock-order-flow/internal/domain"
)

// StubGateway answers member API calls locally. It backs tests and the
// server's offline mode when no member API base URL is configured.
type StubGateway struct {
	CaptchaImage []byte
	SMSErr       error
	RegisterErr  error
	LoginErr     error
	Grant        TokenGrant

	// FailLogins makes the first N Login calls fail with a transient
	// AuthError before the stub starts granting tokens.
	FailLogins int32
	// FailSMS does the same for RequestSMS.
	FailSMS int32

	CaptchaCalls  atomic.Int64
	SMSCalls      atomic.Int64
	RegisterCalls atomic.Int64
	LoginCalls    atomic.Int64

	// Block, when non-nil, stalls Login and Register until closed.
	Block chan struct{}

	mu        sync.Mutex
	smsPhones []string
}

var _ Gateway = (*StubGateway)(nil)

func (g *StubGateway) FetchCaptcha(ctx context.Context, _ domain.Fingerprint, _ string) ([]byte, error) {
	g.CaptchaCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if g.CaptchaImage != nil {
		return g.CaptchaImage, nil
	}
	return []byte("stub-captcha"), nil
}

func (g *StubGateway) RequestSMS(ctx context.Context, phone, _ string, _ domain.Fingerprint, _ string) error {
	g.SMSCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return err
	}
	if g.SMSErr != nil {
		return g.SMSErr
	}
	if atomic.AddInt32(&g.FailSMS, -1) >= 0 {
		return &AuthError{Reason: "stub sms failure"}
	}
	g.mu.Lock()
	g.smsPhones = append(g.smsPhones, phone)
	g.mu.Unlock()
	return nil
}

func (g *StubGateway) Register(ctx context.Context, reg Registration, _ domain.Fingerprint, _ string) (TokenGrant, error) {
	g.RegisterCalls.Add(1)
	if g.Block != nil {
		select {
		case <-g.Block:
		case <-ctx.Done():
			return TokenGrant{}, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return TokenGrant{}, err
	}
	if g.RegisterErr != nil {
		return TokenGrant{}, g.RegisterErr
	}
	return g.grant("reg-" + reg.Username), nil
}

func (g *StubGateway) Login(ctx context.Context, creds Credentials, _ string, _ domain.Fingerprint, _ string) (TokenGrant, error) {
	g.LoginCalls.Add(1)
	if g.Block != nil {
		select {
		case <-g.Block:
		case <-ctx.Done():
			return TokenGrant{}, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return TokenGrant{}, err
	}
	if g.LoginErr != nil {
		return TokenGrant{}, g.LoginErr
	}
	if atomic.AddInt32(&g.FailLogins, -1) >= 0 {
		return TokenGrant{}, &AuthError{Username: creds.Username, Reason: "stub transient failure"}
	}
	return g.grant("tok-" + creds.Username), nil
}

// SMSPhones returns the phone numbers SMS codes were requested for.
func (g *StubGateway) SMSPhones() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.smsPhones))
	copy(out, g.smsPhones)
	return out
}

func (g *StubGateway) grant(token string) TokenGrant {
	if g.Grant.Token != "" {
		return g.Grant
	}
	return TokenGrant{Token: token}
}
