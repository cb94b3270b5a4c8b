package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"stock-order-flow/internal/domain"
)

// Credentials identify an account to the member API.
type Credentials struct {
	Username string
	Password string
	Email    string
}

// Registration carries everything the member API needs to open a new
// account.
type Registration struct {
	Credentials
	Phone       string
	SMSCode     string
	CaptchaText string
}

// TokenGrant is the result of a successful login or registration.
type TokenGrant struct {
	Token     string
	ExpiresAt int64 // unix millis; 0 means the caller applies its own TTL
}

// Gateway abstracts the member API endpoints the manager drives during
// registration and login. Every call goes out with the fingerprint's
// headers and, when non-empty, through the given proxy endpoint.
type Gateway interface {
	FetchCaptcha(ctx context.Context, fp domain.Fingerprint, proxy string) ([]byte, error)
	RequestSMS(ctx context.Context, phone, captchaText string, fp domain.Fingerprint, proxy string) error
	Register(ctx context.Context, reg Registration, fp domain.Fingerprint, proxy string) (TokenGrant, error)
	Login(ctx context.Context, creds Credentials, captchaText string, fp domain.Fingerprint, proxy string) (TokenGrant, error)
}

const gatewayTimeout = 15 * time.Second

// HTTPGateway talks to the real member API.
type HTTPGateway struct {
	baseURL string
}

func NewHTTPGateway(baseURL string) *HTTPGateway {
	return &HTTPGateway{baseURL: baseURL}
}

var _ Gateway = (*HTTPGateway)(nil)

func (g *HTTPGateway) FetchCaptcha(ctx context.Context, fp domain.Fingerprint, proxy string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/api/v1/captcha/image", nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.do(req, fp, proxy)
	if err != nil {
		return nil, fmt.Errorf("fetch captcha: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch captcha: status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}

func (g *HTTPGateway) RequestSMS(ctx context.Context, phone, captchaText string, fp domain.Fingerprint, proxy string) error {
	body := map[string]string{"phone": phone, "captcha": captchaText}
	resp, err := g.postJSON(ctx, "/api/v1/sms/send", body, fp, proxy)
	if err != nil {
		return fmt.Errorf("request sms: %w", err)
	}
	defer resp.Body.Close()
	var out gatewayResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("request sms: decode: %w", err)
	}
	if out.Code != 0 {
		return fmt.Errorf("request sms: api error %d: %s", out.Code, out.Msg)
	}
	return nil
}

func (g *HTTPGateway) Register(ctx context.Context, reg Registration, fp domain.Fingerprint, proxy string) (TokenGrant, error) {
	body := map[string]string{
		"username": reg.Username,
		"password": reg.Password,
		"email":    reg.Email,
		"phone":    reg.Phone,
		"smscode":  reg.SMSCode,
		"captcha":  reg.CaptchaText,
	}
	resp, err := g.postJSON(ctx, "/api/v1/account/register", body, fp, proxy)
	if err != nil {
		return TokenGrant{}, fmt.Errorf("register: %w", err)
	}
	defer resp.Body.Close()
	return decodeGrant(resp, reg.Username)
}

func (g *HTTPGateway) Login(ctx context.Context, creds Credentials, captchaText string, fp domain.Fingerprint, proxy string) (TokenGrant, error) {
	body := map[string]string{
		"username": creds.Username,
		"password": creds.Password,
		"captcha":  captchaText,
	}
	resp, err := g.postJSON(ctx, "/api/v1/account/login", body, fp, proxy)
	if err != nil {
		return TokenGrant{}, fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()
	return decodeGrant(resp, creds.Username)
}

type gatewayResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		Token     string `json:"token"`
		ExpiresAt int64  `json:"expires_at"`
	} `json:"data"`
}

// apiCodeBadCredentials and apiCodeAccountLocked are rejections that
// retrying with the same credentials cannot fix.
const (
	apiCodeBadCredentials = 4001
	apiCodeAccountLocked  = 4003
)

func decodeGrant(resp *http.Response, username string) (TokenGrant, error) {
	var out gatewayResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return TokenGrant{}, fmt.Errorf("decode grant: %w", err)
	}
	if out.Code != 0 {
		return TokenGrant{}, &AuthError{
			Username:  username,
			Reason:    fmt.Sprintf("api error %d: %s", out.Code, out.Msg),
			Permanent: out.Code == apiCodeBadCredentials || out.Code == apiCodeAccountLocked,
		}
	}
	if out.Data.Token == "" {
		return TokenGrant{}, &AuthError{Username: username, Reason: "empty token in grant"}
	}
	return TokenGrant{Token: out.Data.Token, ExpiresAt: out.Data.ExpiresAt}, nil
}

func (g *HTTPGateway) postJSON(ctx context.Context, path string, body map[string]string, fp domain.Fingerprint, proxy string) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return g.do(req, fp, proxy)
}

func (g *HTTPGateway) do(req *http.Request, fp domain.Fingerprint, proxyEndpoint string) (*http.Response, error) {
	for k, v := range fp.Headers() {
		req.Header.Set(k, v)
	}
	client := &http.Client{Timeout: gatewayTimeout}
	if proxyEndpoint != "" {
		proxyURL, err := url.Parse(proxyEndpoint)
		if err != nil {
			return nil, fmt.Errorf("bad proxy endpoint %q: %w", proxyEndpoint, err)
		}
		client.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	}
	return client.Do(req)
}
