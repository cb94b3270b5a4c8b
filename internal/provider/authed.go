package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"

	"stock-order-flow/internal/domain"
)

const memberName = "member"

// Member adapts the gated member API. Every request rides on an
// authenticated session acquired from the session manager: the
// session's token and fingerprint headers go on the wire, and a 401
// or 403 response revokes the session before the error is reported.
type Member struct {
	baseURL  string
	sessions SessionSource
	revoke   func(sessionID string)
	http     *http.Client
}

// NewMember creates the adapter. revoke is called with the session ID
// when the provider rejects its token; pass the session manager's
// Revoke method.
func NewMember(baseURL string, sessions SessionSource, revoke func(sessionID string)) *Member {
	if revoke == nil {
		revoke = func(string) {}
	}
	return &Member{
		baseURL:  baseURL,
		sessions: sessions,
		revoke:   revoke,
		http:     &http.Client{Timeout: DefaultTimeout},
	}
}

// Name implements TickSource.
func (m *Member) Name() string { return memberName }

type memberTick struct {
	Time   int64  `json:"t"`
	Price  string `json:"p"`
	Volume int64  `json:"v"`
	Side   string `json:"bs"` // "B", "S" or ""
}

type memberTicksResponse struct {
	Code int          `json:"code"`
	Msg  string       `json:"msg"`
	Data []memberTick `json:"data"`
}

// FetchTicks implements TickSource against the member detail endpoint.
func (m *Member) FetchTicks(ctx context.Context, symbol string, from, to int64) ([]domain.Tick, error) {
	session, err := m.sessions.Acquire(ctx)
	if err != nil {
		return nil, wrapErr(memberName, symbol, fmt.Errorf("acquire session: %w", err))
	}

	q := url.Values{}
	q.Set("code", marketPrefix(symbol))
	q.Set("begin", fmt.Sprintf("%d", from))
	q.Set("end", fmt.Sprintf("%d", to))
	reqURL := fmt.Sprintf("%s/api/v1/stock/details?%s", m.baseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, wrapErr(memberName, symbol, err)
	}
	for k, v := range session.Fingerprint.Headers() {
		req.Header.Set(k, v)
	}
	req.Header.Set("Authorization", "Bearer "+session.Token)

	resp, err := m.http.Do(req)
	if err != nil {
		return nil, wrapErr(memberName, symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		m.revoke(session.ID)
		return nil, wrapErr(memberName, symbol, fmt.Errorf("session rejected: HTTP %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, wrapErr(memberName, symbol, fmt.Errorf("HTTP %d", resp.StatusCode))
	}

	var payload memberTicksResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, wrapErr(memberName, symbol, fmt.Errorf("decode: %w", err))
	}
	if payload.Code != 0 {
		return nil, wrapErr(memberName, symbol, fmt.Errorf("api code %d: %s", payload.Code, payload.Msg))
	}
	if len(payload.Data) == 0 {
		return nil, wrapErr(memberName, symbol, fmt.Errorf("no tick rows"))
	}

	ticks := make([]domain.Tick, 0, len(payload.Data))
	for i, row := range payload.Data {
		price, err := decimal.NewFromString(row.Price)
		if err != nil {
			return nil, wrapErr(memberName, symbol, fmt.Errorf("row %d price: %w", i, err))
		}
		var side domain.Side
		switch row.Side {
		case "B":
			side = domain.SideBuy
		case "S":
			side = domain.SideSell
		default:
			side = domain.SideUnknown
		}
		ticks = append(ticks, domain.NewTick(int64(i+1), symbol, row.Time, price, row.Volume, side, memberName))
	}
	return ticks, nil
}

var _ TickSource = (*Member)(nil)
