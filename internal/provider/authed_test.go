package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"stock-order-flow/internal/domain"
)

func testSession() domain.Session {
	return domain.Session{
		ID:         "sess-1",
		AccountRef: "acct-1",
		Token:      "tok-abc",
		Fingerprint: domain.Fingerprint{
			UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
			Platform:       "Windows",
			AcceptLanguage: "zh-CN,zh;q=0.9",
			AcceptEncoding: "gzip, deflate, br",
			RequestedWith:  "XMLHttpRequest",
		},
		State: domain.SessionActive,
	}
}

func TestMemberFetchTicks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-abc" {
			t.Errorf("expected bearer token, got %q", got)
		}
		if got := r.Header.Get("X-Requested-With"); got != "XMLHttpRequest" {
			t.Errorf("expected fingerprint headers on request, got X-Requested-With=%q", got)
		}
		if got := r.URL.Query().Get("code"); got != "sh603001" {
			t.Errorf("expected code sh603001, got %s", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"code":0,"data":[
			{"t":1756345801000,"p":"8.48","v":50000,"bs":"B"},
			{"t":1756345804000,"p":"8.47","v":120000,"bs":"S"},
			{"t":1756345807000,"p":"8.47","v":8000,"bs":""}
		]}`))
	}))
	defer server.Close()

	m := NewMember(server.URL, &StubSessionSource{Session: testSession()}, nil)
	ticks, err := m.FetchTicks(context.Background(), "603001", 0, 2000000000000)
	if err != nil {
		t.Fatalf("FetchTicks: %v", err)
	}

	if len(ticks) != 3 {
		t.Fatalf("expected 3 ticks, got %d", len(ticks))
	}
	if ticks[0].Side != domain.SideBuy || ticks[1].Side != domain.SideSell {
		t.Errorf("unexpected sides: %q %q", ticks[0].Side, ticks[1].Side)
	}
	if ticks[2].Side != domain.SideUnknown {
		t.Errorf("expected unknown side for empty label, got %q", ticks[2].Side)
	}
	if ticks[0].Amount.String() != "424000" {
		t.Errorf("expected amount 424000, got %s", ticks[0].Amount)
	}
}

func TestMemberRevokesOnUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	var revoked string
	m := NewMember(server.URL, &StubSessionSource{Session: testSession()}, func(id string) { revoked = id })

	if _, err := m.FetchTicks(context.Background(), "603001", 0, 1); err == nil {
		t.Fatal("expected error for HTTP 401")
	}
	if revoked != "sess-1" {
		t.Errorf("expected session sess-1 revoked, got %q", revoked)
	}
}

func TestMemberAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":1003,"msg":"quota exceeded"}`))
	}))
	defer server.Close()

	m := NewMember(server.URL, &StubSessionSource{Session: testSession()}, nil)
	if _, err := m.FetchTicks(context.Background(), "603001", 0, 1); err == nil {
		t.Fatal("expected error for api code 1003")
	}
}

func TestMemberSessionAcquireFails(t *testing.T) {
	m := NewMember("http://unused", &StubSessionSource{Err: context.DeadlineExceeded}, nil)
	if _, err := m.FetchTicks(context.Background(), "603001", 0, 1); err == nil {
		t.Fatal("expected error when no session is available")
	}
}
