package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"stock-order-flow/internal/domain"
	"stock-order-flow/internal/idhash"
	"stock-order-flow/internal/phonepool"
	"stock-order-flow/internal/storage"
)

func testCreds(username string) Credentials {
	return Credentials{Username: username, Password: "secret", Email: username + "@example.com"}
}

func phoneState(t *testing.T, m *Manager, number string) domain.PhoneState {
	t.Helper()
	for _, ph := range m.deps.Phones.Snapshot() {
		if ph.Number == number {
			return ph.State
		}
	}
	t.Fatalf("number %s not in pool", number)
	return ""
}

func TestRegisterFullFlow(t *testing.T) {
	gw := &StubGateway{}
	m := newTestManager(t, gw, nil)
	ctx := context.Background()

	sess, err := m.Register(ctx, testCreds("trader"))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if sess.State != domain.SessionActive {
		t.Fatalf("state = %s, want active", sess.State)
	}

	wantID := idhash.AccountID("trader", "13800000000")
	account, err := m.deps.Accounts.GetByID(ctx, wantID)
	if err != nil {
		t.Fatalf("account lookup: %v", err)
	}
	if account.Phone != "13800000000" {
		t.Fatalf("account phone = %q", account.Phone)
	}
	if sess.AccountRef != wantID {
		t.Fatalf("session account ref = %q, want %q", sess.AccountRef, wantID)
	}

	phones := gw.SMSPhones()
	if len(phones) != 1 || phones[0] != "13800000000" {
		t.Fatalf("sms phones = %v", phones)
	}
	if got := phoneState(t, m, "13800000000"); got != domain.PhoneAvailable {
		t.Fatalf("phone state = %s, want available after release", got)
	}
}

func TestRegisterReleasesPhoneOnFailure(t *testing.T) {
	gw := &StubGateway{RegisterErr: errors.New("server error")}
	m := newTestManager(t, gw, nil)

	if _, err := m.Register(context.Background(), testCreds("trader")); err == nil {
		t.Fatal("expected error")
	}
	if got := phoneState(t, m, "13800000000"); got != domain.PhoneAvailable {
		t.Fatalf("phone state = %s, want available", got)
	}
	if _, err := m.deps.Accounts.GetByUsername(context.Background(), "trader"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("account persisted on failure: %v", err)
	}
}

func TestRegisterRetriesTransientFailures(t *testing.T) {
	gw := &StubGateway{FailSMS: 2}
	m := newTestManager(t, gw, nil)

	sess, err := m.Register(context.Background(), testCreds("trader"))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if sess.Token == "" {
		t.Fatal("empty token")
	}
	if n := gw.SMSCalls.Load(); n != 3 {
		t.Fatalf("sms calls = %d, want 3", n)
	}
	if n := gw.RegisterCalls.Load(); n != 1 {
		t.Fatalf("register calls = %d, want 1", n)
	}
	if got := phoneState(t, m, "13800000000"); got != domain.PhoneAvailable {
		t.Fatalf("phone state = %s, want available after retries", got)
	}
}

func TestRegisterStopsAtAttemptCap(t *testing.T) {
	gw := &StubGateway{SMSErr: errors.New("sms provider down")}
	m := newTestManager(t, gw, nil)

	_, err := m.Register(context.Background(), testCreds("trader"))
	if err == nil {
		t.Fatal("expected error")
	}
	if n := gw.SMSCalls.Load(); n != int64(DefaultConfig().AttemptCap) {
		t.Fatalf("sms calls = %d, want %d", n, DefaultConfig().AttemptCap)
	}
}

func TestRegisterReleasesResourcesOnCancellation(t *testing.T) {
	gw := &StubGateway{Block: make(chan struct{})}
	m := newTestManager(t, gw, []string{"http://p1:8080"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := m.Register(ctx, testCreds("trader"))
		done <- err
	}()

	deadline := time.After(2 * time.Second)
	for gw.RegisterCalls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("register never reached the gateway")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	if got := phoneState(t, m, "13800000000"); got != domain.PhoneAvailable {
		t.Fatalf("phone state = %s, want available after cancellation", got)
	}
	for _, ent := range m.deps.Proxies.Snapshot() {
		if ent.Leased {
			t.Fatalf("proxy %s still leased after cancellation", ent.Endpoint)
		}
	}
}

func TestRegisterDuplicateUsername(t *testing.T) {
	m := newTestManager(t, &StubGateway{}, nil)
	seedAccount(t, m, "trader")

	_, err := m.Register(context.Background(), testCreds("trader"))
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatalf("err = %v, want ErrDuplicateKey", err)
	}
}

func TestRegisterEmptyPhonePool(t *testing.T) {
	m := newTestManager(t, &StubGateway{}, nil)
	if err := m.deps.Phones.MarkExhausted("13800000000"); err != nil {
		t.Fatalf("mark exhausted: %v", err)
	}

	_, err := m.Register(context.Background(), testCreds("trader"))
	if !errors.Is(err, phonepool.ErrEmptyPool) {
		t.Fatalf("err = %v, want ErrEmptyPool", err)
	}
}

func TestRegisterCoalescesConcurrentCalls(t *testing.T) {
	gw := &StubGateway{Block: make(chan struct{})}
	m := newTestManager(t, gw, nil)

	results := make([]domain.Session, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = m.Register(context.Background(), testCreds("trader"))
		}(i)
	}
	deadline := time.After(2 * time.Second)
	for gw.RegisterCalls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("register never reached the gateway")
		case <-time.After(time.Millisecond):
		}
	}
	close(gw.Block)
	wg.Wait()

	for i := 0; i < 2; i++ {
		if errs[i] != nil {
			t.Fatalf("register %d: %v", i, errs[i])
		}
	}
	if results[0].ID != results[1].ID {
		t.Fatalf("sessions differ: %s vs %s", results[0].ID, results[1].ID)
	}
	if n := gw.RegisterCalls.Load(); n != 1 {
		t.Fatalf("register calls = %d, want 1", n)
	}
	// A single flight means a single phone reservation.
	if n := gw.SMSCalls.Load(); n != 1 {
		t.Fatalf("sms calls = %d, want 1", n)
	}
}
