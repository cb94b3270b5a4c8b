package idhash

import "testing"

func TestSessionID_Deterministic(t *testing.T) {
	a := SessionID("acct-1", 1700000000000, 7)
	b := SessionID("acct-1", 1700000000000, 7)
	if a != b {
		t.Errorf("same inputs produced different ids: %s vs %s", a, b)
	}
}

func TestSessionID_DistinctInputs(t *testing.T) {
	ids := map[string]bool{
		SessionID("acct-1", 1700000000000, 1): true,
		SessionID("acct-1", 1700000000000, 2): true,
		SessionID("acct-1", 1700000000001, 1): true,
		SessionID("acct-2", 1700000000000, 1): true,
	}
	if len(ids) != 4 {
		t.Errorf("expected 4 distinct ids, got %d", len(ids))
	}
}

func TestAccountID_Deterministic(t *testing.T) {
	a := AccountID("user1234", "13800138000")
	b := AccountID("user1234", "13800138000")
	if a != b {
		t.Errorf("same identity produced different ids: %s vs %s", a, b)
	}
	if a == AccountID("user1234", "13900139000") {
		t.Error("different phones must produce different account ids")
	}
}
