package idhash

import (
	"crypto/sha256"
	"fmt"

	"github.com/mr-tron/base58"
)

// SessionID computes a deterministic session id using SHA256.
// Formula: SHA256(account_ref|created_at_ms|nonce), first 16 bytes
// base58-encoded for a compact, URL-safe id.
func SessionID(accountRef string, createdAt int64, nonce uint64) string {
	data := fmt.Sprintf("%s|%d|%d", accountRef, createdAt, nonce)
	hash := sha256.Sum256([]byte(data))
	return base58.Encode(hash[:16])
}

// AccountID computes a deterministic account id from the registration
// identity. Formula: SHA256(username|phone), first 16 bytes base58.
func AccountID(username, phone string) string {
	data := fmt.Sprintf("%s|%s", username, phone)
	hash := sha256.Sum256([]byte(data))
	return base58.Encode(hash[:16])
}
