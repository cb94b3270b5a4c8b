package domain

// Account is a registered crawler account on the gated provider.
type Account struct {
	ID          string
	Username    string
	Email       string
	Phone       string // number consumed during registration
	Password    string
	Token       string // last token issued at login, "" before first login
	Fingerprint string // provider-side fingerprint id bound to the token
	CreatedAt   int64  // Unix timestamp in milliseconds
}
