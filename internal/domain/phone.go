package domain

// PhoneState is the usage state of a pooled phone number.
type PhoneState string

// Phone pool state constants.
const (
	PhoneAvailable PhoneState = "available"
	PhoneReserved  PhoneState = "reserved"
	PhoneExhausted PhoneState = "exhausted"
)

// PhoneSource records how a number entered the pool.
type PhoneSource string

const (
	PhoneSourceManual    PhoneSource = "manual"
	PhoneSourceHarvested PhoneSource = "harvested"
)

// PhoneNumber is one pooled number used to register crawler accounts.
// State transitions happen only through the pool's exclusive operations.
type PhoneNumber struct {
	Number     string
	State      PhoneState
	Source     PhoneSource
	ReservedBy string // session id holding the reservation, "" if none
	UsageCount int    // successful reservations consumed so far
	AddedAt    int64  // Unix timestamp in milliseconds
}
