package domain

// ProxyEntry is one proxy endpoint tracked by the rotator.
type ProxyEntry struct {
	Endpoint     string  // "host:port" or full URL
	HealthScore  float64 // 0..100, decremented on reported failure
	LastUsed     int64   // Unix timestamp in milliseconds, 0 if never
	FailureCount int
	Leased       bool
}
