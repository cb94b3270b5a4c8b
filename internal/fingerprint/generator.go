// Package fingerprint produces randomized browser identities for
// crawler sessions. The correctness requirement is internal
// consistency: the user agent, platform and client-hint headers must
// all describe the same browser build.
package fingerprint

import (
	"math/rand"

	"stock-order-flow/internal/domain"
)

// identity is one internally consistent browser build.
type identity struct {
	userAgent       string
	platform        string
	secChUA         string
	secChUAPlatform string
}

// identities is the fixed matrix the generator draws from. Each row
// keeps UA, platform and Sec-Ch-Ua-* in agreement.
var identities = []identity{
	{
		userAgent:       "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/138.0.0.0 Safari/537.36",
		platform:        "macOS",
		secChUA:         `"Not)A;Brand";v="8", "Chromium";v="138", "Google Chrome";v="138"`,
		secChUAPlatform: `"macOS"`,
	},
	{
		userAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/138.0.0.0 Safari/537.36",
		platform:        "Windows",
		secChUA:         `"Not)A;Brand";v="8", "Chromium";v="138", "Google Chrome";v="138"`,
		secChUAPlatform: `"Windows"`,
	},
	{
		userAgent:       "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/138.0.0.0 Safari/537.36",
		platform:        "Linux",
		secChUA:         `"Not)A;Brand";v="8", "Chromium";v="138", "Google Chrome";v="138"`,
		secChUAPlatform: `"Linux"`,
	},
	{
		userAgent:       "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Safari/605.1.15",
		platform:        "macOS",
		secChUA:         "", // Safari sends no client hints
		secChUAPlatform: "",
	},
	{
		userAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:109.0) Gecko/20100101 Firefox/119.0",
		platform:        "Windows",
		secChUA:         "", // Firefox sends no client hints
		secChUAPlatform: "",
	},
}

var acceptLanguages = []string{
	"zh-CN,zh;q=0.9,en;q=0.8",
	"zh-CN,zh;q=0.9,en-US;q=0.8,en;q=0.7",
	"zh-CN,zh;q=0.9,en-AU;q=0.8,en;q=0.7,vi;q=0.6",
}

// Generator draws identities from the matrix. A seeded source keeps
// test output reproducible.
type Generator struct {
	rng *rand.Rand
}

// New creates a generator with the given seed.
func New(seed int64) *Generator {
	return &Generator{rng: rand.New(rand.NewSource(seed))}
}

// Generate returns one consistent fingerprint.
func (g *Generator) Generate() domain.Fingerprint {
	id := identities[g.rng.Intn(len(identities))]
	return domain.Fingerprint{
		UserAgent:       id.userAgent,
		Platform:        id.platform,
		AcceptLanguage:  acceptLanguages[g.rng.Intn(len(acceptLanguages))],
		SecChUA:         id.secChUA,
		SecChUAPlatform: id.secChUAPlatform,
		SecChUAMobile:   "?0",
		AcceptEncoding:  "gzip, deflate, br",
		RequestedWith:   "XMLHttpRequest",
	}
}
