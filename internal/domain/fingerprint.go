package domain

// Fingerprint is a randomized but internally consistent browser
// identity. Consistency means the user agent, platform and client-hint
// headers all describe the same browser; nothing here is cryptographic.
type Fingerprint struct {
	UserAgent       string
	Platform        string // "macOS", "Windows", "Linux"
	AcceptLanguage  string
	SecChUA         string
	SecChUAPlatform string
	SecChUAMobile   string
	AcceptEncoding  string
	RequestedWith   string
}

// Headers renders the fingerprint as the HTTP header set a session
// attaches to every provider request.
func (f Fingerprint) Headers() map[string]string {
	return map[string]string{
		"User-Agent":         f.UserAgent,
		"Accept":             "application/json, text/javascript, */*; q=0.01",
		"Accept-Language":    f.AcceptLanguage,
		"Accept-Encoding":    f.AcceptEncoding,
		"Cache-Control":      "no-cache",
		"Pragma":             "no-cache",
		"Sec-Ch-Ua":          f.SecChUA,
		"Sec-Ch-Ua-Mobile":   f.SecChUAMobile,
		"Sec-Ch-Ua-Platform": f.SecChUAPlatform,
		"Sec-Fetch-Dest":     "empty",
		"Sec-Fetch-Mode":     "cors",
		"Sec-Fetch-Site":     "same-origin",
		"X-Requested-With":   f.RequestedWith,
	}
}
