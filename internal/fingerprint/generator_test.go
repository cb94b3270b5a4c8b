package fingerprint

import (
	"strings"
	"testing"
)

func TestGenerate_InternallyConsistent(t *testing.T) {
	g := New(1)
	for i := 0; i < 100; i++ {
		fp := g.Generate()

		switch fp.Platform {
		case "macOS":
			if !strings.Contains(fp.UserAgent, "Macintosh") {
				t.Errorf("macOS platform with non-Mac UA: %s", fp.UserAgent)
			}
		case "Windows":
			if !strings.Contains(fp.UserAgent, "Windows NT") {
				t.Errorf("Windows platform with non-Windows UA: %s", fp.UserAgent)
			}
		case "Linux":
			if !strings.Contains(fp.UserAgent, "Linux") {
				t.Errorf("Linux platform with non-Linux UA: %s", fp.UserAgent)
			}
		default:
			t.Errorf("unknown platform %q", fp.Platform)
		}

		// client hints, when present, must name the same platform
		if fp.SecChUAPlatform != "" && !strings.Contains(fp.SecChUAPlatform, fp.Platform) {
			t.Errorf("Sec-Ch-Ua-Platform %s disagrees with platform %s", fp.SecChUAPlatform, fp.Platform)
		}
		// Chrome UAs carry hints, Safari/Firefox UAs must not
		isChrome := strings.Contains(fp.UserAgent, "Chrome/")
		if isChrome && fp.SecChUA == "" {
			t.Errorf("Chrome UA without client hints: %s", fp.UserAgent)
		}
		if !isChrome && fp.SecChUA != "" {
			t.Errorf("non-Chrome UA with client hints: %s", fp.UserAgent)
		}
	}
}

func TestGenerate_SeededReproducible(t *testing.T) {
	a, b := New(42), New(42)
	for i := 0; i < 10; i++ {
		if a.Generate() != b.Generate() {
			t.Fatal("same seed must produce the same sequence")
		}
	}
}

func TestHeaders_CarryIdentity(t *testing.T) {
	fp := New(7).Generate()
	h := fp.Headers()
	if h["User-Agent"] != fp.UserAgent {
		t.Error("User-Agent header must match fingerprint")
	}
	if h["Sec-Ch-Ua-Platform"] != fp.SecChUAPlatform {
		t.Error("Sec-Ch-Ua-Platform header must match fingerprint")
	}
	if h["X-Requested-With"] != "XMLHttpRequest" {
		t.Error("X-Requested-With must be set")
	}
}
