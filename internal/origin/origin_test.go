package origin

import "testing"

func TestNormalizeHeader(t *testing.T) {
	cases := []struct {
		name       string
		raw        string
		normalized string
		host       string
		ok         bool
	}{
		{"lowercases scheme and host", "HTTPS://Example.COM", "https://example.com", "example.com", true},
		{"strips default https port", "https://example.com:443", "https://example.com", "example.com", true},
		{"strips default http port", "http://example.com:80", "http://example.com", "example.com", true},
		{"keeps explicit port", "http://localhost:5173", "http://localhost:5173", "localhost:5173", true},
		{"allows trailing slash", "http://localhost:5173/", "http://localhost:5173", "localhost:5173", true},
		{"null origin", "null", "null", "", true},
		{"ipv6 literal", "http://[::1]:3000", "http://[::1]:3000", "[::1]:3000", true},
		{"empty", "", "", "", false},
		{"whitespace", "   ", "", "", false},
		{"non-http scheme", "ftp://example.com", "", "", false},
		{"path", "https://example.com/app", "", "", false},
		{"query", "https://example.com?x=1", "", "", false},
		{"fragment", "https://example.com#frag", "", "", false},
		{"userinfo", "https://user@example.com", "", "", false},
		{"bad port", "https://example.com:0", "", "", false},
		{"port overflow", "https://example.com:70000", "", "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			normalized, host, ok := NormalizeHeader(tc.raw)
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if normalized != tc.normalized || host != tc.host {
				t.Errorf("NormalizeHeader(%q) = %q, %q; want %q, %q", tc.raw, normalized, host, tc.normalized, tc.host)
			}
		})
	}
}

func TestIsAllowed_Allowlist(t *testing.T) {
	allowed := []string{"https://app.example.org", "http://localhost:5173"}

	if !IsAllowed("https://app.example.org", "app.example.org", "api.example.org", allowed) {
		t.Error("listed origin denied")
	}
	if !IsAllowed("http://localhost:5173", "localhost:5173", "127.0.0.1:3000", allowed) {
		t.Error("listed localhost origin denied")
	}
	if IsAllowed("https://evil.example.org", "evil.example.org", "api.example.org", allowed) {
		t.Error("unlisted origin allowed")
	}

	if !IsAllowed("https://anything.example.org", "anything.example.org", "api.example.org", []string{"*"}) {
		t.Error("wildcard denied an origin")
	}
}

func TestIsAllowed_SameHostDefault(t *testing.T) {
	if !IsAllowed("http://localhost:3000", "localhost:3000", "localhost:3000", nil) {
		t.Error("same host denied")
	}
	if IsAllowed("http://localhost:3000", "localhost:3000", "localhost:4000", nil) {
		t.Error("different port allowed")
	}
	// Default ports match their implicit form.
	if !IsAllowed("https://example.com", "example.com", "example.com:443", nil) {
		t.Error("implicit https port denied")
	}
	// "null" origins never match a host.
	if IsAllowed("null", "", "localhost:3000", nil) {
		t.Error("null origin allowed under same-host policy")
	}
}
