package origin

import (
	"net/http/httptest"
	"testing"
)

func TestFromRequest(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		want       string
	}{
		{
			name:       "remote addr only",
			remoteAddr: "198.51.100.7:51234",
			want:       "198.51.100.7",
		},
		{
			name:       "cloudflare header wins",
			headers:    map[string]string{"CF-Connecting-IP": "203.0.113.9", "X-Forwarded-For": "192.0.2.1"},
			remoteAddr: "10.0.0.1:80",
			want:       "203.0.113.9",
		},
		{
			name:       "forwarded-for takes first hop",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.50, 10.0.0.2, 10.0.0.3"},
			remoteAddr: "10.0.0.1:80",
			want:       "203.0.113.50",
		},
		{
			name:       "invalid header falls through",
			headers:    map[string]string{"X-Real-IP": "not-an-ip"},
			remoteAddr: "198.51.100.7:443",
			want:       "198.51.100.7",
		},
		{
			name:       "nothing valid",
			remoteAddr: "garbage",
			want:       Unknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := FromRequest(r); got != tt.want {
				t.Errorf("FromRequest() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAnonymize(t *testing.T) {
	tests := []struct {
		ip   string
		want string
	}{
		{"203.0.113.77", "203.0.113.0"},
		{"10.1.2.3", "10.1.2.0"},
		{"2001:db8:1:2:3:4:5:6", "2001:db8:1:2::"},
		{"not-an-ip", "not-an-ip"},
	}
	for _, tt := range tests {
		if got := Anonymize(tt.ip); got != tt.want {
			t.Errorf("Anonymize(%q) = %q, want %q", tt.ip, got, tt.want)
		}
	}
}

func TestAllowed(t *testing.T) {
	if !Allowed("203.0.113.1", nil) {
		t.Error("empty allowlist should allow all")
	}
	if !Allowed("203.0.113.1", []string{"203.0.113.1", "198.51.100.2"}) {
		t.Error("listed origin should be allowed")
	}
	if Allowed("203.0.113.9", []string{"203.0.113.1"}) {
		t.Error("unlisted origin should be denied")
	}
}
