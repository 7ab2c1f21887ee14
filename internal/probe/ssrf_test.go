package probe_test

import (
	"testing"

	"github.com/pilgrim-12/cronowl-sub001/internal/probe"
)

func TestValidateTarget(t *testing.T) {
	cases := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"public https", "https://example.com/health", false},
		{"public http", "http://example.com/", false},
		{"loopback v4", "http://127.0.0.1/x", true},
		{"loopback range", "http://127.8.8.8/", true},
		{"loopback v6", "http://[::1]/", true},
		{"metadata endpoint", "http://169.254.169.254/", true},
		{"google metadata host", "http://metadata.google.internal/computeMetadata/v1/", true},
		{"localhost", "http://localhost:8080/", true},
		{"local suffix", "http://nas.local/", true},
		{"internal suffix", "http://vault.corp.internal/", true},
		{"rfc1918 10/8", "http://10.0.0.5/", true},
		{"rfc1918 172.16/12", "http://172.16.1.1/", true},
		{"rfc1918 192.168/16", "http://192.168.1.1/", true},
		{"unspecified", "http://0.0.0.0/", true},
		{"ftp scheme", "ftp://example.com/", true},
		{"file scheme", "file:///etc/passwd", true},
		{"no host", "http:///path", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := probe.ValidateTarget(tc.url)
			if (err != nil) != tc.wantErr {
				t.Errorf("ValidateTarget(%q) error = %v, wantErr %v", tc.url, err, tc.wantErr)
			}
		})
	}
}
