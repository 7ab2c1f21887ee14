package probe_test

import (
	"testing"

	"github.com/pilgrim-12/cronowl-sub001/internal/probe"
)

func TestIsSensitiveHeader(t *testing.T) {
	sensitive := []string{
		"Authorization",
		"authorization",
		"X-Api-Key",
		"X-APIKEY",
		"X-Auth-Token",
		"Client-Secret",
		"X-Password",
		"Cookie",
		"Set-Cookie",
	}
	for _, key := range sensitive {
		if !probe.IsSensitiveHeader(key) {
			t.Errorf("expected %q to be sensitive", key)
		}
	}

	plain := []string{"Content-Type", "Accept", "User-Agent", "X-Request-ID"}
	for _, key := range plain {
		if probe.IsSensitiveHeader(key) {
			t.Errorf("expected %q to be plain", key)
		}
	}
}

func TestRedactHeaders(t *testing.T) {
	in := map[string]string{
		"Authorization": "Bearer abc123",
		"Content-Type":  "application/json",
		"X-Api-Key":     "key-9f8e",
	}

	out := probe.RedactHeaders(in)
	if out["Authorization"] == "Bearer abc123" {
		t.Error("Authorization value leaked through redaction")
	}
	if out["X-Api-Key"] == "key-9f8e" {
		t.Error("X-Api-Key value leaked through redaction")
	}
	if out["Content-Type"] != "application/json" {
		t.Errorf("plain header mangled: %q", out["Content-Type"])
	}

	// Input map untouched.
	if in["Authorization"] != "Bearer abc123" {
		t.Error("RedactHeaders modified its input")
	}
}

func TestRedactHeaders_Nil(t *testing.T) {
	if probe.RedactHeaders(nil) != nil {
		t.Error("expected nil for nil input")
	}
}
