package purelink

import (
	"encoding/base64"
	"fmt"
	"testing"
)

func TestDeriveCredential(t *testing.T) {
	tests := []struct {
		password string
		want     string
	}{
		{"password", "sQnzu7wkTrgkQZF+0G1hi5AI3Qmzvv0bXgc5THBqi7mAsdd4Xll27ASbRt9fEyavWi6m0QP9B8lThf+rDKy8hg=="},
		{"abcd1234", "kl9Dw8+5VrvjxqqAI7p61c+iHRBBhv/8aedo5VlA2WU7HNNvumFPui4YRPRDbaIPg3UMbsHbNW2hVGkb3XGpsQ=="},
		{"", "z4PhNX7vuL3xVChQ1m2AB9Yg5AULVxXcg/SpIdNs6c5H0NE8XYXysP+DGNKHfuwvY7kxvUdBeoGlODJ6+SfaPg=="},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.password), func(t *testing.T) {
			got := DeriveCredential(tt.password)
			if string(got) != tt.want {
				t.Errorf("DeriveCredential(%q) = %q, want %q", tt.password, string(got), tt.want)
			}
		})
	}
}

func TestDeriveCredentialShape(t *testing.T) {
	for _, pw := range []string{"a", "a much longer wifi password with spaces", "ünïcødé"} {
		c := string(DeriveCredential(pw))
		if len(c) != 88 {
			t.Errorf("len(DeriveCredential(%q)) = %d, want 88", pw, len(c))
		}
		raw, err := base64.StdEncoding.DecodeString(c)
		if err != nil {
			t.Errorf("credential for %q is not standard base64: %v", pw, err)
		}
		if len(raw) != 64 {
			t.Errorf("decoded digest length = %d, want 64", len(raw))
		}
		if DeriveCredential(pw) != DeriveCredential(pw) {
			t.Errorf("DeriveCredential(%q) is not deterministic", pw)
		}
	}
}

func TestCredentialStringRedacts(t *testing.T) {
	c := DeriveCredential("password")
	if c.String() != "[redacted]" {
		t.Errorf("String() = %q, want [redacted]", c.String())
	}
	if s := fmt.Sprintf("%v", c); s != "[redacted]" {
		t.Errorf("formatted credential = %q", s)
	}
	if Credential("").String() != "" {
		t.Error("empty credential should format as empty")
	}
}
