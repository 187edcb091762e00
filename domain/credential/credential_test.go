package credential_test

import (
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/shrinkix/quotagate/domain/credential"
)

func basic(s string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(s))
}

func TestFingerprint(t *testing.T) {
	if got := credential.Fingerprint("sk_0123456789abcdef"); got != "sk_012345678" {
		t.Errorf("Fingerprint() = %q", got)
	}
	if got := credential.Fingerprint("short"); got != "short" {
		t.Errorf("Fingerprint(short) = %q", got)
	}
}

func TestMatchesLegacy(t *testing.T) {
	c := credential.Credential{LegacyPlaintext: "tr_legacy"}
	if !c.MatchesLegacy("tr_legacy") {
		t.Error("expected legacy match")
	}
	if c.MatchesLegacy("tr_legacyX") || c.MatchesLegacy("") {
		t.Error("unexpected legacy match")
	}
	if (credential.Credential{}).MatchesLegacy("") {
		t.Error("empty plaintext must never match")
	}
	if !c.IsLegacy() {
		t.Error("credential without hash should be legacy")
	}
}

func TestUsable(t *testing.T) {
	now := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	if !(credential.Credential{}).Usable() {
		t.Error("fresh credential should be usable")
	}
	if (credential.Credential{RevokedAt: &now}).Usable() {
		t.Error("revoked credential must not be usable")
	}
}

func TestParseBearer(t *testing.T) {
	tests := []struct {
		name        string
		header      string
		wantToken   string
		wantPresent bool
		wantErr     bool
	}{
		{"bearer", "Bearer sk_abc", "sk_abc", true, false},
		{"lowercase scheme", "bearer sk_abc", "sk_abc", true, false},
		{"empty token", "Bearer ", "", true, true},
		{"bare scheme", "Bearer", "", true, true},
		{"basic scheme", basic("x:y"), "", false, false},
		{"no header", "", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, present, err := credential.ParseBearer(tt.header)
			if token != tt.wantToken || present != tt.wantPresent || (err != nil) != tt.wantErr {
				t.Errorf("ParseBearer(%q) = %q, %v, %v", tt.header, token, present, err)
			}
		})
	}
}

func TestParseBasic(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		wantKey string
		wantErr bool
	}{
		{"username discarded", basic("ignored:sk_secret"), "sk_secret", false},
		{"empty username", basic(":sk_secret"), "sk_secret", false},
		{"no colon taken whole", basic("sk_secret"), "sk_secret", false},
		{"password with colon", basic("u:sk:x"), "sk:x", false},
		{"empty password", basic("user:"), "", true},
		{"bad base64", "Basic !!!", "", true},
		{"empty param", "Basic ", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, present, err := credential.ParseBasic(tt.header)
			if !present {
				t.Fatal("expected Basic credentials to be present")
			}
			if key != tt.wantKey || (err != nil) != tt.wantErr {
				t.Errorf("ParseBasic(%q) = %q, %v", tt.header, key, err)
			}
			if err != nil {
				var authErr *credential.AuthError
				if !errors.As(err, &authErr) || authErr.Method != credential.MethodBasic {
					t.Errorf("error = %v, want *AuthError for basic", err)
				}
			}
		})
	}
}

func TestCheckScheme(t *testing.T) {
	if err := credential.CheckScheme("Digest abc"); err == nil {
		t.Error("expected unsupported scheme error")
	}
	for _, ok := range []string{"", "Bearer x", basic("a:b")} {
		if err := credential.CheckScheme(ok); err != nil {
			t.Errorf("CheckScheme(%q) = %v", ok, err)
		}
	}
}

func TestInboundAnonymous(t *testing.T) {
	if !(credential.Inbound{}).Anonymous() {
		t.Error("empty inbound should be anonymous")
	}
	if (credential.Inbound{Session: "s"}).Anonymous() {
		t.Error("session cookie is a credential")
	}
}
