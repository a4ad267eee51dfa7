package authn

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestParseBearer(t *testing.T) {
	cases := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc.def.ghi", "abc.def.ghi", true},
		{"bearer abc.def.ghi", "", false},
		{"Bearer", "", false},
		{"Bearer ", "", false},
		{"Bearer abc, def", "", false},
		{"Bearer abc def", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		got, ok := ParseBearer(c.header)
		if ok != c.ok || got != c.token {
			t.Errorf("ParseBearer(%q) = (%q, %v), want (%q, %v)", c.header, got, ok, c.token, c.ok)
		}
	}
}

func signHMAC(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("signing test token: %v", err)
	}
	return signed
}

func TestVerify_HMACTesting_AcceptsValidToken(t *testing.T) {
	v := NewHMACTesting("https://issuer.example.com/", "gateway", "test-secret-value", 30*time.Second)
	token := signHMAC(t, "test-secret-value", jwt.MapClaims{
		"iss": "https://issuer.example.com/",
		"aud": "gateway",
		"sub": "user-123",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	claims, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.Subject != "user-123" {
		t.Errorf("Subject = %q, want user-123", claims.Subject)
	}
}

func TestVerify_RejectsWrongSecret(t *testing.T) {
	v := NewHMACTesting("https://issuer.example.com/", "gateway", "correct-secret", 30*time.Second)
	token := signHMAC(t, "wrong-secret", jwt.MapClaims{
		"iss": "https://issuer.example.com/",
		"aud": "gateway",
		"sub": "user-123",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	_, err := v.Verify(token)
	if err != ErrAuthenticationFailed {
		t.Fatalf("Verify() error = %v, want ErrAuthenticationFailed", err)
	}
}

func TestVerify_RejectsExpiredToken(t *testing.T) {
	v := NewHMACTesting("https://issuer.example.com/", "gateway", "test-secret", 0)
	token := signHMAC(t, "test-secret", jwt.MapClaims{
		"iss": "https://issuer.example.com/",
		"aud": "gateway",
		"sub": "user-123",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})

	_, err := v.Verify(token)
	if err != ErrAuthenticationFailed {
		t.Fatalf("Verify() error = %v, want ErrAuthenticationFailed", err)
	}
}

func TestVerify_RejectsMissingSubject(t *testing.T) {
	v := NewHMACTesting("https://issuer.example.com/", "gateway", "test-secret", 30*time.Second)
	token := signHMAC(t, "test-secret", jwt.MapClaims{
		"iss": "https://issuer.example.com/",
		"aud": "gateway",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	_, err := v.Verify(token)
	if err != ErrAuthenticationFailed {
		t.Fatalf("Verify() error = %v, want ErrAuthenticationFailed", err)
	}
}

func TestVerify_RejectsWrongAudience(t *testing.T) {
	v := NewHMACTesting("https://issuer.example.com/", "gateway", "test-secret", 30*time.Second)
	token := signHMAC(t, "test-secret", jwt.MapClaims{
		"iss": "https://issuer.example.com/",
		"aud": "someone-else",
		"sub": "user-123",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	_, err := v.Verify(token)
	if err != ErrAuthenticationFailed {
		t.Fatalf("Verify() error = %v, want ErrAuthenticationFailed", err)
	}
}

func TestNormalizeIssuer(t *testing.T) {
	if got := normalizeIssuer("https://issuer.example.com"); got != "https://issuer.example.com/" {
		t.Errorf("normalizeIssuer() = %q, want trailing slash", got)
	}
	if got := normalizeIssuer(" https://issuer.example.com/ "); got != "https://issuer.example.com/" {
		t.Errorf("normalizeIssuer() = %q, want trimmed with trailing slash", got)
	}
}
