// Package authn implements the JWT verification surface (C4): parse a
// bearer token, verify it against the identity provider's published keys,
// and return the caller's subject — or a single opaque failure.
package authn

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// ErrAuthenticationFailed is the single opaque error surfaced on any
// verification failure; callers must never leak decoded claims, key ids, or
// inner parser messages to the client (spec.md §4.4).
var ErrAuthenticationFailed = errors.New("authentication failed")

// Claims is the subset of token claims the gateway cares about.
type Claims struct {
	Subject  string
	Issuer   string
	Audience []string
	ExpireAt time.Time
}

// Verifier validates bearer tokens against a JWKS endpoint, or, in testing
// mode, against a static HMAC secret.
type Verifier struct {
	issuer           string
	audience         string
	expectedClientID string
	parser           *jwt.Parser

	jwksKeyfunc keyfunc.Keyfunc
	hmacSecret  []byte
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithExpectedClientID requires the azp claim, when present, to equal
// clientID.
func WithExpectedClientID(clientID string) Option {
	return func(v *Verifier) { v.expectedClientID = clientID }
}

// New builds a JWKS-backed Verifier. jwksURL is refreshed automatically by
// keyfunc on a key-not-found (kid miss), per spec.md §4.4.
func New(issuer, audience, jwksURL string, algorithms []string, leeway time.Duration, opts ...Option) (*Verifier, error) {
	normalized := normalizeIssuer(issuer)
	if normalized == "" {
		return nil, errors.New("authn: issuer must be set")
	}
	if audience == "" {
		return nil, errors.New("authn: audience must be set")
	}
	if jwksURL == "" {
		jwksURL = normalized + ".well-known/jwks.json"
	}

	kf, err := keyfunc.NewDefault([]string{jwksURL})
	if err != nil {
		return nil, errAuthnInit(err)
	}

	v := &Verifier{
		issuer:      normalized,
		audience:    audience,
		jwksKeyfunc: kf,
		parser:      newParser(normalized, audience, algorithms, leeway),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// NewHMACTesting builds a Verifier that accepts HS256-signed tokens against
// a static secret, for local/dev use only (config.Testing.Enabled).
func NewHMACTesting(issuer, audience, secret string, leeway time.Duration, opts ...Option) *Verifier {
	normalized := normalizeIssuer(issuer)
	v := &Verifier{
		issuer:     normalized,
		audience:   audience,
		hmacSecret: []byte(secret),
		parser:     newParser(normalized, audience, []string{"HS256"}, leeway),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func newParser(issuer, audience string, algorithms []string, leeway time.Duration) *jwt.Parser {
	return jwt.NewParser(
		jwt.WithIssuer(issuer),
		jwt.WithAudience(audience),
		jwt.WithLeeway(leeway),
		jwt.WithValidMethods(algorithms),
	)
}

// Verify parses and validates tokenString, returning the caller's subject
// and claims, or ErrAuthenticationFailed. Every failure path — bad
// signature, wrong issuer/audience, expired, missing sub, disallowed
// algorithm — collapses to the same opaque error.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	var keyfn jwt.Keyfunc
	if v.hmacSecret != nil {
		keyfn = func(*jwt.Token) (interface{}, error) { return v.hmacSecret, nil }
	} else {
		keyfn = v.jwksKeyfunc.Keyfunc
	}

	token, err := v.parser.Parse(tokenString, keyfn)
	if err != nil || !token.Valid {
		return nil, ErrAuthenticationFailed
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrAuthenticationFailed
	}

	claims := &Claims{
		Subject:  readString(mapClaims, "sub"),
		Issuer:   readString(mapClaims, "iss"),
		Audience: readAudience(mapClaims["aud"]),
		ExpireAt: readExpiry(mapClaims["exp"]),
	}
	if claims.Subject == "" {
		return nil, ErrAuthenticationFailed
	}
	if v.expectedClientID != "" {
		if azp := readString(mapClaims, "azp"); azp != "" && azp != v.expectedClientID {
			return nil, ErrAuthenticationFailed
		}
	}
	return claims, nil
}

// ParseBearer extracts the token from an Authorization header value. It
// requires the exact shape "Bearer <token>" — one space, no comma-separated
// credentials — per spec.md §4.4.
func ParseBearer(headerValue string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(headerValue, prefix) {
		return "", false
	}
	rest := headerValue[len(prefix):]
	if rest == "" || strings.Contains(rest, " ") || strings.Contains(rest, ",") {
		return "", false
	}
	return rest, true
}

func normalizeIssuer(issuer string) string {
	issuer = strings.TrimSpace(issuer)
	if issuer == "" {
		return ""
	}
	if !strings.HasSuffix(issuer, "/") {
		issuer += "/"
	}
	return issuer
}

func readString(claims jwt.MapClaims, key string) string {
	if s, ok := claims[key].(string); ok {
		return s
	}
	return ""
}

func readAudience(raw any) []string {
	switch v := raw.(type) {
	case string:
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	default:
		return nil
	}
}

func readExpiry(raw any) time.Time {
	switch v := raw.(type) {
	case float64:
		return time.Unix(int64(v), 0)
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return time.Unix(i, 0)
		}
	case int64:
		return time.Unix(v, 0)
	}
	return time.Time{}
}

func errAuthnInit(err error) error {
	return errors.New("authn: initializing JWKS keyfunc: " + err.Error())
}
