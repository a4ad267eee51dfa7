// Package correlation tags every inbound request with a correlation ID and
// renders the uniform error envelope (spec.md §4.2) from exactly the
// handler sites that need it.
package correlation

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"

	"github.com/google/uuid"
)

// Code is a stable error-code constant from the taxonomy in spec.md §7.
type Code string

const (
	CodeInvalidInput          Code = "INVALID_INPUT"
	CodeAuthenticationFailed  Code = "AUTHENTICATION_FAILED"
	CodeJobNotFound           Code = "JOB_NOT_FOUND"
	CodeUserNotFound          Code = "USER_NOT_FOUND"
	CodeHTTPException         Code = "HTTP_EXCEPTION"
	CodeRequestTooLarge       Code = "REQUEST_TOO_LARGE"
	CodeRateLimitExceeded     Code = "RATE_LIMIT_EXCEEDED"
	CodeQueryLimitExceeded    Code = "QUERY_LIMIT_EXCEEDED"
	CodeInternalServerError   Code = "INTERNAL_SERVER_ERROR"
	CodeUserAccessFailed      Code = "USER_ACCESS_FAILED"
	CodeDatabaseError         Code = "DATABASE_ERROR"
	CodeAIServiceError        Code = "AI_SERVICE_ERROR"
	CodeServiceUnavailable    Code = "SERVICE_UNAVAILABLE"
	CodeNoServiceAvailable    Code = "NO_SERVICE_AVAILABLE"
)

// HeaderName is the header carrying the correlation ID on inbound and
// outbound requests.
const HeaderName = "X-Request-ID"

type contextKey struct{}

var idKey contextKey

// uuidPattern matches the canonical 8-4-4-4-12 hex UUID shape, case
// insensitive, regardless of version/variant bits.
var uuidPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// IsUUIDShaped reports whether s looks like a UUID, without requiring it be
// a specific version.
func IsUUIDShaped(s string) bool {
	return uuidPattern.MatchString(s)
}

// New returns a client-supplied ID if it is UUID-shaped, otherwise a freshly
// generated UUID v4.
func New(clientSupplied string) string {
	if IsUUIDShaped(clientSupplied) {
		return clientSupplied
	}
	return uuid.NewString()
}

// WithID attaches id to ctx.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, idKey, id)
}

// FromContext returns the correlation ID attached to ctx, or "" if none.
func FromContext(ctx context.Context) string {
	if v, ok := ctx.Value(idKey).(string); ok {
		return v
	}
	return ""
}

// Middleware tags every request with a correlation ID (accepting a
// client-supplied X-Request-ID only if UUID-shaped), attaches it to the
// request context, and echoes it on the response header.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := New(r.Header.Get(HeaderName))
		w.Header().Set(HeaderName, id)
		ctx := WithID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// envelopeBody is the wire shape of an error response.
type envelopeBody struct {
	Error envelopeError `json:"error"`
}

type envelopeError struct {
	Message       string `json:"message"`
	Code          Code   `json:"code"`
	CorrelationID string `json:"correlation_id"`
}

// statusForCode maps each stable code to its canonical HTTP status, per
// spec.md §7's taxonomy.
var statusForCode = map[Code]int{
	CodeInvalidInput:         http.StatusUnprocessableEntity,
	CodeAuthenticationFailed: http.StatusUnauthorized,
	CodeJobNotFound:          http.StatusNotFound,
	CodeUserNotFound:         http.StatusNotFound,
	CodeHTTPException:        http.StatusNotFound,
	CodeRequestTooLarge:      http.StatusRequestEntityTooLarge,
	CodeRateLimitExceeded:    http.StatusTooManyRequests,
	CodeQueryLimitExceeded:   http.StatusTooManyRequests,
	CodeInternalServerError:  http.StatusInternalServerError,
	CodeUserAccessFailed:     http.StatusInternalServerError,
	CodeDatabaseError:        http.StatusInternalServerError,
	CodeAIServiceError:       http.StatusBadGateway,
	CodeServiceUnavailable:   http.StatusServiceUnavailable,
	CodeNoServiceAvailable:   http.StatusServiceUnavailable,
}

// StatusFor returns the canonical HTTP status for a code, defaulting to 500
// for unregistered codes (never reached for codes in the taxonomy above).
func StatusFor(code Code) int {
	if s, ok := statusForCode[code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// WriteError renders the uniform envelope for ctx's correlation ID, writes
// the canonical status for code, and sets the correlation header. It is the
// single rendering path used by every error-producing handler site named in
// spec.md §4.2.
func WriteError(w http.ResponseWriter, ctx context.Context, code Code, message string) {
	id := FromContext(ctx)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(HeaderName, id)
	w.WriteHeader(StatusFor(code))
	_ = json.NewEncoder(w).Encode(envelopeBody{Error: envelopeError{
		Message:       message,
		Code:          code,
		CorrelationID: id,
	}})
}

// WriteErrorWithRetryAfter is WriteError plus a Retry-After header in
// seconds, used for rate-limit denials (spec.md §4.2).
func WriteErrorWithRetryAfter(w http.ResponseWriter, ctx context.Context, code Code, message string, retryAfterSeconds int) {
	w.Header().Set("Retry-After", itoa(retryAfterSeconds))
	WriteError(w, ctx, code, message)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
