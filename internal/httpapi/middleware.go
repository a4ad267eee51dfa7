package httpapi

import (
	"context"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/aigateway/gateway/internal/authn"
	"github.com/aigateway/gateway/internal/correlation"
	"github.com/aigateway/gateway/internal/ratelimit"
)

// defaultQueriesLimit is the quota granted to a newly auto-provisioned user.
// Tier-specific limits are an administrative concern outside this surface;
// new users start on the free tier's default cap.
const defaultQueriesLimit = 100

type ctxKey int

const userIDKey ctxKey = iota

func withUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// userIDFromContext returns the authenticated user id attached by requireAuth.
func userIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(userIDKey).(string)
	return v
}

// recoverer is the catch-all exception handler named in spec.md §4.2: it
// turns any panic in a downstream handler into the uniform error envelope
// instead of chi's bare 500. It must sit after correlation.Middleware in
// the chain so the request it holds already carries the correlation ID.
func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().
					Interface("panic", rec).
					Str("correlation_id", correlation.FromContext(r.Context())).
					Bytes("stack", debug.Stack()).
					Msg("recovered from panic in request handler")
				correlation.WriteError(w, r.Context(), correlation.CodeInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// recordRequest captures the route and final status of every request for
// the requests_total counter.
func (a *API) recordRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		a.metrics.RecordRequest(r.Context(), routeLabel(r), ww.Status())
	})
}

func routeLabel(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

// requireAuth verifies the bearer token and auto-provisions the caller's
// user record, attaching the resolved user id to the request context.
func (a *API) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := authn.ParseBearer(r.Header.Get("Authorization"))
		if !ok {
			a.recordAuthFailure(r)
			correlation.WriteError(w, r.Context(), correlation.CodeAuthenticationFailed, "missing or malformed bearer token")
			return
		}

		claims, err := a.verifier.Verify(token)
		if err != nil {
			a.recordAuthFailure(r)
			correlation.WriteError(w, r.Context(), correlation.CodeAuthenticationFailed, "token verification failed")
			return
		}

		user, err := a.store.GetOrCreateUser(claims.Subject, claims.Subject, defaultQueriesLimit)
		if err != nil {
			correlation.WriteError(w, r.Context(), correlation.CodeUserAccessFailed, "resolving user")
			return
		}

		ctx := withUserID(r.Context(), user.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// rateLimit enforces the user bucket first, then the IP bucket, per the
// control-flow ordering of C3 ("rate limit: user then IP").
func (a *API) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := userIDFromContext(r.Context())
		if userID != "" {
			ok, retryAfter := a.userLimiter.Consume(ratelimit.UserKey(userID), 1)
			if !ok {
				a.recordRateLimitRejection(r, "user")
				writeRateLimited(w, r, retryAfter)
				return
			}
		}

		ipKey, ok := ratelimit.IPKey(clientIP(r))
		if !ok {
			a.recordRateLimitRejection(r, "ip")
			writeRateLimited(w, r, 0)
			return
		}
		allowed, retryAfter := a.ipLimiter.Consume(ipKey, 1)
		if !allowed {
			a.recordRateLimitRejection(r, "ip")
			writeRateLimited(w, r, retryAfter)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *API) recordAuthFailure(r *http.Request) {
	if a.metrics != nil {
		a.metrics.RecordAuthFailure(r.Context())
	}
}

func (a *API) recordRateLimitRejection(r *http.Request, scope string) {
	if a.metrics != nil {
		a.metrics.RecordRateLimitRejection(r.Context(), scope)
	}
}

func writeRateLimited(w http.ResponseWriter, r *http.Request, retryAfter time.Duration) {
	seconds := int(retryAfter.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	correlation.WriteErrorWithRetryAfter(w, r.Context(), correlation.CodeRateLimitExceeded, "rate limit exceeded", seconds)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
