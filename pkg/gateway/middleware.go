// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package gateway

import (
	"net/http"
	"strings"
	"time"

	"github.com/sipeed/picoclaw/pkg/opresult"
	"github.com/sipeed/picoclaw/pkg/tracing"
)

// Middleware is one stage of the fixed pipeline: trace -> CORS -> auth ->
// rate limit -> body limit -> JSON validation -> handler dispatch.
type Middleware func(http.Handler) http.Handler

// chain composes middleware in the order given, first to last wraps
// outermost to innermost, so stage[0] runs first on every request.
func chain(handler http.Handler, stages ...Middleware) http.Handler {
	for i := len(stages) - 1; i >= 0; i-- {
		handler = stages[i](handler)
	}
	return handler
}

// traceMiddleware reads X-Trace-Id or mints a new one, stores it in the
// request context via pkg/tracing (never a package-global), and echoes it
// back in the response header.
func traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get("X-Trace-Id")
		if traceID == "" {
			traceID = tracing.NewTraceID()
		}
		ctx := tracing.WithContext(r.Context(), traceID)
		w.Header().Set("X-Trace-Id", traceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CORSConfig lists the allowed origins; "*" allows any.
type CORSConfig struct {
	AllowedOrigins []string
}

func (c CORSConfig) allows(origin string) bool {
	for _, o := range c.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

func corsMiddleware(cfg CORSConfig) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && cfg.allows(origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Admin-Token, X-Trace-Id, X-User-ID")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// adminAuthMiddleware enforces the admin bearer token on /admin/* routes
// only; every other path passes through untouched.
func adminAuthMiddleware(adminToken string, disableAdmin bool) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.URL.Path, "/admin/") {
				next.ServeHTTP(w, r)
				return
			}
			if disableAdmin {
				writeFailure(w, opresult.NewFailure(opresult.CodeAuthForbidden, "admin surface disabled", false))
				return
			}

			provided := bearerToken(r)
			if provided == "" {
				provided = r.Header.Get("X-Admin-Token")
			}
			if provided == "" || provided != adminToken {
				writeFailure(w, opresult.NewFailure(opresult.CodeAuthInvalidToken, "missing or invalid admin token", false))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(h, prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}

// bodyLimitMiddleware wraps the request body in http.MaxBytesReader so a
// streaming read aborts with an error once maxBytes is exceeded, which the
// JSON-decoding stage turns into a 413 response.
func bodyLimitMiddleware(maxBytes int64) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

func newRateLimitedFailure() *opresult.Failure {
	return opresult.NewFailure(opresult.CodeAuthRateLimited, "rate limit exceeded", true).WithRetryAfter(1000)
}

// requestTimeoutMiddleware enforces the per-route timeout from spec §5
// (300s for /chat, 30s elsewhere) via http.TimeoutHandler, translated into
// the standard failure envelope instead of net/http's plaintext default.
func requestTimeoutMiddleware(d time.Duration) Middleware {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, timeoutBody())
	}
}

func timeoutBody() string {
	return `{"ok":false,"error":{"code":"OPERATION_CANCELLED","message":"request exceeded its time budget","retryable":false}}`
}
