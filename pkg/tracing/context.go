// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

// Package tracing carries a request's trace id through every layer of the
// core without a process-global variable, which would alias across
// concurrent requests. A context.Context value is the async-local
// equivalent available in Go.
package tracing

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"github.com/sipeed/picoclaw/pkg/logger"
)

func init() {
	logger.RegisterCtxFields(Fields)
}

type contextKey struct{}

var traceKey = contextKey{}

// traceState is the value stored in the context. It is a pointer so that
// WithField can mutate the field map in place for the remainder of a single
// request's call tree without re-threading a new context at every call site.
type traceState struct {
	id     string
	fields map[string]any
}

// NewTraceID generates a new 16-character hex trace id.
func NewTraceID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the system RNG is broken; fall back to a
		// fixed sentinel rather than panicking mid-request.
		return "0000000000000000"
	}
	return hex.EncodeToString(buf)
}

// WithContext returns a derived context carrying the given trace id. Pass the
// id read from an inbound X-Trace-Id header, or NewTraceID() if absent.
func WithContext(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey, &traceState{id: traceID, fields: map[string]any{}})
}

// FromContext returns the trace id carried by ctx, or "" if none was set.
func FromContext(ctx context.Context) string {
	if st, ok := ctx.Value(traceKey).(*traceState); ok {
		return st.id
	}
	return ""
}

// WithField attaches a structured field (e.g. "userId", "channel") that
// logger calls made against this context should include. Safe to call
// concurrently from independent goroutines sharing the same ctx only if each
// goroutine owns distinct keys; callers that fan out should derive their own
// WithContext rather than share a single traceState across writers.
func WithField(ctx context.Context, key string, value any) {
	if st, ok := ctx.Value(traceKey).(*traceState); ok {
		st.fields[key] = value
	}
}

// Fields returns a snapshot of the structured fields accumulated on ctx's
// trace state, merged with the trace id itself under "traceId".
func Fields(ctx context.Context) map[string]any {
	out := map[string]any{}
	st, ok := ctx.Value(traceKey).(*traceState)
	if !ok {
		return out
	}
	for k, v := range st.fields {
		out[k] = v
	}
	if st.id != "" {
		out["traceId"] = st.id
	}
	return out
}
