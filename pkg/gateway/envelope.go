// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

// Package gateway is the single HTTP/WebSocket entry point: it wraps the
// core (router, memory engine, orchestrator) behind a fixed middleware
// pipeline and a uniform response envelope.
package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/sipeed/picoclaw/pkg/opresult"
)

// successEnvelope is the wire shape of every successful response.
type successEnvelope struct {
	OK       bool           `json:"ok"`
	Output   any            `json:"output"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// errorBody is the nested error object of a failure envelope.
type errorBody struct {
	Code         opresult.Code `json:"code"`
	Message      string        `json:"message"`
	Retryable    bool          `json:"retryable"`
	RetryAfterMs int64         `json:"retryAfterMs,omitempty"`
}

type failureEnvelope struct {
	OK    bool      `json:"ok"`
	Error errorBody `json:"error"`
}

func writeSuccess(w http.ResponseWriter, output any, metadata map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(successEnvelope{OK: true, Output: output, Metadata: metadata})
}

// writeFailure writes the user-facing Failure as the standard error
// envelope, mapping its Code to the correct HTTP status.
func writeFailure(w http.ResponseWriter, f *opresult.Failure) {
	w.Header().Set("Content-Type", "application/json")
	if f.RetryAfterMs > 0 {
		w.Header().Set("Retry-After", retryAfterSeconds(f.RetryAfterMs))
	}
	w.WriteHeader(opresult.HTTPStatus(f.Code))
	_ = json.NewEncoder(w).Encode(failureEnvelope{
		OK: false,
		Error: errorBody{
			Code:         f.Code,
			Message:      f.UserMessage,
			Retryable:    f.Retryable,
			RetryAfterMs: f.RetryAfterMs,
		},
	})
}

func retryAfterSeconds(ms int64) string {
	secs := ms / 1000
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}
