// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/sipeed/picoclaw/pkg/memory"
	"github.com/sipeed/picoclaw/pkg/opresult"
	"github.com/sipeed/picoclaw/pkg/router"
)

// Core bundles every subsystem the gateway dispatches into; it is thin on
// purpose — the gateway owns HTTP concerns only.
type Core struct {
	Router       *router.Router
	Memory       *memory.Store
	Version      string
	ComponentMap func() map[string]string // component name -> "up"/"down"

	// Admin wires the optional maintenance tasks exposed under /admin/*.
	// Both fields are nil-checked at the handler so an instance that didn't
	// configure a sessions directory or a specialist loader still serves the
	// rest of the gateway normally.
	Admin AdminTasks
}

// AdminTasks are operator-triggered maintenance jobs that otherwise only run
// on the daily lifecycle cron: re-running them on demand after a store reset
// or a specialist roster change doesn't need to wait for 03:00.
type AdminTasks struct {
	Backfill          func(ctx context.Context) (*memory.BackfillStats, error)
	ReviewSpecialists func(ctx context.Context)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{}
	if f := decodeAndValidate(r, []fieldSchema{
		{Name: "input", Required: true, MaxLength: 32000},
		{Name: "sessionKey", Required: true, MaxLength: 512},
	}, body); f != nil {
		writeFailure(w, f)
		return
	}

	input, _ := body["input"].(string)
	convContext, _ := body["context"].(string)

	decision := s.core.Router.Route(r.Context(), input, convContext)
	if !decision.IsOk() {
		writeFailure(w, decision.Failure())
		return
	}

	writeSuccess(w, decision.Value(), map[string]any{"traceId": r.Header.Get("X-Trace-Id")})
}

func (s *Server) handleMemorySearch(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{}
	if f := decodeAndValidate(r, []fieldSchema{
		{Name: "query", Required: true, MaxLength: 4000},
		{Name: "userId", Required: true, MaxLength: 256},
	}, body); f != nil {
		writeFailure(w, f)
		return
	}

	query, _ := body["query"].(string)
	userID, _ := body["userId"].(string)

	results, err := s.core.Memory.HybridSearch(memory.SearchCtx(r.Context()), query, memory.SearchOptions{UserID: userID})
	if err != nil {
		writeFailure(w, opresult.NewFailure(opresult.CodeInputValidationFailed, err.Error(), false))
		return
	}

	writeSuccess(w, map[string]any{"results": results}, nil)
}

func (s *Server) handleMemoryUpdate(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{}
	if f := decodeAndValidate(r, []fieldSchema{
		{Name: "userId", Required: true, MaxLength: 256},
		{Name: "content", Required: true, MaxLength: 8000},
	}, body); f != nil {
		writeFailure(w, f)
		return
	}

	userID, _ := body["userId"].(string)
	content, _ := body["content"].(string)
	explicit, _ := body["explicit"].(bool)

	vec, err := s.core.Memory.AddMemory(r.Context(), userID, content, memory.LifecycleShortTerm, 0.5, explicit)
	if err != nil {
		writeFailure(w, opresult.NewFailure(opresult.CodeMemoryConflict, err.Error(), false))
		return
	}

	writeSuccess(w, map[string]any{"memoryId": vec.ID}, nil)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := map[string]string{}
	if s.core.ComponentMap != nil {
		components = s.core.ComponentMap()
	}
	writeSuccess(w, map[string]any{
		"uptime":  time.Since(s.startedAt).String(),
		"version": s.core.Version,
		"components": components,
	}, nil)
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	ready := s.ready.Load()
	if !ready {
		writeFailure(w, opresult.NewFailure(opresult.CodeSystemInternal, "not ready", true))
		return
	}
	writeSuccess(w, map[string]any{"ready": true}, nil)
}

func (s *Server) handleAdminBackfill(w http.ResponseWriter, r *http.Request) {
	if s.core.Admin.Backfill == nil {
		writeFailure(w, opresult.NewFailure(opresult.CodeSystemInternal, "backfill not configured for this instance", false))
		return
	}
	stats, err := s.core.Admin.Backfill(r.Context())
	if err != nil {
		writeFailure(w, opresult.NewFailure(opresult.CodeSystemInternal, err.Error(), false))
		return
	}
	writeSuccess(w, map[string]any{
		"sessionsProcessed": stats.SessionsProcessed,
		"turnsIndexed":      stats.TurnsIndexed,
		"errors":            stats.Errors,
	}, nil)
}

func (s *Server) handleAdminReviewSpecialists(w http.ResponseWriter, r *http.Request) {
	if s.core.Admin.ReviewSpecialists == nil {
		writeFailure(w, opresult.NewFailure(opresult.CodeSystemInternal, "specialist review not configured for this instance", false))
		return
	}
	s.core.Admin.ReviewSpecialists(r.Context())
	writeSuccess(w, map[string]any{"reviewed": true}, nil)
}

func (s *Server) handleAdminShutdown(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, map[string]any{"shuttingDown": true}, nil)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.shutdownGrace)
		defer cancel()
		_ = s.Shutdown(ctx)
	}()
}
