// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

// Package logger is the structured logging surface used across every
// package in the tree. Every call is component-tagged ("memory", "agent",
// "gateway", ...) and carries a flat field map; nothing in this module pulls
// in a third-party logging library, a deliberate choice documented in
// DESIGN.md.
package logger

import (
	"context"
	"log/slog"
	"os"
	"sync/atomic"
)

var base atomic.Pointer[slog.Logger]

func init() {
	l := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	base.Store(l)
}

// SetLevel adjusts the minimum level emitted; used by cmd/picoclaw/main.go to
// honor a LOG_LEVEL environment setting.
func SetLevel(level slog.Level) {
	l := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	base.Store(l)
}

func fieldArgs(component string, fields map[string]interface{}) []any {
	args := make([]any, 0, len(fields)*2+2)
	args = append(args, "component", component)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return args
}

// InfoCF logs at info level, tagged with a component name and a field map.
func InfoCF(component, msg string, fields map[string]interface{}) {
	base.Load().Info(msg, fieldArgs(component, fields)...)
}

// WarnCF logs at warn level, tagged with a component name and a field map.
func WarnCF(component, msg string, fields map[string]interface{}) {
	base.Load().Warn(msg, fieldArgs(component, fields)...)
}

// ErrorCF logs at error level, tagged with a component name and a field map.
func ErrorCF(component, msg string, fields map[string]interface{}) {
	base.Load().Error(msg, fieldArgs(component, fields)...)
}

// DebugCF logs at debug level, tagged with a component name and a field map.
func DebugCF(component, msg string, fields map[string]interface{}) {
	base.Load().Debug(msg, fieldArgs(component, fields)...)
}

// CtxInfoCF is InfoCF with trace-context fields (traceId and whatever was
// attached via tracing.WithField) merged in automatically. Handlers and
// orchestrator workers should prefer this over InfoCF once a request-scoped
// context is available.
func CtxInfoCF(ctx context.Context, component, msg string, fields map[string]interface{}) {
	InfoCF(component, msg, mergeCtxFields(ctx, fields))
}

// CtxWarnCF is WarnCF with trace-context fields merged in.
func CtxWarnCF(ctx context.Context, component, msg string, fields map[string]interface{}) {
	WarnCF(component, msg, mergeCtxFields(ctx, fields))
}

// CtxErrorCF is ErrorCF with trace-context fields merged in.
func CtxErrorCF(ctx context.Context, component, msg string, fields map[string]interface{}) {
	ErrorCF(component, msg, mergeCtxFields(ctx, fields))
}

// ctxFieldsFunc is set by pkg/tracing via an init-time hook to avoid an
// import cycle (tracing is a leaf package; logger must not depend on it).
var ctxFieldsFunc func(context.Context) map[string]any

// RegisterCtxFields wires the trace-field extractor. Called once from
// pkg/tracing's init.
func RegisterCtxFields(f func(context.Context) map[string]any) {
	ctxFieldsFunc = f
}

func mergeCtxFields(ctx context.Context, fields map[string]interface{}) map[string]interface{} {
	if ctxFieldsFunc == nil {
		return fields
	}
	merged := make(map[string]interface{}, len(fields)+2)
	for k, v := range ctxFieldsFunc(ctx) {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return merged
}
