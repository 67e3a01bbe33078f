// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/sipeed/picoclaw/pkg/opresult"
)

// fieldSchema declares one expected JSON field: its name, whether it must
// be present, and (for strings) an optional max length.
type fieldSchema struct {
	Name      string
	Required  bool
	MaxLength int // 0 means unbounded
}

// decodeAndValidate parses body against schema, returning a structured
// 400 failure listing every offending field name when validation fails —
// the stage never half-applies: either every field is present or none of
// the handler runs.
func decodeAndValidate(r *http.Request, schema []fieldSchema, out map[string]any) *opresult.Failure {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return opresult.NewFailure(opresult.CodeInputTooLarge, "request body exceeded the size limit", false)
	}
	if len(body) == 0 {
		body = []byte("{}")
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return opresult.NewFailure(opresult.CodeInputValidationFailed, "request body is not valid JSON", false)
	}

	var offending []string
	for _, f := range schema {
		v, present := raw[f.Name]
		if f.Required && !present {
			offending = append(offending, f.Name)
			continue
		}
		if present && f.MaxLength > 0 {
			if s, ok := v.(string); ok && len(s) > f.MaxLength {
				offending = append(offending, f.Name)
			}
		}
	}

	if len(offending) > 0 {
		return opresult.NewFailure(
			opresult.CodeInputValidationFailed,
			fmt.Sprintf("invalid or missing fields: %v", offending),
			false,
		)
	}

	for k, v := range raw {
		out[k] = v
	}
	return nil
}
