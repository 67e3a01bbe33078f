// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package router

import "strings"

// slotPrompts maps a slot name (as reported by the LLM in missingSlots) to
// the phrasing fragment used when composing a clarification question. Slots
// themselves are always detected by the LLM in Stage B — this catalog only
// supplies wording, never detection logic.
var slotPrompts = map[string]string{
	"location": "where this applies",
	"keyword":  "what to search for",
	"date":     "which date or time",
	"url":      "which link or page",
	"email":    "which email address",
	"amount":   "how much",
	"duration": "for how long",
	"name":     "who or what you mean",
}

// composeClarification builds a single friendly question enumerating every
// missing slot reported by Stage B.
func composeClarification(missingSlots []string) string {
	if len(missingSlots) == 0 {
		return ""
	}

	var fragments []string
	for _, slot := range missingSlots {
		if phrase, ok := slotPrompts[slot]; ok {
			fragments = append(fragments, phrase)
		} else {
			fragments = append(fragments, slot)
		}
	}

	if len(fragments) == 1 {
		return "Could you tell me " + fragments[0] + "?"
	}
	return "Could you tell me " + strings.Join(fragments[:len(fragments)-1], ", ") + " and " + fragments[len(fragments)-1] + "?"
}
