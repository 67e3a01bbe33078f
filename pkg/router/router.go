// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

// Package router implements the two-stage intent router: a cheap candidate
// generation pass followed by a confidence-gated decision pass, deciding
// between running a named skill, replying as the model, or asking the user
// for clarification.
package router

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/sipeed/picoclaw/pkg/logger"
	"github.com/sipeed/picoclaw/pkg/opresult"
	"github.com/sipeed/picoclaw/pkg/providers"
)

// Action is the router's final decision.
type Action string

const (
	ActionRunSkill   Action = "run_skill"
	ActionModelReply Action = "model_reply"
	ActionClarify    Action = "clarify"
)

// Skill is one entry in the skill registry: name and description only — the
// router never sees a skill's source, never hardcodes keyword rules.
type Skill struct {
	Name        string
	Description string
}

// SkillRegistry exposes the current skill catalog. Implementations should
// invalidate the router's cache (via Router.InvalidateSkillCache) whenever
// the underlying registry changes.
type SkillRegistry interface {
	ListSkills() []Skill
}

// Decision is the route() result payload.
type Decision struct {
	Action            Action
	SkillName         string
	SkillInput        string
	ClarificationText string
	Confidence        float64
	Candidates        []string
	Reasoning         string
}

// Router implements route(input, context).
type Router struct {
	provider      providers.LLMProvider
	model         string
	skills        SkillRegistry
	confidenceMin float64

	mu          sync.RWMutex
	cachedList  []Skill
	cacheLoaded bool
}

// New builds a router with the default 0.72 confidence threshold.
func New(provider providers.LLMProvider, model string, skills SkillRegistry) *Router {
	return &Router{provider: provider, model: model, skills: skills, confidenceMin: 0.72}
}

// WithConfidenceThreshold overrides the default gating threshold.
func (r *Router) WithConfidenceThreshold(t float64) *Router {
	r.confidenceMin = t
	return r
}

// InvalidateSkillCache forces the next Route call to re-fetch the skill
// list, for callers whose SkillRegistry just changed.
func (r *Router) InvalidateSkillCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cacheLoaded = false
	r.cachedList = nil
}

func (r *Router) skillList() []Skill {
	r.mu.RLock()
	if r.cacheLoaded {
		defer r.mu.RUnlock()
		return r.cachedList
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.cacheLoaded {
		r.cachedList = r.skills.ListSkills()
		r.cacheLoaded = true
	}
	return r.cachedList
}

// Route decides one of run_skill/model_reply/clarify for a single user
// input. Stage A and Stage B run sequentially; concurrent Route calls for
// different inputs never share state beyond the read-only skill cache.
func (r *Router) Route(ctx context.Context, input string, convContext string) opresult.Result[Decision] {
	skills := r.skillList()

	candidates, err := r.stageA(ctx, input, convContext, skills)
	if err != nil {
		return opresult.Err[Decision](opresult.NewFailure(opresult.CodeProviderUnavailable, err.Error(), true))
	}

	if len(candidates) == 0 {
		return opresult.Ok(Decision{Action: ActionModelReply, Confidence: 1, Reasoning: "no candidate skills"})
	}

	decision, err := r.stageB(ctx, input, convContext, candidates, skills)
	if err != nil {
		return opresult.Err[Decision](opresult.NewFailure(opresult.CodeProviderUnavailable, err.Error(), true))
	}
	if decision == nil {
		return opresult.Err[Decision](opresult.NewFailure(opresult.CodeIntentNoDecision, "provider returned no parsable decision", false))
	}

	decision.Candidates = candidates

	if decision.Action == ActionRunSkill && decision.Confidence < r.confidenceMin {
		logger.InfoCF("router", "confidence below threshold, degrading", map[string]interface{}{
			"confidence": decision.Confidence, "threshold": r.confidenceMin, "skill": decision.SkillName,
		})
		if decision.ClarificationText != "" {
			decision.Action = ActionClarify
		} else {
			decision.Action = ActionModelReply
		}
	}

	if decision.Action == ActionRunSkill {
		found := false
		for _, s := range skills {
			if s.Name == decision.SkillName {
				found = true
				break
			}
		}
		if !found {
			return opresult.Err[Decision](opresult.NewFailure(opresult.CodeSkillNotFound, "skill not found: "+decision.SkillName, false))
		}
	}

	return opresult.Ok(*decision)
}

// stageA asks the provider for 0-3 candidate skill names.
func (r *Router) stageA(ctx context.Context, input, convContext string, skills []Skill) ([]string, error) {
	if len(skills) == 0 {
		return nil, nil
	}

	var b strings.Builder
	b.WriteString("You are selecting candidate skills for a user request. ")
	b.WriteString("Available skills:\n")
	for _, s := range skills {
		b.WriteString("- " + s.Name + ": " + s.Description + "\n")
	}
	b.WriteString("User input: " + input + "\n")
	if convContext != "" {
		b.WriteString("Context: " + convContext + "\n")
	}
	b.WriteString("Return a JSON array of 0 to 3 skill names that could plausibly serve this request, or [] if none apply. Respond with only the JSON array.")

	result := providers.Generate(ctx, r.provider, []providers.Message{{Role: "user", Content: b.String()}}, r.model)
	if !result.IsOk() {
		return nil, result.Failure()
	}
	out := result.Value().Text
	if out == "" {
		return nil, nil
	}

	var names []string
	if err := json.Unmarshal([]byte(extractJSON(out)), &names); err != nil {
		return nil, nil
	}
	if len(names) > 3 {
		names = names[:3]
	}
	return names, nil
}

type decisionPayload struct {
	Action            string   `json:"action"`
	Name              string   `json:"name"`
	Input             string   `json:"input"`
	Confidence        float64  `json:"confidence"`
	MissingSlots      []string `json:"missingSlots"`
	Reason            string   `json:"reason"`
}

// stageB asks the provider for the final structured decision.
func (r *Router) stageB(ctx context.Context, input, convContext string, candidates []string, skills []Skill) (*Decision, error) {
	descByName := map[string]string{}
	for _, s := range skills {
		descByName[s.Name] = s.Description
	}

	var b strings.Builder
	b.WriteString("Decide how to handle this user request.\nCandidate skills:\n")
	for _, name := range candidates {
		b.WriteString("- " + name + ": " + descByName[name] + "\n")
	}
	b.WriteString("User input: " + input + "\n")
	if convContext != "" {
		b.WriteString("Context: " + convContext + "\n")
	}
	b.WriteString(`Respond with only JSON: {"action":"run_skill"|"model_reply"|"clarify","name":"...","input":"...","confidence":0.0,"missingSlots":["..."],"reason":"..."}`)

	result := providers.Generate(ctx, r.provider, []providers.Message{{Role: "user", Content: b.String()}}, r.model)
	if !result.IsOk() {
		return nil, result.Failure()
	}
	out := result.Value().Text
	if out == "" {
		return nil, nil
	}

	var payload decisionPayload
	if err := json.Unmarshal([]byte(extractJSON(out)), &payload); err != nil {
		return nil, nil
	}

	decision := &Decision{
		Action:     Action(payload.Action),
		SkillName:  payload.Name,
		SkillInput: payload.Input,
		Confidence: payload.Confidence,
		Reasoning:  payload.Reason,
	}
	if len(payload.MissingSlots) > 0 {
		decision.ClarificationText = composeClarification(payload.MissingSlots)
	}
	switch decision.Action {
	case ActionRunSkill, ActionModelReply, ActionClarify:
	default:
		return nil, nil
	}
	return decision, nil
}

// extractJSON trims a provider response down to its first {...} or [...]
// span, tolerating surrounding prose or markdown code fences.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	open, close := s[start], byte('}')
	if open == '[' {
		close = ']'
	}
	end := strings.LastIndexByte(s, close)
	if end < start {
		return s
	}
	return s[start : end+1]
}
