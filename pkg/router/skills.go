// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package router

import "sync"

// StaticSkillRegistry is a simple, mutation-safe in-memory SkillRegistry.
// A real deployment registers specialist personas and tool-backed skills
// into one of these at startup.
type StaticSkillRegistry struct {
	mu     sync.RWMutex
	skills []Skill
}

// NewStaticSkillRegistry builds a registry from an initial skill set.
func NewStaticSkillRegistry(skills ...Skill) *StaticSkillRegistry {
	return &StaticSkillRegistry{skills: skills}
}

// ListSkills implements SkillRegistry.
func (r *StaticSkillRegistry) ListSkills() []Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Skill, len(r.skills))
	copy(out, r.skills)
	return out
}

// Register adds or replaces a skill by name. Callers must call
// Router.InvalidateSkillCache afterward for the change to take effect.
func (r *StaticSkillRegistry) Register(skill Skill) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range r.skills {
		if s.Name == skill.Name {
			r.skills[i] = skill
			return
		}
	}
	r.skills = append(r.skills, skill)
}

// Unregister removes a skill by name, if present.
func (r *StaticSkillRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range r.skills {
		if s.Name == name {
			r.skills = append(r.skills[:i], r.skills[i+1:]...)
			return
		}
	}
}
