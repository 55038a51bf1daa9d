// Package policy gates execution behind an explicit allow-list. Only the
// scopes and action types enumerated for the current rollout phase may
// execute; everything else is denied with an operator-readable reason.
// Expanding capability means adding to the list, never removing from a
// deny-list.
package policy

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rule allows a scope and the action types permitted within it. An empty
// ActionTypes list allows no action at all: the rule must name what it opens.
type Rule struct {
	Scope       string   `yaml:"scope" json:"scope"`
	ActionTypes []string `yaml:"action_types" json:"action_types"`
}

// Phase is one rollout stage's allow-list.
type Phase struct {
	Name  string `yaml:"name" json:"name"`
	Rules []Rule `yaml:"rules" json:"rules"`
}

// DefaultPhase is the initial rollout: note rewrites only.
func DefaultPhase() Phase {
	return Phase{
		Name: "phase-1-notes",
		Rules: []Rule{
			{Scope: "core.notes", ActionTypes: []string{"NOTE_REWRITE", "NOTE_APPEND"}},
		},
	}
}

// LoadPhase reads a rollout phase from a YAML file.
func LoadPhase(path string) (Phase, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Phase{}, fmt.Errorf("policy: read phase file: %w", err)
	}
	var p Phase
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return Phase{}, fmt.Errorf("policy: parse phase file: %w", err)
	}
	if p.Name == "" || len(p.Rules) == 0 {
		return Phase{}, fmt.Errorf("policy: phase file %q must declare a name and at least one rule", path)
	}
	return p, nil
}

// Decision is the outcome of a safety check. Reason is safe to log and to
// return to callers; it never contains secret material.
type Decision struct {
	Safe   bool   `json:"safe"`
	Reason string `json:"reason"`
}

// Gate answers allow-list questions for one phase.
type Gate struct {
	name    string
	allowed map[string]map[string]bool
}

// NewGate builds a Gate from a phase.
func NewGate(p Phase) *Gate {
	allowed := make(map[string]map[string]bool, len(p.Rules))
	for _, r := range p.Rules {
		scope := strings.TrimSpace(r.Scope)
		if scope == "" {
			continue
		}
		actions := allowed[scope]
		if actions == nil {
			actions = make(map[string]bool, len(r.ActionTypes))
			allowed[scope] = actions
		}
		for _, at := range r.ActionTypes {
			actions[strings.TrimSpace(at)] = true
		}
	}
	return &Gate{name: p.Name, allowed: allowed}
}

// PhaseName reports which rollout phase the gate enforces.
func (g *Gate) PhaseName() string { return g.name }

// IsExecuteAllowed reports whether any action may execute in scope.
func (g *Gate) IsExecuteAllowed(scope string) bool {
	_, ok := g.allowed[scope]
	return ok
}

// CheckExecuteAccess is the secondary safety check run after the coarse
// scope test: it ties the requesting tool, scope, and action type together.
func (g *Gate) CheckExecuteAccess(tool, scope, actionType string) Decision {
	actions, ok := g.allowed[scope]
	if !ok {
		return Decision{Safe: false, Reason: fmt.Sprintf(
			"scope %q is not on the %s allow-list (tool %s)", scope, g.name, tool)}
	}
	if !actions[actionType] {
		return Decision{Safe: false, Reason: fmt.Sprintf(
			"action %q is not allowed in scope %q during %s (tool %s)", actionType, scope, g.name, tool)}
	}
	return Decision{Safe: true, Reason: "allowed"}
}

// AllowedScopes lists the scopes open in this phase, sorted.
func (g *Gate) AllowedScopes() []string {
	scopes := make([]string, 0, len(g.allowed))
	for s := range g.allowed {
		scopes = append(scopes, s)
	}
	sort.Strings(scopes)
	return scopes
}
