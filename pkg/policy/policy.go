// Package policy describes what a privacy request does to matched data: which
// data categories each rule targets and how erased values are masked.
package policy

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"sigs.k8s.io/yaml"

	"github.com/dsrkit/dsrkit/pkg/masking"
)

var ErrInvalidPolicy = errors.New("invalid policy")

type ActionType string

const (
	ActionAccess  ActionType = "access"
	ActionErasure ActionType = "erasure"
	ActionConsent ActionType = "consent"
)

func (a ActionType) Valid() bool {
	switch a {
	case ActionAccess, ActionErasure, ActionConsent:
		return true
	}
	return false
}

type Rule struct {
	Name             string          `json:"name"`
	ActionType       ActionType      `json:"action_type"`
	TargetCategories []string        `json:"target_categories"`
	MaskingStrategy  *masking.Config `json:"masking_strategy,omitempty"`
}

// Targets reports whether category equals one of the rule's targets or is nested under one.
func (r Rule) Targets(category string) bool {
	for _, target := range r.TargetCategories {
		if MatchesCategory(category, target) {
			return true
		}
	}
	return false
}

// MatchesCategory reports whether category is target or a descendant of it,
// so "user.contact.email" matches "user.contact" but "user.contactless" does not.
func MatchesCategory(category, target string) bool {
	return category == target || strings.HasPrefix(category, target+".")
}

type Policy struct {
	Key   string `json:"key"`
	Rules []Rule `json:"rules"`
}

func (p *Policy) Validate() error {
	if p.Key == "" {
		return fmt.Errorf("%w: key is required", ErrInvalidPolicy)
	}
	if len(p.Rules) == 0 {
		return fmt.Errorf("%w: policy %q has no rules", ErrInvalidPolicy, p.Key)
	}
	for _, r := range p.Rules {
		if !r.ActionType.Valid() {
			return fmt.Errorf("%w: rule %q has unknown action type %q", ErrInvalidPolicy, r.Name, r.ActionType)
		}
		if r.ActionType == ActionErasure {
			if r.MaskingStrategy == nil {
				return fmt.Errorf("%w: erasure rule %q needs a masking strategy", ErrInvalidPolicy, r.Name)
			}
			if _, err := masking.Get(*r.MaskingStrategy); err != nil {
				return fmt.Errorf("%w: rule %q: %v", ErrInvalidPolicy, r.Name, err)
			}
		}
	}
	return nil
}

// RulesFor returns the rules of one action type, in declaration order.
func (p *Policy) RulesFor(action ActionType) []Rule {
	var out []Rule
	for _, r := range p.Rules {
		if r.ActionType == action {
			out = append(out, r)
		}
	}
	return out
}

func (p *Policy) HasAction(action ActionType) bool {
	return len(p.RulesFor(action)) > 0
}

// Parse decodes a YAML or JSON policy and validates it.
func Parse(data []byte) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func LoadFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}
