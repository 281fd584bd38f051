// Package contracts evaluates preconditions per event and classifies each
// check as enforced or shadow. The first enforced contract whose
// preconditions fail determines the dispatch outcome; shadow contracts
// observe without altering delivery.
package contracts

import (
	"fmt"

	"github.com/hivemind/orchestrator/internal/event"
	"github.com/hivemind/orchestrator/internal/panestate"
)

// Mode is a contract's evaluation mode.
type Mode string

const (
	ModeEnforced Mode = "enforced"
	ModeShadow   Mode = "shadow"
)

// Severity classifies a violation's weight.
type Severity string

const (
	SeverityWarn  Severity = "warn"
	SeverityBlock Severity = "block"
)

// Action is the side-effect policy applied when an enforced contract's
// preconditions fail.
type Action string

const (
	ActionDefer    Action = "defer"
	ActionBlock    Action = "block"
	ActionDrop     Action = "drop"
	ActionSkip     Action = "skip"
	ActionContinue Action = "continue"
)

func validAction(a Action) bool {
	switch a {
	case ActionDefer, ActionBlock, ActionDrop, ActionSkip, ActionContinue:
		return true
	}
	return false
}

// Predicate is a named boolean check over an event and the recipient's
// current state vector.
type Predicate struct {
	Name  string
	Check func(ev *event.Envelope, state panestate.Vector) bool
}

// Contract is a named precondition bundle with a policy outcome.
type Contract struct {
	ID      string
	Version string
	Owner   string

	// AppliesTo holds type patterns, exact or suffix `.*`.
	AppliesTo []string

	// Preconditions are evaluated in order; the first failing predicate
	// triggers the violation.
	Preconditions []Predicate

	Severity       Severity
	Action         Action
	FallbackAction Action
	Mode           Mode

	// EmitOnViolation overrides the violation event type. Defaults to
	// contract.violation, or contract.shadow.violation in shadow mode.
	EmitOnViolation string
}

// ViolationType returns the event type published when this contract's
// preconditions fail.
func (c *Contract) ViolationType() string {
	if c.EmitOnViolation != "" {
		return c.EmitOnViolation
	}
	if c.Mode == ModeShadow {
		return event.TypeContractShadowViolation
	}
	return event.TypeContractViolation
}

// AppliesToType reports whether any of the contract's patterns matches the
// event type.
func (c *Contract) AppliesToType(eventType string) bool {
	for _, p := range c.AppliesTo {
		if event.Match(p, eventType) {
			return true
		}
	}
	return false
}

// Validate rejects malformed contract definitions.
func (c *Contract) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("contract missing id")
	}
	if len(c.AppliesTo) == 0 {
		return fmt.Errorf("contract %s: empty appliesTo", c.ID)
	}
	for _, p := range c.AppliesTo {
		if err := event.ValidatePattern(p); err != nil {
			return fmt.Errorf("contract %s: %w", c.ID, err)
		}
	}
	if len(c.Preconditions) == 0 {
		return fmt.Errorf("contract %s: no preconditions", c.ID)
	}
	for i, p := range c.Preconditions {
		if p.Check == nil {
			return fmt.Errorf("contract %s: precondition %d has no check", c.ID, i)
		}
	}
	if !validAction(c.Action) {
		return fmt.Errorf("contract %s: invalid action %q", c.ID, c.Action)
	}
	if c.FallbackAction != "" && !validAction(c.FallbackAction) {
		return fmt.Errorf("contract %s: invalid fallback action %q", c.ID, c.FallbackAction)
	}
	switch c.Mode {
	case ModeEnforced, ModeShadow:
	default:
		return fmt.Errorf("contract %s: invalid mode %q", c.ID, c.Mode)
	}
	return nil
}
