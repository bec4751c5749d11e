package input

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Rule maps a trigger to an action. Rules are values; the engine never
// mutates one.
type Rule struct {
	ID      string
	Trigger Trigger
	Action  Action
	Enabled bool
}

// NewRuleID returns a new opaque rule id.
func NewRuleID() string {
	return uuid.New().String()
}

// Validate checks a single rule in isolation.
func (r Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule id is empty")
	}
	if _, ok := kindNames[r.Trigger.Kind]; !ok {
		return fmt.Errorf("rule %s: invalid trigger kind %d", r.ID, r.Trigger.Kind)
	}
	if r.Trigger.Modifiers != r.Trigger.Modifiers.Normalize() {
		return fmt.Errorf("rule %s: unknown modifier bits %#x", r.ID, uint32(r.Trigger.Modifiers&^modMask))
	}
	if err := ValidateAction(r.Action); err != nil {
		return fmt.Errorf("rule %s: %w", r.ID, err)
	}
	return nil
}

func (r Rule) String() string {
	state := "on"
	if !r.Enabled {
		state = "off"
	}
	return fmt.Sprintf("%s [%s] %s -> %s", r.ID, state, r.Trigger, DescribeAction(r.Action))
}

// ruleJSON is the persisted shape of a rule.
type ruleJSON struct {
	ID                string         `json:"id"`
	MouseButton       string         `json:"mouseButton"`
	RequiredModifiers uint32         `json:"requiredModifiers"`
	Action            ActionEnvelope `json:"action"`
	IsEnabled         bool           `json:"isEnabled"`
}

// MarshalJSON implements json.Marshaler.
func (r Rule) MarshalJSON() ([]byte, error) {
	env, err := envelopeFor(r.Action)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", r.ID, err)
	}
	return json.Marshal(ruleJSON{
		ID:                r.ID,
		MouseButton:       r.Trigger.Kind.String(),
		RequiredModifiers: uint32(r.Trigger.Modifiers),
		Action:            env,
		IsEnabled:         r.Enabled,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Rule) UnmarshalJSON(data []byte) error {
	var rj ruleJSON
	if err := json.Unmarshal(data, &rj); err != nil {
		return err
	}
	kind, err := ParseKind(rj.MouseButton)
	if err != nil {
		return err
	}
	action, err := rj.Action.decode()
	if err != nil {
		return fmt.Errorf("rule %s: %w", rj.ID, err)
	}
	*r = Rule{
		ID:      rj.ID,
		Trigger: Trigger{Kind: kind, Modifiers: Modifiers(rj.RequiredModifiers)},
		Action:  action,
		Enabled: rj.IsEnabled,
	}
	return nil
}

// FirstMatch returns the first enabled rule whose trigger matches t.
// Later rules are never consulted once one matches.
func FirstMatch(rules []Rule, t Trigger) (Rule, bool) {
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		if r.Trigger.Matches(t) {
			return r, true
		}
	}
	return Rule{}, false
}
