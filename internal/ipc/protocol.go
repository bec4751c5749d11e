// Package ipc is the control protocol between the daemon and its clients.
//
// Protocol: line-delimited JSON over a unix domain socket.
//   - Client sends: {"type": "request_name", "data": {...}}
//   - Server responds: {"status": "ok", "data": {...}} or
//     {"status": "error", "error": "msg"}
//
// A connection may carry any number of requests; responses come back in order.
package ipc

import (
	"encoding/json"
	"fmt"

	"mousebrainz/internal/input"
)

// Request types.
const (
	TypeStatus         = "status"
	TypeListRules      = "list_rules"
	TypeAddRule        = "add_rule"
	TypeUpdateRule     = "update_rule"
	TypeRemoveRule     = "remove_rule"
	TypeSetRuleEnabled = "set_rule_enabled"
	TypeMoveRule       = "move_rule"
	TypeSetToggles     = "set_toggles"
	TypeReloadProfile  = "reload_profile"
	TypeEngineStart    = "engine_start"
	TypeEngineStop     = "engine_stop"
)

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Request is the envelope for every client message.
type Request struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Response is sent back for every request.
type Response struct {
	Status string          `json:"status"`          // "ok" or "error"
	Error  string          `json:"error,omitempty"` // set when Status == "error"
	Data   json.RawMessage `json:"data,omitempty"`
}

// NewRequest builds a request, encoding payload as its data. A nil payload
// leaves data empty.
func NewRequest(typ string, payload any) (Request, error) {
	req := Request{Type: typ}
	if payload == nil {
		return req, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Request{}, fmt.Errorf("marshal %s: %w", typ, err)
	}
	req.Data = data
	return req, nil
}

// Decode unmarshals the request payload into v. Unknown fields are rejected.
func (r Request) Decode(v any) error {
	if len(r.Data) == 0 {
		return fmt.Errorf("%s: missing data", r.Type)
	}
	if err := strictUnmarshal(r.Data, v); err != nil {
		return fmt.Errorf("%s: %w", r.Type, err)
	}
	return nil
}

// ----------------------------------------------------------------------------
// Payloads
// ----------------------------------------------------------------------------

// RuleRef names a rule by id.
type RuleRef struct {
	ID string `json:"id"`
}

// SetRuleEnabled toggles a rule.
type SetRuleEnabled struct {
	ID      string `json:"id"`
	Enabled bool   `json:"enabled"`
}

// MoveRule moves a rule to a new list position.
type MoveRule struct {
	ID    string `json:"id"`
	Index int    `json:"index"`
}

// SetToggles changes the global toggles. Absent fields are left alone.
type SetToggles struct {
	InvertScrolling *bool `json:"invertScrolling,omitempty"`
	SmoothScrolling *bool `json:"smoothScrolling,omitempty"`
}

// Rules is the list_rules reply.
type Rules struct {
	Rules []input.Rule `json:"rules"`
}

// Status is the status reply.
type Status struct {
	Running         bool    `json:"running"`
	Authorized      bool    `json:"authorized"`
	InvertScrolling bool    `json:"invertScrolling"`
	SmoothScrolling bool    `json:"smoothScrolling"`
	RuleCount       int     `json:"ruleCount"`
	Handlers        int     `json:"handlers"`
	ProfilePath     string  `json:"profilePath,omitempty"`
	VelocityY       float64 `json:"velocityY"`
	VelocityX       float64 `json:"velocityX"`
}
