package plugin

import (
	"encoding/json"
	"fmt"

	"courseframework/pkg/access"
	"courseframework/pkg/eventbus"
)

// Action is the payload of an event forwarded from a user. The host fills
// Actor from the caller's verified token; it never leaves the process.
type Action struct {
	Role     access.Role    `json:"role"`
	TenantID string         `json:"tenantId,omitempty"`
	Data     any            `json:"data,omitempty"`
	Actor    access.Context `json:"-"`
}

// EventTenant returns the tenant of the user who dispatched the action.
func (a Action) EventTenant() string { return a.TenantID }

// Decode copies the action data into out through its JSON form.
func (a Action) Decode(out any) error {
	raw, err := json.Marshal(a.Data)
	if err != nil {
		return fmt.Errorf("failed to encode action data: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("invalid action data: %w", err)
	}
	return nil
}

// ActionFrom extracts the Action carried by e.
func ActionFrom(e eventbus.Event) (Action, error) {
	switch p := e.Payload.(type) {
	case Action:
		return p, nil
	case *Action:
		if p != nil {
			return *p, nil
		}
	}
	return Action{}, fmt.Errorf("%s is not a user action (payload %T)", e.Type, e.Payload)
}
