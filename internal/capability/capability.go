// Package capability implements the capability-based permission model.
// Each agent holds an ordered list of grants; every tool execution is
// checked against them before anything runs.
package capability

import (
	"fmt"
	"strings"
)

// Capability is a permission token scoping a resource, a path pattern and a
// set of allowed actions.
//
// String form: "resource:path:action1,action2". Path and actions default to
// "*" when omitted, e.g. "file" means "file:*:*".
type Capability struct {
	Resource    string         `json:"resource"`
	Path        string         `json:"path"`
	Actions     []string       `json:"actions"`
	Constraints map[string]any `json:"constraints,omitempty"`
}

// Check is the result of a capability lookup. It is a pure query result and
// is never persisted.
type Check struct {
	Allowed    bool        `json:"allowed"`
	Capability *Capability `json:"capability,omitempty"`
	Reason     string      `json:"reason"`
}

// Parse parses a capability string like "file:/workspace/*:read,write".
// Missing path or actions default to "*"; empty segments are rejected.
func Parse(s string) (Capability, error) {
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return Capability{}, fmt.Errorf("invalid capability format: %q", s)
	}

	resource := parts[0]
	if resource == "" {
		return Capability{}, fmt.Errorf("invalid capability format: %q: missing resource", s)
	}

	path := "*"
	if len(parts) > 1 {
		path = parts[1]
		if path == "" {
			return Capability{}, fmt.Errorf("invalid capability format: %q: empty path", s)
		}
	}

	actions := []string{"*"}
	if len(parts) > 2 {
		actions = strings.Split(parts[2], ",")
		for _, a := range actions {
			if a == "" {
				return Capability{}, fmt.Errorf("invalid capability format: %q: empty action", s)
			}
		}
	}

	return Capability{Resource: resource, Path: path, Actions: actions}, nil
}

// MustParse is like Parse but panics on malformed input. Intended for
// compile-time constant capability strings.
func MustParse(s string) Capability {
	c, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return c
}

// String returns the canonical string form. It is the inverse of Parse.
func (c Capability) String() string {
	return c.Resource + ":" + c.Path + ":" + strings.Join(c.Actions, ",")
}

// Matches reports whether this capability grants the requested triple.
// Resource must be "*" or equal. Path must be "*", equal, or a trailing-*
// prefix pattern. Action must be listed or covered by "*".
func (c Capability) Matches(resource, path, action string) bool {
	if c.Resource != "*" && c.Resource != resource {
		return false
	}

	if c.Path != "*" {
		if strings.HasSuffix(c.Path, "*") {
			if !strings.HasPrefix(path, strings.TrimSuffix(c.Path, "*")) {
				return false
			}
		} else if c.Path != path {
			return false
		}
	}

	for _, a := range c.Actions {
		if a == "*" || a == action {
			return true
		}
	}
	return false
}
