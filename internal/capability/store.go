package capability

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/agentos/agentos/internal/common/logger"
	"github.com/agentos/agentos/internal/events"
)

// Store holds per-agent capability grants and answers permission checks.
// Grants are kept in grant order; Check uses first-match-wins semantics.
// There is no deny capability type, only absence of an allow.
type Store struct {
	mu      sync.RWMutex
	grants  map[string][]Capability
	emitter *events.Emitter
	log     *logger.Logger
}

// NewStore creates a capability store. Every grant, revoke and check emits
// an event on the given emitter for audit visibility.
func NewStore(emitter *events.Emitter, log *logger.Logger) *Store {
	return &Store{
		grants:  make(map[string][]Capability),
		emitter: emitter,
		log:     log.WithFields(zap.String("component", "capability-store")),
	}
}

// Grant adds a capability to an agent's grant list.
func (s *Store) Grant(agentID string, cap Capability) {
	s.mu.Lock()
	s.grants[agentID] = append(s.grants[agentID], cap)
	s.mu.Unlock()

	s.emitter.Emit(events.NewEvent(events.CapabilityGranted, agentID, map[string]any{
		"capability": cap.String(),
	}))
	s.log.Info("Capability granted",
		zap.String("agent_id", agentID),
		zap.String("capability", cap.String()))
}

// GrantString parses and grants a capability string like "file:/tmp/*:read".
func (s *Store) GrantString(agentID, capString string) error {
	cap, err := Parse(capString)
	if err != nil {
		return err
	}
	s.Grant(agentID, cap)
	return nil
}

// GrantAll grants multiple capability strings, stopping at the first
// malformed one.
func (s *Store) GrantAll(agentID string, capStrings []string) error {
	for _, cs := range capStrings {
		if err := s.GrantString(agentID, cs); err != nil {
			return err
		}
	}
	return nil
}

// Revoke removes a capability matched by canonical string equality. It is
// idempotent and reports whether anything was actually removed.
func (s *Store) Revoke(agentID string, cap Capability) bool {
	capStr := cap.String()

	s.mu.Lock()
	caps := s.grants[agentID]
	removed := false
	for i, c := range caps {
		if c.String() == capStr {
			s.grants[agentID] = append(caps[:i], caps[i+1:]...)
			removed = true
			break
		}
	}
	s.mu.Unlock()

	if removed {
		s.emitter.Emit(events.NewEvent(events.CapabilityRevoked, agentID, map[string]any{
			"capability": capStr,
		}))
		s.log.Info("Capability revoked",
			zap.String("agent_id", agentID),
			zap.String("capability", capStr))
	}
	return removed
}

// RevokeAll removes every capability granted to an agent.
func (s *Store) RevokeAll(agentID string) {
	s.mu.Lock()
	count := len(s.grants[agentID])
	delete(s.grants, agentID)
	s.mu.Unlock()

	if count == 0 {
		return
	}
	s.emitter.Emit(events.NewEvent(events.CapabilityRevokedAll, agentID, map[string]any{
		"count": count,
	}))
	s.log.Info("All capabilities revoked",
		zap.String("agent_id", agentID),
		zap.Int("count", count))
}

// Check reports whether the agent may perform action on path within
// resource. Grants are scanned in grant order and the first match wins.
func (s *Store) Check(agentID, resource, path, action string) Check {
	s.mu.RLock()
	caps := make([]Capability, len(s.grants[agentID]))
	copy(caps, s.grants[agentID])
	s.mu.RUnlock()

	for _, cap := range caps {
		if cap.Matches(resource, path, action) {
			matched := cap
			s.emitter.Emit(events.NewEvent(events.CapabilityCheckAllowed, agentID, map[string]any{
				"resource":   resource,
				"path":       path,
				"action":     action,
				"capability": matched.String(),
			}))
			return Check{
				Allowed:    true,
				Capability: &matched,
				Reason:     fmt.Sprintf("Granted by capability: %s", matched),
			}
		}
	}

	s.emitter.Emit(events.NewEvent(events.CapabilityCheckDenied, agentID, map[string]any{
		"resource": resource,
		"path":     path,
		"action":   action,
	}))
	s.log.Warn("Capability denied",
		zap.String("agent_id", agentID),
		zap.String("resource", resource),
		zap.String("path", path),
		zap.String("action", action))
	return Check{
		Allowed: false,
		Reason:  fmt.Sprintf("No capability grants %s:%s:%s", resource, path, action),
	}
}

// List returns a copy of the agent's grants in grant order.
func (s *Store) List(agentID string) []Capability {
	s.mu.RLock()
	defer s.mu.RUnlock()
	caps := make([]Capability, len(s.grants[agentID]))
	copy(caps, s.grants[agentID])
	return caps
}
