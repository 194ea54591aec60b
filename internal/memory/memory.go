// Package memory provides scoped key-value storage for agents. Context,
// working and shared scopes live in memory; long-term entries persist to
// SQLite and survive restarts.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/agentos/agentos/internal/common/logger"
)

// Scope identifies where a memory entry lives and how long it lasts.
type Scope string

const (
	ScopeContext  Scope = "context"   // ephemeral, current task only
	ScopeWorking  Scope = "working"   // session state, cleared on restart
	ScopeLongTerm Scope = "long_term" // persistent, survives restarts
	ScopeShared   Scope = "shared"    // accessible by multiple agents
)

// ParseScope converts a scope name, defaulting to working.
func ParseScope(s string) Scope {
	switch Scope(s) {
	case ScopeContext, ScopeWorking, ScopeLongTerm, ScopeShared:
		return Scope(s)
	default:
		return ScopeWorking
	}
}

// Entry is a single stored value with provenance.
type Entry struct {
	Key       string         `json:"key"`
	Value     any            `json:"value"`
	Scope     Scope          `json:"scope"`
	AgentID   string         `json:"agent_id"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Stats summarizes in-memory scope usage.
type Stats struct {
	ContextEntries    int `json:"context_entries"`
	WorkingEntries    int `json:"working_entries"`
	SharedEntries     int `json:"shared_entries"`
	AgentsWithContext int `json:"agents_with_context"`
	AgentsWithWorking int `json:"agents_with_working"`
}

// Manager is the unified memory store for all agents.
type Manager struct {
	mu      sync.RWMutex
	context map[string]map[string]*Entry // agent_id -> key -> entry
	working map[string]map[string]*Entry
	shared  map[string]*Entry // keyed by key only

	db  *sql.DB
	log *logger.Logger
}

// NewManager opens (or creates) the SQLite database at dbPath and prepares
// the schema.
func NewManager(dbPath string, log *logger.Logger) (*Manager, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	m := &Manager{
		context: make(map[string]map[string]*Entry),
		working: make(map[string]map[string]*Entry),
		shared:  make(map[string]*Entry),
		db:      db,
		log:     log.WithFields(zap.String("component", "memory-manager")),
	}
	if err := m.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	m.log.Info("Memory manager initialized", zap.String("db_path", dbPath))
	return m, nil
}

func (m *Manager) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		scope TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		metadata TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(key, scope, agent_id)
	);
	CREATE INDEX IF NOT EXISTS idx_memories_agent ON memories(agent_id, scope);
	CREATE INDEX IF NOT EXISTS idx_memories_key ON memories(key);
	`
	_, err := m.db.Exec(schema)
	return err
}

// Close releases the database connection.
func (m *Manager) Close() error {
	return m.db.Close()
}

// Store saves a value under key in the given scope. Long-term values are
// JSON encoded and upserted on (key, scope, agent_id).
func (m *Manager) Store(ctx context.Context, agentID, key string, value any, scope Scope) error {
	now := time.Now().UTC()
	entry := &Entry{
		Key:       key,
		Value:     value,
		Scope:     scope,
		AgentID:   agentID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	switch scope {
	case ScopeContext:
		m.mu.Lock()
		if m.context[agentID] == nil {
			m.context[agentID] = make(map[string]*Entry)
		}
		m.context[agentID][key] = entry
		m.mu.Unlock()
	case ScopeWorking:
		m.mu.Lock()
		if m.working[agentID] == nil {
			m.working[agentID] = make(map[string]*Entry)
		}
		m.working[agentID][key] = entry
		m.mu.Unlock()
	case ScopeShared:
		m.mu.Lock()
		m.shared[key] = entry
		m.mu.Unlock()
	case ScopeLongTerm:
		if err := m.storePersistent(ctx, entry); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown memory scope: %s", scope)
	}

	m.log.Debug("Memory stored",
		zap.String("agent_id", agentID),
		zap.String("key", key),
		zap.String("scope", string(scope)))
	return nil
}

func (m *Manager) storePersistent(ctx context.Context, entry *Entry) error {
	valueJSON, err := json.Marshal(entry.Value)
	if err != nil {
		return fmt.Errorf("failed to encode value: %w", err)
	}
	metadataJSON, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	_, err = m.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO memories
		(key, value, scope, agent_id, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.Key, string(valueJSON), string(entry.Scope), entry.AgentID,
		string(metadataJSON), entry.CreatedAt.Format(time.RFC3339Nano),
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to store memory: %w", err)
	}
	return nil
}

// Retrieve returns the value stored under key in the given scope, or nil if
// absent.
func (m *Manager) Retrieve(ctx context.Context, agentID, key string, scope Scope) (any, error) {
	entry, err := m.getEntry(ctx, agentID, key, scope)
	if err != nil || entry == nil {
		return nil, err
	}
	return entry.Value, nil
}

func (m *Manager) getEntry(ctx context.Context, agentID, key string, scope Scope) (*Entry, error) {
	switch scope {
	case ScopeContext:
		m.mu.RLock()
		defer m.mu.RUnlock()
		return m.context[agentID][key], nil
	case ScopeWorking:
		m.mu.RLock()
		defer m.mu.RUnlock()
		return m.working[agentID][key], nil
	case ScopeShared:
		m.mu.RLock()
		defer m.mu.RUnlock()
		return m.shared[key], nil
	case ScopeLongTerm:
		return m.retrievePersistent(ctx, agentID, key)
	default:
		return nil, fmt.Errorf("unknown memory scope: %s", scope)
	}
}

func (m *Manager) retrievePersistent(ctx context.Context, agentID, key string) (*Entry, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT key, value, scope, agent_id, metadata, created_at, updated_at
		FROM memories
		WHERE key = ? AND agent_id = ? AND scope = ?`,
		key, agentID, string(ScopeLongTerm))
	return scanEntry(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var e Entry
	var valueJSON, metadataJSON, scope, createdAt, updatedAt string
	err := row.Scan(&e.Key, &valueJSON, &scope, &e.AgentID, &metadataJSON, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan memory row: %w", err)
	}
	e.Scope = Scope(scope)
	if err := json.Unmarshal([]byte(valueJSON), &e.Value); err != nil {
		return nil, fmt.Errorf("failed to decode value: %w", err)
	}
	if metadataJSON != "" && metadataJSON != "null" {
		if err := json.Unmarshal([]byte(metadataJSON), &e.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	e.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &e, nil
}

// Delete removes a memory entry and reports whether anything was removed.
func (m *Manager) Delete(ctx context.Context, agentID, key string, scope Scope) (bool, error) {
	switch scope {
	case ScopeContext:
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.context[agentID][key]; ok {
			delete(m.context[agentID], key)
			return true, nil
		}
		return false, nil
	case ScopeWorking:
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.working[agentID][key]; ok {
			delete(m.working[agentID], key)
			return true, nil
		}
		return false, nil
	case ScopeShared:
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.shared[key]; ok {
			delete(m.shared, key)
			return true, nil
		}
		return false, nil
	case ScopeLongTerm:
		res, err := m.db.ExecContext(ctx, `
			DELETE FROM memories WHERE key = ? AND agent_id = ? AND scope = ?`,
			key, agentID, string(scope))
		if err != nil {
			return false, fmt.Errorf("failed to delete memory: %w", err)
		}
		n, _ := res.RowsAffected()
		return n > 0, nil
	default:
		return false, fmt.Errorf("unknown memory scope: %s", scope)
	}
}

// ListKeys returns all keys for an agent in a scope.
func (m *Manager) ListKeys(ctx context.Context, agentID string, scope Scope) ([]string, error) {
	switch scope {
	case ScopeContext, ScopeWorking, ScopeShared:
		m.mu.RLock()
		defer m.mu.RUnlock()
		var src map[string]*Entry
		switch scope {
		case ScopeContext:
			src = m.context[agentID]
		case ScopeWorking:
			src = m.working[agentID]
		default:
			src = m.shared
		}
		keys := make([]string, 0, len(src))
		for k := range src {
			keys = append(keys, k)
		}
		return keys, nil
	case ScopeLongTerm:
		rows, err := m.db.QueryContext(ctx, `
			SELECT key FROM memories WHERE agent_id = ? AND scope = ?`,
			agentID, string(scope))
		if err != nil {
			return nil, fmt.Errorf("failed to list keys: %w", err)
		}
		defer rows.Close()
		var keys []string
		for rows.Next() {
			var k string
			if err := rows.Scan(&k); err != nil {
				return nil, err
			}
			keys = append(keys, k)
		}
		return keys, rows.Err()
	default:
		return nil, fmt.Errorf("unknown memory scope: %s", scope)
	}
}

// Share copies an agent's entry into the shared scope, recording who shared
// it. Returns false if the source entry does not exist.
func (m *Manager) Share(ctx context.Context, agentID, key string, fromScope Scope) (bool, error) {
	entry, err := m.getEntry(ctx, agentID, key, fromScope)
	if err != nil {
		return false, err
	}
	if entry == nil {
		return false, nil
	}

	now := time.Now().UTC()
	metadata := map[string]any{
		"shared_by": agentID,
		"shared_at": now.Format(time.RFC3339),
	}
	for k, v := range entry.Metadata {
		metadata[k] = v
	}

	m.mu.Lock()
	m.shared[key] = &Entry{
		Key:       key,
		Value:     entry.Value,
		Scope:     ScopeShared,
		AgentID:   agentID,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.mu.Unlock()

	m.log.Info("Memory shared",
		zap.String("agent_id", agentID),
		zap.String("key", key))
	return true, nil
}

// ClearAgent drops an agent's context and working memory. Long-term and
// shared entries are kept.
func (m *Manager) ClearAgent(agentID string) {
	m.mu.Lock()
	delete(m.context, agentID)
	delete(m.working, agentID)
	m.mu.Unlock()
	m.log.Info("Agent memory cleared", zap.String("agent_id", agentID))
}

// ClearContext drops only an agent's context memory.
func (m *Manager) ClearContext(agentID string) {
	m.mu.Lock()
	delete(m.context, agentID)
	m.mu.Unlock()
}

// GetStats returns in-memory scope counters.
func (m *Manager) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	contextCount := 0
	for _, entries := range m.context {
		contextCount += len(entries)
	}
	workingCount := 0
	for _, entries := range m.working {
		workingCount += len(entries)
	}
	return Stats{
		ContextEntries:    contextCount,
		WorkingEntries:    workingCount,
		SharedEntries:     len(m.shared),
		AgentsWithContext: len(m.context),
		AgentsWithWorking: len(m.working),
	}
}
