// Package audit provides the security audit trail: every significant
// runtime event is recorded with a severity, persisted to SQLite, and kept
// in a bounded in-memory ring for fast recent-history queries.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/agentos/agentos/internal/common/logger"
)

// Severity orders audit events by importance.
type Severity string

const (
	SeverityDebug    Severity = "debug"
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

var severityOrder = map[Severity]int{
	SeverityDebug:    0,
	SeverityInfo:     1,
	SeverityWarning:  2,
	SeverityError:    3,
	SeverityCritical: 4,
}

// ParseSeverity converts a severity name, defaulting to info.
func ParseSeverity(s string) Severity {
	if _, ok := severityOrder[Severity(s)]; ok {
		return Severity(s)
	}
	return SeverityInfo
}

// atLeast reports whether s is as severe as min or more.
func (s Severity) atLeast(min Severity) bool {
	return severityOrder[s] >= severityOrder[min]
}

// Entry is a single audit record.
type Entry struct {
	EventType string         `json:"event_type"`
	Severity  Severity       `json:"severity"`
	AgentID   string         `json:"agent_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
	Source    string         `json:"source"`
	SessionID string         `json:"session_id,omitempty"`
}

// Filter narrows a Query. Zero values mean "no constraint".
type Filter struct {
	AgentID     string
	EventType   string
	MinSeverity Severity
	Since       time.Time
	Until       time.Time
	Limit       int
}

// Stats summarizes logger activity for the current session.
type Stats struct {
	SessionID    string           `json:"session_id"`
	TotalEvents  int64            `json:"total_events"`
	EventsByType map[string]int64 `json:"events_by_type"`
	BufferSize   int              `json:"buffer_size"`
}

const maxBuffer = 1000

// Logger records audit entries to SQLite and a bounded in-memory ring.
// Entries below the minimum severity are dropped.
type Logger struct {
	mu        sync.Mutex
	buffer    []*Entry
	counts    map[string]int64
	sessionID string

	minSeverity Severity
	db          *sql.DB
	log         *logger.Logger
}

// NewLogger opens (or creates) the audit database at dbPath.
func NewLogger(dbPath string, minSeverity Severity, log *logger.Logger) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	l := &Logger{
		counts:      make(map[string]int64),
		sessionID:   time.Now().UTC().Format("20060102_150405"),
		minSeverity: minSeverity,
		db:          db,
		log:         log.WithFields(zap.String("component", "audit-logger")),
	}
	if err := l.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	l.log.Info("Audit logger initialized",
		zap.String("db_path", dbPath),
		zap.String("session_id", l.sessionID))
	return l, nil
}

func (l *Logger) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS audit_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		severity TEXT NOT NULL,
		agent_id TEXT,
		timestamp TEXT NOT NULL,
		details TEXT,
		source TEXT,
		session_id TEXT,
		created_at TEXT DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_audit_agent ON audit_events(agent_id);
	CREATE INDEX IF NOT EXISTS idx_audit_type ON audit_events(event_type);
	CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_session ON audit_events(session_id);
	`
	_, err := l.db.Exec(schema)
	return err
}

// Close releases the database connection.
func (l *Logger) Close() error {
	return l.db.Close()
}

// SessionID returns the identifier stamped on every entry of this run.
func (l *Logger) SessionID() string {
	return l.sessionID
}

// Log records an audit entry. Entries below the minimum severity return nil
// without being recorded.
func (l *Logger) Log(ctx context.Context, eventType string, severity Severity, agentID string, details map[string]any) *Entry {
	if !severity.atLeast(l.minSeverity) {
		return nil
	}

	entry := &Entry{
		EventType: eventType,
		Severity:  severity,
		AgentID:   agentID,
		Timestamp: time.Now().UTC(),
		Details:   details,
		Source:    "agentos",
		SessionID: l.sessionID,
	}

	l.mu.Lock()
	l.counts[eventType]++
	l.buffer = append(l.buffer, entry)
	if len(l.buffer) > maxBuffer {
		l.buffer = l.buffer[len(l.buffer)-maxBuffer:]
	}
	l.mu.Unlock()

	if err := l.persist(ctx, entry); err != nil {
		l.log.Error("Failed to persist audit entry",
			zap.String("event_type", eventType),
			zap.Error(err))
	}
	return entry
}

func (l *Logger) persist(ctx context.Context, entry *Entry) error {
	detailsJSON, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("failed to encode details: %w", err)
	}
	_, err = l.db.ExecContext(ctx, `
		INSERT INTO audit_events
		(event_type, severity, agent_id, timestamp, details, source, session_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.EventType, string(entry.Severity), entry.AgentID,
		entry.Timestamp.Format(time.RFC3339Nano), string(detailsJSON),
		entry.Source, entry.SessionID)
	return err
}

// Query returns persisted entries matching the filter, newest first.
func (l *Logger) Query(ctx context.Context, f Filter) ([]*Entry, error) {
	query := "SELECT event_type, severity, agent_id, timestamp, details, source, session_id FROM audit_events WHERE 1=1"
	var args []any

	if f.AgentID != "" {
		query += " AND agent_id = ?"
		args = append(args, f.AgentID)
	}
	if f.EventType != "" {
		query += " AND event_type = ?"
		args = append(args, f.EventType)
	}
	if f.MinSeverity != "" {
		var levels []string
		for sev, order := range severityOrder {
			if order >= severityOrder[f.MinSeverity] {
				levels = append(levels, string(sev))
			}
		}
		query += " AND severity IN (?" + strings.Repeat(",?", len(levels)-1) + ")"
		for _, lvl := range levels {
			args = append(args, lvl)
		}
	}
	if !f.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, f.Since.UTC().Format(time.RFC3339Nano))
	}
	if !f.Until.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, f.Until.UTC().Format(time.RFC3339Nano))
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var e Entry
		var severity, timestamp, detailsJSON string
		var agentID, source, sessionID sql.NullString
		if err := rows.Scan(&e.EventType, &severity, &agentID, &timestamp, &detailsJSON, &source, &sessionID); err != nil {
			return nil, err
		}
		e.Severity = Severity(severity)
		e.AgentID = agentID.String
		e.Source = source.String
		e.SessionID = sessionID.String
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, timestamp)
		if detailsJSON != "" && detailsJSON != "null" {
			if err := json.Unmarshal([]byte(detailsJSON), &e.Details); err != nil {
				return nil, fmt.Errorf("failed to decode details: %w", err)
			}
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// Recent returns the newest entries from the in-memory ring, newest first.
func (l *Logger) Recent(count int) []*Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	if count <= 0 || count > len(l.buffer) {
		count = len(l.buffer)
	}
	out := make([]*Entry, 0, count)
	for i := len(l.buffer) - 1; i >= len(l.buffer)-count; i-- {
		out = append(out, l.buffer[i])
	}
	return out
}

// GetStats returns session counters.
func (l *Logger) GetStats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	byType := make(map[string]int64, len(l.counts))
	var total int64
	for k, v := range l.counts {
		byType[k] = v
		total += v
	}
	return Stats{
		SessionID:    l.sessionID,
		TotalEvents:  total,
		EventsByType: byType,
		BufferSize:   len(l.buffer),
	}
}

// SeverityForEvent derives an audit severity from a runtime event type, so
// the audit trail can subscribe directly to the event emitter.
func SeverityForEvent(eventType string) Severity {
	switch {
	case strings.HasSuffix(eventType, ".failed"),
		strings.HasPrefix(eventType, "sandbox.violation"):
		return SeverityError
	case strings.HasSuffix(eventType, ".denied"),
		strings.HasSuffix(eventType, ".killed"),
		strings.HasSuffix(eventType, ".terminated"):
		return SeverityWarning
	default:
		return SeverityInfo
	}
}
