package shared

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLog represents a record stored in audit_logs.
type AuditLog struct {
	ActorID  int64
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log AuditLog) error
}

var errAuditIncomplete = errors.New("audit log requires action/entity/entity_id")

// AuditLogger writes records into audit_logs.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil {
		return errors.New("audit logger not initialised")
	}
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return errAuditIncomplete
	}
	if log.ActorID == 0 {
		log.ActorID = ActorFromContext(ctx)
	}
	metaJSON, err := json.Marshal(log.Meta)
	if err != nil {
		return err
	}
	var at *time.Time
	if !log.At.IsZero() {
		at = &log.At
	}
	_, err = l.pool.Exec(ctx, `INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at) VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`, log.ActorID, log.Action, log.Entity, log.EntityID, metaJSON, at)
	return err
}

// MemoryAuditLog collects audit records in memory.
type MemoryAuditLog struct {
	mu      sync.Mutex
	entries []AuditLog
}

// Record appends the entry.
func (l *MemoryAuditLog) Record(ctx context.Context, log AuditLog) error {
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return errAuditIncomplete
	}
	if log.ActorID == 0 {
		log.ActorID = ActorFromContext(ctx)
	}
	if log.At.IsZero() {
		log.At = time.Now().UTC()
	}
	l.mu.Lock()
	l.entries = append(l.entries, log)
	l.mu.Unlock()
	return nil
}

// Entries returns a copy of the recorded logs.
func (l *MemoryAuditLog) Entries() []AuditLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AuditLog, len(l.entries))
	copy(out, l.entries)
	return out
}
