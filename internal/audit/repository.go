package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/backoffice/internal/platform/db"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// PostgresRepository reads audit_logs.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewRepository builds PostgresRepository.
func NewRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Timeline implements Repository.
func (r *PostgresRepository) Timeline(ctx context.Context, filters TimelineFilters, offset, limit int) ([]TimelineRow, error) {
	if r == nil || r.pool == nil {
		return nil, errors.New("audit repository not initialised")
	}
	var where []string
	var args []any
	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if !filters.From.IsZero() {
		add("occurred_at >= $%d", filters.From)
	}
	if !filters.To.IsZero() {
		add("occurred_at < $%d", filters.To)
	}
	if filters.Entity != "" {
		add("entity = $%d", filters.Entity)
	}
	if filters.EntityID != "" {
		add("entity_id = $%d", filters.EntityID)
	}
	if filters.Action != "" {
		add("action = $%d", filters.Action)
	}
	query := `SELECT occurred_at, COALESCE(actor_id, 0), action, entity, entity_id, meta FROM audit_logs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(" ORDER BY occurred_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	return db.RetryRead(ctx, 3, func(ctx context.Context) ([]TimelineRow, error) {
		rows, err := r.pool.Query(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		var out []TimelineRow
		for rows.Next() {
			var row TimelineRow
			var meta []byte
			if err := rows.Scan(&row.At, &row.ActorID, &row.Action, &row.Entity, &row.EntityID, &meta); err != nil {
				return nil, err
			}
			if len(meta) > 0 {
				if err := json.Unmarshal(meta, &row.Meta); err != nil {
					return nil, err
				}
			}
			out = append(out, row)
		}
		return out, rows.Err()
	})
}

// MemoryRepository reads a shared.MemoryAuditLog.
type MemoryRepository struct {
	log *shared.MemoryAuditLog
}

// NewMemoryRepository builds MemoryRepository.
func NewMemoryRepository(log *shared.MemoryAuditLog) *MemoryRepository {
	return &MemoryRepository{log: log}
}

// Timeline implements Repository.
func (r *MemoryRepository) Timeline(_ context.Context, filters TimelineFilters, offset, limit int) ([]TimelineRow, error) {
	entries := r.log.Entries()
	rows := make([]TimelineRow, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		row := TimelineRow{At: e.At, ActorID: e.ActorID, Action: e.Action, Entity: e.Entity, EntityID: e.EntityID, Meta: e.Meta}
		if filters.matches(row) {
			rows = append(rows, row)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].At.After(rows[j].At) })
	if offset >= len(rows) {
		return nil, nil
	}
	rows = rows[offset:]
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}
