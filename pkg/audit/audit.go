// Package audit persists capability decisions for later review. Writes
// are advisory: they are buffered, happen off the request path, and are
// dropped rather than ever blocking or failing a guard evaluation.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tillworks/accessgate/pkg/entitlement"
	"github.com/tillworks/accessgate/pkg/observability"
)

// Entry is one recorded capability decision
type Entry struct {
	ID          string
	PrincipalID string
	TenantID    string
	Module      entitlement.ModuleCode
	Action      entitlement.Action
	Allowed     bool
	Reason      string
	CheckedAt   time.Time
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS access_decisions (
	id VARCHAR(36) PRIMARY KEY,
	principal_id VARCHAR(255) NOT NULL,
	tenant_id VARCHAR(64) NOT NULL,
	module_code VARCHAR(64) NOT NULL,
	action VARCHAR(32) NOT NULL,
	allowed BOOLEAN NOT NULL,
	reason VARCHAR(64) NOT NULL,
	checked_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_access_decisions_principal ON access_decisions(principal_id);
CREATE INDEX IF NOT EXISTS idx_access_decisions_checked_at ON access_decisions(checked_at);
`

// Migrate creates the audit table
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("failed to create access_decisions table: %w", err)
	}
	return nil
}

// Logger buffers entries and writes them from a single background worker
type Logger struct {
	db     *sql.DB
	logger *observability.Logger
	ch     chan Entry
	done   chan struct{}
	wg     sync.WaitGroup
}

func NewLogger(db *sql.DB, logger *observability.Logger) *Logger {
	l := &Logger{
		db:     db,
		logger: logger,
		ch:     make(chan Entry, 256),
		done:   make(chan struct{}),
	}
	l.wg.Add(1)
	go l.run()
	return l
}

// RecordDecision implements the guard's recorder interface. Never blocks:
// the entry is dropped when the buffer is full.
func (l *Logger) RecordDecision(ctx context.Context, principalID, tenantID string, module entitlement.ModuleCode, action entitlement.Action, d entitlement.Decision) {
	e := Entry{
		ID:          uuid.NewString(),
		PrincipalID: principalID,
		TenantID:    tenantID,
		Module:      module,
		Action:      action,
		Allowed:     d.Allowed,
		Reason:      d.Reason,
		CheckedAt:   d.CheckedAt,
	}
	select {
	case l.ch <- e:
	default:
		l.logger.Debug("audit buffer full, dropping decision entry")
	}
}

// Close drains the buffer and stops the worker
func (l *Logger) Close() {
	close(l.done)
	l.wg.Wait()
}

func (l *Logger) run() {
	defer l.wg.Done()
	for {
		select {
		case e := <-l.ch:
			l.write(e)
		case <-l.done:
			for {
				select {
				case e := <-l.ch:
					l.write(e)
				default:
					return
				}
			}
		}
	}
}

func (l *Logger) write(e Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO access_decisions (id, principal_id, tenant_id, module_code, action, allowed, reason, checked_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.PrincipalID, e.TenantID, string(e.Module), string(e.Action), e.Allowed, e.Reason, e.CheckedAt)
	if err != nil {
		l.logger.WithError(err).Debug("failed to write audit entry")
	}
}

// Recent returns the newest entries for a principal, newest first
func (l *Logger) Recent(ctx context.Context, principalID string, limit int) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, principal_id, tenant_id, module_code, action, allowed, reason, checked_at
		 FROM access_decisions WHERE principal_id = $1
		 ORDER BY checked_at DESC LIMIT $2`,
		principalID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var module, action string
		if err := rows.Scan(&e.ID, &e.PrincipalID, &e.TenantID, &module, &action, &e.Allowed, &e.Reason, &e.CheckedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Module = entitlement.ModuleCode(module)
		e.Action = entitlement.Action(action)
		out = append(out, e)
	}
	return out, rows.Err()
}
