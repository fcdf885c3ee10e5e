package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tillworks/accessgate/pkg/observability"
)

// Janitor prunes audit entries older than the retention window on a
// nightly schedule.
type Janitor struct {
	db        *sql.DB
	retention time.Duration
	logger    *observability.Logger
	cron      *cron.Cron
}

func NewJanitor(db *sql.DB, retention time.Duration, logger *observability.Logger) *Janitor {
	return &Janitor{
		db:        db,
		retention: retention,
		logger:    logger,
		cron:      cron.New(),
	}
}

// Start schedules the nightly prune
func (j *Janitor) Start() error {
	_, err := j.cron.AddFunc("0 3 * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if n, err := j.Prune(ctx); err != nil {
			j.logger.WithError(err).Error("audit prune failed")
		} else if n > 0 {
			j.logger.WithField("deleted", n).Info("pruned expired audit entries")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule audit prune: %w", err)
	}
	j.cron.Start()
	return nil
}

// Stop waits for a running prune to finish
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

// Prune deletes entries older than the retention window
func (j *Janitor) Prune(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-j.retention)
	res, err := j.db.ExecContext(ctx, `DELETE FROM access_decisions WHERE checked_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune audit entries: %w", err)
	}
	return res.RowsAffected()
}
