package tenantcfg

import (
	"context"
	"time"
)

// Store persists tenant configuration aggregates.
type Store interface {
	// LoadConfig returns the user's aggregate, or DefaultAggregate when the
	// user has saved nothing yet.
	LoadConfig(ctx context.Context, userID int64) (*Aggregate, error)
	// SaveConfig makes the stored configuration equal agg in one
	// transaction.
	SaveConfig(ctx context.Context, userID int64, agg Aggregate) error
	// AddStation registers a single station.
	AddStation(ctx context.Context, userID int64, st Station) error
	// DueSchedules lists enabled schedules whose next run is at or before now.
	DueSchedules(ctx context.Context, now time.Time) ([]DueSchedule, error)
	// MarkScheduleRun records a run and advances next_run_at.
	MarkScheduleRun(ctx context.Context, userID int64, reportType ReportType, ranAt time.Time) error
	Close() error
}

// DueSchedule is a schedule ready to run, with the range it should cover.
type DueSchedule struct {
	UserID   int64          `json:"user_id"`
	Schedule ReportSchedule `json:"schedule"`
	Range    DateRange      `json:"range"`
}
