package legacy

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/callanalyzer/tenantconfig/internal/hooks"
	"github.com/callanalyzer/tenantconfig/internal/metrics"
	"github.com/callanalyzer/tenantconfig/internal/tenantcfg"
)

// Stats summarises an import run.
type Stats struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// Importer copies every user_settings blob into the normalized store.
// Import is idempotent: running it twice leaves the store unchanged.
type Importer struct {
	DB     *sql.DB
	Store  tenantcfg.Store
	Logger *zap.Logger
	Hooks  *hooks.Dispatcher
	// DryRun decodes and validates without saving.
	DryRun bool
}

type settingsRow struct {
	userID int64
	data   []byte
}

// Run imports every user. Per-user failures are logged and counted; only a
// failure to read user_settings aborts the run.
func (im *Importer) Run(ctx context.Context) (Stats, error) {
	logger := im.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("legacy")

	rows, err := im.readSettings(ctx)
	if err != nil {
		return Stats{}, err
	}

	var stats Stats
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		imported, err := im.importOne(ctx, row)
		switch {
		case err != nil:
			stats.Failed++
			metrics.LegacyImportsTotal.WithLabelValues("failed").Inc()
			logger.Error("legacy import failed", zap.Int64("user_id", row.userID), zap.Error(err))
		case !imported:
			stats.Skipped++
			metrics.LegacyImportsTotal.WithLabelValues("skipped").Inc()
			logger.Info("no legacy settings, skipping", zap.Int64("user_id", row.userID))
		default:
			stats.Imported++
			metrics.LegacyImportsTotal.WithLabelValues("imported").Inc()
			logger.Info("legacy settings imported", zap.Int64("user_id", row.userID), zap.Bool("dry_run", im.DryRun))
		}
	}

	logger.Info("legacy import finished",
		zap.Int("imported", stats.Imported), zap.Int("skipped", stats.Skipped), zap.Int("failed", stats.Failed))
	return stats, nil
}

func (im *Importer) readSettings(ctx context.Context) ([]settingsRow, error) {
	rows, err := im.DB.QueryContext(ctx, `SELECT user_id, data FROM user_settings ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("read user_settings: %w", err)
	}
	defer rows.Close()

	var out []settingsRow
	for rows.Next() {
		var r settingsRow
		if err := rows.Scan(&r.userID, &r.data); err != nil {
			return nil, fmt.Errorf("scan user_settings: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read user_settings: %w", err)
	}
	return out, nil
}

func (im *Importer) importOne(ctx context.Context, row settingsRow) (bool, error) {
	blob, err := Decode(row.data)
	if err != nil {
		return false, err
	}
	if blob.Empty() {
		return false, nil
	}

	current, err := im.Store.LoadConfig(ctx, row.userID)
	if err != nil {
		return false, err
	}
	next := blob.Apply(*current)
	if err := next.Validate(); err != nil {
		return false, err
	}
	if im.DryRun {
		return true, nil
	}
	if err := im.Store.SaveConfig(ctx, row.userID, next); err != nil {
		return false, err
	}

	evt := hooks.NewEvent(hooks.EventConfigImported, row.userID, "importer", map[string]any{
		"stations": len(next.Stations),
		"prompts":  len(next.Prompts),
	})
	if err := im.Hooks.Emit(ctx, evt); err != nil {
		if logger := im.Logger; logger != nil {
			logger.Warn("hook dispatch failed", zap.Int64("user_id", row.userID), zap.Error(err))
		}
	}
	return true, nil
}
