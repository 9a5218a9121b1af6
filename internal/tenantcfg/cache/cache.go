// Package cache fronts a tenantcfg.Store with a read-through aggregate cache.
// Entries are JSON encoded and dropped on every write for the user.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/callanalyzer/tenantconfig/internal/metrics"
	"github.com/callanalyzer/tenantconfig/internal/tenantcfg"
)

// Backend stores encoded aggregates by key.
type Backend interface {
	Name() string
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Store is a tenantcfg.Store that caches LoadConfig results.
type Store struct {
	next    tenantcfg.Store
	backend Backend
	logger  *zap.Logger
}

var _ tenantcfg.Store = (*Store)(nil)

// New wraps next. A nil logger discards log output.
func New(next tenantcfg.Store, backend Backend, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{next: next, backend: backend, logger: logger.Named("cache")}
}

func key(userID int64) string { return fmt.Sprintf("config:%d", userID) }

// LoadConfig serves from the backend when possible. Backend failures fall
// through to the wrapped store.
func (s *Store) LoadConfig(ctx context.Context, userID int64) (*tenantcfg.Aggregate, error) {
	raw, ok, err := s.backend.Get(ctx, key(userID))
	switch {
	case err != nil:
		metrics.ObserveCache(s.backend.Name(), "error")
		s.logger.Warn("cache get failed", zap.Int64("user_id", userID), zap.Error(err))
	case ok:
		var agg tenantcfg.Aggregate
		decodeErr := json.Unmarshal(raw, &agg)
		if decodeErr == nil {
			metrics.ObserveCache(s.backend.Name(), "hit")
			return &agg, nil
		}
		metrics.ObserveCache(s.backend.Name(), "error")
		s.logger.Warn("dropping undecodable cache entry", zap.Int64("user_id", userID), zap.Error(decodeErr))
		s.invalidate(ctx, userID)
	default:
		metrics.ObserveCache(s.backend.Name(), "miss")
	}

	agg, err := s.next.LoadConfig(ctx, userID)
	if err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(agg)
	if err != nil {
		s.logger.Warn("cache encode failed", zap.Int64("user_id", userID), zap.Error(err))
		return agg, nil
	}
	if err := s.backend.Set(ctx, key(userID), encoded); err != nil {
		s.logger.Warn("cache set failed", zap.Int64("user_id", userID), zap.Error(err))
	}
	return agg, nil
}

// SaveConfig writes through and invalidates the user's entry.
func (s *Store) SaveConfig(ctx context.Context, userID int64, agg tenantcfg.Aggregate) error {
	defer s.invalidate(ctx, userID)
	return s.next.SaveConfig(ctx, userID, agg)
}

// AddStation writes through and invalidates the user's entry.
func (s *Store) AddStation(ctx context.Context, userID int64, st tenantcfg.Station) error {
	defer s.invalidate(ctx, userID)
	return s.next.AddStation(ctx, userID, st)
}

// DueSchedules is never cached.
func (s *Store) DueSchedules(ctx context.Context, now time.Time) ([]tenantcfg.DueSchedule, error) {
	return s.next.DueSchedules(ctx, now)
}

// MarkScheduleRun writes through and invalidates the user's entry.
func (s *Store) MarkScheduleRun(ctx context.Context, userID int64, reportType tenantcfg.ReportType, ranAt time.Time) error {
	defer s.invalidate(ctx, userID)
	return s.next.MarkScheduleRun(ctx, userID, reportType, ranAt)
}

// Close closes the wrapped store.
func (s *Store) Close() error { return s.next.Close() }

func (s *Store) invalidate(ctx context.Context, userID int64) {
	if err := s.backend.Delete(context.WithoutCancel(ctx), key(userID)); err != nil {
		s.logger.Warn("cache invalidate failed", zap.Int64("user_id", userID), zap.Error(err))
	}
}
