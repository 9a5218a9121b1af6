package httpserver

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/callanalyzer/tenantconfig/internal/tenantcfg"
)

type schedulesBody struct {
	Schedules []tenantcfg.ReportSchedule `json:"schedules"`
}

func reportTypeParam(r *http.Request) (tenantcfg.ReportType, error) {
	rt := tenantcfg.ReportType(strings.TrimSpace(chi.URLParam(r, "reportType")))
	if !rt.Valid() {
		return "", &tenantcfg.InvalidConfigError{Field: "report_type", Reason: "unknown report type " + string(rt)}
	}
	return rt, nil
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	userID, _ := userFromContext(r.Context())
	agg, err := s.store.LoadConfig(r.Context(), userID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, schedulesBody{Schedules: nonNil(agg.Schedules)})
}

// handlePutSchedule upserts the schedule for a report type. Bookkeeping
// timestamps in the body are ignored; the store owns them.
func (s *Server) handlePutSchedule(w http.ResponseWriter, r *http.Request) {
	userID, _ := userFromContext(r.Context())
	rt, err := reportTypeParam(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var rec tenantcfg.ScheduleRecord
	if err := decodeJSON(w, r, &rec); err != nil {
		s.respondError(w, r, err)
		return
	}
	rec.ReportType = rt
	rec.LastRunAt, rec.NextRunAt = nil, nil
	sched, err := rec.Schedule()
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	agg, err := s.update(r.Context(), userID, "schedules", func(a *tenantcfg.Aggregate) error {
		a.SetSchedule(sched)
		return nil
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	saved, _ := agg.Schedule(rt)
	s.respondJSON(w, http.StatusOK, saved)
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	userID, _ := userFromContext(r.Context())
	rt, err := reportTypeParam(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	_, err = s.update(r.Context(), userID, "schedules", func(a *tenantcfg.Aggregate) error {
		if !a.RemoveSchedule(rt) {
			return tenantcfg.ErrScheduleNotFound
		}
		return nil
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleToggleSchedule(w http.ResponseWriter, r *http.Request) {
	userID, _ := userFromContext(r.Context())
	rt, err := reportTypeParam(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	agg, err := s.update(r.Context(), userID, "schedules", func(a *tenantcfg.Aggregate) error {
		sched, ok := a.Schedule(rt)
		if !ok {
			return tenantcfg.ErrScheduleNotFound
		}
		sched.Enabled = !sched.Enabled
		return nil
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	saved, _ := agg.Schedule(rt)
	s.respondJSON(w, http.StatusOK, saved)
}

// handleScheduleRange returns the date range a run would cover. The run
// day defaults to today and can be set with ?date=YYYY-MM-DD.
func (s *Server) handleScheduleRange(w http.ResponseWriter, r *http.Request) {
	userID, _ := userFromContext(r.Context())
	rt, err := reportTypeParam(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	today := s.now().In(s.loc)
	if raw := strings.TrimSpace(r.URL.Query().Get("date")); raw != "" {
		d, err := tenantcfg.ParseDate(raw)
		if err != nil {
			s.respondError(w, r, badRequest("date must be YYYY-MM-DD"))
			return
		}
		today = d.In(s.loc)
	}
	agg, err := s.store.LoadConfig(r.Context(), userID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	sched, ok := agg.Schedule(rt)
	if !ok {
		s.respondError(w, r, tenantcfg.ErrScheduleNotFound)
		return
	}
	s.respondJSON(w, http.StatusOK, sched.DateRange(today))
}
