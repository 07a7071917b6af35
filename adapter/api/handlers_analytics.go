package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	shared "github.com/ramxx/tminus/internal/shared/domain"
	store "github.com/ramxx/tminus/internal/store/domain"

	"github.com/ramxx/tminus/internal/analytics"
)

// resolveWorkingHours reads the user's working_hours constraint, falling
// back to the default 09:00–17:00 Monday–Friday.
func (s *Server) resolveWorkingHours(r *http.Request, userID shared.ID) analytics.WorkingHours {
	wh := analytics.DefaultWorkingHours()

	constraints, err := s.store.ListConstraints(r.Context(), userID)
	if err != nil {
		return wh
	}
	for _, c := range constraints {
		if c.Kind != store.ConstraintWorkingHours {
			continue
		}
		cfg, err := c.WorkingHours()
		if err != nil {
			continue
		}
		if len(cfg.Days) > 0 {
			wh.Days = cfg.Days
		}
		if m, ok := parseClock(cfg.Start); ok {
			wh.StartMinute = m
		}
		if m, ok := parseClock(cfg.End); ok {
			wh.EndMinute = m
		}
		if cfg.Timezone != "" {
			if loc, err := time.LoadLocation(cfg.Timezone); err == nil {
				wh.Location = loc
			}
		}
		break
	}
	return wh
}

func parseClock(v string) (int, bool) {
	parts := strings.SplitN(v, ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

// analyticsWindow resolves the date/range query pair into [start, end).
func analyticsWindow(r *http.Request) (time.Time, time.Time, error) {
	day := time.Now().UTC().Truncate(24 * time.Hour)
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return time.Time{}, time.Time{}, shared.Wrap(shared.KindInvalidArgument, "malformed_date", err)
		}
		day = parsed.UTC()
	}

	switch r.URL.Query().Get("range") {
	case "", "day":
		return day, day.Add(24 * time.Hour), nil
	case "week":
		// Snap to the Monday of the day's week.
		offset := (int(day.Weekday()) + 6) % 7
		monday := day.Add(-time.Duration(offset) * 24 * time.Hour)
		return monday, monday.Add(7 * 24 * time.Hour), nil
	default:
		return time.Time{}, time.Time{}, shared.E(shared.KindInvalidArgument, "invalid_range", "range must be day or week")
	}
}

// loadEvents pulls the canonical events for an analytics window.
func (s *Server) loadEvents(r *http.Request, userID shared.ID, start, end time.Time) ([]*store.CanonicalEvent, error) {
	page, err := s.store.ListCanonicalEvents(r.Context(), userID, start, end, "", 0)
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

func (s *Server) handleCognitiveLoad(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())

	start, end, err := analyticsWindow(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	events, err := s.loadEvents(r, principal.UserID, start, end)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	wh := s.resolveWorkingHours(r, principal.UserID)
	load := analytics.ComputeCognitiveLoad(events, wh, start, end)
	writeData(w, http.StatusOK, load)
}

func (s *Server) handleContextSwitches(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())

	start, end, err := analyticsWindow(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	events, err := s.loadEvents(r, principal.UserID, start, end)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	result := analytics.AnalyzeContextSwitches(events, start, end)
	writeData(w, http.StatusOK, result)
}

func (s *Server) handleDeepWork(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())

	start, end, err := analyticsWindow(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	events, err := s.loadEvents(r, principal.UserID, start, end)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	wh := s.resolveWorkingHours(r, principal.UserID)
	result := analytics.DetectDeepWork(events, wh, start, end)
	writeData(w, http.StatusOK, result)
}

func (s *Server) handleRiskScores(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())

	weeks := 4
	if raw := r.URL.Query().Get("weeks"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 52 {
			writeError(w, s.logger, shared.E(shared.KindInvalidArgument, "invalid_weeks", "weeks must be in [1, 52]"))
			return
		}
		weeks = parsed
	}

	now := time.Now().UTC()
	days := weeks * 7
	start := now.Truncate(24 * time.Hour).Add(-time.Duration(days-1) * 24 * time.Hour)

	events, err := s.loadEvents(r, principal.UserID, start, now)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	constraints, err := s.store.ListConstraints(r.Context(), principal.UserID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	wh := s.resolveWorkingHours(r, principal.UserID)
	loads := analytics.DailyLoads(events, wh, start, days)
	scores := make([]int, len(loads))
	for i, l := range loads {
		scores[i] = l.Score
	}

	tripDays, workingDays := countTripAndWorkingDays(constraints, wh, start, days)
	current, historical := allocationShares(events, now)

	result := analytics.ComputeTemporalRisk(analytics.RiskInput{
		DailyScores:          scores,
		TripDays:             tripDays,
		WorkingDays:          workingDays,
		CurrentAllocation:    current,
		HistoricalAllocation: historical,
	})
	writeData(w, http.StatusOK, result)
}

// countTripAndWorkingDays tallies working days in the window and how many
// of them fall inside a trip constraint.
func countTripAndWorkingDays(constraints []*store.Constraint, wh analytics.WorkingHours, start time.Time, days int) (int, int) {
	tripDays, workingDays := 0, 0
	for i := 0; i < days; i++ {
		day := start.Add(time.Duration(i) * 24 * time.Hour)
		if !wh.IsWorkingDay(day) {
			continue
		}
		workingDays++
		noon := day.Add(12 * time.Hour)
		for _, c := range constraints {
			if c.Kind == store.ConstraintTrip && c.ActiveAt(noon) {
				tripDays++
				break
			}
		}
	}
	return tripDays, workingDays
}

// allocationShares splits the window at its midpoint and computes the
// percentage share of time per meeting category for each half, the drift
// input. It returns the later half first, then the earlier half.
func allocationShares(events []*store.CanonicalEvent, now time.Time) (map[string]float64, map[string]float64) {
	if len(events) == 0 {
		return nil, nil
	}

	var earliest time.Time
	for _, ev := range events {
		if earliest.IsZero() || ev.Start.Before(earliest) {
			earliest = ev.Start
		}
	}
	midpoint := earliest.Add(now.Sub(earliest) / 2)

	share := func(from, to time.Time) map[string]float64 {
		minutes := map[string]float64{}
		total := 0.0
		for _, ev := range events {
			if ev.IsCancelled() || !ev.Overlaps(from, to) {
				continue
			}
			m := ev.Duration().Minutes()
			category := string(analytics.Classify(ev.Title))
			minutes[category] += m
			total += m
		}
		if total == 0 {
			return nil
		}
		for k := range minutes {
			minutes[k] = minutes[k] / total * 100
		}
		return minutes
	}

	return share(midpoint, now), share(earliest, midpoint)
}

func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())

	start, err := parseTimeParam(r, "start")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	end, err := parseTimeParam(r, "end")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	granularity := 30
	if raw := r.URL.Query().Get("granularity_minutes"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 24*60 {
			writeError(w, s.logger, shared.E(shared.KindInvalidArgument, "invalid_granularity", "granularity_minutes must be in [1, 1440]"))
			return
		}
		granularity = parsed
	}

	events, err := s.loadEvents(r, principal.UserID, start, end)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	result := analytics.ComputeAvailability(events, start, end, granularity)
	writeData(w, http.StatusOK, result)
}
