package state

import (
	"fmt"
	"time"

	"github.com/desertthunder/onair/internal/models"
	"github.com/desertthunder/onair/internal/shared"
)

// ReasonNoOp is recorded for requests that ask for the state already held.
const ReasonNoOp = "no-op"

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Window is the daily active period [Start, End) in hours of Location.
//
// Start > End wraps past midnight; Start == End means always active.
type Window struct {
	Start    int
	End      int
	Location *time.Location
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	h := w.local(t).Hour()
	switch {
	case w.Start == w.End:
		return true
	case w.Start < w.End:
		return h >= w.Start && h < w.End
	default:
		return h >= w.Start || h < w.End
	}
}

func (w Window) local(t time.Time) time.Time {
	if w.Location == nil {
		return t
	}
	return t.In(w.Location)
}

// transitions is the table of accepted state changes. Requests for the current state are always accepted as no-ops.
var transitions = map[models.State][]models.State{
	models.StateRunning:        {models.StatePaused, models.StateOutsideHours},
	models.StateOutsideHours:   {models.StateRunning, models.StatePaused, models.StateManualOverride},
	models.StateManualOverride: {models.StatePaused, models.StateRunning, models.StateOutsideHours},
	models.StatePaused:         {models.StateRunning, models.StateManualOverride, models.StateOutsideHours},
}

func allowed(from, to models.State) bool {
	if from == to {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Machine is the service state machine. It is not safe for concurrent use; [Manager] serializes access.
type Machine struct {
	current models.ServiceState
	window  Window
	reset   int

	overrideSet        bool
	pausedOutsideHours bool
	lastOverrideReset  string

	seq          int64
	history      []models.StateTransition
	historyLimit int

	onTransition func(models.StateTransition)
}

// NewMachine creates a machine in the running state.
func NewMachine(window Window, resetHour int, now time.Time) *Machine {
	return &Machine{
		current:      models.ServiceState{State: models.StateRunning, Reason: "startup", ChangedAt: now},
		window:       window,
		reset:        resetHour,
		historyLimit: 500,
	}
}

// Current returns the current state.
func (m *Machine) Current() models.ServiceState { return m.current }

// InWindow reports whether now is inside the active window.
func (m *Machine) InWindow(now time.Time) bool { return m.window.Contains(now) }

// Transition moves to the requested state if the table allows it and records the transition.
func (m *Machine) Transition(to models.State, reason string, source models.TransitionSource, now time.Time) (models.StateTransition, error) {
	from := m.current.State
	if !to.Valid() || !allowed(from, to) {
		return models.StateTransition{}, fmt.Errorf("%w: %s -> %s", shared.ErrInvalidTransition, from, to)
	}
	if from == to {
		reason = ReasonNoOp
	}
	return m.record(from, to, reason, source, now), nil
}

// Pause moves any state to paused.
func (m *Machine) Pause(reason string, source models.TransitionSource, now time.Time) models.StateTransition {
	if m.current.State == models.StatePaused {
		return m.record(models.StatePaused, models.StatePaused, ReasonNoOp, source, now)
	}
	if reason == "" {
		reason = "paused by admin"
	}
	m.overrideSet = false
	m.pausedOutsideHours = !m.window.Contains(now)
	return m.record(m.current.State, models.StatePaused, reason, source, now)
}

// Resume leaves paused (or outside_hours) for running inside the window and manual_override outside it.
//
// forced is true when the caller should run an immediate out-of-cycle check.
func (m *Machine) Resume(reason string, source models.TransitionSource, now time.Time) (t models.StateTransition, forced bool) {
	from := m.current.State
	if from == models.StateRunning || from == models.StateManualOverride {
		return m.record(from, from, ReasonNoOp, source, now), false
	}

	to := models.StateRunning
	if !m.window.Contains(now) {
		to = models.StateManualOverride
	}
	if reason == "" {
		reason = "resumed by admin"
	}
	m.overrideSet = to == models.StateManualOverride
	m.pausedOutsideHours = false
	return m.record(from, to, reason, source, now), true
}

// Evaluate applies the daily reset and the time window. Only actual changes are recorded.
func (m *Machine) Evaluate(now time.Time) []models.StateTransition {
	var out []models.StateTransition
	in := m.window.Contains(now)

	if m.resetDue(now) {
		m.lastOverrideReset = models.DateKey(m.window.local(now))
		target := models.StateRunning
		if !in {
			target = models.StateOutsideHours
		}

		switch {
		case m.current.State == models.StateManualOverride:
			out = append(out, m.record(m.current.State, target, "daily override reset", models.BySchedule, now))
		case m.current.State == models.StatePaused && m.pausedOutsideHours:
			out = append(out, m.record(m.current.State, target, "daily reset of off-hours pause", models.BySchedule, now))
		}
		m.overrideSet = false
		m.pausedOutsideHours = false
	}

	switch {
	case m.current.State == models.StateRunning && !in:
		out = append(out, m.record(models.StateRunning, models.StateOutsideHours, "outside active window", models.BySchedule, now))
	case m.current.State == models.StateOutsideHours && in:
		out = append(out, m.record(models.StateOutsideHours, models.StateRunning, "entered active window", models.BySchedule, now))
	}
	return out
}

func (m *Machine) resetDue(now time.Time) bool {
	local := m.window.local(now)
	return local.Hour() >= m.reset && m.lastOverrideReset != models.DateKey(local)
}

func (m *Machine) record(from, to models.State, reason string, source models.TransitionSource, now time.Time) models.StateTransition {
	m.seq++
	t := models.StateTransition{
		ID:        shared.GenerateID(),
		Seq:       m.seq,
		Timestamp: now,
		From:      from,
		To:        to,
		Reason:    reason,
		Source:    source,
	}

	if from != to {
		m.current = models.ServiceState{State: to, Reason: reason, ChangedAt: now}
	}

	m.history = append(m.history, t)
	if over := len(m.history) - m.historyLimit; over > 0 {
		m.history = append(m.history[:0:0], m.history[over:]...)
	}

	if m.onTransition != nil {
		m.onTransition(t)
	}
	return t
}

// History returns up to limit most recent transitions, oldest first. limit <= 0 returns all retained.
func (m *Machine) History(limit int) []models.StateTransition {
	start := 0
	if limit > 0 && len(m.history) > limit {
		start = len(m.history) - limit
	}
	return append([]models.StateTransition(nil), m.history[start:]...)
}

// Since returns retained transitions with Seq greater than seq.
func (m *Machine) Since(seq int64) []models.StateTransition {
	var out []models.StateTransition
	for _, t := range m.history {
		if t.Seq > seq {
			out = append(out, t)
		}
	}
	return out
}

// Seq returns the sequence number of the last recorded transition.
func (m *Machine) Seq() int64 { return m.seq }

func (m *Machine) flags() (overrideSet, pausedOutsideHours bool, lastReset string) {
	return m.overrideSet, m.pausedOutsideHours, m.lastOverrideReset
}

func (m *Machine) restore(s models.ServiceState, f models.DailyFlags, seq int64) {
	if s.State.Valid() {
		m.current = s
	}
	m.overrideSet = f.OverrideSet
	m.pausedOutsideHours = f.PausedOutsideHours
	m.lastOverrideReset = f.LastOverrideReset
	if seq > m.seq {
		m.seq = seq
	}
}
