// Package budget enforces spend ceilings: a daily bucket that resets at
// midnight and a cumulative per-project bucket. Exceeding a cap pauses
// admission; pausing is only ever lifted by an explicit resume.
package budget

import (
	"sync"
	"time"

	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/config"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/logging"
)

// Verdict is the outcome of a spend check or recording.
type Verdict struct {
	Allowed     bool
	TaskWarning bool // Single task exceeded its ceiling (soft, never blocks)
	Reason      string
}

// Limiter tracks spend and gates admission. Safe for concurrent use.
type Limiter struct {
	mu sync.Mutex

	cfg config.BudgetConfig
	now func() time.Time // Injectable clock

	day        time.Time // Midnight anchoring the daily bucket
	dailySpend float64
	projects   map[string]float64

	globalPaused   bool
	pausedProjects map[string]bool
}

// NewLimiter returns a limiter with empty buckets.
func NewLimiter(cfg config.BudgetConfig) *Limiter {
	return newLimiterAt(cfg, time.Now)
}

func newLimiterAt(cfg config.BudgetConfig, now func() time.Time) *Limiter {
	l := &Limiter{
		cfg:            cfg,
		now:            now,
		projects:       make(map[string]float64),
		pausedProjects: make(map[string]bool),
	}
	l.day = midnight(now())
	return l
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// rollLocked resets the daily bucket when the day has turned. Pauses are
// never lifted by the clock.
func (l *Limiter) rollLocked() {
	today := midnight(l.now())
	if today.After(l.day) {
		logging.Budget("Daily bucket reset (spent %.2f yesterday)", l.dailySpend)
		l.day = today
		l.dailySpend = 0
	}
}

// RecordCost books a completed spend against both buckets and reports
// whether further admission is allowed. A task over its ceiling raises a
// soft warning only. A bucket over its cap pauses admission (globally for
// the daily bucket, per project otherwise) and returns not-allowed.
func (l *Limiter) RecordCost(project, taskID string, cost float64) Verdict {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollLocked()

	l.dailySpend += cost
	if project != "" {
		l.projects[project] += cost
	}

	v := Verdict{Allowed: true}
	if cost > l.cfg.TaskCeiling {
		v.TaskWarning = true
		logging.BudgetWarn("Task %s cost %.2f exceeds ceiling %.2f", taskID, cost, l.cfg.TaskCeiling)
	}

	if project != "" && l.projects[project] > l.cfg.ProjectCap && !l.pausedProjects[project] {
		l.pausedProjects[project] = true
		logging.BudgetWarn("Project %s paused: spend %.2f over cap %.2f", project, l.projects[project], l.cfg.ProjectCap)
	}
	if l.dailySpend > l.cfg.DailyCap && !l.globalPaused {
		l.globalPaused = true
		logging.BudgetWarn("All admission paused: daily spend %.2f over cap %.2f", l.dailySpend, l.cfg.DailyCap)
	}

	if l.globalPaused {
		v.Allowed = false
		v.Reason = "daily budget exhausted"
	} else if project != "" && l.pausedProjects[project] {
		v.Allowed = false
		v.Reason = "project budget exhausted"
	}
	return v
}

// CanProceed is the non-mutating pre-flight check: would admitting work
// with this estimated cost stay inside every ceiling.
func (l *Limiter) CanProceed(project string, estimatedCost float64) Verdict {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollLocked()

	switch {
	case l.globalPaused:
		return Verdict{Reason: "daily budget exhausted"}
	case project != "" && l.pausedProjects[project]:
		return Verdict{Reason: "project budget exhausted"}
	case l.dailySpend+estimatedCost > l.cfg.DailyCap:
		return Verdict{Reason: "estimated cost would exceed the daily cap"}
	case project != "" && l.projects[project]+estimatedCost > l.cfg.ProjectCap:
		return Verdict{Reason: "estimated cost would exceed the project cap"}
	}
	return Verdict{Allowed: true}
}

// SetCaps replaces the ceilings at runtime. An administrative override:
// raising a cap does not lift an existing pause, lowering one does not
// retroactively pause anything until the next recording or check.
func (l *Limiter) SetCaps(cfg config.BudgetConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cfg = cfg
}

// Resume lifts the pause on one project.
func (l *Limiter) Resume(project string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pausedProjects[project] {
		delete(l.pausedProjects, project)
		logging.Budget("Project %s resumed", project)
	}
}

// ResumeAll lifts the global pause and every project pause.
func (l *Limiter) ResumeAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.globalPaused = false
	l.pausedProjects = make(map[string]bool)
	logging.Budget("All budget pauses lifted")
}

// DailySpend reports today's booked spend.
func (l *Limiter) DailySpend() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollLocked()
	return l.dailySpend
}

// ProjectSpend reports a project's cumulative spend.
func (l *Limiter) ProjectSpend(project string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.projects[project]
}
