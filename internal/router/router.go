// Package router sends defect reports down one of three remediation paths
// based on the reporter's confidence.
package router

import (
	"context"
	"fmt"

	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/logging"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/notify"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/store"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/types"
)

// Fixed identities for the two non-escalation paths.
const (
	AutomationIdentity = "system:auto-verify"
	ReviewerIdentity   = "system:senior-review"
)

// Severity grades a defect report.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// DefectReport is what a review stage emits about a piece of work.
type DefectReport struct {
	TaskID               string   `json:"task_id"`
	Confidence           float64  `json:"confidence"` // [0,1]
	Severity             Severity `json:"severity"`
	Description          string   `json:"description"`
	SuggestedRemediation string   `json:"suggested_remediation"`
}

// Path is the remediation route chosen for a report.
type Path string

const (
	PathAuto    Path = "auto"     // High confidence, automated verification
	PathReview  Path = "review"   // Moderate confidence, senior review
	PathWarRoom Path = "war_room" // Low confidence, broadcast escalation
)

// Decide maps a confidence to its path. Bands are closed on their lower
// bound: exactly 0.9 is the review band's top, exactly 0.5 is the war
// room's top.
func Decide(confidence float64) Path {
	switch {
	case confidence > 0.9:
		return PathAuto
	case confidence > 0.5:
		return PathReview
	default:
		return PathWarRoom
	}
}

// Router applies routing decisions to tasks.
type Router struct {
	st       store.Store
	notifier notify.Notifier
}

// NewRouter wires a confidence router.
func NewRouter(st store.Store, n notify.Notifier) *Router {
	return &Router{st: st, notifier: n}
}

// Route moves the reported task onto the path the confidence dictates:
// automated verification, senior review, or the war room. War-room tasks
// are left unassigned and flagged deadlocked so the broadcast surface can
// pick them up.
func (r *Router) Route(ctx context.Context, report DefectReport) (Path, error) {
	t, err := r.st.GetTask(ctx, report.TaskID)
	if err != nil {
		return "", fmt.Errorf("failed to load task %s for routing: %w", report.TaskID, err)
	}

	path := Decide(report.Confidence)
	switch path {
	case PathAuto:
		t.Status = types.TaskInQA
		t.AssignedTo = AutomationIdentity
	case PathReview:
		t.Status = types.TaskInReview
		t.AssignedTo = ReviewerIdentity
	case PathWarRoom:
		t.Status = types.TaskWarRoom
		t.AssignedTo = ""
		t.Deadlocked = true
		t.BlockedReason = report.Description
	}
	if report.SuggestedRemediation != "" {
		t.Context.Version++
		t.Context.Details = report.SuggestedRemediation
	}

	if err := r.st.UpdateTask(ctx, t); err != nil {
		return "", fmt.Errorf("failed to route task %s to %s: %w", t.ID, path, err)
	}

	logging.Router("Task %s routed to %s (confidence=%.2f severity=%s)",
		t.ID, path, report.Confidence, report.Severity)
	r.notifier.TaskUpdated(t)
	if path == PathWarRoom {
		r.notifier.Event("task.war_room", fmt.Sprintf("%s: %s", t.ID, report.Description))
	}
	return path, nil
}
