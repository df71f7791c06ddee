// Package notify publishes point-in-time state changes to an external
// real-time transport. Delivery is fire-and-forget: a lost notification
// never affects correctness, so implementations must not block callers or
// return errors.
package notify

import (
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/logging"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/types"
)

// Notifier receives state-change announcements.
type Notifier interface {
	AgentUpdated(a *types.Agent)
	TaskUpdated(t *types.Task)
	Event(kind, message string)
}

// Nop discards all notifications.
type Nop struct{}

func (Nop) AgentUpdated(*types.Agent)  {}
func (Nop) TaskUpdated(*types.Task)    {}
func (Nop) Event(kind, message string) {}

// LogNotifier writes notifications to the category log. The default
// transport when no external collaborator is attached.
type LogNotifier struct{}

func (LogNotifier) AgentUpdated(a *types.Agent) {
	logging.Get(logging.CategoryDriver).Debug("notify agent %s status=%s role=%s E=%.1f",
		a.ID, a.Status, a.Role, a.ExistencePotential)
}

func (LogNotifier) TaskUpdated(t *types.Task) {
	logging.Get(logging.CategoryDriver).Debug("notify task %s status=%s assigned=%s",
		t.ID, t.Status, t.AssignedTo)
}

func (LogNotifier) Event(kind, message string) {
	logging.Get(logging.CategoryDriver).Info("notify event %s: %s", kind, message)
}
