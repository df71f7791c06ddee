package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/config"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/notify"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/store"
	"github.com/Tilakmp2003/tholai-cloud-sub001/internal/types"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	t.Cleanup(func() { st.Close() })
	return NewDispatcher(config.DefaultConfig().Driver, st, notify.Nop{}), st
}

func idleAgent(id string, role types.Role, project string, e float64) *types.Agent {
	return &types.Agent{
		ID:                 id,
		Role:               role,
		ProjectID:          project,
		Status:             types.AgentIdle,
		ExistencePotential: e,
		CreatedAt:          time.Now(),
	}
}

func queuedTask(id, role, project string, age time.Duration) *types.Task {
	return &types.Task{
		ID:           id,
		ProjectID:    project,
		Title:        "task " + id,
		RequiredRole: role,
		Status:       types.TaskQueued,
		CreatedAt:    time.Now().Add(-age),
	}
}

func TestAcceptableRolesNormalization(t *testing.T) {
	for _, label := range []string{"senior_dev", "Senior-Dev", "SENIOR DEV", "SeniorDev"} {
		roles, ok := AcceptableRoles(label)
		require.True(t, ok, label)
		assert.Equal(t, []types.Role{types.RoleSeniorDev}, roles, label)
	}
}

func TestAcceptableRolesUnknown(t *testing.T) {
	_, ok := AcceptableRoles("underwater_basket_weaver")
	assert.False(t, ok)
	_, ok = AcceptableRoles("")
	assert.False(t, ok)
}

func TestFrontendFallsBackToMidDev(t *testing.T) {
	ctx := context.Background()
	d, st := newTestDispatcher(t)

	require.NoError(t, st.CreateAgent(ctx, idleAgent("mid", types.RoleMidDev, "", 70)))
	require.NoError(t, st.CreateTask(ctx, queuedTask("t1", "FrontendDev", "", time.Minute)))

	res, err := d.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Assigned)

	task, err := st.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskAssigned, task.Status)
	assert.Equal(t, "mid", task.AssignedTo)

	agent, err := st.GetAgent(ctx, "mid")
	require.NoError(t, err)
	assert.Equal(t, types.AgentBusy, agent.Status)
	assert.Equal(t, "t1", agent.CurrentTaskID)
}

func TestProjectAffinityPreferred(t *testing.T) {
	ctx := context.Background()
	d, st := newTestDispatcher(t)

	// The off-project agent is healthier; affinity still wins.
	require.NoError(t, st.CreateAgent(ctx, idleAgent("outside", types.RoleMidDev, "other", 95)))
	require.NoError(t, st.CreateAgent(ctx, idleAgent("local", types.RoleMidDev, "proj-1", 40)))
	require.NoError(t, st.CreateTask(ctx, queuedTask("t1", "mid_dev", "proj-1", time.Minute)))

	_, err := d.RunPass(ctx)
	require.NoError(t, err)

	task, err := st.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "local", task.AssignedTo)
}

func TestAffinityNeverStarves(t *testing.T) {
	ctx := context.Background()
	d, st := newTestDispatcher(t)

	// No agent on this project at all; the global pool serves it.
	require.NoError(t, st.CreateAgent(ctx, idleAgent("outside", types.RoleMidDev, "other", 60)))
	require.NoError(t, st.CreateTask(ctx, queuedTask("t1", "mid_dev", "proj-1", time.Minute)))

	res, err := d.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Assigned)
}

func TestOldestFirstWithinPass(t *testing.T) {
	ctx := context.Background()
	d, st := newTestDispatcher(t)

	require.NoError(t, st.CreateAgent(ctx, idleAgent("only", types.RoleMidDev, "", 60)))
	require.NoError(t, st.CreateTask(ctx, queuedTask("young", "mid_dev", "", time.Minute)))
	require.NoError(t, st.CreateTask(ctx, queuedTask("old", "mid_dev", "", time.Hour)))

	res, err := d.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Assigned)
	assert.Equal(t, 1, res.Skipped)

	task, err := st.GetTask(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, "only", task.AssignedTo)

	young, err := st.GetTask(ctx, "young")
	require.NoError(t, err)
	assert.Equal(t, types.TaskQueued, young.Status)
}

func TestNoCandidateLeavesTaskQueued(t *testing.T) {
	ctx := context.Background()
	d, st := newTestDispatcher(t)

	require.NoError(t, st.CreateAgent(ctx, idleAgent("qa", types.RoleQA, "", 60)))
	require.NoError(t, st.CreateTask(ctx, queuedTask("t1", "architect", "", time.Minute)))

	res, err := d.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Assigned)
	assert.Equal(t, 1, res.Skipped)

	task, err := st.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskQueued, task.Status)
}

func TestUnknownRoleBlocksTask(t *testing.T) {
	ctx := context.Background()
	d, st := newTestDispatcher(t)

	require.NoError(t, st.CreateAgent(ctx, idleAgent("mid", types.RoleMidDev, "", 60)))
	require.NoError(t, st.CreateTask(ctx, queuedTask("t1", "underwater_basket_weaver", "", time.Minute)))

	res, err := d.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Rejected)

	task, err := st.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskBlocked, task.Status)
	assert.Contains(t, task.BlockedReason, "underwater_basket_weaver")
}

func TestBusyAgentNotConsidered(t *testing.T) {
	ctx := context.Background()
	d, st := newTestDispatcher(t)

	busy := idleAgent("busy", types.RoleMidDev, "", 90)
	busy.Status = types.AgentBusy
	busy.CurrentTaskID = "elsewhere"
	require.NoError(t, st.CreateAgent(ctx, busy))
	require.NoError(t, st.CreateTask(ctx, queuedTask("t1", "mid_dev", "", time.Minute)))

	res, err := d.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Assigned)
}

func TestRevisionTasksAreDispatchable(t *testing.T) {
	ctx := context.Background()
	d, st := newTestDispatcher(t)

	require.NoError(t, st.CreateAgent(ctx, idleAgent("mid", types.RoleMidDev, "", 60)))
	task := queuedTask("t1", "mid_dev", "", time.Minute)
	task.Status = types.TaskNeedsRevision
	task.RevisionCount = 1
	require.NoError(t, st.CreateTask(ctx, task))

	res, err := d.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Assigned)
}

func TestHealthierAgentWinsWithinRung(t *testing.T) {
	ctx := context.Background()
	d, st := newTestDispatcher(t)

	require.NoError(t, st.CreateAgent(ctx, idleAgent("weak", types.RoleMidDev, "", 30)))
	require.NoError(t, st.CreateAgent(ctx, idleAgent("strong", types.RoleMidDev, "", 80)))
	require.NoError(t, st.CreateTask(ctx, queuedTask("t1", "mid_dev", "", time.Minute)))

	_, err := d.RunPass(ctx)
	require.NoError(t, err)

	task, err := st.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "strong", task.AssignedTo)
}
