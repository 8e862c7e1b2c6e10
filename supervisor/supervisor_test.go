package supervisor

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otpkit/otpkit/actor"
)

func newTestRuntime(t *testing.T) *actor.Runtime {
	t.Helper()
	rt := actor.NewWithConfig(actor.Config{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	t.Cleanup(func() { _ = rt.Shutdown(2 * time.Second) })
	return rt
}

// idleWorker runs until stopped; "die" casts make it fail.
type idleWorker struct{}

func (idleWorker) OnStart(*actor.Context) error { return nil }

func (idleWorker) OnMessage(_ *actor.Context, msg actor.Message) ([]byte, error) {
	if cast, ok := msg.(actor.Cast); ok && string(cast.Payload) == "die" {
		return nil, errors.New("worker crashed")
	}
	return nil, nil
}

func (idleWorker) OnStop(*actor.Context, error) {}

func workerSpec(id string, restart RestartPolicy) ChildSpec {
	return ChildSpec{
		ID:      id,
		Restart: restart,
		Start: func(rt *actor.Runtime) (actor.ActorID, error) {
			return rt.Spawn(idleWorker{})
		},
	}
}

func childByID(t *testing.T, sup *Supervisor, id string) ChildInfo {
	t.Helper()
	infos, err := sup.WhichChildren()
	require.NoError(t, err)
	for _, info := range infos {
		if info.ID == id {
			return info
		}
	}
	t.Fatalf("child %q not in table", id)
	return ChildInfo{}
}

func waitForRestart(t *testing.T, sup *Supervisor, id string, old actor.ActorID) actor.ActorID {
	t.Helper()
	var current actor.ActorID
	require.Eventually(t, func() bool {
		info := childByID(t, sup, id)
		current = info.ActorID
		return info.Status == StatusRunning && current != old
	}, 3*time.Second, 20*time.Millisecond, "child %q was not restarted", id)
	return current
}

func TestSupervisor_OneForOneRestartsOnlyFailed(t *testing.T) {
	rt := newTestRuntime(t)
	sup, err := Start(rt, Options{Strategy: OneForOne, CheckInterval: 20 * time.Millisecond})
	require.NoError(t, err)
	defer sup.Stop()

	require.NoError(t, sup.AddChild(workerSpec("a", Permanent)))
	require.NoError(t, sup.AddChild(workerSpec("b", Permanent)))

	aID := childByID(t, sup, "a").ActorID
	bID := childByID(t, sup, "b").ActorID

	require.NoError(t, rt.Kill(aID))
	newA := waitForRestart(t, sup, "a", aID)

	_, alive := rt.Lookup(newA)
	assert.True(t, alive)
	assert.Equal(t, bID, childByID(t, sup, "b").ActorID, "sibling must keep its actor")
	assert.Equal(t, 1, childByID(t, sup, "a").Restarts)
	assert.Equal(t, 0, childByID(t, sup, "b").Restarts)
}

func TestSupervisor_OneForAllRestartsSiblings(t *testing.T) {
	rt := newTestRuntime(t)
	sup, err := Start(rt, Options{Strategy: OneForAll, CheckInterval: 20 * time.Millisecond})
	require.NoError(t, err)
	defer sup.Stop()

	require.NoError(t, sup.AddChild(workerSpec("a", Permanent)))
	require.NoError(t, sup.AddChild(workerSpec("b", Permanent)))

	aID := childByID(t, sup, "a").ActorID
	bID := childByID(t, sup, "b").ActorID

	require.NoError(t, rt.Kill(aID))
	waitForRestart(t, sup, "a", aID)
	waitForRestart(t, sup, "b", bID)
}

func TestSupervisor_RestForOneLeavesEarlierChildren(t *testing.T) {
	rt := newTestRuntime(t)
	sup, err := Start(rt, Options{Strategy: RestForOne, CheckInterval: 20 * time.Millisecond})
	require.NoError(t, err)
	defer sup.Stop()

	require.NoError(t, sup.AddChild(workerSpec("a", Permanent)))
	require.NoError(t, sup.AddChild(workerSpec("b", Permanent)))
	require.NoError(t, sup.AddChild(workerSpec("c", Permanent)))

	aID := childByID(t, sup, "a").ActorID
	bID := childByID(t, sup, "b").ActorID
	cID := childByID(t, sup, "c").ActorID

	require.NoError(t, rt.Kill(bID))
	waitForRestart(t, sup, "b", bID)
	waitForRestart(t, sup, "c", cID)

	assert.Equal(t, aID, childByID(t, sup, "a").ActorID, "children before the failed one stay put")
	assert.Equal(t, 0, childByID(t, sup, "a").Restarts)
}

func TestSupervisor_RestartBudgetExhausted(t *testing.T) {
	rt := newTestRuntime(t)
	sup, err := Start(rt, Options{
		Strategy:      OneForOne,
		MaxRestarts:   2,
		Window:        10 * time.Second,
		CheckInterval: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	defer sup.Stop()

	require.NoError(t, sup.AddChild(workerSpec("flappy", Permanent)))

	// Two failures are within budget, the third inside the window is
	// terminal.
	id := childByID(t, sup, "flappy").ActorID
	for i := 0; i < 2; i++ {
		require.NoError(t, rt.Kill(id))
		id = waitForRestart(t, sup, "flappy", id)
	}
	require.NoError(t, rt.Kill(id))

	require.Eventually(t, func() bool {
		return childByID(t, sup, "flappy").Status == StatusFailed
	}, 3*time.Second, 20*time.Millisecond)

	// Terminally failed means failed in place: no replacement is ever
	// started.
	time.Sleep(100 * time.Millisecond)
	info := childByID(t, sup, "flappy")
	assert.Equal(t, StatusFailed, info.Status)
	assert.Equal(t, 2, info.Restarts)
	_, alive := rt.Lookup(info.ActorID)
	assert.False(t, alive)
}

func TestSupervisor_TemporaryNeverRestarted(t *testing.T) {
	rt := newTestRuntime(t)
	sup, err := Start(rt, Options{Strategy: OneForOne, CheckInterval: 20 * time.Millisecond})
	require.NoError(t, err)
	defer sup.Stop()

	require.NoError(t, sup.AddChild(workerSpec("once", Temporary)))
	id := childByID(t, sup, "once").ActorID

	require.NoError(t, rt.Stop(id))
	require.Eventually(t, func() bool {
		return childByID(t, sup, "once").Status == StatusStopped
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, 0, childByID(t, sup, "once").Restarts)
}

func TestSupervisor_TransientRestartsOnlyOnFailure(t *testing.T) {
	rt := newTestRuntime(t)
	sup, err := Start(rt, Options{Strategy: OneForOne, CheckInterval: 50 * time.Millisecond})
	require.NoError(t, err)
	defer sup.Stop()

	require.NoError(t, sup.AddChild(workerSpec("maybe", Transient)))
	id := childByID(t, sup, "maybe").ActorID

	// Abnormal exit: restarted.
	require.NoError(t, rt.Cast(id, []byte("die")))
	id = waitForRestart(t, sup, "maybe", id)

	// Normal stop: left stopped.
	require.NoError(t, rt.Stop(id))
	require.Eventually(t, func() bool {
		return childByID(t, sup, "maybe").Status == StatusStopped
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, 1, childByID(t, sup, "maybe").Restarts)
}

func TestSupervisor_DuplicateChildID(t *testing.T) {
	rt := newTestRuntime(t)
	sup, err := Start(rt, Options{})
	require.NoError(t, err)
	defer sup.Stop()

	require.NoError(t, sup.AddChild(workerSpec("same", Permanent)))
	err = sup.AddChild(workerSpec("same", Permanent))
	assert.ErrorIs(t, err, ErrDuplicateChildID)

	counts, err := sup.CountChildren()
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Specs)
}

func TestSupervisor_MissingStart(t *testing.T) {
	rt := newTestRuntime(t)
	sup, err := Start(rt, Options{})
	require.NoError(t, err)
	defer sup.Stop()

	err = sup.AddChild(ChildSpec{ID: "empty"})
	assert.ErrorIs(t, err, ErrMissingStart)
}

func TestSupervisor_RemoveChild(t *testing.T) {
	rt := newTestRuntime(t)
	sup, err := Start(rt, Options{Strategy: OneForOne, CheckInterval: 20 * time.Millisecond})
	require.NoError(t, err)
	defer sup.Stop()

	require.NoError(t, sup.AddChild(workerSpec("gone", Permanent)))
	id := childByID(t, sup, "gone").ActorID

	require.NoError(t, sup.RemoveChild("gone"))

	require.Eventually(t, func() bool {
		_, alive := rt.Lookup(id)
		return !alive
	}, 3*time.Second, 20*time.Millisecond)

	infos, err := sup.WhichChildren()
	require.NoError(t, err)
	assert.Empty(t, infos)

	assert.ErrorIs(t, sup.RemoveChild("gone"), ErrChildNotFound)
}

func TestSupervisor_CountChildren(t *testing.T) {
	rt := newTestRuntime(t)
	sup, err := Start(rt, Options{})
	require.NoError(t, err)
	defer sup.Stop()

	require.NoError(t, sup.AddChild(workerSpec("w1", Permanent)))
	require.NoError(t, sup.AddChild(workerSpec("w2", Permanent)))

	inner, err := Start(rt, Options{})
	require.NoError(t, err)
	require.NoError(t, sup.AddChild(ChildSpec{
		ID:   "inner",
		Type: ChildSupervisor,
		Start: func(*actor.Runtime) (actor.ActorID, error) {
			return inner.ID(), nil
		},
	}))

	counts, err := sup.CountChildren()
	require.NoError(t, err)
	assert.Equal(t, Counts{Specs: 3, Active: 3, Workers: 2, Supervisors: 1}, counts)
}

func TestSupervisor_StopTerminatesChildren(t *testing.T) {
	rt := newTestRuntime(t)
	sup, err := Start(rt, Options{Strategy: OneForOne, CheckInterval: 20 * time.Millisecond})
	require.NoError(t, err)

	require.NoError(t, sup.AddChild(workerSpec("a", Permanent)))
	require.NoError(t, sup.AddChild(workerSpec("b", Permanent)))
	aID := childByID(t, sup, "a").ActorID
	bID := childByID(t, sup, "b").ActorID

	supActor, ok := rt.Lookup(sup.ID())
	require.True(t, ok)
	require.NoError(t, sup.Stop())
	<-supActor.Done()

	_, alive := rt.Lookup(aID)
	assert.False(t, alive)
	_, alive = rt.Lookup(bID)
	assert.False(t, alive)
}

func TestSupervisor_BrutalShutdown(t *testing.T) {
	rt := newTestRuntime(t)
	sup, err := Start(rt, Options{Strategy: OneForOne, CheckInterval: 20 * time.Millisecond})
	require.NoError(t, err)
	defer sup.Stop()

	spec := workerSpec("hard", Permanent)
	spec.Shutdown = Brutal()
	require.NoError(t, sup.AddChild(spec))
	id := childByID(t, sup, "hard").ActorID

	require.NoError(t, sup.RemoveChild("hard"))
	_, alive := rt.Lookup(id)
	assert.False(t, alive, "brutal shutdown completes before RemoveChild returns")
}
