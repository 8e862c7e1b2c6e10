package supervisor

import (
	"errors"
	"time"

	"github.com/otpkit/otpkit/actor"
)

var (
	// ErrDuplicateChildID is returned by AddChild when the spec id is
	// already present in the child table.
	ErrDuplicateChildID = errors.New("duplicate child id")

	// ErrChildNotFound is returned when no child with the given id
	// exists.
	ErrChildNotFound = errors.New("child not found")

	// ErrRestartLimitExceeded marks a child whose failures exhausted the
	// restart budget; the child is terminally failed and no longer
	// monitored.
	ErrRestartLimitExceeded = errors.New("restart limit exceeded")

	// ErrMissingStart is returned for a ChildSpec without a start
	// factory.
	ErrMissingStart = errors.New("child spec has no start factory")
)

// Strategy is the scope of restart triggered by one child's failure.
type Strategy int

const (
	// OneForOne restarts only the failed child.
	OneForOne Strategy = iota
	// OneForAll stops and restarts every sibling whenever any one child
	// fails.
	OneForAll
	// RestForOne stops and restarts the failed child and every child
	// added after it; earlier children are untouched.
	RestForOne
	// SimpleOneForOne is OneForOne over homogeneous, dynamically added
	// children (see DynamicSupervisor).
	SimpleOneForOne
)

// RestartPolicy decides whether a vanished child is restarted.
type RestartPolicy int

const (
	// Permanent children are always restarted.
	Permanent RestartPolicy = iota
	// Temporary children are never restarted.
	Temporary
	// Transient children are restarted only after an abnormal exit, not
	// after a normal stop.
	Transient
)

// ChildType classifies a child for reporting purposes.
type ChildType int

const (
	ChildWorker ChildType = iota
	ChildSupervisor
)

type shutdownKind int

const (
	shutdownTimeout shutdownKind = iota
	shutdownBrutal
	shutdownInfinity
)

// ShutdownPolicy controls how a child is stopped when the supervisor
// terminates it.
type ShutdownPolicy struct {
	kind shutdownKind
	wait time.Duration
}

// Brutal kills the child immediately without draining its mailbox.
func Brutal() ShutdownPolicy { return ShutdownPolicy{kind: shutdownBrutal} }

// Timeout delivers Stop and waits up to d before killing the child.
func Timeout(d time.Duration) ShutdownPolicy {
	return ShutdownPolicy{kind: shutdownTimeout, wait: d}
}

// Infinity delivers Stop and waits however long the child takes.
func Infinity() ShutdownPolicy { return ShutdownPolicy{kind: shutdownInfinity} }

// StartFunc produces a fresh actor for a child; it is re-invoked on every
// restart.
type StartFunc func(rt *actor.Runtime) (actor.ActorID, error)

// ChildSpec describes one supervised child.
type ChildSpec struct {
	ID       string
	Start    StartFunc
	Restart  RestartPolicy
	Shutdown ShutdownPolicy
	Type     ChildType
}

// ChildStatus is the supervisor's view of a child.
type ChildStatus int

const (
	// StatusRunning means the child's actor was alive at the last check.
	StatusRunning ChildStatus = iota
	// StatusRestarting is transient while a replacement is started.
	StatusRestarting
	// StatusStopped means the child exited normally and will not be
	// restarted.
	StatusStopped
	// StatusFailed is terminal: either a non-restartable child exited
	// abnormally or the restart budget was exhausted.
	StatusFailed
)

// String returns a short lowercase name for the status.
func (s ChildStatus) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusRestarting:
		return "restarting"
	case StatusStopped:
		return "stopped"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ChildInfo is a reporting row from WhichChildren.
type ChildInfo struct {
	ID       string
	ActorID  actor.ActorID
	Type     ChildType
	Status   ChildStatus
	Restarts int
}

// Counts summarizes the child table.
type Counts struct {
	Specs       int
	Active      int
	Workers     int
	Supervisors int
}

// Options configures a supervisor.
type Options struct {
	// Strategy defaults to OneForOne.
	Strategy Strategy
	// MaxRestarts is the restart budget per child inside Window.
	// Defaults to 3.
	MaxRestarts int
	// Window is the trailing interval the restart timestamps are counted
	// over. Defaults to 5s.
	Window time.Duration
	// CheckInterval is the liveness poll period. Defaults to 1s.
	CheckInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxRestarts <= 0 {
		o.MaxRestarts = 3
	}
	if o.Window <= 0 {
		o.Window = 5 * time.Second
	}
	if o.CheckInterval <= 0 {
		o.CheckInterval = time.Second
	}
	return o
}
