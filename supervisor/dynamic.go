package supervisor

import (
	"fmt"
	"time"

	"go.uber.org/atomic"

	"github.com/otpkit/otpkit/actor"
)

// Factory produces one homogeneous child for a DynamicSupervisor.
type Factory func(rt *actor.Runtime, args any) (actor.ActorID, error)

// DynamicOptions configures a DynamicSupervisor.
type DynamicOptions struct {
	// MaxRestarts / Window / CheckInterval as in Options.
	MaxRestarts   int
	Window        time.Duration
	CheckInterval time.Duration
	// Restart applies to every child. Defaults to Permanent.
	Restart RestartPolicy
	// Shutdown applies to every child. Defaults to Timeout(5s).
	Shutdown ShutdownPolicy
}

// DynamicSupervisor supervises a homogeneous set of children produced by
// a single factory, added and removed at runtime. Each child is restarted
// independently, like OneForOne.
type DynamicSupervisor struct {
	sup     *Supervisor
	factory Factory
	opts    DynamicOptions
	seq     atomic.Int64
}

// StartDynamic spawns a SimpleOneForOne supervisor around factory.
func StartDynamic(rt *actor.Runtime, factory Factory, opts DynamicOptions) (*DynamicSupervisor, error) {
	if factory == nil {
		return nil, ErrMissingStart
	}
	sup, err := Start(rt, Options{
		Strategy:      SimpleOneForOne,
		MaxRestarts:   opts.MaxRestarts,
		Window:        opts.Window,
		CheckInterval: opts.CheckInterval,
	})
	if err != nil {
		return nil, err
	}
	return &DynamicSupervisor{sup: sup, factory: factory, opts: opts}, nil
}

// ID returns the underlying supervisor's actor id.
func (d *DynamicSupervisor) ID() actor.ActorID { return d.sup.ID() }

// StartChild launches a new child through the factory with args and
// begins supervising it. It returns the generated child id and the
// child's actor id.
func (d *DynamicSupervisor) StartChild(args any) (string, actor.ActorID, error) {
	childID := fmt.Sprintf("child-%d", d.seq.Inc())
	factory := d.factory
	spec := ChildSpec{
		ID: childID,
		Start: func(rt *actor.Runtime) (actor.ActorID, error) {
			return factory(rt, args)
		},
		Restart:  d.opts.Restart,
		Shutdown: d.opts.Shutdown,
	}
	id, err := d.sup.addChild(spec)
	if err != nil {
		return "", "", err
	}
	return childID, id, nil
}

// TerminateChild stops a child and removes it from supervision.
func (d *DynamicSupervisor) TerminateChild(childID string) error {
	return d.sup.RemoveChild(childID)
}

// Children reports the current child table.
func (d *DynamicSupervisor) Children() ([]ChildInfo, error) {
	return d.sup.WhichChildren()
}

// CountChildren summarizes the child table.
func (d *DynamicSupervisor) CountChildren() (Counts, error) {
	return d.sup.CountChildren()
}

// Stop terminates the supervisor and all children.
func (d *DynamicSupervisor) Stop() error { return d.sup.Stop() }
