// Package supervisor implements restart supervision over runtime actors:
// a supervisor owns a set of child specifications, launches children
// through the runtime, polls their liveness, and applies a restart
// strategy under a bounded restart-frequency window.
//
// The supervisor is itself an actor. Its child table is owned by its own
// processing loop; the public API delivers requests through the mailbox
// and waits on reply channels, so no table access ever races a restart
// decision.
package supervisor

import (
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/otpkit/otpkit/actor"
)

// requestTimeout bounds how long API wrappers wait for the supervisor
// loop to answer.
const requestTimeout = 5 * time.Second

// Supervisor is the public handle. All methods forward to the supervisor
// actor's mailbox.
type Supervisor struct {
	rt *actor.Runtime
	id actor.ActorID
}

// Start spawns a supervisor actor on rt and returns its handle.
func Start(rt *actor.Runtime, opts Options) (*Supervisor, error) {
	b := &behavior{
		rt:          rt,
		opts:        opts.withDefaults(),
		byID:        make(map[string]*childRecord),
		exitReasons: make(map[actor.ActorID]string),
		tickStop:    make(chan struct{}),
	}
	id, err := rt.Spawn(b)
	if err != nil {
		return nil, err
	}
	return &Supervisor{rt: rt, id: id}, nil
}

// ID returns the supervisor's own actor id, usable as a child of another
// supervisor.
func (s *Supervisor) ID() actor.ActorID { return s.id }

// AddChild installs spec, immediately invokes its start factory, and
// begins monitoring the child. It fails with ErrDuplicateChildID if the
// spec id already exists.
func (s *Supervisor) AddChild(spec ChildSpec) error {
	_, err := s.addChild(spec)
	return err
}

func (s *Supervisor) addChild(spec ChildSpec) (actor.ActorID, error) {
	reply := make(chan addChildResp, 1)
	if err := s.rt.Send(s.id, actor.Info{Payload: addChildReq{spec: spec, reply: reply}}); err != nil {
		return "", actor.ErrActorNotFound
	}
	select {
	case resp := <-reply:
		return resp.id, resp.err
	case <-time.After(requestTimeout):
		return "", actor.ErrCallTimeout
	}
}

// RemoveChild stops the child and deletes its record.
func (s *Supervisor) RemoveChild(id string) error {
	reply := make(chan error, 1)
	if err := s.rt.Send(s.id, actor.Info{Payload: removeChildReq{id: id, reply: reply}}); err != nil {
		return actor.ErrActorNotFound
	}
	select {
	case err := <-reply:
		return err
	case <-time.After(requestTimeout):
		return actor.ErrCallTimeout
	}
}

// WhichChildren reports the child table in add-order.
func (s *Supervisor) WhichChildren() ([]ChildInfo, error) {
	reply := make(chan []ChildInfo, 1)
	if err := s.rt.Send(s.id, actor.Info{Payload: whichReq{reply: reply}}); err != nil {
		return nil, actor.ErrActorNotFound
	}
	select {
	case infos := <-reply:
		return infos, nil
	case <-time.After(requestTimeout):
		return nil, actor.ErrCallTimeout
	}
}

// CountChildren summarizes the child table by type and liveness.
func (s *Supervisor) CountChildren() (Counts, error) {
	reply := make(chan Counts, 1)
	if err := s.rt.Send(s.id, actor.Info{Payload: countReq{reply: reply}}); err != nil {
		return Counts{}, actor.ErrActorNotFound
	}
	select {
	case c := <-reply:
		return c, nil
	case <-time.After(requestTimeout):
		return Counts{}, actor.ErrCallTimeout
	}
}

// Stop terminates the supervisor; its children are stopped in reverse
// add-order, each according to its shutdown policy.
func (s *Supervisor) Stop() error {
	return s.rt.Stop(s.id)
}

// internal mailbox requests

type addChildResp struct {
	id  actor.ActorID
	err error
}

type addChildReq struct {
	spec  ChildSpec
	reply chan addChildResp
}

type removeChildReq struct {
	id    string
	reply chan error
}

type whichReq struct {
	reply chan []ChildInfo
}

type countReq struct {
	reply chan Counts
}

type checkTick struct{}

// childRecord tracks one supervised child. window holds the restart
// timestamps inside the trailing Options.Window; it is pruned before
// every restart decision.
type childRecord struct {
	spec     ChildSpec
	id       actor.ActorID
	restarts int
	status   ChildStatus
	window   []time.Time
}

type behavior struct {
	rt   *actor.Runtime
	opts Options
	self actor.ActorID

	children []*childRecord
	byID     map[string]*childRecord

	// exitReasons records the Exit reason per child actor id, delivered
	// because every started child is monitored by the supervisor. The
	// liveness poll uses it to distinguish a normal stop from a failure.
	exitReasons map[actor.ActorID]string

	tickStop chan struct{}
}

func (b *behavior) OnStart(ctx *actor.Context) error {
	b.self = ctx.Self()
	go b.runTicker()
	return nil
}

// runTicker drives the periodic liveness check by sending Info ticks to
// the supervisor's own mailbox.
func (b *behavior) runTicker() {
	t := time.NewTicker(b.opts.CheckInterval)
	defer t.Stop()
	for {
		select {
		case <-b.tickStop:
			return
		case <-t.C:
			if err := b.rt.Send(b.self, actor.Info{Payload: checkTick{}}); err != nil {
				return
			}
		}
	}
}

func (b *behavior) OnMessage(_ *actor.Context, msg actor.Message) ([]byte, error) {
	switch m := msg.(type) {
	case actor.Info:
		switch req := m.Payload.(type) {
		case checkTick:
			b.check()
		case addChildReq:
			id, err := b.addChild(req.spec)
			req.reply <- addChildResp{id: id, err: err}
		case removeChildReq:
			req.reply <- b.removeChild(req.id)
		case whichReq:
			req.reply <- b.whichChildren()
		case countReq:
			req.reply <- b.countChildren()
		}
	case actor.Exit:
		// Only retain reasons for actors still present in the child
		// table; anything else is a stale notification for an actor that
		// was already replaced.
		for _, rec := range b.children {
			if rec.id == m.From {
				b.exitReasons[m.From] = m.Reason
				break
			}
		}
	}
	return nil, nil
}

func (b *behavior) OnStop(_ *actor.Context, _ error) {
	close(b.tickStop)
	// Reverse add-order, one at a time, each by its own shutdown policy.
	for i := len(b.children) - 1; i >= 0; i-- {
		b.stopChild(b.children[i])
	}
}

func (b *behavior) addChild(spec ChildSpec) (actor.ActorID, error) {
	if spec.Start == nil {
		return "", ErrMissingStart
	}
	if _, dup := b.byID[spec.ID]; dup {
		return "", fmt.Errorf("%w: %q", ErrDuplicateChildID, spec.ID)
	}
	id, err := b.startChild(spec)
	if err != nil {
		return "", err
	}
	rec := &childRecord{spec: spec, id: id, status: StatusRunning}
	b.children = append(b.children, rec)
	b.byID[spec.ID] = rec
	b.rt.Logger().Info("supervisor started child",
		"supervisor", b.self, "child", spec.ID, "actor", id)
	return id, nil
}

// startChild invokes the factory and registers the supervisor as a
// monitor so the child's Exit reason is observable later.
func (b *behavior) startChild(spec ChildSpec) (actor.ActorID, error) {
	id, err := spec.Start(b.rt)
	if err != nil {
		return "", fmt.Errorf("start child %q: %w", spec.ID, err)
	}
	_ = b.rt.Send(id, actor.Monitor{ID: b.self})
	return id, nil
}

func (b *behavior) removeChild(id string) error {
	rec, ok := b.byID[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrChildNotFound, id)
	}
	b.stopChild(rec)
	delete(b.byID, id)
	for i, c := range b.children {
		if c == rec {
			b.children = append(b.children[:i], b.children[i+1:]...)
			break
		}
	}
	b.rt.Logger().Info("supervisor removed child", "supervisor", b.self, "child", id)
	return nil
}

func (b *behavior) whichChildren() []ChildInfo {
	out := make([]ChildInfo, 0, len(b.children))
	for _, rec := range b.children {
		out = append(out, ChildInfo{
			ID:       rec.spec.ID,
			ActorID:  rec.id,
			Type:     rec.spec.Type,
			Status:   rec.status,
			Restarts: rec.restarts,
		})
	}
	return out
}

func (b *behavior) countChildren() Counts {
	c := Counts{Specs: len(b.children)}
	for _, rec := range b.children {
		if rec.spec.Type == ChildSupervisor {
			c.Supervisors++
		} else {
			c.Workers++
		}
		if _, alive := b.rt.Lookup(rec.id); alive {
			c.Active++
		}
	}
	return c
}

// check is the periodic liveness pass: for every child still considered
// running, test whether the runtime reports its actor alive, and apply
// the restart algorithm on absence.
func (b *behavior) check() {
	now := time.Now()
	for idx, rec := range b.children {
		if rec.status != StatusRunning {
			continue
		}
		if _, alive := b.rt.Lookup(rec.id); alive {
			continue
		}

		reason, known := b.exitReasons[rec.id]
		normal := known && reason == actor.ReasonNormal

		switch rec.spec.Restart {
		case Temporary:
			if normal {
				rec.status = StatusStopped
			} else {
				rec.status = StatusFailed
			}
			continue
		case Transient:
			if normal {
				rec.status = StatusStopped
				continue
			}
		}

		// Budget the failed child's window: prune entries older than the
		// trailing window, then count this restart attempt against it.
		rec.window = pruneWindow(rec.window, now, b.opts.Window)
		rec.window = append(rec.window, now)
		if len(rec.window) > b.opts.MaxRestarts {
			rec.status = StatusFailed
			b.rt.Logger().Error("child terminally failed",
				"supervisor", b.self, "child", rec.spec.ID,
				"error", ErrRestartLimitExceeded,
				"restarts", len(rec.window)-1, "window", b.opts.Window)
			continue
		}

		switch b.opts.Strategy {
		case OneForAll:
			b.restartGroup(0)
		case RestForOne:
			b.restartGroup(idx)
		default: // OneForOne, SimpleOneForOne
			b.restartChild(rec)
		}
	}
}

func pruneWindow(window []time.Time, now time.Time, span time.Duration) []time.Time {
	cutoff := now.Add(-span)
	kept := window[:0]
	for _, ts := range window {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}

// restartChild replaces a single child's actor.
func (b *behavior) restartChild(rec *childRecord) {
	rec.status = StatusRestarting
	delete(b.exitReasons, rec.id)
	id, err := b.startChild(rec.spec)
	if err != nil {
		// Leave the record running with the dead id; the next check
		// retries and the window keeps growing toward the budget.
		rec.status = StatusRunning
		b.rt.Logger().Error("child restart failed",
			"supervisor", b.self, "child", rec.spec.ID, "error", err)
		return
	}
	rec.id = id
	rec.restarts++
	rec.status = StatusRunning
	b.rt.Logger().Info("supervisor restarted child",
		"supervisor", b.self, "child", rec.spec.ID,
		"actor", id, "restarts", rec.restarts)
}

// restartGroup stops every child from index from onward and restarts them
// in add-order. Temporary and terminally failed children are stopped but
// not replaced.
func (b *behavior) restartGroup(from int) {
	group := b.children[from:]

	var g errgroup.Group
	for _, rec := range group {
		rec := rec
		if _, alive := b.rt.Lookup(rec.id); !alive {
			continue
		}
		g.Go(func() error {
			b.stopChild(rec)
			return nil
		})
	}
	_ = g.Wait()

	for _, rec := range group {
		if rec.status == StatusFailed || rec.status == StatusStopped {
			continue
		}
		if rec.spec.Restart == Temporary {
			rec.status = StatusStopped
			continue
		}
		b.restartChild(rec)
	}
}

// stopChild terminates a child's current actor according to its shutdown
// policy. It does not change the record's status.
func (b *behavior) stopChild(rec *childRecord) {
	a, ok := b.rt.Lookup(rec.id)
	if !ok {
		return
	}
	switch rec.spec.Shutdown.kind {
	case shutdownBrutal:
		_ = b.rt.Kill(rec.id)
		<-a.Done()
	case shutdownInfinity:
		_ = b.rt.Stop(rec.id)
		<-a.Done()
	default:
		wait := rec.spec.Shutdown.wait
		if wait <= 0 {
			wait = 5 * time.Second
		}
		_ = b.rt.Stop(rec.id)
		select {
		case <-a.Done():
		case <-time.After(wait):
			_ = b.rt.Kill(rec.id)
			<-a.Done()
		}
	}
}
