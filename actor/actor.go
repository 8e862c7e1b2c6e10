package actor

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// State is an actor's lifecycle state. Transitions are
// Starting → Running → Stopping → {Stopped | Failed}; Stopped and Failed
// are terminal.
type State uint32

const (
	StateStarting State = iota
	StateRunning
	StateStopping
	StateStopped
	StateFailed
)

// String returns a short lowercase name for the state.
func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Actor owns a mailbox, a behavior, and lifecycle state. It is the unit
// of concurrent execution: one goroutine drains the mailbox and invokes
// the behavior strictly sequentially, so behavior state never needs its
// own locking.
type Actor struct {
	id       ActorID
	rt       *Runtime
	behavior Behavior

	mailbox chan Message
	policy  OverflowPolicy

	stopCh   chan struct{}
	stopOnce sync.Once
	stopped  atomic.Bool
	done     chan struct{}

	state atomic.Uint32

	failMu  sync.Mutex
	failure error

	// pending maps correlation id → one-shot reply channel. Entries are
	// removed on reply delivery, on timeout, or on actor termination,
	// whichever happens first.
	pendingMu sync.Mutex
	pending   map[string]chan []byte

	// links and monitors are owned by the processing loop; they are only
	// touched from the actor's own goroutine.
	links    map[ActorID]struct{}
	monitors map[ActorID]struct{}
}

func newActor(rt *Runtime, b Behavior, cfg MailboxConfig) *Actor {
	a := &Actor{
		id:       newActorID(),
		rt:       rt,
		behavior: b,
		mailbox:  make(chan Message, cfg.Capacity),
		policy:   cfg.Policy,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
		pending:  make(map[string]chan []byte),
		links:    make(map[ActorID]struct{}),
		monitors: make(map[ActorID]struct{}),
	}
	a.state.Store(uint32(StateStarting))
	return a
}

// ID returns the actor's unique identity.
func (a *Actor) ID() ActorID { return a.id }

// State returns the actor's current lifecycle state.
func (a *Actor) State() State { return State(a.state.Load()) }

// Failure returns the error that drove the actor to StateFailed, or nil.
func (a *Actor) Failure() error {
	a.failMu.Lock()
	defer a.failMu.Unlock()
	return a.failure
}

// Done is closed once the processing loop has fully exited and the actor
// has been dropped from the runtime.
func (a *Actor) Done() <-chan struct{} { return a.done }

// Send is the inbound side of the mailbox: it enqueues msg for the
// processing loop, honoring the actor's overflow policy.
func (a *Actor) Send(msg Message) error { return a.send(msg) }

func (a *Actor) setFailure(err error) {
	a.failMu.Lock()
	if a.failure == nil {
		a.failure = err
	}
	a.failMu.Unlock()
}

// send enqueues msg according to the mailbox overflow policy. It never
// closes the mailbox channel; termination is signalled via stopCh so a
// concurrent sender can never hit a send-on-closed-channel panic.
func (a *Actor) send(msg Message) error {
	if a.stopped.Load() {
		return fmt.Errorf("%w: actor %s is stopped", ErrSendFailed, a.id)
	}

	switch a.policy {
	case DropOldest:
		for {
			select {
			case a.mailbox <- msg:
				a.rt.stats.messages.Inc()
				return nil
			case <-a.stopCh:
				return fmt.Errorf("%w: actor %s is stopped", ErrSendFailed, a.id)
			default:
			}
			select {
			case dropped := <-a.mailbox:
				a.rt.stats.deadLetters.Inc()
				a.rt.logger.Warn("mailbox full, dropped oldest message",
					"actor", a.id, "message", fmt.Sprintf("%T", dropped))
			default:
			}
		}
	case Reject:
		select {
		case a.mailbox <- msg:
			a.rt.stats.messages.Inc()
			return nil
		case <-a.stopCh:
			return fmt.Errorf("%w: actor %s is stopped", ErrSendFailed, a.id)
		default:
			a.rt.stats.deadLetters.Inc()
			return fmt.Errorf("%w: actor %s mailbox full", ErrSendFailed, a.id)
		}
	default: // Block
		select {
		case a.mailbox <- msg:
			a.rt.stats.messages.Inc()
			return nil
		case <-a.stopCh:
			return fmt.Errorf("%w: actor %s is stopped", ErrSendFailed, a.id)
		}
	}
}

// requestStop asks the loop to halt. The Stop message is enqueued without
// blocking; if the mailbox is full the stop channel is closed directly so
// termination is guaranteed even under overload.
func (a *Actor) requestStop() {
	select {
	case a.mailbox <- Stop{}:
	default:
		a.closeStop()
	}
}

func (a *Actor) closeStop() {
	a.stopOnce.Do(func() { close(a.stopCh) })
}

// call sends a Call message, registers the pending reply channel under a
// fresh correlation id, and blocks until the reply arrives or timeout
// elapses. A reply that races the timeout is still returned; a reply that
// arrives after the entry was removed is discarded.
func (a *Actor) call(payload []byte, timeout time.Duration) ([]byte, error) {
	cid := newCorrelationID()
	reply := make(chan []byte, 1)

	a.pendingMu.Lock()
	if a.pending == nil {
		a.pendingMu.Unlock()
		return nil, ErrActorNotFound
	}
	a.pending[cid] = reply
	a.pendingMu.Unlock()

	if err := a.send(Call{CorrelationID: cid, Payload: payload}); err != nil {
		a.removePending(cid)
		return nil, ErrActorNotFound
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case v := <-reply:
		return v, nil
	case <-timer.C:
		a.removePending(cid)
		// The reply may have been delivered between the timer firing and
		// the entry removal; prefer it over reporting a timeout.
		select {
		case v := <-reply:
			return v, nil
		default:
		}
		return nil, ErrCallTimeout
	}
}

func (a *Actor) removePending(cid string) {
	a.pendingMu.Lock()
	delete(a.pending, cid)
	a.pendingMu.Unlock()
}

// completeCall delivers a reply through the one-shot channel registered
// under cid. If the entry is gone (timeout or termination won the race)
// the reply is silently dropped.
func (a *Actor) completeCall(cid string, payload []byte) {
	a.pendingMu.Lock()
	ch, ok := a.pending[cid]
	if ok {
		delete(a.pending, cid)
	}
	a.pendingMu.Unlock()
	if ok {
		ch <- payload // buffered, never blocks
	}
}

// run is the actor's processing loop.
func (a *Actor) run() {
	defer a.cleanup()
	defer func() {
		if r := recover(); r != nil {
			a.rt.logger.Error("panic in actor loop",
				"actor", a.id, "error", r, "stack", string(debug.Stack()))
			a.setFailure(fmt.Errorf("panic: %v", r))
		}
	}()

	ctx := &Context{rt: a.rt, self: a.id}

	a.state.Store(uint32(StateRunning))
	if err := a.invokeStart(ctx); err != nil {
		if !errors.Is(err, ErrStop) {
			a.setFailure(err)
		}
		return
	}

	for {
		select {
		case <-a.stopCh:
			return
		case msg := <-a.mailbox:
			switch m := msg.(type) {
			case Stop:
				return
			case Link:
				a.links[m.ID] = struct{}{}
			case Unlink:
				delete(a.links, m.ID)
			case Monitor:
				a.monitors[m.ID] = struct{}{}
			case Demonitor:
				delete(a.monitors, m.ID)
			case Call:
				reply, err := a.invoke(ctx, msg)
				// A returned value is always delivered, including on a
				// reply-then-stop.
				if reply != nil {
					a.completeCall(m.CorrelationID, reply)
				}
				if err == nil {
					continue
				}
				if !errors.Is(err, ErrStop) {
					a.setFailure(err)
				}
				return
			default:
				if _, err := a.invoke(ctx, msg); err != nil {
					if !errors.Is(err, ErrStop) {
						a.setFailure(err)
					}
					return
				}
			}
		}
	}
}

// invoke calls the behavior with panic containment: a panicking callback
// is converted into an error and never unwinds across the mailbox
// boundary.
func (a *Actor) invoke(ctx *Context, msg Message) (reply []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			a.rt.logger.Error("panic in behavior",
				"actor", a.id, "message", fmt.Sprintf("%T", msg),
				"error", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return a.behavior.OnMessage(ctx, msg)
}

func (a *Actor) invokeStart(ctx *Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			a.rt.logger.Error("panic in OnStart",
				"actor", a.id, "error", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return a.behavior.OnStart(ctx)
}

func (a *Actor) invokeStop(ctx *Context, reason error) {
	defer func() {
		if r := recover(); r != nil {
			a.rt.logger.Error("panic in OnStop",
				"actor", a.id, "error", r, "stack", string(debug.Stack()))
		}
	}()
	a.behavior.OnStop(ctx, reason)
}

// cleanup finishes the lifecycle after the loop exits: Running →
// Stopping, OnStop, then Stopped (or Failed when a failure was
// recorded). It notifies links and monitors, discards pending calls, and
// drops the actor from the runtime.
func (a *Actor) cleanup() {
	a.stopped.Store(true)
	a.closeStop()
	a.state.Store(uint32(StateStopping))

	reason := a.Failure()
	a.invokeStop(&Context{rt: a.rt, self: a.id}, reason)

	why := ReasonNormal
	if reason != nil {
		a.state.Store(uint32(StateFailed))
		a.rt.stats.failed.Inc()
		why = reason.Error()
	} else {
		a.state.Store(uint32(StateStopped))
		a.rt.stats.stopped.Inc()
	}

	// Exit goes to every linked and monitoring actor exactly once.
	notified := make(map[ActorID]struct{}, len(a.links)+len(a.monitors))
	for id := range a.links {
		notified[id] = struct{}{}
	}
	for id := range a.monitors {
		notified[id] = struct{}{}
	}
	for id := range notified {
		_ = a.rt.Send(id, Exit{From: a.id, Reason: why})
	}

	// Discard pending calls without completing them: an in-flight caller
	// resolves via its own timeout, and any late reply has nowhere to go.
	a.pendingMu.Lock()
	a.pending = nil
	a.pendingMu.Unlock()

	a.rt.remove(a)
	a.rt.logger.Debug("actor terminated", "actor", a.id, "state", a.State().String())
	close(a.done)
}
