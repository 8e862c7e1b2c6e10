// Package genserver wraps a stateful callback server as an actor: Call
// messages route to HandleCall, Cast to HandleCast, everything else to
// HandleInfo, with an opaque state value carried between invocations.
// State is owned by the actor's processing loop and never shared.
package genserver

import (
	"errors"
	"fmt"
	"time"

	"github.com/otpkit/otpkit/actor"
)

// From identifies the caller side of a HandleCall invocation. The reply
// is correlated through it; servers that stop mid-call can still reply by
// returning StopWithReply.
type From struct {
	CorrelationID string
}

// Server is the four-callback behavior contract. Init produces the
// initial state; the Handle* callbacks receive the current state and
// return the next one inside a Result. Terminate observes the stop
// reason (nil for a normal stop).
type Server interface {
	Init(args any) (state any, err error)
	HandleCall(req []byte, from From, state any) Result
	HandleCast(req []byte, state any) Result
	HandleInfo(info any, state any) Result
	Terminate(reason error, state any)
}

// Result is the uniform callback return value. Construct it with Reply,
// NoReply, Stop, or StopWithReply. Replies attached to a Result returned
// from HandleCast or HandleInfo are discarded: casts and infos never
// produce a reply, even if the handler logically wants to.
type Result struct {
	state    any
	reply    []byte
	hasReply bool
	stop     bool
	reason   error
}

// Reply delivers value to the caller and carries state forward.
func Reply(value []byte, state any) Result {
	if value == nil {
		value = []byte{}
	}
	return Result{state: state, reply: value, hasReply: true}
}

// NoReply carries state forward without answering the caller; a pending
// call resolves via its own timeout.
func NoReply(state any) Result {
	return Result{state: state}
}

// Stop halts the server. reason nil means a normal stop; any other
// reason drives the actor to the Failed state.
func Stop(reason error, state any) Result {
	return Result{state: state, stop: true, reason: reason}
}

// StopWithReply answers the caller and then halts the server.
func StopWithReply(reason error, value []byte, state any) Result {
	if value == nil {
		value = []byte{}
	}
	return Result{state: state, reply: value, hasReply: true, stop: true, reason: reason}
}

// adapter translates mailbox messages into Server callbacks. It is the
// containment boundary: a panicking callback becomes an actor failure and
// never reaches the caller, who instead observes ErrCallTimeout or
// ErrActorNotFound once the actor is gone.
type adapter struct {
	srv   Server
	args  any
	state any

	// stopReason is what Terminate and the actor's Failed state see when
	// the server returned Stop with a non-nil reason.
	stopReason error
}

func (b *adapter) OnStart(_ *actor.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("genserver: panic in Init: %v", r)
		}
	}()
	state, err := b.srv.Init(b.args)
	if err != nil {
		return fmt.Errorf("genserver: init: %w", err)
	}
	b.state = state
	return nil
}

func (b *adapter) OnMessage(_ *actor.Context, msg actor.Message) (reply []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			reply = nil
			err = fmt.Errorf("genserver: panic in callback: %v", r)
		}
	}()

	var res Result
	withReply := false
	switch m := msg.(type) {
	case actor.Call:
		res = b.srv.HandleCall(m.Payload, From{CorrelationID: m.CorrelationID}, b.state)
		withReply = true
	case actor.Cast:
		res = b.srv.HandleCast(m.Payload, b.state)
	case actor.Info:
		res = b.srv.HandleInfo(m.Payload, b.state)
	default:
		// Exit and any future control message surface as info.
		res = b.srv.HandleInfo(m, b.state)
	}

	b.state = res.state
	if !withReply {
		res.reply = nil
		res.hasReply = false
	}
	if res.stop {
		b.stopReason = res.reason
		if res.reason != nil {
			return res.reply, fmt.Errorf("genserver: stopped: %w", res.reason)
		}
		return res.reply, actor.ErrStop
	}
	if res.hasReply {
		return res.reply, nil
	}
	return nil, nil
}

func (b *adapter) OnStop(_ *actor.Context, reason error) {
	defer func() {
		if r := recover(); r != nil {
			// Terminate panics are swallowed; the actor is going away
			// regardless.
			_ = r
		}
	}()
	if reason == nil {
		reason = b.stopReason
	} else if b.stopReason != nil && errors.Is(reason, b.stopReason) {
		reason = b.stopReason
	}
	b.srv.Terminate(reason, b.state)
}

// Start spawns srv as an actor on rt, passing args to Init, and returns
// the new actor's id. Init runs asynchronously inside the actor; an Init
// error terminates the actor in the Failed state.
func Start(rt *actor.Runtime, srv Server, args any, opts ...actor.SpawnOption) (actor.ActorID, error) {
	return rt.Spawn(&adapter{srv: srv, args: args}, opts...)
}

// Call forwards a request to the server's HandleCall and waits for the
// reply.
func Call(rt *actor.Runtime, id actor.ActorID, req []byte, timeout time.Duration) ([]byte, error) {
	return rt.Call(id, req, timeout)
}

// Cast forwards a fire-and-forget request to the server's HandleCast.
func Cast(rt *actor.Runtime, id actor.ActorID, req []byte) error {
	return rt.Cast(id, req)
}
