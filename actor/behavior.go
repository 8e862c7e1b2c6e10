package actor

// Behavior is the capability interface an actor dispatches through.
// OnStart runs once when the processing loop enters Running; OnMessage is
// invoked strictly sequentially, one mailbox item at a time; OnStop runs
// after the loop exits, with reason nil for a normal stop and the failure
// otherwise.
//
// For a Call message, the bytes returned by OnMessage are delivered back
// through the pending-call channel registered under the call's
// correlation id. For every other message the return value is ignored.
// Returning ErrStop halts the actor normally; any other error drives it
// to the Failed state.
type Behavior interface {
	OnStart(ctx *Context) error
	OnMessage(ctx *Context, msg Message) ([]byte, error)
	OnStop(ctx *Context, reason error)
}

// Context is handed to every behavior callback. It exposes the owning
// runtime and the actor's own identity so behaviors can spawn, send, and
// discover other actors without holding handles directly.
type Context struct {
	rt   *Runtime
	self ActorID
}

// Runtime returns the runtime the actor was spawned on.
func (c *Context) Runtime() *Runtime { return c.rt }

// Self returns the id of the actor processing the message.
func (c *Context) Self() ActorID { return c.self }

// BehaviorFunc adapts a plain message handler into a Behavior with no-op
// start and stop hooks.
type BehaviorFunc func(ctx *Context, msg Message) ([]byte, error)

func (f BehaviorFunc) OnStart(*Context) error { return nil }

func (f BehaviorFunc) OnMessage(ctx *Context, msg Message) ([]byte, error) {
	return f(ctx, msg)
}

func (f BehaviorFunc) OnStop(*Context, error) {}
