package actor

import "errors"

var (
	// ErrActorNotFound is returned when the target actor is not (or no
	// longer) registered with the runtime.
	ErrActorNotFound = errors.New("actor not found")

	// ErrNameAlreadyRegistered is returned by Register when the name is
	// already bound to a live actor.
	ErrNameAlreadyRegistered = errors.New("name already registered")

	// ErrCallTimeout is returned when a call's reply does not arrive
	// within the caller's timeout. A late reply, if it ever arrives, is
	// discarded.
	ErrCallTimeout = errors.New("call timed out")

	// ErrSendFailed is returned when a message cannot be enqueued: the
	// mailbox is closed, or full under the Reject policy.
	ErrSendFailed = errors.New("send failed")

	// ErrStop can be returned from Behavior.OnMessage to halt the actor
	// normally. Any call reply returned alongside it is still delivered
	// before the loop exits.
	ErrStop = errors.New("stop requested")

	// ErrRuntimeStopped is returned by Spawn once Shutdown has begun.
	ErrRuntimeStopped = errors.New("runtime is shutting down")
)
