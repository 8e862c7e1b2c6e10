package actor

// Message is the union of everything that can land in an actor's mailbox.
// The set is sealed: only the types in this file implement it.
type Message interface {
	message()
}

// Call expects a correlated reply. The caller blocks on the one-shot
// channel registered under CorrelationID until the reply arrives or the
// call times out.
type Call struct {
	CorrelationID string
	Payload       []byte
}

// Cast is fire-and-forget: delivered to the behavior, no reply awaited.
type Cast struct {
	Payload []byte
}

// Info carries an out-of-band notification (timer ticks, internal
// requests, anything that is neither a Call nor a Cast).
type Info struct {
	Payload any
}

// Stop asks the actor to halt its processing loop after the messages
// already ahead of it in the mailbox.
type Stop struct{}

// Link adds ID to the actor's link set; on termination the actor sends
// Exit to every linked actor.
type Link struct {
	ID ActorID
}

// Unlink removes ID from the link set.
type Unlink struct {
	ID ActorID
}

// Monitor adds ID to the actor's monitor set. Monitors receive Exit on
// termination, same as links; the two sets are kept separate so they can
// be managed independently.
type Monitor struct {
	ID ActorID
}

// Demonitor removes ID from the monitor set.
type Demonitor struct {
	ID ActorID
}

// Exit notifies links and monitors that From terminated. Reason is
// ReasonNormal for a clean stop, otherwise the failure description.
type Exit struct {
	From   ActorID
	Reason string
}

// ReasonNormal is the Exit reason for an actor that stopped cleanly.
const ReasonNormal = "normal"

func (Call) message()      {}
func (Cast) message()      {}
func (Info) message()      {}
func (Stop) message()      {}
func (Link) message()      {}
func (Unlink) message()    {}
func (Monitor) message()   {}
func (Demonitor) message() {}
func (Exit) message()      {}
