package actor

// OverflowPolicy decides what happens when a bounded mailbox is full.
type OverflowPolicy int

const (
	// Block suspends the sender until mailbox space frees up (or the
	// actor stops). This is the default.
	Block OverflowPolicy = iota
	// DropOldest evicts the oldest queued message to make room for the
	// new one.
	DropOldest
	// Reject fails the send with ErrSendFailed.
	Reject
)

// DefaultMailboxCapacity is used when a spawn does not override it.
const DefaultMailboxCapacity = 1024

// MailboxConfig sets a single actor's mailbox capacity and backpressure
// policy.
type MailboxConfig struct {
	Capacity int
	Policy   OverflowPolicy
}

func (c MailboxConfig) withDefaults() MailboxConfig {
	if c.Capacity <= 0 {
		c.Capacity = DefaultMailboxCapacity
	}
	return c
}

// SpawnOption customizes a single Spawn call.
type SpawnOption func(*spawnConfig)

type spawnConfig struct {
	mailbox MailboxConfig
	name    string
}

// WithMailbox overrides the mailbox capacity and overflow policy for the
// spawned actor.
func WithMailbox(cfg MailboxConfig) SpawnOption {
	return func(sc *spawnConfig) { sc.mailbox = cfg }
}

// WithName registers the actor under name at spawn time. Spawn fails with
// ErrNameAlreadyRegistered if the name is taken, and the actor is not
// started.
func WithName(name string) SpawnOption {
	return func(sc *spawnConfig) { sc.name = name }
}
