package actor

import "github.com/google/uuid"

// ActorID is the opaque identity of a live actor. IDs are unique for the
// lifetime of the process and never reused.
type ActorID string

// String returns the string representation of the id.
func (id ActorID) String() string { return string(id) }

func newActorID() ActorID { return ActorID(uuid.NewString()) }

func newCorrelationID() string { return uuid.NewString() }
