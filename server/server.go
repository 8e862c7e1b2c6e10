// Package server exposes the pubsub dispatcher to websocket clients: a
// client subscribes to a topic or pattern via query parameters and
// receives matching messages as JSON frames; frames it writes are
// published on its behalf.
package server

import (
	"log/slog"

	"github.com/otpkit/otpkit/actor"
	"github.com/otpkit/otpkit/pubsub"
)

// Server bridges websocket connections to a PubSub and, optionally, an
// actor runtime for the stats endpoint.
type Server struct {
	ps     *pubsub.PubSub
	rt     *actor.Runtime
	logger *slog.Logger
}

// New creates a bridge around ps. rt may be nil if HandleStats is not
// used.
func New(ps *pubsub.PubSub, rt *actor.Runtime) *Server {
	logger := slog.Default()
	if rt != nil {
		logger = rt.Logger()
	}
	return &Server{ps: ps, rt: rt, logger: logger}
}
