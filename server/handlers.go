package server

import (
	"encoding/json"
	"io"
	"net/http"
	"runtime/debug"
	"strings"

	"golang.org/x/net/websocket"

	"github.com/otpkit/otpkit/pubsub"
)

// publishFrame is what clients send to publish through their connection.
type publishFrame struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// HandleSubscribe upgrades the connection, attaches a subscription from
// the query string (`topic=` for exact, `pattern=` for wildcard), streams
// matching messages out as JSON, and publishes inbound frames on the
// client's behalf.
func (s *Server) HandleSubscribe() websocket.Handler {
	return func(ws *websocket.Conn) {
		addr := ws.Request().RemoteAddr
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("panic in subscribe handler",
					"client", addr, "error", r, "stack", string(debug.Stack()))
			}
			_ = ws.Close()
		}()

		query := ws.Request().URL.Query()
		topic := query.Get("topic")
		pattern := query.Get("pattern")
		if topic == "" && pattern == "" {
			s.logger.Warn("subscribe request without topic or pattern", "client", addr)
			return
		}

		var sub *pubsub.Subscription
		if topic != "" {
			sub = s.ps.Subscribe(addr, topic)
		} else {
			sub = s.ps.SubscribePattern(addr, pattern)
		}
		defer sub.Cancel()

		s.logger.Info("client subscribed",
			"client", addr, "topic", topic, "pattern", pattern)

		go s.writeLoop(ws, sub)
		s.readLoop(ws, addr)

		s.logger.Info("client disconnected", "client", addr)
	}
}

// writeLoop forwards subscription messages to the client until the
// subscription is cancelled or the connection breaks.
func (s *Server) writeLoop(ws *websocket.Conn, sub *pubsub.Subscription) {
	for msg := range sub.C() {
		if err := websocket.JSON.Send(ws, msg); err != nil {
			s.logger.Debug("write to client failed, cancelling subscription",
				"subscriber", sub.Subscriber, "error", err)
			sub.Cancel()
			return
		}
	}
}

// readLoop receives publish frames from the client until EOF or a closed
// connection.
func (s *Server) readLoop(ws *websocket.Conn, addr string) {
	for {
		var frame publishFrame
		err := websocket.JSON.Receive(ws, &frame)
		if err != nil {
			if err == io.EOF || strings.Contains(err.Error(), "closed") {
				return
			}
			s.logger.Warn("bad frame from client", "client", addr, "error", err)
			continue
		}
		if frame.Topic == "" {
			continue
		}
		s.ps.Publish(frame.Topic, frame.Event, []byte(frame.Payload), addr)
	}
}

// HandleStats serves a JSON snapshot of the runtime counters.
func (s *Server) HandleStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.rt == nil {
			http.Error(w, "no runtime attached", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(s.rt.Stats()); err != nil {
			s.logger.Error("failed to encode stats", "error", err)
		}
	}
}
