// Package pubsub is a topic and pattern addressed publish/subscribe
// dispatcher. Delivery uses per-subscription buffered channels with a
// drop-oldest policy, so a publisher is never blocked indefinitely by a
// slow subscriber.
package pubsub

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultBuffer is the per-subscription channel capacity.
const DefaultBuffer = 16

// Subscription is one subscriber's attachment to either an exact topic
// or a wildcard pattern, never both.
type Subscription struct {
	// ID uniquely identifies the subscription.
	ID string
	// Subscriber is the owner's identity (an actor id, a connection
	// address, any stable string).
	Subscriber string
	// Topic is set for exact subscriptions, Pattern for wildcard ones.
	Topic   string
	Pattern string

	ch     chan Message
	ps     *PubSub
	cancel sync.Once
}

// C returns the receive side of the delivery channel. It is closed when
// the subscription is cancelled.
func (s *Subscription) C() <-chan Message { return s.ch }

// Cancel detaches the subscription and closes its channel.
func (s *Subscription) Cancel() {
	s.cancel.Do(func() { s.ps.drop(s) })
}

// Option configures a PubSub.
type Option func(*PubSub)

// WithBuffer sets the per-subscription channel capacity.
func WithBuffer(n int) Option {
	return func(ps *PubSub) {
		if n > 0 {
			ps.buffer = n
		}
	}
}

// WithLogger sets the logger for dropped-delivery events.
func WithLogger(l *slog.Logger) Option {
	return func(ps *PubSub) {
		if l != nil {
			ps.logger = l
		}
	}
}

// PubSub maintains a topic index and a pattern index over subscriptions
// and performs wildcard matching at publish time.
type PubSub struct {
	mu sync.RWMutex
	// topics: topic → subscription id → subscription
	topics map[string]map[string]*Subscription
	// patterns: pattern → subscription id → subscription
	patterns map[string]map[string]*Subscription
	// bySubscriber: subscriber → subscription id → subscription
	bySubscriber map[string]map[string]*Subscription

	monitor chan Message
	buffer  int
	logger  *slog.Logger
}

// New creates an empty dispatcher.
func New(opts ...Option) *PubSub {
	ps := &PubSub{
		topics:       make(map[string]map[string]*Subscription),
		patterns:     make(map[string]map[string]*Subscription),
		bySubscriber: make(map[string]map[string]*Subscription),
		monitor:      make(chan Message, DefaultBuffer*4),
		buffer:       DefaultBuffer,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(ps)
	}
	return ps
}

// Subscribe attaches subscriber to an exact topic and returns the
// delivery handle.
func (ps *PubSub) Subscribe(subscriber, topic string) *Subscription {
	sub := ps.newSubscription(subscriber)
	sub.Topic = topic
	ps.mu.Lock()
	if ps.topics[topic] == nil {
		ps.topics[topic] = make(map[string]*Subscription)
	}
	ps.topics[topic][sub.ID] = sub
	ps.index(sub)
	ps.mu.Unlock()
	return sub
}

// SubscribePattern attaches subscriber to a wildcard pattern and returns
// the delivery handle.
func (ps *PubSub) SubscribePattern(subscriber, pattern string) *Subscription {
	sub := ps.newSubscription(subscriber)
	sub.Pattern = pattern
	ps.mu.Lock()
	if ps.patterns[pattern] == nil {
		ps.patterns[pattern] = make(map[string]*Subscription)
	}
	ps.patterns[pattern][sub.ID] = sub
	ps.index(sub)
	ps.mu.Unlock()
	return sub
}

func (ps *PubSub) newSubscription(subscriber string) *Subscription {
	return &Subscription{
		ID:         uuid.NewString(),
		Subscriber: subscriber,
		ch:         make(chan Message, ps.buffer),
		ps:         ps,
	}
}

// index must run under ps.mu.
func (ps *PubSub) index(sub *Subscription) {
	if ps.bySubscriber[sub.Subscriber] == nil {
		ps.bySubscriber[sub.Subscriber] = make(map[string]*Subscription)
	}
	ps.bySubscriber[sub.Subscriber][sub.ID] = sub
}

// Unsubscribe cancels every subscription the subscriber holds on the
// given exact topic or pattern string.
func (ps *PubSub) Unsubscribe(subscriber, topicOrPattern string) {
	ps.mu.RLock()
	var victims []*Subscription
	for _, sub := range ps.bySubscriber[subscriber] {
		if sub.Topic == topicOrPattern || sub.Pattern == topicOrPattern {
			victims = append(victims, sub)
		}
	}
	ps.mu.RUnlock()
	for _, sub := range victims {
		sub.Cancel()
	}
}

// UnsubscribeAll cancels every subscription the subscriber holds.
func (ps *PubSub) UnsubscribeAll(subscriber string) {
	ps.mu.RLock()
	victims := make([]*Subscription, 0, len(ps.bySubscriber[subscriber]))
	for _, sub := range ps.bySubscriber[subscriber] {
		victims = append(victims, sub)
	}
	ps.mu.RUnlock()
	for _, sub := range victims {
		sub.Cancel()
	}
}

// drop detaches a subscription from all indices and closes its channel.
func (ps *PubSub) drop(sub *Subscription) {
	ps.mu.Lock()
	if sub.Topic != "" {
		if m := ps.topics[sub.Topic]; m != nil {
			delete(m, sub.ID)
			if len(m) == 0 {
				delete(ps.topics, sub.Topic)
			}
		}
	}
	if sub.Pattern != "" {
		if m := ps.patterns[sub.Pattern]; m != nil {
			delete(m, sub.ID)
			if len(m) == 0 {
				delete(ps.patterns, sub.Pattern)
			}
		}
	}
	if m := ps.bySubscriber[sub.Subscriber]; m != nil {
		delete(m, sub.ID)
		if len(m) == 0 {
			delete(ps.bySubscriber, sub.Subscriber)
		}
	}
	ps.mu.Unlock()
	close(sub.ch)
}

// Publish delivers the event to exact subscribers of topic first, then to
// every pattern subscriber whose pattern matches. It returns the number
// of successful deliveries.
func (ps *PubSub) Publish(topic, event string, payload []byte, from string) int {
	msg := Message{
		ID:      uuid.NewString(),
		Topic:   topic,
		Event:   event,
		Payload: payload,
		From:    from,
		Time:    time.Now(),
	}

	ps.mu.RLock()
	targets := make([]*Subscription, 0, 8)
	for _, sub := range ps.topics[topic] {
		targets = append(targets, sub)
	}
	for pattern, subs := range ps.patterns {
		if MatchTopic(topic, pattern) {
			for _, sub := range subs {
				targets = append(targets, sub)
			}
		}
	}
	ps.mu.RUnlock()

	delivered := 0
	for _, sub := range targets {
		if ps.deliver(sub, msg) {
			delivered++
		}
	}
	return delivered
}

// Broadcast delivers the event to every subscription regardless of topic
// and additionally fans it out to the monitoring channel.
func (ps *PubSub) Broadcast(event string, payload []byte, from string) int {
	msg := Message{
		ID:      uuid.NewString(),
		Event:   event,
		Payload: payload,
		From:    from,
		Time:    time.Now(),
	}

	ps.mu.RLock()
	targets := make([]*Subscription, 0, 16)
	for _, subs := range ps.bySubscriber {
		for _, sub := range subs {
			targets = append(targets, sub)
		}
	}
	ps.mu.RUnlock()

	delivered := 0
	for _, sub := range targets {
		if ps.deliver(sub, msg) {
			delivered++
		}
	}

	select {
	case ps.monitor <- msg:
	default:
	}
	return delivered
}

// Monitor returns the observability channel broadcasts are mirrored to.
func (ps *PubSub) Monitor() <-chan Message { return ps.monitor }

// deliver performs a bounded, non-blocking send: when the subscriber's
// buffer is full the oldest queued message is evicted so the newest is
// kept and the publisher never blocks.
func (ps *PubSub) deliver(sub *Subscription, msg Message) (ok bool) {
	defer func() {
		// Cancel can close the channel concurrently with delivery; a
		// send that loses that race counts as undelivered.
		if recover() != nil {
			ok = false
		}
	}()
	for {
		select {
		case sub.ch <- msg:
			return true
		default:
		}
		select {
		case dropped := <-sub.ch:
			ps.logger.Warn("subscriber lagging, dropped oldest message",
				"subscriber", sub.Subscriber, "topic", dropped.Topic, "event", dropped.Event)
		default:
		}
	}
}

// SubscriberCount reports how many subscriptions are currently attached.
func (ps *PubSub) SubscriberCount() int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	n := 0
	for _, subs := range ps.bySubscriber {
		n += len(subs)
	}
	return n
}

// Close cancels every subscription.
func (ps *PubSub) Close() {
	ps.mu.RLock()
	victims := make([]*Subscription, 0, 16)
	for _, subs := range ps.bySubscriber {
		for _, sub := range subs {
			victims = append(victims, sub)
		}
	}
	ps.mu.RUnlock()
	for _, sub := range victims {
		sub.Cancel()
	}
}
