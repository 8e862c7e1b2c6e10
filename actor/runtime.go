package actor

import (
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

const shardCount = 32

// shard holds a slice of the id → handle table so unrelated spawns and
// lookups never contend on a single lock.
type shard struct {
	mu     sync.RWMutex
	actors map[ActorID]*Actor
}

// Config configures a Runtime.
type Config struct {
	// Mailbox is the default mailbox configuration for spawned actors;
	// individual spawns can override it with WithMailbox.
	Mailbox MailboxConfig
	// Logger receives lifecycle and dead-letter events. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns the default runtime configuration: Block policy,
// DefaultMailboxCapacity, slog.Default().
func DefaultConfig() Config {
	return Config{
		Mailbox: MailboxConfig{Capacity: DefaultMailboxCapacity, Policy: Block},
	}
}

// Runtime is the process-wide source of truth for actor existence: an
// id → handle table plus a separate name → id registry. It is an
// explicit handle, not a global; multiple independent runtimes can
// coexist in one process.
type Runtime struct {
	cfg    Config
	logger *slog.Logger

	shards [shardCount]shard

	nameMu    sync.RWMutex
	names     map[string]ActorID
	namesByID map[ActorID][]string

	stopping atomic.Bool
	wg       sync.WaitGroup

	stats *runtimeStats
}

// New creates a runtime with the default configuration.
func New() *Runtime {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a runtime with cfg. Zero-valued fields fall back
// to defaults.
func NewWithConfig(cfg Config) *Runtime {
	cfg.Mailbox = cfg.Mailbox.withDefaults()
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Runtime{
		cfg:       cfg,
		logger:    logger,
		names:     make(map[string]ActorID),
		namesByID: make(map[ActorID][]string),
		stats:     newRuntimeStats(),
	}
	for i := range rt.shards {
		rt.shards[i].actors = make(map[ActorID]*Actor)
	}
	return rt
}

func (rt *Runtime) shardFor(id ActorID) *shard {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &rt.shards[h.Sum32()%shardCount]
}

// Spawn installs behavior in a new actor, starts its processing loop, and
// returns its id.
func (rt *Runtime) Spawn(b Behavior, opts ...SpawnOption) (ActorID, error) {
	if rt.stopping.Load() {
		return "", ErrRuntimeStopped
	}
	sc := spawnConfig{mailbox: rt.cfg.Mailbox}
	for _, opt := range opts {
		opt(&sc)
	}

	a := newActor(rt, b, sc.mailbox.withDefaults())

	if sc.name != "" {
		if err := rt.bindName(sc.name, a.id); err != nil {
			return "", err
		}
	}

	sh := rt.shardFor(a.id)
	sh.mu.Lock()
	sh.actors[a.id] = a
	sh.mu.Unlock()

	rt.stats.spawned.Inc()
	rt.wg.Add(1)
	go func() {
		defer rt.wg.Done()
		a.run()
	}()

	rt.logger.Debug("spawned actor", "actor", a.id)
	return a.id, nil
}

// Lookup returns the handle for a live actor.
func (rt *Runtime) Lookup(id ActorID) (*Actor, bool) {
	sh := rt.shardFor(id)
	sh.mu.RLock()
	a, ok := sh.actors[id]
	sh.mu.RUnlock()
	return a, ok
}

// Register binds name to a live actor id. A name maps to at most one live
// actor; registering a taken name fails with ErrNameAlreadyRegistered and
// has no side effects.
func (rt *Runtime) Register(name string, id ActorID) error {
	if _, ok := rt.Lookup(id); !ok {
		return ErrActorNotFound
	}
	return rt.bindName(name, id)
}

func (rt *Runtime) bindName(name string, id ActorID) error {
	rt.nameMu.Lock()
	defer rt.nameMu.Unlock()
	if _, taken := rt.names[name]; taken {
		return fmt.Errorf("%w: %q", ErrNameAlreadyRegistered, name)
	}
	rt.names[name] = id
	rt.namesByID[id] = append(rt.namesByID[id], name)
	return nil
}

// Whereis resolves a registered name to an actor id.
func (rt *Runtime) Whereis(name string) (ActorID, bool) {
	rt.nameMu.RLock()
	id, ok := rt.names[name]
	rt.nameMu.RUnlock()
	return id, ok
}

// Unregister removes a name binding. Removing an unknown name is a no-op.
func (rt *Runtime) Unregister(name string) {
	rt.nameMu.Lock()
	if id, ok := rt.names[name]; ok {
		delete(rt.names, name)
		rest := rt.namesByID[id][:0]
		for _, n := range rt.namesByID[id] {
			if n != name {
				rest = append(rest, n)
			}
		}
		if len(rest) == 0 {
			delete(rt.namesByID, id)
		} else {
			rt.namesByID[id] = rest
		}
	}
	rt.nameMu.Unlock()
}

// Call sends a Call message to id and blocks until the reply arrives or
// timeout elapses. A dead or unknown target fails with ErrActorNotFound;
// an elapsed timeout fails with ErrCallTimeout and discards any late
// reply.
func (rt *Runtime) Call(id ActorID, payload []byte, timeout time.Duration) ([]byte, error) {
	a, ok := rt.Lookup(id)
	if !ok {
		return nil, ErrActorNotFound
	}
	return a.call(payload, timeout)
}

// CallName is Call addressed through the name registry.
func (rt *Runtime) CallName(name string, payload []byte, timeout time.Duration) ([]byte, error) {
	id, ok := rt.Whereis(name)
	if !ok {
		return nil, ErrActorNotFound
	}
	return rt.Call(id, payload, timeout)
}

// Cast delivers a fire-and-forget payload to id. It returns once the
// message is enqueued; no reply is awaited.
func (rt *Runtime) Cast(id ActorID, payload []byte) error {
	a, ok := rt.Lookup(id)
	if !ok {
		return ErrActorNotFound
	}
	return a.send(Cast{Payload: payload})
}

// Send delivers an arbitrary Message to id.
func (rt *Runtime) Send(id ActorID, msg Message) error {
	a, ok := rt.Lookup(id)
	if !ok {
		return ErrActorNotFound
	}
	return a.send(msg)
}

// Stop asynchronously delivers Stop to the actor. When the mailbox is
// full the stop channel is closed directly so termination is guaranteed.
func (rt *Runtime) Stop(id ActorID) error {
	a, ok := rt.Lookup(id)
	if !ok {
		return ErrActorNotFound
	}
	a.requestStop()
	return nil
}

// Kill halts the actor without letting it drain its mailbox. Messages
// already queued are discarded; OnStop still runs.
func (rt *Runtime) Kill(id ActorID) error {
	a, ok := rt.Lookup(id)
	if !ok {
		return ErrActorNotFound
	}
	a.closeStop()
	return nil
}

// Count reports the number of live actors.
func (rt *Runtime) Count() int {
	n := 0
	for i := range rt.shards {
		sh := &rt.shards[i]
		sh.mu.RLock()
		n += len(sh.actors)
		sh.mu.RUnlock()
	}
	return n
}

// Shutdown stops every actor and waits up to timeout for the loops to
// exit. Actors that do not stop in time are reported in the returned
// error.
func (rt *Runtime) Shutdown(timeout time.Duration) error {
	if !rt.stopping.CompareAndSwap(false, true) {
		return nil
	}
	rt.logger.Info("runtime shutting down", "actors", rt.Count())

	deadline := time.Now().Add(timeout)
	var g errgroup.Group
	for i := range rt.shards {
		sh := &rt.shards[i]
		sh.mu.RLock()
		for _, a := range sh.actors {
			a := a
			g.Go(func() error {
				a.requestStop()
				select {
				case <-a.done:
					return nil
				case <-time.After(time.Until(deadline)):
					a.closeStop()
					return fmt.Errorf("actor %s did not stop in time", a.id)
				}
			})
		}
		sh.mu.RUnlock()
	}
	err := g.Wait()

	done := make(chan struct{})
	go func() {
		rt.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		rt.logger.Info("runtime shutdown complete")
	case <-time.After(time.Until(deadline)):
		rt.logger.Warn("runtime shutdown timed out")
	}
	return err
}

// remove drops a terminated actor's handle and releases its registered
// names. Called from the actor's own cleanup.
func (rt *Runtime) remove(a *Actor) {
	sh := rt.shardFor(a.id)
	sh.mu.Lock()
	delete(sh.actors, a.id)
	sh.mu.Unlock()

	rt.nameMu.Lock()
	for _, name := range rt.namesByID[a.id] {
		delete(rt.names, name)
	}
	delete(rt.namesByID, a.id)
	rt.nameMu.Unlock()
}

// Logger returns the runtime's logger.
func (rt *Runtime) Logger() *slog.Logger { return rt.logger }
