// Package session runs one participant's side of a shared editing room:
// joining it, keeping the document mode in sync with peers, and tearing
// the room down when any participant kills it.
//
// The store gives no delivery acknowledgment, so the two places where a
// peer's answer matters (the creator's first mode announcement and the
// kill echo) are closed by one-shot fallback timers instead of retries.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"collabtext/internal/clock"
	"collabtext/internal/locator"
	"collabtext/internal/room"
	"collabtext/internal/store"
)

const (
	DefaultMode           = "scala"
	DefaultLivenessWindow = 5 * time.Second
	DefaultKillTimeout    = 2 * time.Second
	DefaultOpTimeout      = 5 * time.Second
)

var (
	ErrStarted = errors.New("session already started")
	ErrClosed  = errors.New("session closed")
)

// Config holds the protocol's tunable constants.
type Config struct {
	DefaultMode    string
	LivenessWindow time.Duration
	KillTimeout    time.Duration
	// OpTimeout bounds each store call made from the event loop.
	OpTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		DefaultMode:    DefaultMode,
		LivenessWindow: DefaultLivenessWindow,
		KillTimeout:    DefaultKillTimeout,
		OpTimeout:      DefaultOpTimeout,
	}
}

// Deps are the collaborators a controller is built against. Store and
// Locator are required; Merge is attached only when Editor is also set.
type Deps struct {
	Store   store.Store
	Locator locator.Locator
	Clock   clock.Clock
	Log     zerolog.Logger
	Merge   MergeEngine
	Editor  Editor
}

type Controller struct {
	cfg     Config
	store   store.Store
	locator locator.Locator
	clock   clock.Clock
	merge   MergeEngine
	editor  Editor
	log     zerolog.Logger

	loop   *loop
	ctx    context.Context
	cancel context.CancelFunc

	// mu guards state for readers off the loop; only the loop writes it.
	mu      sync.Mutex
	state   State
	started bool
	looping bool
	closed  bool

	handle    store.Handle
	sub       store.Subscription
	detach    io.Closer
	liveness  clock.Timer
	killTimer clock.Timer
	killed    chan struct{}

	obsMu     sync.Mutex
	onMode    []func(string)
	onKilling []func()
	onKilled  []func()
	closeOnce sync.Once
}

func New(cfg Config, deps Deps) *Controller {
	if cfg.DefaultMode == "" {
		cfg.DefaultMode = DefaultMode
	}
	if cfg.LivenessWindow <= 0 {
		cfg.LivenessWindow = DefaultLivenessWindow
	}
	if cfg.KillTimeout <= 0 {
		cfg.KillTimeout = DefaultKillTimeout
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = DefaultOpTimeout
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	return &Controller{
		cfg:     cfg,
		store:   deps.Store,
		locator: deps.Locator,
		clock:   deps.Clock,
		merge:   deps.Merge,
		editor:  deps.Editor,
		log:     deps.Log.With().Str("component", "session").Logger(),
		loop:    newLoop(),
		killed:  make(chan struct{}),
		state:   State{Mode: cfg.DefaultMode, ModeSource: ModeDefault},
	}
}

// OnModeChanged registers fn for every mode applied to this participant,
// whether changed locally or adopted from a peer. Observers run on the
// session's event loop and must not block.
func (c *Controller) OnModeChanged(fn func(mode string)) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	c.onMode = append(c.onMode, fn)
}

// OnKilling registers fn for the transitional state after RequestKill.
func (c *Controller) OnKilling(fn func()) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	c.onKilling = append(c.onKilling, fn)
}

// OnKilled registers fn for the terminal kill state.
func (c *Controller) OnKilled(fn func()) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	c.onKilled = append(c.onKilled, fn)
}

// Start resolves the room from fragment, publishes the minted token back
// to the locator, subscribes to the channel and, for a creator, seeds the
// channel with the default mode. Any error is fatal for the session.
func (c *Controller) Start(ctx context.Context, fragment string) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrStarted
	}
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.started = true
	c.mu.Unlock()

	id, err := room.Resolve(ctx, c.store, fragment)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	published := id.Fragment != fragment
	if published {
		if err := c.locator.SetFragment(id.Fragment); err != nil {
			return fmt.Errorf("publish room fragment: %w", err)
		}
	}
	// A room that never started must not stay in the locator.
	unpublish := func() {
		if !published {
			return
		}
		if err := c.locator.SetFragment(fragment); err != nil {
			c.logger().Warn().Err(err).Msg("locator not restored")
		}
	}

	c.mu.Lock()
	c.handle = id.Handle
	c.log = c.log.With().Str("room", id.ID).Stringer("role", id.Role).Logger()
	c.mu.Unlock()
	c.ctx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))
	if c.merge != nil && c.editor != nil {
		detach, err := c.merge.Attach(c.ctx, id.Handle, c.editor)
		if err != nil {
			c.cancel()
			unpublish()
			return fmt.Errorf("attach merge engine: %w", err)
		}
		c.detach = detach
	}

	c.mu.Lock()
	c.state.Room = id.ID
	c.state.Role = id.Role
	c.looping = true
	c.mu.Unlock()

	go c.loop.run()

	sub, err := c.store.Subscribe(ctx, id.Handle, func(m *store.Message) {
		c.loop.post(func() { c.dispatch(m) })
	})
	if err != nil {
		c.Close()
		unpublish()
		return fmt.Errorf("subscribe: %w", err)
	}
	c.loop.post(func() {
		c.sub = sub
		if id.Role == room.Creator {
			c.announce(c.state.Mode)
			c.armLiveness()
		}
	})

	c.logger().Info().Str("fragment", id.Fragment).Msg("session started")
	return nil
}

// dispatch handles one channel value on the loop.
func (c *Controller) dispatch(m *store.Message) {
	if c.state.Kill.Terminal() {
		c.log.Debug().Msg("ignoring channel value after teardown")
		return
	}
	c.setState(func(s *State) { s.ReceivedAny = true })
	if m == nil {
		c.log.Debug().Msg("channel empty")
		return
	}
	switch {
	case m.IsKill():
		if c.state.InitiatedKill {
			c.confirmKill()
		} else {
			c.receiveKill()
		}
	case m.HasMode():
		c.adopt(*m.Mode)
	}
}

// State returns a snapshot of the session state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Killed is closed once the session reaches its terminal kill state.
func (c *Controller) Killed() <-chan struct{} {
	return c.killed
}

// UnloadWarning is the pre-unload guard: a creator leaving before the room
// is torn down gets an advisory message for the host to show.
func (c *Controller) UnloadWarning() (string, bool) {
	s := c.State()
	if s.Role != room.Creator || s.Kill.Terminal() {
		return "", false
	}
	return "You created this room and it is still live. Leave without killing it?", true
}

// Close releases the subscription, timers and merge engine without
// touching the channel. It is what a participant does when it goes away.
// It must not be called from an observer.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		looping := c.looping
		c.mu.Unlock()
		if looping {
			c.loop.do(c.release)
			c.loop.stop()
			<-c.loop.done
		}
		if c.cancel != nil {
			c.cancel()
		}
	})
	return nil
}

// logger is the session logger for callers off the event loop.
func (c *Controller) logger() *zerolog.Logger {
	c.mu.Lock()
	defer c.mu.Unlock()
	log := c.log
	return &log
}

// running reports whether UI intents should be accepted.
func (c *Controller) running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.looping && !c.closed
}

func (c *Controller) setState(fn func(*State)) {
	c.mu.Lock()
	fn(&c.state)
	c.mu.Unlock()
}

func (c *Controller) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.ctx, c.cfg.OpTimeout)
}

// release drops everything that keeps the session attached to the room.
func (c *Controller) release() {
	if c.liveness != nil {
		c.liveness.Stop()
	}
	if c.killTimer != nil {
		c.killTimer.Stop()
	}
	if c.sub != nil {
		if err := c.sub.Close(); err != nil {
			c.log.Warn().Err(err).Msg("unsubscribe failed")
		}
		c.sub = nil
	}
	if c.detach != nil {
		if err := c.detach.Close(); err != nil {
			c.log.Warn().Err(err).Msg("detach merge engine failed")
		}
		c.detach = nil
	}
}

func (c *Controller) notifyMode(mode string) {
	c.obsMu.Lock()
	fns := make([]func(string), len(c.onMode))
	copy(fns, c.onMode)
	c.obsMu.Unlock()
	for _, fn := range fns {
		fn(mode)
	}
}

func (c *Controller) notify(list *[]func()) {
	c.obsMu.Lock()
	fns := make([]func(), len(*list))
	copy(fns, *list)
	c.obsMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
