package prover

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/anchorageoss/selfprove-teeclient/tee"
)

const eventBuffer = 32

// event is a queued machine input. Apply patches the session when the event
// is accepted.
type event struct {
	Type  EventType
	Apply func(*Session)
	gen   uint64
}

// Listener observes every state change
type Listener func(from, to State)

// Machine runs one proving session at a time. Events are queued and applied
// by a single dispatch loop; effects run on session snapshots.
type Machine struct {
	deps    Deps
	logger  *zap.Logger
	tracker Tracker

	mu        sync.Mutex
	gen       uint64
	state     State
	session   *Session
	base      context.Context
	ctx       context.Context
	cancel    context.CancelFunc
	events    chan event
	changed   chan struct{}
	conn      tee.Conn
	stream    tee.StatusStream
	listeners map[int]Listener
	nextID    int
}

// NewMachine creates an uninitialized machine
func NewMachine(deps Deps) *Machine {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Tracker == nil {
		deps.Tracker = NopTracker{}
	}
	if deps.RegisterDelay == 0 {
		deps.RegisterDelay = DefaultRegisterDelay
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Machine{
		deps:      deps,
		logger:    deps.Logger,
		tracker:   deps.Tracker,
		state:     Idle,
		changed:   make(chan struct{}),
		listeners: make(map[int]Listener),
	}
}

// Init tears down any running session and starts a new one
func (m *Machine) Init(ctx context.Context, opts Options) error {
	m.mu.Lock()
	m.teardownLocked()

	m.gen++
	gen := m.gen
	m.base = ctx
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.events = make(chan event, eventBuffer)
	m.session = &Session{
		ID:            uuid.NewString(),
		CircuitType:   opts.CircuitType,
		DocumentID:    opts.DocumentID,
		App:           opts.App,
		UserConfirmed: opts.UserConfirmed,
		opts:          opts,
	}
	m.setStateLocked(Idle)
	runCtx, events := m.ctx, m.events
	id := m.session.ID
	m.mu.Unlock()

	m.logger.Info("proving session started",
		zap.String("session", id),
		zap.String("circuit", opts.CircuitType.String()),
	)

	go m.run(runCtx, gen, events)
	m.send(gen, event{Type: EventInit})
	return nil
}

// Close tears down the running session. Pending events are dropped.
func (m *Machine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownLocked()
	m.gen++
	return nil
}

// State returns the current state
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Session returns a copy of the running session
func (m *Machine) Session() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil, ErrNotInitialized
	}
	return m.session.clone(), nil
}

// SetUserConfirmed records the user's consent to prove
func (m *Machine) SetUserConfirmed() error {
	m.mu.Lock()
	if m.session == nil {
		m.mu.Unlock()
		return ErrNotInitialized
	}
	gen := m.gen
	m.mu.Unlock()

	m.send(gen, event{
		Type:  EventUserConfirmed,
		Apply: func(s *Session) { s.UserConfirmed = true },
	})
	return nil
}

// Subscribe registers l and returns a function removing it
func (m *Machine) Subscribe(l Listener) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = l
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

// WaitFor blocks until the machine is in one of states
func (m *Machine) WaitFor(ctx context.Context, states ...State) (State, error) {
	for {
		m.mu.Lock()
		if m.session == nil {
			m.mu.Unlock()
			return "", ErrNotInitialized
		}
		state, changed := m.state, m.changed
		m.mu.Unlock()

		if slices.Contains(states, state) {
			return state, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return state, ctx.Err()
		}
	}
}

// Wait blocks until the session reaches a terminal state
func (m *Machine) Wait(ctx context.Context) (State, error) {
	return m.WaitFor(ctx, Completed, Error, Failure, PassportNotSupported, AccountRecoveryChoice, PassportDataNotFound)
}

func (m *Machine) run(ctx context.Context, gen uint64, events <-chan event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			m.dispatch(ctx, gen, ev)
		}
	}
}

// send queues ev for the session generation gen
func (m *Machine) send(gen uint64, ev event) {
	m.mu.Lock()
	if gen != m.gen || m.events == nil {
		m.mu.Unlock()
		return
	}
	ch, ctx := m.events, m.ctx
	m.mu.Unlock()

	ev.gen = gen
	select {
	case ch <- ev:
	case <-ctx.Done():
	}
}

func (m *Machine) dispatch(ctx context.Context, gen uint64, ev event) {
	m.mu.Lock()
	if ev.gen != m.gen {
		m.mu.Unlock()
		return
	}

	from := m.state
	to, ok := next(from, ev.Type)
	if !ok {
		if inPlace[ev.Type] && ev.Apply != nil {
			ev.Apply(m.session)
		} else {
			m.logger.Debug("event ignored",
				zap.String("session", m.session.ID),
				zap.String("state", string(from)),
				zap.String("event", string(ev.Type)),
			)
		}
		m.mu.Unlock()
		return
	}

	if ev.Apply != nil {
		ev.Apply(m.session)
	}
	m.setStateLocked(to)
	snap := m.session.clone()
	listeners := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	if to.Terminal() {
		m.closeConnsLocked()
	}
	m.mu.Unlock()

	m.logger.Debug("state transition",
		zap.String("session", snap.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("event", string(ev.Type)),
	)
	for _, l := range listeners {
		l(from, to)
	}

	m.enter(ctx, gen, to, snap)
}

// live reports whether gen is the running, non-terminal session
func (m *Machine) live(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.gen && !m.state.Terminal()
}

// setStateLocked changes the state and wakes waiters
func (m *Machine) setStateLocked(s State) {
	m.state = s
	close(m.changed)
	m.changed = make(chan struct{})
}

func (m *Machine) teardownLocked() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.closeConnsLocked()
}

func (m *Machine) closeConnsLocked() {
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	if m.stream != nil {
		m.stream.Close()
		m.stream = nil
	}
}

// setConn records the request channel of gen, closing it when gen is stale
func (m *Machine) setConn(gen uint64, c tee.Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.state.Terminal() {
		c.Close()
		return false
	}
	m.conn = c
	return true
}

func (m *Machine) currentConn(gen uint64) tee.Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return nil
	}
	return m.conn
}

// setStream records the status subscription of gen
func (m *Machine) setStream(gen uint64, s tee.StatusStream) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.state.Terminal() {
		s.Close()
		return false
	}
	m.stream = s
	return true
}

// reinit starts a follow-up session once the current one is done
func (m *Machine) reinit(gen uint64, opts Options) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	base := m.base
	m.mu.Unlock()

	if err := m.Init(base, opts); err != nil {
		m.logger.Error("failed to start follow-up session", zap.Error(err))
	}
}
