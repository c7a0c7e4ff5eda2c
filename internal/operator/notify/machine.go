package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	serverdomain "github.com/dublintech/callbridge/internal/callserver/domain"
	"github.com/dublintech/callbridge/internal/customer/domain"
)

// Lookup resolves a caller's phone number to a customer record.
// Implementations return domain.ErrNotFound when no record matches.
type Lookup interface {
	GetByPhone(ctx context.Context, phone string) (*domain.Customer, error)
}

// State is the single-slot notification record behind the incoming-call
// popup. At most one call is active at a time; a new arrival overwrites the
// previous one.
type State struct {
	Visible    bool
	FromNumber string
	CallSid    string
	Customer   *domain.Customer
	Resolving  bool
}

type actionKind int

const (
	actionAnswer actionKind = iota
	actionDecline
	actionClose
)

// lookupResult is tagged with the call sid it was started for, so a result
// that lands after its call was superseded is discarded instead of applied.
type lookupResult struct {
	callSid  string
	customer *domain.Customer
}

// Machine folds call-arrival events from any producer plus asynchronous
// customer lookups into one coherent notification state. All transitions are
// applied by a single owner goroutine, so concurrent arrivals from the
// server transport and the softphone device cannot interleave into a
// half-updated state.
type Machine struct {
	logger   *slog.Logger
	lookup   Lookup
	fallback map[string]domain.Customer

	events  chan serverdomain.CallArrivalEvent
	actions chan actionKind
	results chan lookupResult

	updates chan State

	mu    sync.RWMutex
	state State

	startOnce sync.Once
	stopOnce  sync.Once
	stopped   chan struct{}
}

// DefaultFallback is the local customer table consulted when the lookup
// service is unreachable or has no match.
func DefaultFallback() map[string]domain.Customer {
	return map[string]domain.Customer{
		"+353851234567": {
			ID:        "1",
			Name:      "Dublin Tech Solutions Ltd",
			Phone:     "+353851234567",
			Email:     "contact@dublintech.ie",
			AccountID: "ACC-001",
			Notes:     "VIP client, priority support required",
		},
		"+353861234567": {
			ID:    "2",
			Name:  "Liam O'Connor",
			Phone: "+353861234567",
			Email: "liam.oconnor@gmail.com",
			Notes: "Regular customer since 2020",
		},
		"+353871234567": {
			ID:        "3",
			Name:      "Aoife Murphy",
			Phone:     "+353871234567",
			Email:     "aoife.murphy@example.ie",
			AccountID: "ACC-002",
			Notes:     "New client from Cork",
		},
	}
}

// NewMachine builds an idle machine. fallback may be nil to disable the
// local table entirely.
func NewMachine(lookup Lookup, fallback map[string]domain.Customer, logger *slog.Logger) *Machine {
	return &Machine{
		logger:   logger.With("component", "call_notify"),
		lookup:   lookup,
		fallback: fallback,
		events:   make(chan serverdomain.CallArrivalEvent, 8),
		actions:  make(chan actionKind, 8),
		results:  make(chan lookupResult, 8),
		updates:  make(chan State, 1),
		stopped:  make(chan struct{}),
	}
}

// Start launches the owner goroutine. It runs until ctx is cancelled.
func (m *Machine) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		go m.run(ctx)
	})
}

// Deliver hands a call-arrival event to the machine. Both the server
// transport and the softphone device push into this single queue. Safe from
// any goroutine; a no-op once the machine has stopped.
func (m *Machine) Deliver(ev serverdomain.CallArrivalEvent) {
	select {
	case m.events <- ev:
	case <-m.stopped:
	}
}

// Answer clears the notification and returns to idle.
func (m *Machine) Answer() { m.act(actionAnswer) }

// Decline clears the notification and returns to idle.
func (m *Machine) Decline() { m.act(actionDecline) }

// Close dismisses the popup without answering.
func (m *Machine) Close() { m.act(actionClose) }

func (m *Machine) act(a actionKind) {
	select {
	case m.actions <- a:
	case <-m.stopped:
	}
}

// State returns a snapshot of the current notification state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Updates delivers a state snapshot after each transition. The channel has a
// one-slot buffer and is coalescing: a slow consumer sees the latest state,
// not every intermediate one.
func (m *Machine) Updates() <-chan State {
	return m.updates
}

func (m *Machine) run(ctx context.Context) {
	defer m.stopOnce.Do(func() { close(m.stopped) })

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-m.events:
			m.ring(ctx, ev)
		case a := <-m.actions:
			m.clear(a)
		case res := <-m.results:
			m.resolve(res)
		}
	}
}

// ring enters Ringing for the event, superseding whatever was active, and
// starts the asynchronous customer lookup tagged with the event's call sid.
func (m *Machine) ring(ctx context.Context, ev serverdomain.CallArrivalEvent) {
	m.logger.Info("Incoming call", "from", ev.FromNumber, "call_sid", ev.CallSid)

	m.setState(State{
		Visible:    true,
		FromNumber: ev.FromNumber,
		CallSid:    ev.CallSid,
		Customer:   nil,
		Resolving:  true,
	})

	go func(from, sid string) {
		customer := m.resolveCustomer(ctx, from)
		select {
		case m.results <- lookupResult{callSid: sid, customer: customer}:
		case <-ctx.Done():
		}
	}(ev.FromNumber, ev.CallSid)
}

// resolveCustomer degrades gracefully: lookup errors and misses fall back to
// the local table (or nothing), never to a surfaced failure.
func (m *Machine) resolveCustomer(ctx context.Context, from string) *domain.Customer {
	if m.lookup != nil {
		c, err := m.lookup.GetByPhone(ctx, from)
		if err == nil {
			return c
		}
		if errors.Is(err, domain.ErrNotFound) {
			m.logger.Debug("No customer record for caller", "phone", from)
		} else {
			m.logger.Warn("Customer lookup unavailable, using local data", "phone", from, "error", err)
		}
	}
	if c, ok := m.fallback[from]; ok {
		local := c
		return &local
	}
	return nil
}

// resolve applies a lookup result only if it still belongs to the active
// call; stale results from superseded calls are discarded.
func (m *Machine) resolve(res lookupResult) {
	cur := m.State()
	if !cur.Visible || cur.CallSid != res.callSid {
		m.logger.Debug("Discarding stale lookup result", "call_sid", res.callSid)
		return
	}
	cur.Customer = res.customer
	cur.Resolving = false
	m.setState(cur)
}

func (m *Machine) clear(a actionKind) {
	cur := m.State()
	if !cur.Visible {
		return
	}
	switch a {
	case actionAnswer:
		m.logger.Info("Call answered", "call_sid", cur.CallSid)
	case actionDecline:
		m.logger.Info("Call declined", "call_sid", cur.CallSid)
	case actionClose:
		m.logger.Info("Call popup closed", "call_sid", cur.CallSid)
	}
	m.setState(State{})
}

func (m *Machine) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()

	// Coalescing notify: replace a pending update rather than blocking.
	select {
	case m.updates <- s:
	default:
		select {
		case <-m.updates:
		default:
		}
		select {
		case m.updates <- s:
		default:
		}
	}
}
