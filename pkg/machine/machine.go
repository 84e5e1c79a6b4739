// Tool-change state machine
//
// Serializes filament operations against a single AMS backend. The
// machine owns the busy lockout: the transition out of IDLE happens
// synchronously under the lock before the backend is asked to move
// anything, so two concurrent requests can never both be accepted.
// Completions are matched by sequence number; anything stale is
// discarded without touching state.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package machine

import (
	"sync"
	"sync/atomic"

	"ams-host/pkg/backend"
	amserr "ams-host/pkg/errors"
	"ams-host/pkg/log"
	"ams-host/pkg/topology"
)

// State is the machine's operation phase.
type State int

const (
	StateIdle State = iota
	StateSelecting
	StateLoading
	StateUnloading
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSelecting:
		return "selecting"
	case StateLoading:
		return "loading"
	case StateUnloading:
		return "unloading"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// busy reports whether the state refuses new operations.
func (s State) busy() bool {
	return s == StateSelecting || s == StateLoading || s == StateUnloading
}

// StateHandler observes state transitions.
type StateHandler func(State)

// CompletionHandler observes terminal operation outcomes.
type CompletionHandler func(backend.Completion)

// Machine drives one backend and enforces single-operation semantics.
type Machine struct {
	logger  *log.Logger
	backend backend.Backend

	// alive gates completion delivery. Cleared on Close so a late
	// backend callback cannot touch a machine that is being torn down.
	alive atomic.Bool

	mu       sync.Mutex
	state    State
	nextSeq  uint64
	pending  uint64 // outstanding request seq, 0 when none
	mounted  string
	lastErr  string
	topo     topology.Topology
	layout   topology.Layout
	onState  []StateHandler
	onDone   []CompletionHandler
	onLayout []func(topology.Layout)
}

// New wires a machine to its backend. The backend must not be started
// yet; Start handles that.
func New(b backend.Backend, logger *log.Logger) *Machine {
	m := &Machine{
		logger:  logger.WithPrefix("machine"),
		backend: b,
		state:   StateIdle,
	}
	m.alive.Store(true)
	b.OnCompletion(m.handleCompletion)
	b.OnTopology(m.handleTopology)
	return m
}

// Start brings the backend up and captures the initial topology.
func (m *Machine) Start() error {
	if err := m.backend.Start(); err != nil {
		return err
	}
	topo := m.backend.Topology()
	m.mu.Lock()
	m.topo = topo
	m.layout = topology.ComputeLayout(topo)
	if mounted, ok := m.backend.CurrentLane(); ok {
		m.mounted = mounted
	}
	m.mu.Unlock()
	return nil
}

// Close marks the machine dead and stops the backend. Any completion
// arriving afterwards is dropped.
func (m *Machine) Close() {
	m.alive.Store(false)
	m.backend.Stop()
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Mounted reports the currently loaded lane.
func (m *Machine) Mounted() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mounted, m.mounted != ""
}

// LastError returns the diagnostic from the most recent failure, or ""
// when the last operation succeeded.
func (m *Machine) LastError() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

func (m *Machine) Topology() topology.Topology {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.topo.Clone()
}

func (m *Machine) Layout() topology.Layout {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.layout
}

// OnState registers a state-transition observer.
func (m *Machine) OnState(h StateHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onState = append(m.onState, h)
}

// OnCompletion registers a completion observer.
func (m *Machine) OnCompletion(h CompletionHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDone = append(m.onDone, h)
}

// OnLayout registers an observer for resolved layout changes.
func (m *Machine) OnLayout(h func(topology.Layout)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onLayout = append(m.onLayout, h)
}

// ChangeTool requests a change to the given physical tool. On success
// the machine is SELECTING when this returns; the outcome arrives as a
// completion. Rejections (busy, unknown tool) are synchronous and leave
// state untouched.
func (m *Machine) ChangeTool(tool int) error {
	m.mu.Lock()
	if m.state.busy() {
		cur := m.state.String()
		m.mu.Unlock()
		return amserr.BusyError(cur)
	}
	if !m.topo.HasTool(tool) {
		m.mu.Unlock()
		return amserr.InvalidTargetError(tool)
	}
	seq := m.claimLocked(StateSelecting)
	m.mu.Unlock()
	m.notifyState(StateSelecting)

	if err := m.backend.ChangeTool(seq, tool); err != nil {
		m.dispatchFailed(seq, err)
		return err
	}
	return nil
}

// LoadFilament resolves the lane's mapped tool and delegates to
// ChangeTool, so hub lanes load through the same selection path.
func (m *Machine) LoadFilament(laneName string) error {
	m.mu.Lock()
	lane, ok := m.topo.LaneByName(laneName)
	m.mu.Unlock()
	if !ok {
		return amserr.InvalidLaneError(laneName)
	}
	if lane.MappedTool == topology.UnmappedTool {
		return amserr.InvalidLaneError(laneName)
	}
	return m.ChangeTool(lane.MappedTool)
}

// UnloadFilament ejects the mounted lane. Fails synchronously with
// NOTHING_MOUNTED when no lane is loaded.
func (m *Machine) UnloadFilament() error {
	m.mu.Lock()
	if m.state.busy() {
		cur := m.state.String()
		m.mu.Unlock()
		return amserr.BusyError(cur)
	}
	if m.mounted == "" {
		m.mu.Unlock()
		return amserr.NothingMountedError()
	}
	lane := m.mounted
	seq := m.claimLocked(StateUnloading)
	m.mu.Unlock()
	m.notifyState(StateUnloading)

	if err := m.backend.Unload(seq, lane); err != nil {
		m.dispatchFailed(seq, err)
		return err
	}
	return nil
}

// Recover clears a stuck state. It bypasses the busy lockout: a machine
// wedged in SELECTING by hardware that will never answer can still be
// recovered.
func (m *Machine) Recover() error {
	m.mu.Lock()
	m.nextSeq++
	seq := m.nextSeq
	m.pending = seq
	m.state = StateSelecting
	m.mu.Unlock()
	m.notifyState(StateSelecting)

	if err := m.backend.Recover(seq); err != nil {
		m.dispatchFailed(seq, err)
		return err
	}
	return nil
}

// Reset re-homes the feed hardware.
func (m *Machine) Reset() error {
	m.mu.Lock()
	if m.state.busy() {
		cur := m.state.String()
		m.mu.Unlock()
		return amserr.BusyError(cur)
	}
	seq := m.claimLocked(StateSelecting)
	m.mu.Unlock()
	m.notifyState(StateSelecting)

	if err := m.backend.Reset(seq); err != nil {
		m.dispatchFailed(seq, err)
		return err
	}
	return nil
}

// claimLocked allocates the next sequence number and commits the busy
// transition. Caller holds m.mu and has already validated the request.
func (m *Machine) claimLocked(next State) uint64 {
	m.nextSeq++
	m.pending = m.nextSeq
	m.state = next
	m.lastErr = ""
	return m.nextSeq
}

// dispatchFailed handles a synchronous backend rejection after the
// machine already committed to the operation.
func (m *Machine) dispatchFailed(seq uint64, err error) {
	m.mu.Lock()
	if m.pending != seq {
		m.mu.Unlock()
		return
	}
	m.pending = 0
	m.state = StateError
	m.lastErr = err.Error()
	m.mu.Unlock()
	m.logger.WithError(err).WithField("seq", seq).Error("backend rejected dispatch")
	m.notifyState(StateError)
}

// handleCompletion is the backend's completion sink.
func (m *Machine) handleCompletion(c backend.Completion) {
	if !m.alive.Load() {
		return
	}

	m.mu.Lock()
	if m.pending == 0 || c.Seq != m.pending {
		want := m.pending
		m.mu.Unlock()
		m.logger.WithFields(log.Fields{
			"seq":  c.Seq,
			"want": want,
			"op":   c.Op.String(),
		}).Warn("discarding stale completion")
		return
	}
	m.pending = 0
	var next State
	if c.Err != nil {
		next = StateError
		m.lastErr = c.Err.Error()
	} else {
		next = StateIdle
		m.lastErr = ""
		switch c.Op {
		case backend.OpChangeTool, backend.OpLoad:
			m.mounted = c.Lane
		case backend.OpUnload, backend.OpRecover, backend.OpReset:
			m.mounted = ""
		}
	}
	m.state = next
	done := append([]CompletionHandler(nil), m.onDone...)
	m.mu.Unlock()

	if c.Err != nil {
		m.logger.WithError(c.Err).WithFields(log.Fields{
			"seq": c.Seq,
			"op":  c.Op.String(),
		}).Error("operation failed")
	} else {
		m.logger.WithFields(log.Fields{
			"seq":  c.Seq,
			"op":   c.Op.String(),
			"lane": c.Lane,
		}).Info("operation complete")
	}
	m.notifyState(next)
	for _, h := range done {
		h(c)
	}
}

// handleTopology is the backend's topology sink.
func (m *Machine) handleTopology(t topology.Topology) {
	if !m.alive.Load() {
		return
	}
	m.mu.Lock()
	m.topo = t
	m.layout = topology.ComputeLayout(t)
	layout := m.layout
	subs := make([]func(topology.Layout), len(m.onLayout))
	copy(subs, m.onLayout)
	m.mu.Unlock()
	for _, h := range subs {
		h(layout)
	}
}

func (m *Machine) notifyState(s State) {
	m.mu.Lock()
	subs := append([]StateHandler(nil), m.onState...)
	m.mu.Unlock()
	for _, h := range subs {
		h(s)
	}
}
