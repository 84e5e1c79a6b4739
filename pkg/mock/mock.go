// Deterministic mock AMS backend
//
// Simulates feed hardware in-process: operations walk the filament path
// segment by segment on a worker goroutine, with per-segment delays
// divided by a package-wide speedup scalar so test suites can compress
// hours of feed motion into milliseconds.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package mock

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"ams-host/pkg/backend"
	"ams-host/pkg/config"
	amserr "ams-host/pkg/errors"
	"ams-host/pkg/lane"
	"ams-host/pkg/log"
	"ams-host/pkg/topology"
)

// PathSegment is one station along the filament path. Loads walk the
// segments forward, unloads walk them in reverse.
type PathSegment int

const (
	SegmentSpool PathSegment = iota
	SegmentPrep
	SegmentLane
	SegmentHub
	SegmentOutput
	SegmentToolhead
	SegmentNozzle
)

func (s PathSegment) String() string {
	switch s {
	case SegmentSpool:
		return "spool"
	case SegmentPrep:
		return "prep"
	case SegmentLane:
		return "lane"
	case SegmentHub:
		return "hub"
	case SegmentOutput:
		return "output"
	case SegmentToolhead:
		return "toolhead"
	case SegmentNozzle:
		return "nozzle"
	default:
		return "unknown"
	}
}

var pathSegments = []PathSegment{
	SegmentSpool, SegmentPrep, SegmentLane, SegmentHub,
	SegmentOutput, SegmentToolhead, SegmentNozzle,
}

// speedupBits holds the simulation speedup scalar as float64 bits.
// All simulated delays are divided by it.
var speedupBits atomic.Uint64

func init() {
	speedupBits.Store(math.Float64bits(1.0))
}

// Speedup returns the current time-compression scalar.
func Speedup() float64 {
	return math.Float64frombits(speedupBits.Load())
}

// SetSpeedup replaces the time-compression scalar and returns the
// previous value. Values <= 0 are treated as 1.
func SetSpeedup(v float64) float64 {
	if v <= 0 {
		v = 1
	}
	prev := math.Float64frombits(speedupBits.Swap(math.Float64bits(v)))
	return prev
}

// ScopedSpeedup sets the scalar and returns a restore function, for
// defer-style use inside a test run.
func ScopedSpeedup(v float64) func() {
	prev := SetSpeedup(v)
	return func() { SetSpeedup(prev) }
}

func scaled(d time.Duration) time.Duration {
	s := Speedup()
	if s <= 1 {
		return d
	}
	return time.Duration(float64(d) / s)
}

// sampleFilaments seed the lanes with plausible materials so a fresh
// simulator has something to show.
var sampleFilaments = []struct {
	material string
	color    string
	rgb      string
}{
	{"PLA", "Galaxy Black", "#1a1a1a"},
	{"PLA", "Signal White", "#f4f4f4"},
	{"PETG", "Traffic Red", "#cc0605"},
	{"ABS", "Sky Blue", "#2271b3"},
	{"TPU", "Sulfur Yellow", "#f5d033"},
	{"ASA", "Leaf Green", "#2d572c"},
	{"PLA", "Pearl Orange", "#e25303"},
	{"PETG", "Signal Violet", "#924e7d"},
}

// Mock is an in-process AMS backend with simulated feed timing.
type Mock struct {
	logger *log.Logger

	mu       sync.Mutex
	running  bool
	topo     topology.Topology
	mounted  string
	inFlight string // active op name, "" when idle
	failNext string // injected failure reason for the next operation
	onDone   backend.CompletionHandler
	onTopo   backend.TopologyHandler

	opDelay time.Duration

	stop chan struct{}
	wg   sync.WaitGroup
}

// New builds a mock backend from the host configuration: lane count,
// unit layout, base operation delay and initially mounted lane.
func New(cfg config.HostConfig, logger *log.Logger) *Mock {
	m := &Mock{
		logger:  logger.WithPrefix("mock"),
		opDelay: cfg.MockDelay,
		stop:    make(chan struct{}),
	}
	m.topo = buildTopology(cfg)
	if cfg.MockMounted != "" {
		if _, ok := m.topo.LaneByName(cfg.MockMounted); ok {
			m.mounted = cfg.MockMounted
		}
	}
	return m
}

// buildTopology constructs the simulated unit layout. Lanes in a hub
// unit share one physical tool; tool-changer lanes map one to one.
func buildTopology(cfg config.HostConfig) topology.Topology {
	n := cfg.MockLanes
	if n < 1 {
		n = 1
	}
	t := topology.Topology{}
	addLane := func(i, tool int, unit string, empty bool) {
		ln := topology.NewLane(fmt.Sprintf("%s%d", lane.Prefix, i))
		ln.Unit = unit
		ln.MappedTool = tool
		if empty {
			ln.Status = topology.StatusEmpty
		} else {
			ln.Status = topology.StatusAvailable
			f := sampleFilaments[i%len(sampleFilaments)]
			ln.Material = f.material
			ln.Color = f.color
			ln.ColorRGB = f.rgb
		}
		t.Lanes = append(t.Lanes, ln)
	}
	empty := func(i int) bool {
		for _, e := range cfg.MockEmpty {
			if e == i {
				return true
			}
		}
		return false
	}
	switch cfg.MockLayout {
	case config.LayoutToolChanger:
		t.Kind = topology.KindToolChanger
		unit := topology.Unit{Name: "changer_1", Kind: topology.KindToolChanger}
		for i := 0; i < n; i++ {
			addLane(i, i, unit.Name, empty(i))
			unit.Lanes = append(unit.Lanes, t.Lanes[i].Name)
		}
		t.Units = []topology.Unit{unit}
	case config.LayoutMixed:
		// First half is a hub feeding tool 0, the rest are dedicated tools.
		t.Kind = topology.KindHub
		half := n / 2
		if half < 1 {
			half = 1
		}
		hub := topology.Unit{Name: "hub_1", Kind: topology.KindHub}
		for i := 0; i < half; i++ {
			addLane(i, 0, hub.Name, empty(i))
			hub.Lanes = append(hub.Lanes, t.Lanes[i].Name)
		}
		chg := topology.Unit{Name: "changer_1", Kind: topology.KindToolChanger}
		for i := half; i < n; i++ {
			addLane(i, 1+i-half, chg.Name, empty(i))
			chg.Lanes = append(chg.Lanes, t.Lanes[i].Name)
		}
		t.Units = []topology.Unit{hub, chg}
	case config.LayoutMulti:
		// Lanes split across hub units of four, one tool per unit.
		t.Kind = topology.KindHub
		units := (n + 3) / 4
		for u := 0; u < units; u++ {
			hub := topology.Unit{
				Name: fmt.Sprintf("hub_%d", u+1),
				Kind: topology.KindHub,
			}
			for i := u * 4; i < n && i < (u+1)*4; i++ {
				addLane(i, u, hub.Name, empty(i))
				hub.Lanes = append(hub.Lanes, t.Lanes[i].Name)
			}
			t.Units = append(t.Units, hub)
		}
	default: // config.LayoutHub
		t.Kind = topology.KindHub
		hub := topology.Unit{Name: "hub_1", Kind: topology.KindHub}
		for i := 0; i < n; i++ {
			addLane(i, 0, hub.Name, empty(i))
			hub.Lanes = append(hub.Lanes, t.Lanes[i].Name)
		}
		t.Units = []topology.Unit{hub}
	}
	return t
}

func (m *Mock) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}
	m.running = true
	m.logger.WithFields(log.Fields{
		"lanes": len(m.topo.Lanes),
		"kind":  m.topo.Kind.String(),
	}).Info("mock backend started")
	if m.onTopo != nil {
		go m.onTopo(m.topo.Clone())
	}
	return nil
}

func (m *Mock) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stop)
	m.mu.Unlock()
	m.wg.Wait()
	m.logger.Info("mock backend stopped")
}

func (m *Mock) Topology() topology.Topology {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.topo.Clone()
}

func (m *Mock) CurrentLane() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mounted, m.mounted != ""
}

func (m *Mock) OnCompletion(h backend.CompletionHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDone = h
}

func (m *Mock) OnTopology(h backend.TopologyHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTopo = h
}

// FailNext injects a hardware failure: the next accepted operation
// completes with the given reason instead of succeeding.
func (m *Mock) FailNext(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = reason
}

func (m *Mock) ChangeTool(seq uint64, tool int) error {
	m.mu.Lock()
	if err := m.acceptLocked("change_tool"); err != nil {
		m.mu.Unlock()
		return err
	}
	lane, ok := m.topo.LaneForTool(tool)
	if !ok {
		m.inFlight = ""
		m.mu.Unlock()
		return amserr.InvalidTargetError(tool)
	}
	m.beginLocked(seq, backend.OpChangeTool, lane.Name, tool, true)
	m.mu.Unlock()
	return nil
}

func (m *Mock) Load(seq uint64, laneName string) error {
	m.mu.Lock()
	if err := m.acceptLocked("load"); err != nil {
		m.mu.Unlock()
		return err
	}
	lane, ok := m.topo.LaneByName(laneName)
	if !ok {
		m.inFlight = ""
		m.mu.Unlock()
		return amserr.InvalidLaneError(laneName)
	}
	m.beginLocked(seq, backend.OpLoad, lane.Name, lane.MappedTool, true)
	m.mu.Unlock()
	return nil
}

func (m *Mock) Unload(seq uint64, laneName string) error {
	m.mu.Lock()
	if err := m.acceptLocked("unload"); err != nil {
		m.mu.Unlock()
		return err
	}
	lane, ok := m.topo.LaneByName(laneName)
	if !ok {
		m.inFlight = ""
		m.mu.Unlock()
		return amserr.InvalidLaneError(laneName)
	}
	m.beginLocked(seq, backend.OpUnload, lane.Name, lane.MappedTool, false)
	m.mu.Unlock()
	return nil
}

// Recover is accepted even while an operation is in flight, matching
// the hardware backend where the reset macro preempts a stuck feed.
func (m *Mock) Recover(seq uint64) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return amserr.NotConnectedError("mock")
	}
	m.inFlight = "recover"
	m.beginLocked(seq, backend.OpRecover, "", topology.UnmappedTool, true)
	m.mu.Unlock()
	return nil
}

func (m *Mock) Reset(seq uint64) error {
	m.mu.Lock()
	if err := m.acceptLocked("reset"); err != nil {
		m.mu.Unlock()
		return err
	}
	m.beginLocked(seq, backend.OpReset, "", topology.UnmappedTool, true)
	m.mu.Unlock()
	return nil
}

func (m *Mock) acceptLocked(op string) error {
	if !m.running {
		return amserr.NotConnectedError("mock")
	}
	if m.inFlight != "" {
		return amserr.BusyError(m.inFlight)
	}
	m.inFlight = op
	return nil
}

// beginLocked starts the worker goroutine for an accepted operation.
// Caller holds m.mu with m.inFlight already claimed.
func (m *Mock) beginLocked(seq uint64, op backend.Op, lane string, tool int, forward bool) {
	fail := m.failNext
	m.failNext = ""
	m.wg.Add(1)
	go m.run(seq, op, lane, tool, forward, fail)
}

// run walks the filament path and delivers the completion. The stop
// channel aborts the walk without delivering anything.
func (m *Mock) run(seq uint64, op backend.Op, lane string, tool int, forward bool, fail string) {
	defer m.wg.Done()

	segDelay := scaled(m.opDelay / time.Duration(len(pathSegments)))
	segs := pathSegments
	for i := range segs {
		seg := segs[i]
		if !forward {
			seg = segs[len(segs)-1-i]
		}
		select {
		case <-m.stop:
			return
		case <-time.After(segDelay):
		}
		m.logger.WithFields(log.Fields{
			"seq":     seq,
			"op":      op.String(),
			"segment": seg.String(),
		}).Debug("path segment reached")
	}

	var opErr error
	if fail != "" {
		opErr = amserr.HardwareFailureError(op.String(), fail)
	}

	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.inFlight = ""
	if opErr == nil {
		m.applyLocked(op, lane)
	}
	done := m.onDone
	topoSink := m.onTopo
	snapshot := m.topo.Clone()
	m.mu.Unlock()

	if topoSink != nil {
		topoSink(snapshot)
	}
	if done != nil {
		done(backend.Completion{Seq: seq, Op: op, Lane: lane, Tool: tool, Err: opErr})
	}
}

// applyLocked commits the state effect of a finished operation.
func (m *Mock) applyLocked(op backend.Op, lane string) {
	switch op {
	case backend.OpChangeTool, backend.OpLoad:
		if m.mounted != "" {
			m.setStatusLocked(m.mounted, topology.StatusAvailable)
		}
		m.mounted = lane
		m.setStatusLocked(lane, topology.StatusLoaded)
	case backend.OpUnload:
		if m.mounted == lane {
			m.mounted = ""
		}
		m.setStatusLocked(lane, topology.StatusAvailable)
	case backend.OpRecover, backend.OpReset:
		// Homing drops whatever was mounted.
		if m.mounted != "" {
			m.setStatusLocked(m.mounted, topology.StatusAvailable)
			m.mounted = ""
		}
	}
}

func (m *Mock) setStatusLocked(name string, st topology.LaneStatus) {
	for i := range m.topo.Lanes {
		if m.topo.Lanes[i].Name == name {
			m.topo.Lanes[i].Status = st
			return
		}
	}
}
