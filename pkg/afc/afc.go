// AFC hardware backend
//
// Drives an AFC (Automated Filament Changer) Klipper add-on through
// Moonraker. Lane discovery and sensor state come from the printer
// objects "AFC_stepper <lane>", "AFC_hub <name>" and
// "AFC_extruder extruder"; operations are issued as the AFC G-code
// macros and the macro result is relayed as the completion. The backend
// never retries: a failed macro surfaces as a failed operation and
// recovery is the operator's call.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package afc

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"ams-host/pkg/backend"
	amserr "ams-host/pkg/errors"
	"ams-host/pkg/lane"
	"ams-host/pkg/log"
	"ams-host/pkg/moonraker"
	"ams-host/pkg/topology"
)

const (
	stepperPrefix  = "AFC_stepper "
	lanePrefix     = "AFC_lane "
	hubPrefix      = "AFC_hub "
	extruderObject = "AFC_extruder extruder"

	startupTimeout = 30 * time.Second
)

// Transport is the slice of the Moonraker client the backend needs.
type Transport interface {
	ObjectsList(ctx context.Context) ([]string, error)
	ObjectsSubscribe(ctx context.Context, objects map[string][]string) (map[string]json.RawMessage, error)
	ExecuteGCode(script string, done func(error))
	OnNotify(h moonraker.NotifyHandler) func()
}

// stepperStatus is the wire shape of one AFC_stepper object.
type stepperStatus struct {
	Prep       *bool    `json:"prep"`
	Load       *bool    `json:"load"`
	ToolLoaded *bool    `json:"tool_loaded"`
	Status     *string  `json:"status"`
	Map        *string  `json:"map"`
	Material   *string  `json:"material"`
	ColorName  *string  `json:"color_name"`
	Color      *string  `json:"color"`
	Unit       *string  `json:"unit"`
	Weight     *float64 `json:"weight"`
}

// laneState is the merged view of one lane across updates.
type laneState struct {
	prep       bool
	load       bool
	toolLoaded bool
	status     string
	mappedTool int
	material   string
	colorName  string
	colorRGB   string
	unit       string
}

type extruderStatus struct {
	LaneLoaded *string `json:"lane_loaded"`
}

// Backend implements the AMS contract against AFC hardware.
type Backend struct {
	transport Transport
	logger    *log.Logger

	mu        sync.Mutex
	running   bool
	laneNames []string
	lanes     map[string]*laneState
	hubs      []string
	mounted   string
	inFlight  string
	onDone    backend.CompletionHandler
	onTopo    backend.TopologyHandler
	unsub     func()
}

// New builds an AFC backend over the given transport.
func New(t Transport, logger *log.Logger) *Backend {
	return &Backend{
		transport: t,
		logger:    logger.WithPrefix("afc"),
		lanes:     make(map[string]*laneState),
	}
}

// Start discovers the AFC objects, subscribes to their status and
// parses the initial snapshot.
func (b *Backend) Start() error {
	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	objects, err := b.transport.ObjectsList(ctx)
	if err != nil {
		return err
	}

	var names []string
	var hubs []string
	subscribe := map[string][]string{}
	for _, obj := range objects {
		switch {
		case strings.HasPrefix(obj, stepperPrefix):
			names = append(names, strings.TrimPrefix(obj, stepperPrefix))
			subscribe[obj] = nil
		case strings.HasPrefix(obj, lanePrefix):
			names = append(names, strings.TrimPrefix(obj, lanePrefix))
			subscribe[obj] = nil
		case strings.HasPrefix(obj, hubPrefix):
			hubs = append(hubs, strings.TrimPrefix(obj, hubPrefix))
			subscribe[obj] = nil
		case obj == extruderObject:
			subscribe[obj] = nil
		}
	}
	if len(names) == 0 {
		return amserr.NotConnectedError("no AFC lanes reported by printer")
	}
	names = lane.SortAndDedupe(names)

	status, err := b.transport.ObjectsSubscribe(ctx, subscribe)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.running = true
	b.laneNames = names
	b.hubs = hubs
	for _, n := range names {
		b.lanes[n] = &laneState{mappedTool: topology.UnmappedTool}
	}
	b.applyStatusLocked(status)
	topo := b.topologyLocked()
	sink := b.onTopo
	b.mu.Unlock()

	b.unsub = b.transport.OnNotify(b.handleNotify)
	b.logger.WithFields(log.Fields{
		"lanes": len(names),
		"hubs":  len(hubs),
	}).Info("AFC backend started")

	if sink != nil {
		sink(topo)
	}
	return nil
}

func (b *Backend) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	unsub := b.unsub
	b.unsub = nil
	b.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	b.logger.Info("AFC backend stopped")
}

func (b *Backend) Topology() topology.Topology {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.topologyLocked()
}

func (b *Backend) CurrentLane() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mounted, b.mounted != ""
}

func (b *Backend) OnCompletion(h backend.CompletionHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onDone = h
}

func (b *Backend) OnTopology(h backend.TopologyHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onTopo = h
}

// ChangeTool issues the bare "T<n>" macro.
func (b *Backend) ChangeTool(seq uint64, tool int) error {
	b.mu.Lock()
	if err := b.acceptLocked("change_tool"); err != nil {
		b.mu.Unlock()
		return err
	}
	laneName := ""
	for _, n := range b.laneNames {
		if st := b.lanes[n]; st != nil && st.mappedTool == tool {
			laneName = n
			break
		}
	}
	if laneName == "" {
		b.inFlight = ""
		b.mu.Unlock()
		return amserr.InvalidTargetError(tool)
	}
	b.mu.Unlock()

	b.execute(seq, backend.OpChangeTool, laneName, tool, fmt.Sprintf("T%d", tool))
	return nil
}

// Load issues "CHANGE_TOOL LANE=<name>", the AFC load-by-lane macro.
func (b *Backend) Load(seq uint64, laneName string) error {
	return b.laneOp(seq, backend.OpLoad, "load", laneName, "CHANGE_TOOL LANE="+laneName)
}

// Unload issues "TOOL_UNLOAD LANE=<name>".
func (b *Backend) Unload(seq uint64, laneName string) error {
	return b.laneOp(seq, backend.OpUnload, "unload", laneName, "TOOL_UNLOAD LANE="+laneName)
}

// Recover issues "AFC_RESET". It skips the busy check so a wedged
// operation can be cleared from under itself.
func (b *Backend) Recover(seq uint64) error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return amserr.NotConnectedError("afc backend stopped")
	}
	b.inFlight = "recover"
	b.mu.Unlock()
	b.execute(seq, backend.OpRecover, "", topology.UnmappedTool, "AFC_RESET")
	return nil
}

// Reset issues "AFC_HOME" to re-home the feed hardware.
func (b *Backend) Reset(seq uint64) error {
	b.mu.Lock()
	if err := b.acceptLocked("reset"); err != nil {
		b.mu.Unlock()
		return err
	}
	b.mu.Unlock()
	b.execute(seq, backend.OpReset, "", topology.UnmappedTool, "AFC_HOME")
	return nil
}

func (b *Backend) laneOp(seq uint64, op backend.Op, name, laneName, script string) error {
	b.mu.Lock()
	if err := b.acceptLocked(name); err != nil {
		b.mu.Unlock()
		return err
	}
	st, ok := b.lanes[laneName]
	if !ok {
		b.inFlight = ""
		b.mu.Unlock()
		return amserr.InvalidLaneError(laneName)
	}
	tool := st.mappedTool
	b.mu.Unlock()

	b.execute(seq, op, laneName, tool, script)
	return nil
}

func (b *Backend) acceptLocked(op string) error {
	if !b.running {
		return amserr.NotConnectedError("afc backend stopped")
	}
	if b.inFlight != "" {
		return amserr.BusyError(b.inFlight)
	}
	b.inFlight = op
	return nil
}

// execute runs the macro and relays its outcome as the completion.
func (b *Backend) execute(seq uint64, op backend.Op, laneName string, tool int, script string) {
	b.logger.WithFields(log.Fields{
		"seq":    seq,
		"script": script,
	}).Info("executing")
	b.transport.ExecuteGCode(script, func(err error) {
		b.mu.Lock()
		if !b.running {
			b.mu.Unlock()
			return
		}
		b.inFlight = ""
		if err == nil {
			switch op {
			case backend.OpChangeTool, backend.OpLoad:
				b.mounted = laneName
			case backend.OpUnload:
				if b.mounted == laneName {
					b.mounted = ""
				}
			case backend.OpRecover, backend.OpReset:
				b.mounted = ""
			}
		}
		done := b.onDone
		b.mu.Unlock()

		if err != nil {
			err = amserr.HardwareFailureError(op.String(), err.Error())
		}
		if done != nil {
			done(backend.Completion{Seq: seq, Op: op, Lane: laneName, Tool: tool, Err: err})
		}
	})
}

// handleNotify processes notify_status_update pushes. The first params
// element is an object-name to changed-fields map.
func (b *Backend) handleNotify(method string, params []json.RawMessage) {
	if method != moonraker.NotifyStatusUpdate || len(params) == 0 {
		return
	}
	var status map[string]json.RawMessage
	if err := json.Unmarshal(params[0], &status); err != nil {
		b.logger.WithError(err).Warn("unparseable status update")
		return
	}

	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	changed := b.applyStatusLocked(status)
	if !changed {
		b.mu.Unlock()
		return
	}
	topo := b.topologyLocked()
	sink := b.onTopo
	b.mu.Unlock()

	if sink != nil {
		sink(topo)
	}
}

// applyStatusLocked merges one status map into the lane cache and
// reports whether anything relevant changed. New lanes appearing in
// updates are adopted, so units powered on late still show up.
func (b *Backend) applyStatusLocked(status map[string]json.RawMessage) bool {
	changed := false
	for obj, raw := range status {
		switch {
		case strings.HasPrefix(obj, stepperPrefix), strings.HasPrefix(obj, lanePrefix):
			name := strings.TrimPrefix(strings.TrimPrefix(obj, stepperPrefix), lanePrefix)
			st, ok := b.lanes[name]
			if !ok {
				st = &laneState{mappedTool: topology.UnmappedTool}
				b.lanes[name] = st
				b.laneNames = lane.SortAndDedupe(append(b.laneNames, name))
			}
			if b.applyStepperLocked(name, st, raw) {
				changed = true
			}
		case obj == extruderObject:
			var ext extruderStatus
			if err := json.Unmarshal(raw, &ext); err != nil {
				continue
			}
			if ext.LaneLoaded != nil && *ext.LaneLoaded != b.mounted {
				b.mounted = *ext.LaneLoaded
				changed = true
			}
		}
	}
	return changed
}

func (b *Backend) applyStepperLocked(name string, st *laneState, raw json.RawMessage) bool {
	var s stepperStatus
	if err := json.Unmarshal(raw, &s); err != nil {
		b.logger.WithError(err).WithField("lane", name).Warn("bad stepper status")
		return false
	}
	changed := false
	set := func(dst *bool, src *bool) {
		if src != nil && *dst != *src {
			*dst = *src
			changed = true
		}
	}
	setStr := func(dst *string, src *string) {
		if src != nil && *dst != *src {
			*dst = *src
			changed = true
		}
	}
	set(&st.prep, s.Prep)
	set(&st.load, s.Load)
	set(&st.toolLoaded, s.ToolLoaded)
	setStr(&st.status, s.Status)
	setStr(&st.material, s.Material)
	setStr(&st.colorName, s.ColorName)
	setStr(&st.colorRGB, s.Color)
	setStr(&st.unit, s.Unit)
	if s.Map != nil {
		if tool, ok := parseToolMap(*s.Map); ok && tool != st.mappedTool {
			st.mappedTool = tool
			changed = true
		}
	}
	if st.toolLoaded && b.mounted != name {
		b.mounted = name
		changed = true
	}
	return changed
}

// parseToolMap parses the AFC "map" field, e.g. "T2".
func parseToolMap(s string) (int, bool) {
	if len(s) < 2 || s[0] != 'T' {
		return 0, false
	}
	n, err := strconv.Atoi(s[1:])
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// topologyLocked builds a snapshot from the lane cache.
func (b *Backend) topologyLocked() topology.Topology {
	t := topology.Topology{}
	units := map[string]*topology.Unit{}
	var unitOrder []string

	for _, name := range b.laneNames {
		st := b.lanes[name]
		if st == nil {
			continue
		}
		ln := topology.NewLane(name)
		ln.MappedTool = st.mappedTool
		ln.Material = st.material
		ln.Color = st.colorName
		ln.ColorRGB = st.colorRGB
		switch {
		case st.toolLoaded || st.status == "Tool Loaded" || st.status == "Tooled":
			ln.Status = topology.StatusLoaded
		case st.status == "Loaded":
			ln.Status = topology.StatusLoaded
		case st.prep || st.load:
			ln.Status = topology.StatusAvailable
		case st.status == "" || st.status == "None":
			ln.Status = topology.StatusEmpty
		default:
			ln.Status = topology.StatusAvailable
		}

		unitName := st.unit
		if unitName == "" {
			unitName = "AFC_1"
		}
		ln.Unit = unitName
		u, ok := units[unitName]
		if !ok {
			u = &topology.Unit{Name: unitName}
			units[unitName] = u
			unitOrder = append(unitOrder, unitName)
		}
		u.Lanes = append(u.Lanes, name)
		t.Lanes = append(t.Lanes, ln)
	}

	switch {
	case len(b.hubs) > 0:
		t.Kind = topology.KindHub
	case len(t.Lanes) > 1:
		t.Kind = topology.KindToolChanger
	case len(t.Lanes) == 1:
		t.Kind = topology.KindSingle
	default:
		t.Kind = topology.KindNone
	}
	for _, name := range unitOrder {
		u := units[name]
		u.Kind = t.Kind
		t.Units = append(t.Units, *u)
	}
	return t
}
