// Backend capability contract for AMS feed hardware
//
// A backend drives one concrete AMS implementation (real AFC hardware or
// the deterministic mock) behind a single capability surface. Operations
// are asynchronous: an accepted request returns immediately and later
// yields exactly one completion tagged with the request's sequence number.
// There is no cancellation; feed motors cannot be safely interrupted
// mid-stroke, so an operation always runs to success or failure.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package backend

import "ams-host/pkg/topology"

// Op identifies the kind of hardware operation a completion refers to.
type Op int

const (
	OpChangeTool Op = iota
	OpLoad
	OpUnload
	OpRecover
	OpReset
)

func (o Op) String() string {
	switch o {
	case OpChangeTool:
		return "change_tool"
	case OpLoad:
		return "load"
	case OpUnload:
		return "unload"
	case OpRecover:
		return "recover"
	case OpReset:
		return "reset"
	default:
		return "unknown"
	}
}

// Completion reports the terminal outcome of one accepted request.
type Completion struct {
	// Seq echoes the sequence number the request carried.
	Seq uint64

	// Op is the operation that finished.
	Op Op

	// Lane is the lane the operation acted on, when known.
	Lane string

	// Tool is the tool number involved, or topology.UnmappedTool.
	Tool int

	// Err is nil on success, otherwise the hardware failure.
	Err error
}

// CompletionHandler receives exactly one Completion per accepted request.
type CompletionHandler func(Completion)

// TopologyHandler receives replacement topology snapshots.
type TopologyHandler func(topology.Topology)

// Backend is the capability set every AMS implementation provides.
type Backend interface {
	// Start brings the backend up. Safe to call once before any operation.
	Start() error

	// Stop tears the backend down. In-flight work is abandoned cleanly:
	// no completion is delivered after Stop returns.
	Stop()

	// Topology returns the current lane/tool snapshot.
	Topology() topology.Topology

	// CurrentLane reports the mounted lane, if any.
	CurrentLane() (string, bool)

	// ChangeTool begins a tool change to the given physical tool.
	ChangeTool(seq uint64, tool int) error

	// Load begins loading filament from the named lane.
	Load(seq uint64, lane string) error

	// Unload begins unloading the named lane.
	Unload(seq uint64, lane string) error

	// Recover clears a stuck error state. Unlike the other operations it
	// is accepted even while the backend reports busy.
	Recover(seq uint64) error

	// Reset re-homes the feed hardware.
	Reset(seq uint64) error

	// OnCompletion registers the completion sink. One sink per backend.
	OnCompletion(CompletionHandler)

	// OnTopology registers the topology-change sink.
	OnTopology(TopologyHandler)
}
