// Lane/tool topology model for AMS feed hardware
//
// A Topology is a wholesale snapshot of what the active backend reports:
// the ordered feed lanes, the hardware units they belong to, and the kind
// of filament path the hardware implements. Consumers never mutate a
// snapshot field-by-field; backends publish a replacement instead.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package topology

import (
	"sort"

	"ams-host/pkg/lane"
)

// Kind classifies the filament path of a unit or of the system as a whole.
type Kind int

const (
	// KindNone means no AMS hardware is present.
	KindNone Kind = iota

	// KindSingle is a plain single-extruder path (one lane, one tool).
	KindSingle

	// KindToolChanger maps each lane 1:1 to its own physical tool.
	KindToolChanger

	// KindHub merges multiple lanes into one physical tool through a hub.
	KindHub
)

func (k Kind) String() string {
	switch k {
	case KindSingle:
		return "single"
	case KindToolChanger:
		return "toolchanger"
	case KindHub:
		return "hub"
	default:
		return "none"
	}
}

// LaneStatus describes the filament availability of a lane.
type LaneStatus int

const (
	StatusUnknown LaneStatus = iota
	StatusEmpty
	StatusAvailable
	StatusLoaded
)

func (s LaneStatus) String() string {
	switch s {
	case StatusEmpty:
		return "empty"
	case StatusAvailable:
		return "available"
	case StatusLoaded:
		return "loaded"
	default:
		return "unknown"
	}
}

// UnmappedTool marks a lane that has no physical tool assignment yet.
const UnmappedTool = -1

// Lane is one physical feed channel.
type Lane struct {
	// Name is the backend's identifier, unique within a snapshot.
	Name string

	// Index is the ordering key parsed from Name, or -1 when the name
	// carries no numeric suffix.
	Index int

	// MappedTool is the physical tool this lane feeds, or UnmappedTool.
	// Several lanes share a tool on hub hardware.
	MappedTool int

	// Unit names the hardware unit the lane belongs to.
	Unit string

	// Status reports filament availability.
	Status LaneStatus

	// Filament metadata, opaque to the control core. ColorRGB is the
	// hex form the hardware reports, e.g. "#00aeff".
	Material string
	Color    string
	ColorRGB string
}

// Unit is one hardware unit (a box of lanes sharing a controller).
type Unit struct {
	Name  string
	Kind  Kind
	Lanes []string
}

// Topology is a snapshot of the lane/tool arrangement.
type Topology struct {
	Kind  Kind
	Lanes []Lane
	Units []Unit
}

// NewLane builds a Lane with its ordering index derived from the name.
func NewLane(name string) Lane {
	idx := -1
	if n, ok := lane.ParseIndex(name); ok {
		idx = n
	}
	return Lane{Name: name, Index: idx, MappedTool: UnmappedTool}
}

// LaneByName returns the lane with the given name.
func (t *Topology) LaneByName(name string) (Lane, bool) {
	for _, ln := range t.Lanes {
		if ln.Name == name {
			return ln, true
		}
	}
	return Lane{}, false
}

// LaneForTool returns the first lane feeding the given tool.
func (t *Topology) LaneForTool(tool int) (Lane, bool) {
	if tool == UnmappedTool {
		return Lane{}, false
	}
	for _, ln := range t.Lanes {
		if ln.MappedTool == tool {
			return ln, true
		}
	}
	return Lane{}, false
}

// HasTool reports whether any lane feeds the given tool.
func (t *Topology) HasTool(tool int) bool {
	_, ok := t.LaneForTool(tool)
	return ok
}

// Tools returns the distinct mapped tool numbers in ascending order.
func (t *Topology) Tools() []int {
	seen := make(map[int]struct{})
	var tools []int
	for _, ln := range t.Lanes {
		if ln.MappedTool == UnmappedTool {
			continue
		}
		if _, dup := seen[ln.MappedTool]; dup {
			continue
		}
		seen[ln.MappedTool] = struct{}{}
		tools = append(tools, ln.MappedTool)
	}
	sort.Ints(tools)
	return tools
}

// Clone returns a deep copy so a published snapshot cannot alias backend
// internals.
func (t *Topology) Clone() Topology {
	out := Topology{Kind: t.Kind}
	out.Lanes = make([]Lane, len(t.Lanes))
	copy(out.Lanes, t.Lanes)
	out.Units = make([]Unit, len(t.Units))
	for i, u := range t.Units {
		cu := u
		cu.Lanes = make([]string, len(u.Lanes))
		copy(cu.Lanes, u.Lanes)
		out.Units[i] = cu
	}
	return out
}
