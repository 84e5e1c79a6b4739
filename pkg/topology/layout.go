// Physical tool layout derivation
//
// Hub hardware makes the raw lane count a lie: four lanes feeding one
// merged nozzle are still one physical position. The layout groups lanes
// by mapped tool so the nozzle count is the number of distinct tools,
// never the lane count.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package topology

import "sort"

// Position is one distinct physical nozzle position.
type Position struct {
	// Tool is the mapped tool number of the group. It doubles as the
	// display label for the position.
	Tool int

	// Lanes lists the lane names feeding this position, in lane order.
	Lanes []string
}

// Layout is the derived physical view of a Topology. It is recomputed on
// every topology change and carries no state of its own.
type Layout struct {
	// Positions holds one entry per distinct mapped tool, ascending.
	Positions []Position

	// ByTool maps a mapped tool number to its index in Positions.
	ByTool map[int]int

	// Unmapped lists lanes with no tool assignment. They are excluded
	// from the physical count but kept for diagnostics.
	Unmapped []string
}

// PhysicalCount returns the number of distinct physical nozzle positions.
func (l *Layout) PhysicalCount() int {
	return len(l.Positions)
}

// PositionFor returns the physical position index for a mapped tool.
func (l *Layout) PositionFor(tool int) (int, bool) {
	idx, ok := l.ByTool[tool]
	return idx, ok
}

// ComputeLayout derives the physical layout from a topology snapshot.
// Pure function: equal snapshots always yield equal layouts.
func ComputeLayout(t Topology) Layout {
	groups := make(map[int][]string)
	var tools []int
	var unmapped []string

	for _, ln := range t.Lanes {
		if ln.MappedTool == UnmappedTool {
			unmapped = append(unmapped, ln.Name)
			continue
		}
		if _, seen := groups[ln.MappedTool]; !seen {
			tools = append(tools, ln.MappedTool)
		}
		groups[ln.MappedTool] = append(groups[ln.MappedTool], ln.Name)
	}
	sort.Ints(tools)

	layout := Layout{
		Positions: make([]Position, 0, len(tools)),
		ByTool:    make(map[int]int, len(tools)),
		Unmapped:  unmapped,
	}
	for i, tool := range tools {
		layout.Positions = append(layout.Positions, Position{
			Tool:  tool,
			Lanes: groups[tool],
		})
		layout.ByTool[tool] = i
	}
	return layout
}
