// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package topology

import (
	"reflect"
	"testing"
)

// hubTopology builds n lanes all feeding the given tool.
func hubTopology(n, tool int) Topology {
	t := Topology{Kind: KindHub}
	for i := 0; i < n; i++ {
		ln := NewLane(laneName(i))
		ln.MappedTool = tool
		ln.Status = StatusAvailable
		t.Lanes = append(t.Lanes, ln)
	}
	return t
}

func laneName(i int) string {
	return "lane" + string(rune('0'+i))
}

func TestComputeLayoutHubCollapsesToOnePosition(t *testing.T) {
	// lane0..lane3 all feed T0: one physical nozzle, four lanes on it.
	topo := hubTopology(4, 0)

	layout := ComputeLayout(topo)

	if layout.PhysicalCount() != 1 {
		t.Fatalf("PhysicalCount() = %d, want 1", layout.PhysicalCount())
	}
	want := []string{"lane0", "lane1", "lane2", "lane3"}
	if !reflect.DeepEqual(layout.Positions[0].Lanes, want) {
		t.Errorf("position lanes = %v, want %v", layout.Positions[0].Lanes, want)
	}
	if layout.Positions[0].Tool != 0 {
		t.Errorf("position tool = %d, want 0", layout.Positions[0].Tool)
	}
}

func TestComputeLayoutToolChanger(t *testing.T) {
	// 1:1 lane-to-tool mapping: positions equal lanes.
	topo := Topology{Kind: KindToolChanger}
	for i := 0; i < 4; i++ {
		ln := NewLane(laneName(i))
		ln.MappedTool = i
		topo.Lanes = append(topo.Lanes, ln)
	}

	layout := ComputeLayout(topo)

	if layout.PhysicalCount() != 4 {
		t.Fatalf("PhysicalCount() = %d, want 4", layout.PhysicalCount())
	}
	for i, pos := range layout.Positions {
		if pos.Tool != i {
			t.Errorf("Positions[%d].Tool = %d, want %d", i, pos.Tool, i)
		}
		if len(pos.Lanes) != 1 {
			t.Errorf("Positions[%d] has %d lanes, want 1", i, len(pos.Lanes))
		}
	}
}

func TestComputeLayoutDistinctToolCount(t *testing.T) {
	tests := []struct {
		name  string
		tools []int // mapped tool per lane, -1 for unmapped
		count int
	}{
		{"two hubs of two", []int{0, 0, 1, 1}, 2},
		{"all distinct", []int{0, 1, 2, 3}, 4},
		{"all shared", []int{7, 7, 7}, 1},
		{"interleaved groups", []int{0, 1, 0, 1, 0}, 2},
		{"sparse tool numbers", []int{10, 4, 10}, 2},
		{"empty topology", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			topo := Topology{Kind: KindHub}
			for i, tool := range tt.tools {
				ln := NewLane(laneName(i))
				ln.MappedTool = tool
				topo.Lanes = append(topo.Lanes, ln)
			}
			layout := ComputeLayout(topo)
			if layout.PhysicalCount() != tt.count {
				t.Errorf("PhysicalCount() = %d, want %d", layout.PhysicalCount(), tt.count)
			}
		})
	}
}

func TestComputeLayoutUnmappedExcludedButRetained(t *testing.T) {
	topo := Topology{Kind: KindHub}
	mapped := NewLane("lane0")
	mapped.MappedTool = 0
	orphan := NewLane("lane1")
	orphan.MappedTool = UnmappedTool
	topo.Lanes = []Lane{mapped, orphan}

	layout := ComputeLayout(topo)

	if layout.PhysicalCount() != 1 {
		t.Errorf("PhysicalCount() = %d, want 1", layout.PhysicalCount())
	}
	if !reflect.DeepEqual(layout.Unmapped, []string{"lane1"}) {
		t.Errorf("Unmapped = %v, want [lane1]", layout.Unmapped)
	}
}

func TestComputeLayoutPositionsSortedByTool(t *testing.T) {
	topo := Topology{Kind: KindToolChanger}
	for i, tool := range []int{5, 1, 3} {
		ln := NewLane(laneName(i))
		ln.MappedTool = tool
		topo.Lanes = append(topo.Lanes, ln)
	}

	layout := ComputeLayout(topo)

	var got []int
	for _, pos := range layout.Positions {
		got = append(got, pos.Tool)
	}
	if !reflect.DeepEqual(got, []int{1, 3, 5}) {
		t.Errorf("position tools = %v, want [1 3 5]", got)
	}
	for tool, idx := range layout.ByTool {
		if layout.Positions[idx].Tool != tool {
			t.Errorf("ByTool[%d] = %d points at tool %d", tool, idx, layout.Positions[idx].Tool)
		}
	}
}

func TestComputeLayoutIsPure(t *testing.T) {
	topo := hubTopology(3, 2)
	first := ComputeLayout(topo)
	second := ComputeLayout(topo)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("repeated derivation differs: %+v != %+v", first, second)
	}
}

func TestTopologyTools(t *testing.T) {
	topo := Topology{}
	for i, tool := range []int{3, 0, 3, UnmappedTool, 1} {
		ln := NewLane(laneName(i))
		ln.MappedTool = tool
		topo.Lanes = append(topo.Lanes, ln)
	}
	got := topo.Tools()
	if !reflect.DeepEqual(got, []int{0, 1, 3}) {
		t.Errorf("Tools() = %v, want [0 1 3]", got)
	}
}

func TestTopologyLaneForTool(t *testing.T) {
	topo := hubTopology(4, 0)
	ln, ok := topo.LaneForTool(0)
	if !ok || ln.Name != "lane0" {
		t.Errorf("LaneForTool(0) = (%q, %v), want (lane0, true)", ln.Name, ok)
	}
	if _, ok := topo.LaneForTool(9); ok {
		t.Error("LaneForTool(9) found a lane in a single-tool topology")
	}
	if _, ok := topo.LaneForTool(UnmappedTool); ok {
		t.Error("LaneForTool(UnmappedTool) must never match")
	}
}

func TestTopologyCloneIsDeep(t *testing.T) {
	topo := hubTopology(2, 0)
	topo.Units = []Unit{{Name: "Turtle_1", Kind: KindHub, Lanes: []string{"lane0", "lane1"}}}

	clone := topo.Clone()
	clone.Lanes[0].MappedTool = 9
	clone.Units[0].Lanes[0] = "laneX"

	if topo.Lanes[0].MappedTool != 0 {
		t.Error("clone shares lane storage with original")
	}
	if topo.Units[0].Lanes[0] != "lane0" {
		t.Error("clone shares unit storage with original")
	}
}
