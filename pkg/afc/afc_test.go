// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package afc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"sync"
	"testing"

	"ams-host/pkg/backend"
	amserr "ams-host/pkg/errors"
	"ams-host/pkg/log"
	"ams-host/pkg/moonraker"
	"ams-host/pkg/topology"
)

// fakeTransport answers discovery from canned data and records every
// G-code script. Script completion is driven by the test.
type fakeTransport struct {
	mu       sync.Mutex
	objects  []string
	snapshot map[string]json.RawMessage
	scripts  []string
	results  []func(error)
	notify   moonraker.NotifyHandler
}

func (f *fakeTransport) ObjectsList(ctx context.Context) ([]string, error) {
	return f.objects, nil
}

func (f *fakeTransport) ObjectsSubscribe(ctx context.Context, objects map[string][]string) (map[string]json.RawMessage, error) {
	return f.snapshot, nil
}

func (f *fakeTransport) ExecuteGCode(script string, done func(error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts = append(f.scripts, script)
	f.results = append(f.results, done)
}

func (f *fakeTransport) OnNotify(h moonraker.NotifyHandler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notify = h
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.notify = nil
	}
}

func (f *fakeTransport) lastScript() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.scripts) == 0 {
		return ""
	}
	return f.scripts[len(f.scripts)-1]
}

// finish resolves the most recent script.
func (f *fakeTransport) finish(err error) {
	f.mu.Lock()
	done := f.results[len(f.results)-1]
	f.mu.Unlock()
	done(err)
}

func (f *fakeTransport) pushStatus(t *testing.T, status map[string]any) {
	t.Helper()
	f.mu.Lock()
	h := f.notify
	f.mu.Unlock()
	if h == nil {
		t.Fatal("no notify handler registered")
	}
	raw, err := json.Marshal(status)
	if err != nil {
		t.Fatalf("marshal status: %v", err)
	}
	h(moonraker.NotifyStatusUpdate, []json.RawMessage{raw})
}

func stepperJSON(t *testing.T, fields map[string]any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(fields)
	if err != nil {
		t.Fatalf("marshal stepper: %v", err)
	}
	return raw
}

func fourLaneTransport(t *testing.T) *fakeTransport {
	t.Helper()
	f := &fakeTransport{
		objects: []string{
			"AFC_stepper lane10", "AFC_stepper lane2",
			"AFC_stepper lane1", "AFC_stepper lane3",
			"AFC_hub Turtle_1", extruderObject, "gcode_move",
		},
		snapshot: map[string]json.RawMessage{},
	}
	for i, name := range []string{"lane1", "lane2", "lane3", "lane10"} {
		f.snapshot["AFC_stepper "+name] = stepperJSON(t, map[string]any{
			"prep": true, "load": true, "tool_loaded": false,
			"map":      fmt.Sprintf("T%d", i),
			"material": "PLA", "unit": "Turtle_1",
		})
	}
	return f
}

func testLogger() *log.Logger {
	l := log.New("test")
	l.SetWriter(io.Discard)
	return l
}

func startBackend(t *testing.T, f *fakeTransport) *Backend {
	t.Helper()
	b := New(f, testLogger())
	if err := b.Start(); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	t.Cleanup(b.Stop)
	return b
}

func TestStartDiscoversAndOrdersLanes(t *testing.T) {
	b := startBackend(t, fourLaneTransport(t))
	topo := b.Topology()
	var names []string
	for _, ln := range topo.Lanes {
		names = append(names, ln.Name)
	}
	want := []string{"lane1", "lane2", "lane3", "lane10"}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("lane order = %v, want %v", names, want)
	}
	if topo.Kind != topology.KindHub {
		t.Fatalf("Kind = %v, want hub", topo.Kind)
	}
	if len(topo.Units) != 1 || topo.Units[0].Name != "Turtle_1" {
		t.Fatalf("units = %+v, want single Turtle_1", topo.Units)
	}
}

func TestStartWithoutLanesFails(t *testing.T) {
	f := &fakeTransport{objects: []string{"gcode_move", "toolhead"}}
	b := New(f, testLogger())
	err := b.Start()
	if !amserr.Is(err, amserr.ErrNotConnected) {
		t.Fatalf("Start() = %v, want NOT_CONNECTED", err)
	}
}

func TestOperationScripts(t *testing.T) {
	tests := []struct {
		name   string
		invoke func(b *Backend) error
		script string
	}{
		{"change tool", func(b *Backend) error { return b.ChangeTool(1, 2) }, "T2"},
		{"load lane", func(b *Backend) error { return b.Load(1, "lane2") }, "CHANGE_TOOL LANE=lane2"},
		{"unload lane", func(b *Backend) error { return b.Unload(1, "lane2") }, "TOOL_UNLOAD LANE=lane2"},
		{"recover", func(b *Backend) error { return b.Recover(1) }, "AFC_RESET"},
		{"reset", func(b *Backend) error { return b.Reset(1) }, "AFC_HOME"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := fourLaneTransport(t)
			b := startBackend(t, f)
			if err := tt.invoke(b); err != nil {
				t.Fatalf("invoke = %v", err)
			}
			if got := f.lastScript(); got != tt.script {
				t.Fatalf("script = %q, want %q", got, tt.script)
			}
		})
	}
}

func TestCompletionRelaysMacroResult(t *testing.T) {
	f := fourLaneTransport(t)
	b := startBackend(t, f)
	done := make(chan backend.Completion, 1)
	b.OnCompletion(func(c backend.Completion) { done <- c })

	if err := b.ChangeTool(5, 2); err != nil {
		t.Fatalf("ChangeTool(5, 2) = %v", err)
	}
	f.finish(nil)
	c := <-done
	if c.Seq != 5 || c.Err != nil || c.Lane != "lane3" || c.Tool != 2 {
		t.Fatalf("completion = %+v", c)
	}
	mounted, ok := b.CurrentLane()
	if !ok || mounted != "lane3" {
		t.Fatalf("CurrentLane() = %q, %v; want lane3", mounted, ok)
	}
}

func TestMacroFailureBecomesHardwareFailure(t *testing.T) {
	f := fourLaneTransport(t)
	b := startBackend(t, f)
	done := make(chan backend.Completion, 1)
	b.OnCompletion(func(c backend.Completion) { done <- c })

	if err := b.Load(2, "lane1"); err != nil {
		t.Fatalf("Load(2, lane1) = %v", err)
	}
	f.finish(fmt.Errorf("macro error: hub sensor never triggered"))
	c := <-done
	if !amserr.Is(c.Err, amserr.ErrHardwareFailure) {
		t.Fatalf("completion err = %v, want HARDWARE_FAILURE", c.Err)
	}
	if _, ok := b.CurrentLane(); ok {
		t.Fatal("failed load must not mount a lane")
	}
}

func TestBusyRejectionAndRecoverBypass(t *testing.T) {
	f := fourLaneTransport(t)
	b := startBackend(t, f)

	if err := b.ChangeTool(1, 0); err != nil {
		t.Fatalf("ChangeTool(1, 0) = %v", err)
	}
	if err := b.Load(2, "lane2"); !amserr.Is(err, amserr.ErrBusy) {
		t.Fatalf("Load while busy = %v, want BUSY", err)
	}
	// AFC_RESET is the escape hatch and must go through regardless.
	if err := b.Recover(3); err != nil {
		t.Fatalf("Recover while busy = %v", err)
	}
	if got := f.lastScript(); got != "AFC_RESET" {
		t.Fatalf("script = %q, want AFC_RESET", got)
	}
}

func TestUnknownLaneAndToolRejected(t *testing.T) {
	f := fourLaneTransport(t)
	b := startBackend(t, f)

	if err := b.Load(1, "lane99"); !amserr.Is(err, amserr.ErrInvalidTarget) {
		t.Fatalf("Load(lane99) = %v, want INVALID_TARGET", err)
	}
	if err := b.ChangeTool(1, 42); !amserr.Is(err, amserr.ErrInvalidTarget) {
		t.Fatalf("ChangeTool(42) = %v, want INVALID_TARGET", err)
	}
	// Rejections must not leave the backend busy.
	if err := b.ChangeTool(2, 0); err != nil {
		t.Fatalf("ChangeTool after rejections = %v", err)
	}
}

func TestStatusUpdateRebuildsTopology(t *testing.T) {
	f := fourLaneTransport(t)
	b := startBackend(t, f)
	topoCh := make(chan topology.Topology, 4)
	b.OnTopology(func(tp topology.Topology) { topoCh <- tp })

	// Remap lane1 to T7 and mark lane2 out of filament.
	f.pushStatus(t, map[string]any{
		"AFC_stepper lane1": map[string]any{"map": "T7"},
		"AFC_stepper lane2": map[string]any{"prep": false, "load": false, "status": "None"},
	})
	topo := <-topoCh
	ln, _ := topo.LaneByName("lane1")
	if ln.MappedTool != 7 {
		t.Fatalf("lane1 mapped tool = %d, want 7", ln.MappedTool)
	}
	ln, _ = topo.LaneByName("lane2")
	if ln.Status != topology.StatusEmpty {
		t.Fatalf("lane2 status = %v, want empty", ln.Status)
	}
}

func TestLateLaneAdoptedFromUpdate(t *testing.T) {
	f := fourLaneTransport(t)
	b := startBackend(t, f)
	topoCh := make(chan topology.Topology, 1)
	b.OnTopology(func(tp topology.Topology) { topoCh <- tp })

	f.pushStatus(t, map[string]any{
		"AFC_stepper lane4": map[string]any{"prep": true, "load": true, "map": "T4"},
	})
	topo := <-topoCh
	if _, ok := topo.LaneByName("lane4"); !ok {
		t.Fatal("lane4 missing after update")
	}
	if len(topo.Lanes) != 5 {
		t.Fatalf("lanes = %d, want 5", len(topo.Lanes))
	}
}

func TestExtruderSensorTracksMountedLane(t *testing.T) {
	f := fourLaneTransport(t)
	b := startBackend(t, f)
	topoCh := make(chan topology.Topology, 1)
	b.OnTopology(func(tp topology.Topology) { topoCh <- tp })

	f.pushStatus(t, map[string]any{
		extruderObject: map[string]any{"lane_loaded": "lane2"},
	})
	<-topoCh
	mounted, ok := b.CurrentLane()
	if !ok || mounted != "lane2" {
		t.Fatalf("CurrentLane() = %q, %v; want lane2", mounted, ok)
	}
}

func TestParseToolMap(t *testing.T) {
	tests := []struct {
		in   string
		tool int
		ok   bool
	}{
		{"T0", 0, true},
		{"T12", 12, true},
		{"T", 0, false},
		{"X3", 0, false},
		{"T-1", 0, false},
		{"Tx", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		tool, ok := parseToolMap(tt.in)
		if tool != tt.tool || ok != tt.ok {
			t.Errorf("parseToolMap(%q) = %d, %v; want %d, %v", tt.in, tool, ok, tt.tool, tt.ok)
		}
	}
}
