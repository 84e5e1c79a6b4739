// ams-sim runs the tool-change machine against simulated feed hardware
// and exposes a small interactive console, for exercising lane and tool
// operations without a printer attached.
//
// Usage:
//
//	ams-sim [-lanes 4] [-layout hub] [options]
//
// Options:
//
//	-lanes int       Number of simulated lanes (default 4)
//	-layout string   Unit layout: hub, toolchanger, mixed, multi (default "hub")
//	-speedup float   Time compression for simulated feed motion (default 10)
//	-mounted string  Lane mounted at startup
//	-loglevel string Log level (default "warn" to keep the console usable)
//
// Console commands:
//
//	t <n>        change to tool n
//	load <lane>  load filament from a lane
//	unload       unload the mounted lane
//	recover      clear a stuck state (AFC_RESET equivalent)
//	reset        re-home the feed hardware
//	status       print topology, layout and machine state
//	fail <msg>   inject a hardware failure into the next operation
//	quit
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"ams-host/pkg/backend"
	"ams-host/pkg/config"
	"ams-host/pkg/log"
	"ams-host/pkg/machine"
	"ams-host/pkg/mock"
	"ams-host/pkg/topology"
)

func main() {
	lanes := flag.Int("lanes", 4, "Number of simulated lanes")
	layout := flag.String("layout", config.LayoutHub, "Unit layout: hub, toolchanger, mixed, multi")
	speedup := flag.Float64("speedup", 10, "Time compression for simulated feed motion")
	mounted := flag.String("mounted", "", "Lane mounted at startup")
	logLevel := flag.String("loglevel", "warn", "Log level")
	flag.Parse()

	logger := log.New("ams-sim")
	logger.SetLevel(log.ParseLevel(*logLevel))

	mock.SetSpeedup(*speedup)

	cfg := config.DefaultHostConfig()
	cfg.UseMock = true
	cfg.MockLanes = *lanes
	cfg.MockLayout = *layout
	cfg.MockMounted = *mounted

	b := mock.New(cfg, logger)
	m := machine.New(b, logger)
	if err := m.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting simulator: %v\n", err)
		os.Exit(1)
	}
	defer m.Close()

	m.OnState(func(s machine.State) {
		fmt.Printf("  state: %s\n", s)
	})
	m.OnCompletion(func(c backend.Completion) {
		if c.Err != nil {
			fmt.Printf("  %s failed: %v\n", c.Op, c.Err)
		} else {
			fmt.Printf("  %s done (lane %s)\n", c.Op, c.Lane)
		}
	})

	fmt.Printf("ams-sim: %d lanes, %s layout, speedup %gx\n", *lanes, *layout, *speedup)
	printStatus(m)

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		if !dispatch(m, b, strings.Fields(scanner.Text())) {
			return
		}
		fmt.Print("> ")
	}
}

// dispatch runs one console command. Returns false on quit.
func dispatch(m *machine.Machine, b *mock.Mock, args []string) bool {
	if len(args) == 0 {
		return true
	}
	var err error
	switch args[0] {
	case "t":
		if len(args) != 2 {
			fmt.Println("usage: t <tool>")
			return true
		}
		tool, convErr := strconv.Atoi(args[1])
		if convErr != nil {
			fmt.Println("usage: t <tool>")
			return true
		}
		err = m.ChangeTool(tool)
	case "load":
		if len(args) != 2 {
			fmt.Println("usage: load <lane>")
			return true
		}
		err = m.LoadFilament(args[1])
	case "unload":
		err = m.UnloadFilament()
	case "recover":
		err = m.Recover()
	case "reset":
		err = m.Reset()
	case "status":
		printStatus(m)
	case "fail":
		reason := "injected failure"
		if len(args) > 1 {
			reason = strings.Join(args[1:], " ")
		}
		b.FailNext(reason)
		fmt.Println("  next operation will fail")
	case "quit", "exit", "q":
		return false
	default:
		fmt.Printf("unknown command %q\n", args[0])
	}
	if err != nil {
		fmt.Printf("  rejected: %v\n", err)
	}
	return true
}

func printStatus(m *machine.Machine) {
	t := m.Topology()
	l := m.Layout()
	fmt.Printf("  kind=%s lanes=%d tools=%d state=%s\n",
		t.Kind, len(t.Lanes), l.PhysicalCount(), m.State())
	if lane, ok := m.Mounted(); ok {
		fmt.Printf("  mounted: %s\n", lane)
	}
	for _, ln := range t.Lanes {
		tool := "-"
		if ln.MappedTool != topology.UnmappedTool {
			tool = fmt.Sprintf("T%d", ln.MappedTool)
		}
		desc := ln.Material
		if ln.Color != "" {
			desc += " " + ln.Color
		}
		fmt.Printf("  %-8s %-4s %-10s %s\n", ln.Name, tool, ln.Status, desc)
	}
	if msg := m.LastError(); msg != "" {
		fmt.Printf("  last error: %s\n", msg)
	}
}
