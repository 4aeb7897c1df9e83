// Command dlyloc passively observes TCP traffic and estimates
// round-trip time and one-way delay variation from the RFC 7323
// Timestamp option, without sending any probe traffic of its own.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"net/netip"
	"os"
	"time"

	"github.com/brave-experiments/dlyloc/internal/capture"
	"github.com/brave-experiments/dlyloc/internal/config"
	"github.com/brave-experiments/dlyloc/internal/delay"
	"github.com/brave-experiments/dlyloc/internal/output"
)

var l = log.New(os.Stderr, "dlyloc: ", log.Ldate|log.Lmicroseconds|log.LUTC)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.Parse(args, os.Stderr)
	if err != nil {
		return config.ExitUsageError(err)
	}
	if cfg.Help {
		config.Help(os.Stderr, flag.NewFlagSet("dlyloc", flag.ContinueOnError))
		return 0
	}

	filterExpr := capture.BuildFilter(cfg.Filter)

	var src *capture.Source
	var localAddr netip.Addr
	filterLocal := !cfg.ShowLocal

	if cfg.Interface != "" {
		src, err = capture.OpenLive(cfg.Interface, filterExpr, cfg.SnapLen, false)
		if err != nil {
			l.Printf("%v", err)
			return 1
		}
		if filterLocal {
			addr, err := capture.LocalAddr(cfg.Interface)
			if err != nil {
				l.Printf("couldn't get local address, disabling -l filtering: %v", err)
				filterLocal = false
			} else {
				localAddr = addr
			}
		}
	} else {
		src, err = capture.OpenFile(cfg.ReadFile, filterExpr)
		if err != nil {
			l.Printf("%v", err)
			return 1
		}
	}
	defer src.Close()

	flushInt := time.Second
	if src.Live() && cfg.Machine {
		flushInt /= 10
	}

	disp := delay.NewDispatcher(delay.Config{
		TsvalMaxAge: cfg.TsvalMaxAge,
		FlowMaxIdle: cfg.FlowMaxIdle,
		MaxFlows:    cfg.MaxFlows,
		FilterLocal: filterLocal,
		LocalAddr:   localAddr,
	})
	disp.Logger = l

	bufOut := bufio.NewWriter(os.Stdout)
	w := output.NewWriter(bufOut, cfg.Machine)
	stdout := newFlusher(bufOut, flushInt)
	defer stdout.flush()

	announcedFirst := false
	captured := 0 // total packets read; unlike disp.Counters, never reset

	for poR := range src.Packets() {
		captured++
		if poR.Kind != delay.RejectNone {
			disp.RejectPacket(poR.Kind)
			continue
		}

		wallTime := poR.Packet.CaptureTime
		if !announcedFirst {
			announcedFirst = true
			if cfg.SumInt > 0 {
				l.Printf("First packet at %s", time.Unix(int64(wallTime), 0).Local().Format(time.ANSIC))
			}
		}

		res, ok := disp.Process(wallTime, poR.Packet)
		if ok {
			w.WriteResult(res, disp.OffsetSeconds(), time.Unix(int64(wallTime), 0))
			stdout.maybeFlush()
		}

		if stop := checkStopConditions(disp, cfg, captured); stop {
			mean, stddev, flows, haveClock := disp.ClockDiagnostics()
			output.WriteSummary(os.Stderr, disp.Flows.Len(), disp.Counters, mean, stddev, flows, haveClock)
			output.WriteCaptureReport(os.Stderr, captured, disp.RunSeconds())
			return 0
		}

		if disp.MaybeSummary(cfg.SumInt) {
			mean, stddev, flows, haveClock := disp.ClockDiagnostics()
			output.WriteSummary(os.Stderr, disp.Flows.Len(), disp.Counters, mean, stddev, flows, haveClock)
			disp.Counters.Reset()
		}
		disp.MaybeSweep()
	}

	output.WriteCaptureReport(os.Stderr, captured, disp.RunSeconds())
	return 0
}

func checkStopConditions(disp *delay.Dispatcher, cfg *config.Config, captured int) bool {
	if cfg.Seconds > 0 && disp.RunSeconds() >= cfg.Seconds {
		return true
	}
	if cfg.MaxPackets > 0 && float64(captured) >= cfg.MaxPackets {
		return true
	}
	return false
}

// flusher batches stdout flushes at a fixed cadence instead of
// flushing on every write.
type flusher struct {
	f        flushable
	interval time.Duration
	next     time.Time
}

type flushable interface {
	Flush() error
}

func newFlusher(f flushable, interval time.Duration) *flusher {
	return &flusher{f: f, interval: interval, next: time.Now().Add(interval)}
}

func (fl *flusher) maybeFlush() {
	now := time.Now()
	if now.Before(fl.next) {
		return
	}
	fl.flush()
	fl.next = now.Add(fl.interval)
}

func (fl *flusher) flush() {
	if err := fl.f.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "flush error: %v\n", err)
	}
}
