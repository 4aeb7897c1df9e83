// Package output renders Dispatcher results and summaries as either a
// compact machine-readable line suited to graphing, or a
// human-readable one with local wall-clock time and SI-scaled
// durations.
package output

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/brave-experiments/dlyloc/internal/delay"
)

// Writer renders Result and Counters values to an underlying stream.
// Machine mirrors the -m/--machine flag.
type Writer struct {
	w       io.Writer
	Machine bool
}

// NewWriter constructs a Writer over w.
func NewWriter(w io.Writer, machine bool) *Writer {
	return &Writer{w: w, Machine: machine}
}

// fmtTimeDiff renders a duration with an SI prefix (u/m/none) and a
// precision that shrinks as the magnitude grows.
func fmtTimeDiff(dt float64) string {
	prefix := ""
	switch {
	case dt < 1e-3:
		dt *= 1e6
		prefix = "u"
	case dt < 1:
		dt *= 1e3
		prefix = "m"
	}
	switch {
	case dt < 10:
		return fmt.Sprintf("%.2f%ss", dt, prefix)
	case dt < 100:
		return fmt.Sprintf("%.1f%ss", dt, prefix)
	default:
		return fmt.Sprintf("%.0f%ss", dt, prefix)
	}
}

// fmtOptional renders *v with fmtTimeDiff, or "-" when v is nil, for
// an absent DV component.
func fmtOptional(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmtTimeDiff(*v)
}

// WriteResult renders one Result line, offset by offsetSeconds (the
// capture-time origin established at the first accepted packet) and
// wallClock (only used for the human-readable local time-of-day
// column).
func (wr *Writer) WriteResult(res *delay.Result, offsetSeconds int64, wallClock time.Time) {
	if wr.Machine {
		wr.writeMachine(res, offsetSeconds)
	} else {
		wr.writeHuman(res, wallClock)
	}
	fmt.Fprintf(wr.w, " %s\n", res.Flow)
}

func (wr *Writer) writeMachine(res *delay.Result, offsetSeconds int64) {
	secs := int64(res.CaptureTime) + offsetSeconds
	micros := int((res.CaptureTime - math.Floor(res.CaptureTime)) * 1e6)

	if res.RTT != nil {
		fmt.Fprintf(wr.w, "%d.%06d %.6f %.6f %d %s %s %s",
			secs, micros, *res.RTT, valueOr(res.MinRTT, -1), res.Bytes,
			machineDV(res.DV0), machineDV(res.DV1), machineDV(res.DV2))
		return
	}
	fmt.Fprintf(wr.w, "%d.%06d -1 -1 %d %s %s %s",
		secs, micros, res.Bytes, machineDV(res.DV0), machineDV(res.DV1), machineDV(res.DV2))
}

func machineDV(v *float64) string {
	if v == nil {
		return "-1.000000"
	}
	return fmt.Sprintf("%.6f", *v)
}

func valueOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func (wr *Writer) writeHuman(res *delay.Result, wallClock time.Time) {
	tbuff := wallClock.Local().Format("15:04:05")
	if res.RTT != nil {
		fmt.Fprintf(wr.w, "%s %s %s", tbuff, fmtTimeDiff(*res.RTT), fmtTimeDiff(*res.MinRTT))
	} else {
		fmt.Fprintf(wr.w, "%s - -", tbuff)
	}
	fmt.Fprintf(wr.w, " %s %s %s", fmtOptional(res.DV0), fmtOptional(res.DV1), fmtOptional(res.DV2))
}

// printnz renders "<v><suffix>" only when v is positive; used to
// build the summary line's optional clauses.
func printnz(v int, suffix string) string {
	if v > 0 {
		return fmt.Sprintf("%d%s", v, suffix)
	}
	return ""
}

// WriteSummary renders one periodic summary line to w. When haveClock
// is true, clockMean/clockStddev (gonum's mean and standard deviation,
// across clockFlows flows with a committed clock, of each flow's mean
// hull capture time) are appended as a trailing diagnostic clause.
func WriteSummary(w io.Writer, flowCount int, counters delay.Counters, clockMean, clockStddev float64, clockFlows int, haveClock bool) {
	fmt.Fprintf(w, "%d flows, %d packets, %s%s%s%s",
		flowCount, counters.Packets,
		printnz(counters.NoTS, " no TS opt, "),
		printnz(counters.UniDir, " uni-directional, "),
		printnz(counters.NotTCP, " not TCP, "),
		printnz(counters.NotV4or6, " not v4 or v6, "))
	if haveClock {
		fmt.Fprintf(w, "clock mean=%.6f stddev=%.6f (%d flows)", clockMean, clockStddev, clockFlows)
	}
	fmt.Fprintln(w)
}

// WriteCaptureReport renders the terminal "Captured N packets in T
// seconds" line printed once capture stops.
func WriteCaptureReport(w io.Writer, packets int, seconds float64) {
	fmt.Fprintf(w, "Captured %d packets in %.6f seconds\n", packets, seconds)
}
