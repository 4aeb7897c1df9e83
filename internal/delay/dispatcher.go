package delay

import (
	"log"
	"math"
	"net/netip"
)

// RejectKind classifies why a captured packet never reached Process.
// Packet acquisition (internal/capture) decides which of these
// applies to a given frame; the Dispatcher only counts them.
type RejectKind int

const (
	// RejectNone is never itself reported; it exists so the zero
	// value of RejectKind is not a valid rejection.
	RejectNone RejectKind = iota
	RejectNotTCP
	RejectNoTimestamp
	RejectNotV4orV6
)

// Counters tallies packets seen in the current summary interval,
// broken down by why each was rejected (or not).
type Counters struct {
	Packets  int
	NotTCP   int
	NoTS     int
	NotV4or6 int
	UniDir   int
}

// Reset zeroes every counter, as done when a summary line is emitted.
func (c *Counters) Reset() { *c = Counters{} }

// Config holds the knobs the CLI exposes into the Dispatcher.
type Config struct {
	TsvalMaxAge float64 // MatchTable aging interval, seconds
	FlowMaxIdle float64 // FlowTable idle-eviction interval, seconds
	MaxFlows    int     // FlowTable capacity; 0 means unlimited
	FilterLocal bool    // suppress passive-ping tracking toward LocalAddr
	LocalAddr   netip.Addr
}

// Dispatcher is the per-packet entry point: it owns the FlowTable and
// MatchTable, the capture-time origin, and the rolling counters, and
// drives flow lookup, TSval extension, clock estimation, and
// passive-ping matching for every accepted packet.
type Dispatcher struct {
	cfg Config

	Flows *FlowTable
	Match *MatchTable

	haveOffset bool
	offTm      int64   // floor of the first accepted packet's wall time
	startm     float64 // fractional remainder of the first packet's wall time
	capTm      float64 // most recent relative capture time

	Counters Counters

	nextSweep float64
	haveSweep bool

	nextSummary float64
	haveSummary bool

	// Logger receives invariant-breach diagnostics; nil disables them.
	Logger *log.Logger
}

// NewDispatcher constructs a Dispatcher from cfg.
func NewDispatcher(cfg Config) *Dispatcher {
	return &Dispatcher{
		cfg:   cfg,
		Flows: NewFlowTable(cfg.MaxFlows),
		Match: NewMatchTable(),
	}
}

// OffsetSeconds returns the whole-seconds origin subtracted from
// every packet's wall-clock time to keep relative capture times well
// within a float64 mantissa. It is only meaningful after the first
// packet has been processed.
func (d *Dispatcher) OffsetSeconds() int64 { return d.offTm }

// CaptureTime returns the most recently processed packet's relative
// capture time.
func (d *Dispatcher) CaptureTime() float64 { return d.capTm }

// RunSeconds returns how much capture time has elapsed since the
// first accepted packet.
func (d *Dispatcher) RunSeconds() float64 {
	if !d.haveOffset {
		return 0
	}
	return d.capTm - d.startm
}

// RejectPacket records a packet that internal/capture could not
// decode into a Packet, bumping the matching named counter.
func (d *Dispatcher) RejectPacket(kind RejectKind) {
	d.Counters.Packets++
	switch kind {
	case RejectNotTCP:
		d.Counters.NotTCP++
	case RejectNoTimestamp:
		d.Counters.NoTS++
	case RejectNotV4orV6:
		d.Counters.NotV4or6++
	}
}

// Process runs the full per-packet pipeline on a successfully decoded
// packet, given its absolute wall-clock capture time in seconds: flow
// lookup/creation, TSval/ECR extension, clock and delay-variation
// estimation, and passive-ping matching. It returns the Result to
// emit, if any.
func (d *Dispatcher) Process(wallTime float64, pkt Packet) (*Result, bool) {
	d.Counters.Packets++

	if pkt.TSval == 0 || (pkt.ECR == 0 && !pkt.SYN) {
		return nil, false
	}

	if !d.haveOffset {
		d.haveOffset = true
		d.offTm = int64(math.Floor(wallTime))
		d.startm = wallTime - float64(d.offTm)
		d.capTm = d.startm
	} else {
		d.capTm = wallTime - float64(d.offTm)
	}
	pkt.CaptureTime = d.capTm

	fr, created, ok := d.Flows.GetOrCreate(pkt.Key, d.capTm, pkt.TSval)
	if !ok {
		// Table at capacity; drop silently.
		return nil, false
	}
	if fr.Paired && fr.Peer == nil {
		// Invariant breach: paired without a resolvable peer.
		// Log once and skip rather than abort.
		if d.Logger != nil {
			d.Logger.Printf("flow %s: paired but peer is nil, skipping packet", fr.Name)
		}
		return nil, false
	}

	var extTS int64
	if created {
		extTS = fr.StartTS
	} else {
		extTS = fr.ExtendTSval(pkt.TSval)
	}
	extECR := fr.ExtendECR(pkt.ECR)

	fr.Ingest(d.capTm, pkt.Size, extTS)

	dv0, dv1, dv2, haveDV := fr.ComputeDV(d.capTm, extTS, extECR)

	var rtt float64
	haveMatch := false
	if fr.Paired {
		rtt, haveMatch = d.Match.MatchAndInvalidate(pkt.Key.Reverse(), pkt.ECR, d.capTm)
	} else {
		d.Counters.UniDir++
	}
	if !d.cfg.FilterLocal || d.cfg.LocalAddr != pkt.Key.Dst {
		d.Match.InsertIfAbsent(pkt.Key, pkt.TSval, d.capTm)
	}

	res := &Result{
		CaptureTime: d.capTm,
		Bytes:       fr.ByteCount,
		DV0:         dv0,
		DV1:         dv1,
		DV2:         dv2,
		Flow:        fr.Name,
	}

	if haveMatch {
		fr.NoteRTT(rtt, extTS, d.capTm)
		res.RTT = &rtt
		minRTT := fr.MinRTT
		res.MinRTT = &minRTT
		return res, true
	}

	if haveDV {
		return res, true
	}

	return nil, false
}

// ClockDiagnostics aggregates ClockEstimator diagnostics across every
// live flow with a committed clock, for inclusion in the periodic
// summary line.
func (d *Dispatcher) ClockDiagnostics() (mean, stddev float64, flows int, ok bool) {
	return d.Flows.Diagnostics()
}

// MaybeSweep runs the MatchTable and FlowTable aging sweeps if at
// least TsvalMaxAge capture-time seconds have passed since the last
// one. It is safe to call on every packet.
func (d *Dispatcher) MaybeSweep() (ran bool) {
	if d.cfg.TsvalMaxAge <= 0 {
		return false
	}
	if !d.haveSweep {
		d.haveSweep = true
		d.nextSweep = d.capTm + d.cfg.TsvalMaxAge
		return false
	}
	if d.capTm < d.nextSweep {
		return false
	}
	d.Match.Sweep(d.capTm, d.cfg.TsvalMaxAge)
	d.Flows.Sweep(d.capTm, d.cfg.FlowMaxIdle)
	d.nextSweep = d.capTm + d.cfg.TsvalMaxAge
	return true
}

// MaybeSummary reports whether sumInt capture-time seconds have passed
// since the last summary line was due. It never resets Counters
// itself: the caller reads them, prints its summary line, and must
// call Counters.Reset() afterward. A sumInt of 0 or less disables
// summaries.
func (d *Dispatcher) MaybeSummary(sumInt float64) (due bool) {
	if sumInt <= 0 {
		return false
	}
	if !d.haveSummary {
		d.haveSummary = true
		d.nextSummary = d.capTm + sumInt
		return false
	}
	if d.capTm < d.nextSummary {
		return false
	}
	d.nextSummary = d.capTm + sumInt
	return true
}
