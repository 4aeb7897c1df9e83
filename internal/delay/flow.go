package delay

import "math"

// FlowRecord holds the per-flow state needed for delay estimation:
// counters, the running minimum RTT, a weak link to the paired
// reverse flow, and the ClockEstimator used for delay-variation
// computation. FlowRecord
// is always owned by a FlowTable; the only code that may set or clear
// the Peer field is FlowTable, on pairing and on eviction.
type FlowRecord struct {
	Key  FlowKey
	Name string

	PktCount  int
	ByteCount uint64

	StartTm float64
	StartTS int64
	LastTm  float64

	Paired bool
	Peer   *FlowRecord // non-owning; FlowTable clears this on peer eviction

	tsExt  Extender
	ecrExt Extender

	MinRTT float64 // +Inf until a passive-ping match is found
	MinTS  int64   // extended TSval (absolute) at which MinRTT was set
	MinTm  float64

	Clock *ClockEstimator
}

// NewFlowRecord creates a fresh FlowRecord for key, seeded from the
// flow's first packet.
func NewFlowRecord(key FlowKey, captureTime float64, firstTSval uint32) *FlowRecord {
	fr := &FlowRecord{
		Key:    key,
		Name:   key.String(),
		MinRTT: math.Inf(1),
		Clock:  NewClockEstimator(),
	}
	fr.StartTm = captureTime
	fr.StartTS = fr.tsExt.Extend(firstTSval)
	fr.Clock.SetFirstInterval()
	return fr
}

// ExtendTSval extends this flow's raw 32-bit TSval using the flow's
// own wrap-tracking Extender. Call exactly once per accepted packet
// after the flow's first; NewFlowRecord already extends that one.
func (fr *FlowRecord) ExtendTSval(ts uint32) int64 { return fr.tsExt.Extend(ts) }

// ExtendECR extends this flow's raw 32-bit ECR using a separate
// Extender from the TSval one (ECR wraps independently).
func (fr *FlowRecord) ExtendECR(ecr uint32) int64 { return fr.ecrExt.Extend(ecr) }

// Ingest folds in a new packet's counters and capture time and feeds
// the flow's clock estimator. extTS must already be the flow's
// extended TSval for this packet (see ExtendTSval).
func (fr *FlowRecord) Ingest(captureTime float64, size int, extTS int64) {
	fr.PktCount++
	fr.ByteCount += uint64(size)
	fr.LastTm = captureTime
	fr.Clock.Update(captureTime, extTS, fr.StartTm, fr.StartTS, fr.PktCount, fr.MinTS, fr.MinTm)
}

// NoteRTT records a freshly matched passive-ping RTT sample, updating
// MinRTT/MinTS/MinTm if it beats the current minimum. extTS is the
// extended TSval of the packet that produced the match.
func (fr *FlowRecord) NoteRTT(rtt float64, extTS int64, captureTime float64) {
	if rtt < fr.MinRTT {
		fr.MinRTT = rtt
		fr.MinTS = extTS
		fr.MinTm = captureTime
	}
}

// ComputeDV produces up to three delay-variation values for a packet
// with extended TSval extTS and extended ECR extECR observed at
// captureTime. Each of dv0/dv1/dv2 is nil when it could not be
// computed for this packet; ok reports whether any value was
// produced.
func (fr *FlowRecord) ComputeDV(captureTime float64, extTS, extECR int64) (dv0, dv1, dv2 *float64, ok bool) {
	var srcTm float64
	haveSrc := false

	if fr.Clock.ClkSet() {
		zeroTS, zeroTm := fr.Clock.Zero()
		srcTm = float64(extTS-zeroTS)*fr.Clock.SpTS() + zeroTm
		if srcTm > captureTime {
			srcTm = captureTime
		}
		v := captureTime - srcTm
		dv1 = &v
		haveSrc = true
		ok = true
	}

	if !fr.Paired || fr.Peer == nil || !fr.Peer.Clock.ClkSet() {
		return dv0, dv1, dv2, ok
	}

	peerZeroTS, peerZeroTm := fr.Peer.Clock.Zero()
	dstTm := float64(extECR-peerZeroTS)*fr.Peer.Clock.SpTS() + peerZeroTm
	if dstTm > captureTime {
		return dv0, dv1, dv2, ok
	}
	v2 := captureTime - dstTm
	dv2 = &v2
	ok = true

	if haveSrc {
		v0 := srcTm - dstTm
		dv0 = &v0
	}
	return dv0, dv1, dv2, ok
}
