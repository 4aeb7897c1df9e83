package delay

import "gonum.org/v1/gonum/stat"

// FlowTable owns every live FlowRecord, keyed by FlowKey, up to
// maxFlows. It is the sole writer of FlowRecord.Peer/Paired: it sets
// both on insertion when a reverse flow already exists, and clears
// both on the peer's side when a flow is evicted.
type FlowTable struct {
	flows    map[FlowKey]*FlowRecord
	maxFlows int
}

// NewFlowTable constructs an empty FlowTable with the given capacity.
// A maxFlows of 0 means unlimited.
func NewFlowTable(maxFlows int) *FlowTable {
	return &FlowTable{flows: make(map[FlowKey]*FlowRecord), maxFlows: maxFlows}
}

// Get returns the existing FlowRecord for key, if any.
func (ft *FlowTable) Get(key FlowKey) (*FlowRecord, bool) {
	fr, ok := ft.flows[key]
	return fr, ok
}

// Len reports the number of live flows.
func (ft *FlowTable) Len() int { return len(ft.flows) }

// GetOrCreate returns the FlowRecord for key, creating and pairing it
// against its reverse flow (if present) when it doesn't exist yet.
// created reports whether a new record was made; ok is false only
// when the table is at capacity and key is not already present, in
// which case the caller must drop the packet.
func (ft *FlowTable) GetOrCreate(key FlowKey, captureTime float64, firstTSval uint32) (fr *FlowRecord, created, ok bool) {
	if fr, exists := ft.flows[key]; exists {
		return fr, false, true
	}
	if ft.maxFlows > 0 && len(ft.flows) >= ft.maxFlows {
		return nil, false, false
	}

	fr = NewFlowRecord(key, captureTime, firstTSval)
	ft.flows[key] = fr

	if peer, exists := ft.flows[key.Reverse()]; exists {
		peer.Paired = true
		peer.Peer = fr
		fr.Paired = true
		fr.Peer = peer
	}

	return fr, true, true
}

// Diagnostics aggregates ClockEstimator.Diagnostics() across every
// live flow with a committed clock, reporting the mean and standard
// deviation of those per-flow means. ok is false when no flow has a
// committed clock yet.
func (ft *FlowTable) Diagnostics() (mean, stddev float64, flows int, ok bool) {
	var means []float64
	for _, fr := range ft.flows {
		if !fr.Clock.ClkSet() {
			continue
		}
		m, _ := fr.Clock.Diagnostics()
		means = append(means, m)
	}
	if len(means) == 0 {
		return 0, 0, 0, false
	}
	mean, stddev = stat.MeanStdDev(means, nil)
	return mean, stddev, len(means), true
}

// Sweep evicts every flow whose LastTm is more than maxIdle behind
// now, clearing the evicted flow's peer's pairing atomically.
func (ft *FlowTable) Sweep(now, maxIdle float64) (evicted int) {
	for key, fr := range ft.flows {
		if now-fr.LastTm <= maxIdle {
			continue
		}
		if fr.Paired && fr.Peer != nil {
			fr.Peer.Paired = false
			fr.Peer.Peer = nil
		}
		delete(ft.flows, key)
		evicted++
	}
	return evicted
}
