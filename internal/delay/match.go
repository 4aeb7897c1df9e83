package delay

import "math"

// matchKey is the (flow, TSval) pair a MatchTable entry is keyed by.
type matchKey struct {
	flow  FlowKey
	tsval uint32
}

// MatchTable maps (flow key, TSval) to a signed capture time: positive
// means unused (the absolute value is the insertion time), negative
// means the entry already produced a match and may never match again.
// This enforces an at-most-one-match rule for passive-ping: a given
// TSval may pair with exactly one reverse-direction ECR.
type MatchTable struct {
	entries map[matchKey]float64
}

// NewMatchTable constructs an empty MatchTable.
func NewMatchTable() *MatchTable {
	return &MatchTable{entries: make(map[matchKey]float64)}
}

// InsertIfAbsent records t as the capture time of key's first
// appearance. It is a no-op if an entry already exists, matched or
// not: the oldest capture time for a TSval can only overestimate RTT,
// never underestimate it.
func (mt *MatchTable) InsertIfAbsent(key FlowKey, tsval uint32, t float64) {
	k := matchKey{key, tsval}
	if _, ok := mt.entries[k]; ok {
		return
	}
	mt.entries[k] = t
}

// MatchAndInvalidate looks up (key, tsval). If a live (positive) entry
// exists, it is negated in place and now-delta is returned; otherwise
// it returns ok=false, whether because no entry exists or because it
// was already consumed by an earlier match.
func (mt *MatchTable) MatchAndInvalidate(key FlowKey, tsval uint32, now float64) (delta float64, ok bool) {
	k := matchKey{key, tsval}
	d, exists := mt.entries[k]
	if !exists || math.Signbit(d) {
		return 0, false
	}
	mt.entries[k] = -d
	return now - d, true
}

// Sweep erases every entry whose absolute stored time is more than
// maxAge behind now. Negative (already-matched) entries are aged out
// by exactly the same rule as live ones, never earlier: erasing a
// matched entry too soon would let a later packet bearing the same
// TSval recreate it and match a stale ECR, underestimating RTT.
func (mt *MatchTable) Sweep(now, maxAge float64) {
	for k, v := range mt.entries {
		if now-math.Abs(v) > maxAge {
			delete(mt.entries, k)
		}
	}
}

// Len reports the number of entries, matched or not, for diagnostics.
func (mt *MatchTable) Len() int { return len(mt.entries) }
