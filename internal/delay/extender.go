package delay

// wrapPeriod is the number of ticks a 32-bit TSval/ECR counter spans
// before it wraps. An earlier C implementation used 0x10000 here,
// a 16-bit wrap unit; this port uses the correct 32-bit period.
const wrapPeriod = int64(1) << 32

// Extender lifts a flow's wrap-prone 32-bit TCP timestamps (TSval or
// ECR) into a monotonically non-decreasing 64-bit quantity. Each
// direction of a flow needs its own Extender for TSval and another
// for ECR; never reset one while its flow is alive.
type Extender struct {
	offset [2]int64
	last   uint32
}

// Extend returns the 64-bit extension of the 32-bit timestamp ts,
// detecting and compensating for exactly one wrap per 2^31 ticks of
// forward progress. The zero value is ready to use.
func (e *Extender) Extend(ts uint32) int64 {
	if (e.last &^ ts)>>31 != 0 {
		// High bit of last is set, high bit of ts is clear: a wrap
		// happened between samples. Retain the pre-wrap offset in
		// slot 1 so a slightly-late, still-pre-wrap packet can still
		// extend correctly.
		e.offset[1] = e.offset[0]
		e.offset[0] += wrapPeriod
	}
	e.last = ts
	return e.offset[ts>>31] + int64(ts)
}
