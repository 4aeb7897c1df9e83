package delay

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// hullPoint is a vertex on the per-flow lower hull: ts is the
// flow-relative extended TSval (the hull's time axis), tm is the
// flow-relative capture time (the hull's value axis).
type hullPoint struct {
	ts int64
	tm float64
}

// cross computes the z-component of the cross product of (A-O) and
// (B-O) in the (ts, tm) plane. A negative result means B lies below
// the line through O and A, i.e. the O-A-B turn is clockwise.
func cross(o, a, b hullPoint) float64 {
	return float64(a.ts-o.ts)*(b.tm-o.tm) - (a.tm-o.tm)*float64(b.ts-o.ts)
}

// ClockEstimator incrementally fits a flow's TSval-to-wall-clock
// slope (spTS, in seconds per tick) and a zero-queueing-delay
// reference point (zeroTS, zeroTm), by maintaining a lower convex
// hull over per-interval minima of (extended TSval, capture time).
// Its zero value is not usable; construct with NewClockEstimator.
type ClockEstimator struct {
	mm *MovingMin

	lhPts        []hullPoint
	lhSegs       []hullPoint
	haveLastTS   bool
	lastUniqueTS int64

	spTS   float64
	zeroTS int64
	zeroTm float64
	clkSet bool
}

// NewClockEstimator constructs a ClockEstimator ready to accept
// samples via Update.
func NewClockEstimator() *ClockEstimator {
	return &ClockEstimator{mm: NewMovingMin(defaultSubdivisions, defaultInterval)}
}

// SetFirstInterval must be called once, at flow creation. It starts
// the first interval at 0, the flow's start on the relative ts-startTS
// axis that Update works in.
func (c *ClockEstimator) SetFirstInterval() {
	c.mm.SetFirstInterval(0)
}

// Update folds in a new (capture time, extended TSval) sample for the
// flow. tm and ts are absolute: Update takes the flow's absolute
// startTm/startTS and does the subtraction itself, so the committed
// zeroTS/zeroTm stay absolute. minTS/minTm are the flow's current best
// passive-ping reference point (FlowRecord.MinTS/MinTm, also absolute)
// and pktCnt is the number of packets the flow has ingested so far. It returns whether the estimator has (or still has) a usable
// clock after this sample.
func (c *ClockEstimator) Update(tm float64, ts int64, startTm float64, startTS int64, pktCnt int, minTS int64, minTm float64) bool {
	if c.haveLastTS && ts <= c.lastUniqueTS {
		return c.clkSet
	}
	c.haveLastTS = true
	c.lastUniqueTS = ts

	relTm := tm - startTm
	relTS := ts - startTS

	c.mm.AddSample(relTm, relTS)
	if !c.mm.NewInterval(relTS) {
		return c.clkSet
	}

	v, t := c.mm.IntervalMin()
	newVal := hullPoint{ts: t, tm: v}

	for len(c.lhPts) >= 2 && cross(c.lhPts[len(c.lhPts)-2], c.lhPts[len(c.lhPts)-1], newVal) < 0 {
		c.lhPts = c.lhPts[:len(c.lhPts)-1]
	}
	c.lhPts = append(c.lhPts, newVal)

	// lhSegs is maintained alongside lhPts but also drops collinear
	// points, so it holds the hull without interior collinear points;
	// it is used to find the longest segment.
	for len(c.lhSegs) >= 2 && cross(c.lhSegs[len(c.lhSegs)-2], c.lhSegs[len(c.lhSegs)-1], newVal) <= 0 {
		c.lhSegs = c.lhSegs[:len(c.lhSegs)-1]
	}
	c.lhSegs = append(c.lhSegs, newVal)
	lhSegs := c.lhSegs

	if relTS < 3*c.mm.interval || len(c.lhPts) < 2 || pktCnt < 20 {
		return c.clkSet
	}

	var longest int64
	li := 0
	for i := 1; i < len(lhSegs); i++ {
		if gap := lhSegs[i].ts - lhSegs[i-1].ts; gap >= longest {
			longest = gap
			li = i
		}
	}
	if li == 0 {
		return c.clkSet
	}

	if startTS+lhSegs[li].ts == c.zeroTS {
		if minTS > c.zeroTS {
			c.zeroTS = minTS
			c.zeroTm = minTm
		}
		return c.clkSet
	}

	m := (lhSegs[li].tm - lhSegs[li-1].tm) / float64(lhSegs[li].ts-lhSegs[li-1].ts)
	spt := math.Round(m*1000) / 1000
	if spt == 0 || math.Abs(m-spt)/math.Abs(spt) > 0.005 {
		c.clkSet = false
		return false
	}

	c.spTS = spt
	c.zeroTS = startTS + lhSegs[li].ts
	c.zeroTm = startTm + lhSegs[li].tm
	c.clkSet = true
	return true
}

// ClkSet reports whether the estimator currently has a usable clock.
func (c *ClockEstimator) ClkSet() bool { return c.clkSet }

// SpTS returns the current seconds-per-tick estimate.
func (c *ClockEstimator) SpTS() float64 { return c.spTS }

// Zero returns the current zero-queueing-delay reference point.
func (c *ClockEstimator) Zero() (ts int64, tm float64) { return c.zeroTS, c.zeroTm }

// Diagnostics reports the mean and standard deviation of the capture
// times backing the current lower hull. It is read-only telemetry for
// the Dispatcher's periodic summary and never influences whether a
// clock commits.
func (c *ClockEstimator) Diagnostics() (mean, stddev float64) {
	if len(c.lhPts) < 2 {
		return 0, 0
	}
	tms := make([]float64, len(c.lhPts))
	for i, p := range c.lhPts {
		tms[i] = p.tm
	}
	return stat.MeanStdDev(tms, nil)
}
