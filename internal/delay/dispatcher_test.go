package delay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherRejectPacketTallies(t *testing.T) {
	d := NewDispatcher(Config{})
	d.RejectPacket(RejectNotTCP)
	d.RejectPacket(RejectNoTimestamp)
	d.RejectPacket(RejectNotV4orV6)
	assert.Equal(t, 3, d.Counters.Packets)
	assert.Equal(t, 1, d.Counters.NotTCP)
	assert.Equal(t, 1, d.Counters.NoTS)
	assert.Equal(t, 1, d.Counters.NotV4or6)
}

func TestDispatcherDropsZeroTimestampSilently(t *testing.T) {
	d := NewDispatcher(Config{})
	res, ok := d.Process(10.0, Packet{Key: testKey(), TSval: 0, ECR: 5})
	assert.False(t, ok)
	assert.Nil(t, res)
}

func TestDispatcherFirstPacketIsUnidirectional(t *testing.T) {
	d := NewDispatcher(Config{})
	res, ok := d.Process(10.0, Packet{Key: testKey(), TSval: 100, SYN: true})
	assert.False(t, ok)
	assert.Nil(t, res)
	assert.Equal(t, 1, d.Counters.UniDir)
	assert.Equal(t, 1, d.Flows.Len())
}

func TestDispatcherPairsAndMatchesFromTwoPackets(t *testing.T) {
	d := NewDispatcher(Config{})
	k := testKey()

	_, ok := d.Process(10.0, Packet{Key: k, TSval: 100, SYN: true})
	require.False(t, ok) // first packet of a fresh flow is unidirectional, but its (key, tsval) is still recorded

	res, ok := d.Process(10.01, Packet{Key: k.Reverse(), TSval: 200, ECR: 100})
	require.True(t, ok)
	require.NotNil(t, res.RTT)
	assert.InDelta(t, 0.01, *res.RTT, 1e-9)
}

func TestDispatcherPairsFlowsAndProducesPassivePingRTT(t *testing.T) {
	d := NewDispatcher(Config{})
	k := testKey()

	_, ok := d.Process(10.0, Packet{Key: k, TSval: 100, SYN: true})
	require.False(t, ok) // unpaired SYN never emits a result

	_, ok = d.Process(10.01, Packet{Key: k.Reverse(), TSval: 200, SYN: true})
	require.False(t, ok) // pairs the flows, but this packet's own ECR is 0 (SYN), so no match here

	res, ok := d.Process(10.05, Packet{Key: k, TSval: 101, ECR: 200})
	require.True(t, ok)
	require.NotNil(t, res.RTT)
	assert.InDelta(t, 0.04, *res.RTT, 1e-9)
	require.NotNil(t, res.MinRTT)
	assert.InDelta(t, 0.04, *res.MinRTT, 1e-9)
	assert.Equal(t, k.String(), res.Flow)
}

func TestDispatcherFilterLocalSuppressesInsertTowardLocalAddr(t *testing.T) {
	k := testKey()
	d := NewDispatcher(Config{FilterLocal: true, LocalAddr: k.Dst})

	_, _ = d.Process(10.0, Packet{Key: k, TSval: 100, SYN: true})
	// k's insert (dst = LocalAddr) is suppressed by FilterLocal.
	assert.Equal(t, 0, d.Match.Len())
	_, _ = d.Process(10.01, Packet{Key: k.Reverse(), TSval: 200, SYN: true})
	// k.Reverse()'s insert (dst = k.Src) is unaffected, since the check is
	// per-packet on that packet's own destination; the match on TSval 200
	// against k.Reverse()'s insert must still succeed.
	res, ok := d.Process(10.05, Packet{Key: k, TSval: 101, ECR: 200})
	require.True(t, ok)
	assert.NotNil(t, res.RTT)
}

func TestDispatcherMaybeSweepWaitsForInterval(t *testing.T) {
	d := NewDispatcher(Config{TsvalMaxAge: 1.0, FlowMaxIdle: 1.0})
	d.Process(10.0, Packet{Key: testKey(), TSval: 100, SYN: true})

	assert.False(t, d.MaybeSweep()) // establishes the first deadline, doesn't run yet
	d.Process(10.5, Packet{Key: testKey(), TSval: 101, ECR: 1})
	assert.False(t, d.MaybeSweep())
	d.Process(11.2, Packet{Key: testKey(), TSval: 102, ECR: 1})
	assert.True(t, d.MaybeSweep())
}

func TestDispatcherMaybeSummaryDisabledWhenSumIntZero(t *testing.T) {
	d := NewDispatcher(Config{})
	d.Process(10.0, Packet{Key: testKey(), TSval: 100, SYN: true})
	assert.False(t, d.MaybeSummary(0))
}

func TestDispatcherMaybeSummaryFiresAfterInterval(t *testing.T) {
	d := NewDispatcher(Config{})
	d.Process(10.0, Packet{Key: testKey(), TSval: 100, SYN: true})
	assert.False(t, d.MaybeSummary(1.0))
	d.Process(11.5, Packet{Key: testKey(), TSval: 101, ECR: 1})
	assert.True(t, d.MaybeSummary(1.0))
}
