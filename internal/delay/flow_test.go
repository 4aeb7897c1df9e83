package delay

import (
	"math"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() FlowKey {
	return FlowKey{
		Src: netip.MustParseAddr("10.0.0.1"), SrcPort: 1234,
		Dst: netip.MustParseAddr("10.0.0.2"), DstPort: 443,
	}
}

func TestFlowKeyReverseRoundTrips(t *testing.T) {
	k := testKey()
	assert.Equal(t, k, k.Reverse().Reverse())
	assert.NotEqual(t, k, k.Reverse())
}

func TestFlowKeyStringFormat(t *testing.T) {
	k := testKey()
	assert.Equal(t, "10.0.0.1:1234+10.0.0.2:443", k.String())
}

func TestNewFlowRecordSeedsMinRTTAtInfinity(t *testing.T) {
	fr := NewFlowRecord(testKey(), 100.0, 42)
	assert.True(t, math.IsInf(fr.MinRTT, 1))
	assert.Equal(t, int64(42), fr.StartTS)
	assert.Equal(t, 100.0, fr.StartTm)
}

func TestFlowRecordNoteRTTTracksMinimum(t *testing.T) {
	fr := NewFlowRecord(testKey(), 0, 0)
	fr.NoteRTT(0.050, 10, 1.0)
	assert.Equal(t, 0.050, fr.MinRTT)

	// A larger RTT must not displace the recorded minimum.
	fr.NoteRTT(0.080, 20, 2.0)
	assert.Equal(t, 0.050, fr.MinRTT)

	fr.NoteRTT(0.010, 30, 3.0)
	assert.Equal(t, 0.010, fr.MinRTT)
	assert.Equal(t, int64(30), fr.MinTS)
}

func TestFlowRecordComputeDVWithoutClockIsAbsent(t *testing.T) {
	fr := NewFlowRecord(testKey(), 0, 0)
	dv0, dv1, dv2, ok := fr.ComputeDV(5.0, 100, 50)
	assert.False(t, ok)
	assert.Nil(t, dv0)
	assert.Nil(t, dv1)
	assert.Nil(t, dv2)
}

func TestFlowRecordComputeDVUsesOwnClockWhenUnpaired(t *testing.T) {
	fr := NewFlowRecord(testKey(), 0, 0)
	fr.Clock.spTS = 0.001
	fr.Clock.zeroTS = 0
	fr.Clock.zeroTm = 0
	fr.Clock.clkSet = true

	dv0, dv1, dv2, ok := fr.ComputeDV(1.0, 500, 0)
	require.True(t, ok)
	require.NotNil(t, dv1)
	assert.Nil(t, dv0)
	assert.Nil(t, dv2)
	assert.InDelta(t, 1.0-0.5, *dv1, 1e-9)
}

func TestFlowRecordComputeDVCombinesBothClocksWhenPaired(t *testing.T) {
	fr := NewFlowRecord(testKey(), 0, 0)
	fr.Clock.spTS = 0.001
	fr.Clock.clkSet = true

	peer := NewFlowRecord(testKey().Reverse(), 0, 0)
	peer.Clock.spTS = 0.002
	peer.Clock.clkSet = true

	fr.Paired = true
	fr.Peer = peer

	dv0, dv1, dv2, ok := fr.ComputeDV(2.0, 1000, 200)
	require.True(t, ok)
	require.NotNil(t, dv1)
	require.NotNil(t, dv2)
	require.NotNil(t, dv0)
	assert.InDelta(t, *dv2-*dv1, *dv0, 1e-9)
}
