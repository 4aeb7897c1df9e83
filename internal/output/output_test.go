package output

import (
	"bytes"
	"testing"
	"time"

	"github.com/brave-experiments/dlyloc/internal/delay"
	"github.com/stretchr/testify/assert"
)

func ptr(v float64) *float64 { return &v }

func TestFmtTimeDiffScalesBySIPrefix(t *testing.T) {
	assert.Equal(t, "500us", fmtTimeDiff(0.0005))
	assert.Equal(t, "5.00ms", fmtTimeDiff(0.005))
	assert.Equal(t, "5.00s", fmtTimeDiff(5))
	assert.Equal(t, "50.0s", fmtTimeDiff(50))
	assert.Equal(t, "500s", fmtTimeDiff(500))
}

func TestWriteResultMachineWithMatch(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, true)
	res := &delay.Result{
		CaptureTime: 1.5,
		RTT:         ptr(0.04),
		MinRTT:      ptr(0.03),
		Bytes:       1500,
		DV1:         ptr(0.01),
		Flow:        "10.0.0.1:1234+10.0.0.2:443",
	}
	w.WriteResult(res, 1000, time.Unix(1001, 500000000))
	out := buf.String()
	assert.Contains(t, out, "1001.500000")
	assert.Contains(t, out, "0.040000")
	assert.Contains(t, out, "0.030000")
	assert.Contains(t, out, "-1.000000") // dv0/dv2 absent
	assert.Contains(t, out, "10.0.0.1:1234+10.0.0.2:443")
}

func TestWriteResultMachineWithoutMatch(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, true)
	res := &delay.Result{CaptureTime: 2.0, Bytes: 40, Flow: "f"}
	w.WriteResult(res, 0, time.Now())
	assert.Contains(t, buf.String(), "2.000000 -1 -1 40")
}

func TestWriteResultHumanFormat(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, false)
	res := &delay.Result{
		CaptureTime: 0,
		RTT:         ptr(0.04),
		MinRTT:      ptr(0.03),
		Flow:        "f",
	}
	w.WriteResult(res, 0, time.Unix(0, 0))
	out := buf.String()
	assert.Contains(t, out, "40.0ms")
	assert.Contains(t, out, "30.0ms")
}

func TestWriteSummaryOmitsZeroCounters(t *testing.T) {
	var buf bytes.Buffer
	WriteSummary(&buf, 3, delay.Counters{Packets: 100, NoTS: 5}, 0, 0, 0, false)
	out := buf.String()
	assert.Contains(t, out, "3 flows, 100 packets")
	assert.Contains(t, out, "5 no TS opt,")
	assert.NotContains(t, out, "uni-directional")
	assert.NotContains(t, out, "not TCP")
	assert.NotContains(t, out, "clock mean")
}

func TestWriteSummaryIncludesClockDiagnosticsWhenPresent(t *testing.T) {
	var buf bytes.Buffer
	WriteSummary(&buf, 2, delay.Counters{Packets: 50}, 1.25, 0.1, 2, true)
	out := buf.String()
	assert.Contains(t, out, "clock mean=1.250000 stddev=0.100000 (2 flows)")
}

func TestWriteCaptureReport(t *testing.T) {
	var buf bytes.Buffer
	WriteCaptureReport(&buf, 42, 1.5)
	assert.Equal(t, "Captured 42 packets in 1.500000 seconds\n", buf.String())
}
