package delay

import (
	"fmt"
	"net/netip"
)

// FlowKey identifies one direction of a TCP flow by its four-tuple.
// It is a plain comparable value (net/netip.Addr is itself
// comparable), so FlowKey works directly as a Go map key without the
// string-concatenation keys dlyloc.cpp uses. netip.Addr keeps a
// v4-in-v6 address distinct from the plain v4 one, so internal/capture
// builds IPv4 keys from 4-byte addresses.
type FlowKey struct {
	Src     netip.Addr
	SrcPort uint16
	Dst     netip.Addr
	DstPort uint16
}

// Reverse returns the key for the opposite direction of the same
// flow.
func (k FlowKey) Reverse() FlowKey {
	return FlowKey{Src: k.Dst, SrcPort: k.DstPort, Dst: k.Src, DstPort: k.SrcPort}
}

// String renders the flow identifier used in output lines:
// <src_ip>:<sport>+<dst_ip>:<dport>.
func (k FlowKey) String() string {
	return fmt.Sprintf("%s:%d+%s:%d", k.Src, k.SrcPort, k.Dst, k.DstPort)
}

// Packet is the decoded input record the Dispatcher consumes. Packet
// acquisition (internal/capture) is responsible for producing these;
// the delay package never touches raw bytes or link-layer framing.
type Packet struct {
	CaptureTime float64 // seconds, arbitrary but monotonic epoch
	Size        int     // total bytes of the IP datagram
	Key         FlowKey
	TSval       uint32
	ECR         uint32
	SYN         bool
}

// Result is one emitted delay estimate, corresponding to a single
// accepted packet. RTT, MinRTT, and the three DV components are nil
// whenever that particular value could not be computed for this
// packet.
type Result struct {
	CaptureTime float64
	RTT         *float64
	MinRTT      *float64
	Bytes       uint64
	DV0, DV1, DV2 *float64
	Flow        string
}
