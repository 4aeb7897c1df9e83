// Package capture turns a live interface or a capture file into a
// stream of decoded TCP/IP packets for internal/delay to consume. It
// owns everything gopacket/pcap-specific; nothing outside this
// package touches a raw frame.
package capture

import (
	"errors"
	"fmt"
	"log"
	"net"
	"net/netip"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"github.com/brave-experiments/dlyloc/internal/delay"
)

var l = log.New(os.Stderr, "capture: ", log.Ldate|log.Lmicroseconds|log.LUTC)

var (
	errNoTCP          = errors.New("not a TCP segment")
	errNoTimestampOpt = errors.New("TCP timestamp option absent")
	errNoIPLayer      = errors.New("not an IPv4 or IPv6 packet")
)

// Source wraps a pcap.Handle opened either against a live interface
// or a capture file.
type Source struct {
	handle *pcap.Handle
	live   bool
}

// OpenLive starts a live capture on iface, applying filterExpr as a
// BPF filter.
func OpenLive(iface, filterExpr string, snaplen int32, promisc bool) (*Source, error) {
	handle, err := pcap.OpenLive(iface, snaplen, promisc, pcap.BlockForever)
	if err != nil {
		return nil, fmt.Errorf("opening live capture on %s: %w", iface, err)
	}
	if filterExpr != "" {
		if err := handle.SetBPFFilter(filterExpr); err != nil {
			handle.Close()
			return nil, fmt.Errorf("setting BPF filter %q: %w", filterExpr, err)
		}
	}
	return &Source{handle: handle, live: true}, nil
}

// OpenFile reads packets from a previously captured pcap file.
func OpenFile(path, filterExpr string) (*Source, error) {
	handle, err := pcap.OpenOffline(path)
	if err != nil {
		return nil, fmt.Errorf("opening capture file %s: %w", path, err)
	}
	if filterExpr != "" {
		if err := handle.SetBPFFilter(filterExpr); err != nil {
			handle.Close()
			return nil, fmt.Errorf("setting BPF filter %q: %w", filterExpr, err)
		}
	}
	return &Source{handle: handle, live: false}, nil
}

// Live reports whether this Source reads from a live interface rather
// than a capture file.
func (s *Source) Live() bool { return s.live }

// Close releases the underlying pcap handle.
func (s *Source) Close() { s.handle.Close() }

// DefaultInterface picks the first non-loopback, up interface. The
// dlyloc command does not call it: it requires -i or -r.
func DefaultInterface() (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("listing network interfaces: %w", err)
	}
	for _, i := range ifaces {
		if i.Flags&net.FlagLoopback == 0 && i.Flags&net.FlagUp != 0 {
			return i.Name, nil
		}
	}
	return "", errors.New("no suitable network interface found")
}

// BuildFilter composes the BPF filter this tool applies: plain "tcp"
// by default, AND-extended with an optional user expression from the
// -f/--filter flag.
func BuildFilter(extra string) string {
	if extra == "" {
		return "tcp"
	}
	return fmt.Sprintf("tcp and (%s)", extra)
}

// Packets returns a channel of decoded results. Each result is either
// a usable delay.Packet or a delay.RejectKind explaining why the raw
// frame was not one; exactly one of the two is meaningful per
// receive. The channel closes when the underlying source is
// exhausted (a capture file reaching EOF) or the handle is closed.
func (s *Source) Packets() <-chan PacketOrReject {
	out := make(chan PacketOrReject, 64)
	go func() {
		defer close(out)
		src := gopacket.NewPacketSource(s.handle, s.handle.LinkType())
		src.DecodeOptions.Lazy = true
		src.DecodeOptions.NoCopy = true
		for raw := range src.Packets() {
			pkt, kind, err := decode(raw)
			if err != nil {
				out <- PacketOrReject{Kind: kind}
				continue
			}
			out <- PacketOrReject{Packet: pkt, Kind: delay.RejectNone}
		}
	}()
	return out
}

// PacketOrReject is one decode outcome from a Source.
type PacketOrReject struct {
	Packet delay.Packet
	Kind   delay.RejectKind
}

// decode turns one gopacket.Packet into a delay.Packet, or reports
// why it can't be used. Checks run TCP presence, then the Timestamp
// option, then IP version, since a packet lacking a Timestamp option
// never needs its IP layer inspected at all.
func decode(p gopacket.Packet) (delay.Packet, delay.RejectKind, error) {
	tcpLayer := p.Layer(layers.LayerTypeTCP)
	if tcpLayer == nil {
		return delay.Packet{}, delay.RejectNotTCP, errNoTCP
	}
	tcp := tcpLayer.(*layers.TCP)

	tsval, ecr, ok := tcpTimestamps(tcp.Options)
	if !ok {
		return delay.Packet{}, delay.RejectNoTimestamp, errNoTimestampOpt
	}

	src, dst, size, ok := ipAddrsAndSize(p)
	if !ok {
		return delay.Packet{}, delay.RejectNotV4orV6, errNoIPLayer
	}

	var capTime float64
	if meta := p.Metadata(); meta != nil {
		capTime = float64(meta.Timestamp.UnixNano()) / 1e9
	}

	return delay.Packet{
		CaptureTime: capTime,
		Size:        size,
		Key: delay.FlowKey{
			Src: src, SrcPort: uint16(tcp.SrcPort),
			Dst: dst, DstPort: uint16(tcp.DstPort),
		},
		TSval: tsval,
		ECR:   ecr,
		SYN:   tcp.SYN,
	}, delay.RejectNone, nil
}

// tcpTimestamps extracts the TSval/ECR pair from a TCP option list,
// grounded in CN-TU-cocoa-qdisc/wintracker.go's getTimestamps helper.
func tcpTimestamps(opts []layers.TCPOption) (tsval, ecr uint32, ok bool) {
	for _, o := range opts {
		if o.OptionType == layers.TCPOptionKindTimestamps && len(o.OptionData) == 8 {
			return beUint32(o.OptionData[:4]), beUint32(o.OptionData[4:8]), true
		}
	}
	return 0, 0, false
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// ipAddrsAndSize extracts the source/destination addresses and total
// datagram size from whichever of IPv4/IPv6 is present.
func ipAddrsAndSize(p gopacket.Packet) (src, dst netip.Addr, size int, ok bool) {
	if v4l := p.Layer(layers.LayerTypeIPv4); v4l != nil {
		v4 := v4l.(*layers.IPv4)
		src, _ = netip.AddrFromSlice(v4.SrcIP.To4())
		dst, _ = netip.AddrFromSlice(v4.DstIP.To4())
		return src, dst, int(v4.Length), true
	}
	if v6l := p.Layer(layers.LayerTypeIPv6); v6l != nil {
		v6 := v6l.(*layers.IPv6)
		src, _ = netip.AddrFromSlice(v6.SrcIP.To16())
		dst, _ = netip.AddrFromSlice(v6.DstIP.To16())
		return src, dst, int(v6.Length) + 40, true
	}
	return netip.Addr{}, netip.Addr{}, 0, false
}

// LocalAddr resolves the first unicast address bound to iface, used
// by the -l/--showLocal filtering option, grounded in dlyloc.cpp's
// localAddrOf.
func LocalAddr(iface string) (netip.Addr, error) {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("looking up interface %s: %w", iface, err)
	}
	addrs, err := ifi.Addrs()
	if err != nil {
		return netip.Addr{}, fmt.Errorf("listing addresses on %s: %w", iface, err)
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if addr, ok := netip.AddrFromSlice(ipNet.IP); ok {
			return addr.Unmap(), nil
		}
	}
	return netip.Addr{}, fmt.Errorf("interface %s has no usable address", iface)
}
