// Package testutil builds synthetic frames and capture files for tests.
package testutil

import (
	"bytes"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// Packet is one frame to be written into a synthetic capture.
type Packet struct {
	Timestamp time.Time
	Data      []byte
}

var (
	srcMAC = net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	dstMAC = net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x66}
)

func network(src, dst netip.Addr, proto layers.IPProtocol) (gopacket.SerializableLayer, gopacket.NetworkLayer, layers.EthernetType) {
	if src.Is4() {
		ip := &layers.IPv4{
			Version:  4,
			IHL:      5,
			TTL:      64,
			Protocol: proto,
			SrcIP:    src.AsSlice(),
			DstIP:    dst.AsSlice(),
		}
		return ip, ip, layers.EthernetTypeIPv4
	}
	ip := &layers.IPv6{
		Version:    6,
		HopLimit:   64,
		NextHeader: proto,
		SrcIP:      src.AsSlice(),
		DstIP:      dst.AsSlice(),
	}
	return ip, ip, layers.EthernetTypeIPv6
}

func serialize(t testing.TB, ls ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		t.Fatalf("SerializeLayers failed: %v", err)
	}
	return buf.Bytes()
}

// UDPFrame builds an Ethernet/IP/UDP frame. src and dst are "addr:port".
func UDPFrame(t testing.TB, src, dst string, payload []byte) []byte {
	t.Helper()
	s, d := netip.MustParseAddrPort(src), netip.MustParseAddrPort(dst)
	ipLayer, netLayer, etherType := network(s.Addr(), d.Addr(), layers.IPProtocolUDP)
	udp := &layers.UDP{SrcPort: layers.UDPPort(s.Port()), DstPort: layers.UDPPort(d.Port())}
	if err := udp.SetNetworkLayerForChecksum(netLayer); err != nil {
		t.Fatalf("SetNetworkLayerForChecksum failed: %v", err)
	}
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: etherType}
	return serialize(t, eth, ipLayer, udp, gopacket.Payload(payload))
}

// TCP flag sets for TCPFrame.
const (
	FIN = 1 << iota
	SYN
	RST
	PSH
	ACK
)

// TCPFrame builds an Ethernet/IP/TCP frame. src and dst are "addr:port".
func TCPFrame(t testing.TB, src, dst string, seq uint32, flags int, payload []byte) []byte {
	t.Helper()
	s, d := netip.MustParseAddrPort(src), netip.MustParseAddrPort(dst)
	ipLayer, netLayer, etherType := network(s.Addr(), d.Addr(), layers.IPProtocolTCP)
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(s.Port()),
		DstPort: layers.TCPPort(d.Port()),
		Seq:     seq,
		Window:  5840,
		FIN:     flags&FIN != 0,
		SYN:     flags&SYN != 0,
		RST:     flags&RST != 0,
		PSH:     flags&PSH != 0,
		ACK:     flags&ACK != 0,
	}
	if err := tcp.SetNetworkLayerForChecksum(netLayer); err != nil {
		t.Fatalf("SetNetworkLayerForChecksum failed: %v", err)
	}
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: etherType}
	return serialize(t, eth, ipLayer, tcp, gopacket.Payload(payload))
}

// Pcap writes packets into an in-memory little-endian microsecond pcap.
func Pcap(t testing.TB, packets ...Packet) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := pcapgo.NewWriter(&buf)
	if err := w.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		t.Fatalf("WriteFileHeader failed: %v", err)
	}
	for _, p := range packets {
		ci := gopacket.CaptureInfo{Timestamp: p.Timestamp, CaptureLength: len(p.Data), Length: len(p.Data)}
		if err := w.WritePacket(ci, p.Data); err != nil {
			t.Fatalf("WritePacket failed: %v", err)
		}
	}
	return buf.Bytes()
}

// PcapNG writes packets into an in-memory pcapng with one Ethernet interface.
func PcapNG(t testing.TB, packets ...Packet) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := pcapgo.NewNgWriter(&buf, layers.LinkTypeEthernet)
	if err != nil {
		t.Fatalf("NewNgWriter failed: %v", err)
	}
	for _, p := range packets {
		ci := gopacket.CaptureInfo{Timestamp: p.Timestamp, CaptureLength: len(p.Data), Length: len(p.Data)}
		if err := w.WritePacket(ci, p.Data); err != nil {
			t.Fatalf("WritePacket failed: %v", err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	return buf.Bytes()
}

// Base is a fixed capture start time for deterministic tests.
var Base = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

// At returns Base shifted by d.
func At(d time.Duration) time.Time {
	return Base.Add(d)
}
