package decoder

import (
	"errors"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/sipzamine/internal/core"
)

// Helper function to create a simple IPv4 UDP packet
func makeSimpleUDPPacket() []byte {
	packet := make([]byte, 42) // Ethernet + IPv4 + UDP headers

	// Ethernet header (14 bytes)
	packet[0], packet[1], packet[2] = 0x00, 0x11, 0x22
	packet[3], packet[4], packet[5] = 0x33, 0x44, 0x55
	packet[6], packet[7], packet[8] = 0xAA, 0xBB, 0xCC
	packet[9], packet[10], packet[11] = 0xDD, 0xEE, 0xFF
	packet[12], packet[13] = 0x08, 0x00

	// IPv4 header (20 bytes)
	packet[14] = 0x45                   // Version 4, IHL 5
	packet[15] = 0x00                   // DSCP, ECN
	packet[16], packet[17] = 0x00, 0x1C // Total Length: 28 bytes
	packet[18], packet[19] = 0x12, 0x34 // Identification
	packet[20], packet[21] = 0x00, 0x00 // Flags, Fragment Offset
	packet[22] = 0x40                   // TTL: 64
	packet[23] = 0x11                   // Protocol: UDP (17)
	packet[24], packet[25] = 0x00, 0x00 // Checksum (not calculated)
	packet[26], packet[27], packet[28], packet[29] = 192, 168, 1, 1
	packet[30], packet[31], packet[32], packet[33] = 192, 168, 1, 2

	// UDP header (8 bytes)
	packet[34], packet[35] = 0x13, 0x88 // Src Port: 5000
	packet[36], packet[37] = 0x13, 0x89 // Dst Port: 5001
	packet[38], packet[39] = 0x00, 0x08 // Length: 8 bytes
	packet[40], packet[41] = 0x00, 0x00 // Checksum (not calculated)

	return packet
}

// serialize builds a frame from gopacket layers with lengths and
// checksums filled in.
func serialize(t testing.TB, ls ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		t.Fatalf("SerializeLayers failed: %v", err)
	}
	return buf.Bytes()
}

func ethernet(next layers.EthernetType) *layers.Ethernet {
	return &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF},
		DstMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		EthernetType: next,
	}
}

func ipv4(src, dst string, proto layers.IPProtocol) *layers.IPv4 {
	return &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: proto,
		SrcIP:    net.ParseIP(src).To4(),
		DstIP:    net.ParseIP(dst).To4(),
	}
}

func frame(data []byte, lt core.LinkType) core.Frame {
	return core.Frame{
		Data:       data,
		Timestamp:  time.Unix(1700000000, 0),
		CaptureLen: uint32(len(data)),
		OrigLen:    uint32(len(data)),
		LinkType:   lt,
		Index:      1,
	}
}

func TestStandardDecoderDecode(t *testing.T) {
	decoder := NewStandardDecoder(Config{})

	rec, err := decoder.Decode(frame(makeSimpleUDPPacket(), linkTypeEthernet))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if rec.Transport != core.TransportUDP {
		t.Errorf("Expected transport udp, got %v", rec.Transport)
	}
	expectedSrc := netip.MustParseAddrPort("192.168.1.1:5000")
	if rec.Src != expectedSrc {
		t.Errorf("Expected Src %v, got %v", expectedSrc, rec.Src)
	}
	expectedDst := netip.MustParseAddrPort("192.168.1.2:5001")
	if rec.Dst != expectedDst {
		t.Errorf("Expected Dst %v, got %v", expectedDst, rec.Dst)
	}
	if rec.FrameIndex != 1 {
		t.Errorf("Expected FrameIndex 1, got %d", rec.FrameIndex)
	}
	if len(rec.Payload) != 0 {
		t.Errorf("Expected empty payload, got %d bytes", len(rec.Payload))
	}
}

func TestStandardDecoderTCP(t *testing.T) {
	ip := ipv4("10.0.0.1", "10.0.0.2", layers.IPProtocolTCP)
	tcp := &layers.TCP{SrcPort: 5060, DstPort: 5061, Seq: 1000, SYN: true, ACK: true, Window: 1024}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatalf("SetNetworkLayerForChecksum failed: %v", err)
	}
	data := serialize(t, ethernet(layers.EthernetTypeIPv4), ip, tcp, gopacket.Payload("INVITE"))

	rec, err := NewStandardDecoder(Config{}).Decode(frame(data, linkTypeEthernet))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if rec.Transport != core.TransportTCP {
		t.Errorf("Expected tcp, got %v", rec.Transport)
	}
	if rec.Seq != 1000 {
		t.Errorf("Expected Seq 1000, got %d", rec.Seq)
	}
	if !rec.HasFlag(core.TCPFlagSYN | core.TCPFlagACK) {
		t.Errorf("Expected SYN|ACK, got flags 0x%02x", rec.Flags)
	}
	if string(rec.Payload) != "INVITE" {
		t.Errorf("Expected payload INVITE, got %q", rec.Payload)
	}
}

func TestStandardDecoderIPv6UDP(t *testing.T) {
	ip := &layers.IPv6{
		Version:    6,
		HopLimit:   64,
		NextHeader: layers.IPProtocolUDP,
		SrcIP:      net.ParseIP("2001:db8::1"),
		DstIP:      net.ParseIP("2001:db8::2"),
	}
	udp := &layers.UDP{SrcPort: 5060, DstPort: 5060}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatalf("SetNetworkLayerForChecksum failed: %v", err)
	}
	data := serialize(t, ethernet(layers.EthernetTypeIPv6), ip, udp, gopacket.Payload("OPTIONS"))

	rec, err := NewStandardDecoder(Config{}).Decode(frame(data, linkTypeEthernet))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if rec.Src != netip.MustParseAddrPort("[2001:db8::1]:5060") {
		t.Errorf("unexpected Src %v", rec.Src)
	}
	if string(rec.Payload) != "OPTIONS" {
		t.Errorf("Expected payload OPTIONS, got %q", rec.Payload)
	}
}

func TestStandardDecoderVLAN(t *testing.T) {
	ip := ipv4("10.1.1.1", "10.1.1.2", layers.IPProtocolUDP)
	udp := &layers.UDP{SrcPort: 5060, DstPort: 5060}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatalf("SetNetworkLayerForChecksum failed: %v", err)
	}
	data := serialize(t,
		ethernet(layers.EthernetTypeDot1Q),
		&layers.Dot1Q{VLANIdentifier: 100, Type: layers.EthernetTypeIPv4},
		ip, udp, gopacket.Payload("BYE"))

	rec, err := NewStandardDecoder(Config{}).Decode(frame(data, linkTypeEthernet))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if string(rec.Payload) != "BYE" {
		t.Errorf("Expected payload BYE, got %q", rec.Payload)
	}
}

func TestStandardDecoderEthernetPadding(t *testing.T) {
	ip := ipv4("10.0.0.1", "10.0.0.2", layers.IPProtocolUDP)
	udp := &layers.UDP{SrcPort: 5060, DstPort: 5060}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatalf("SetNetworkLayerForChecksum failed: %v", err)
	}
	data := serialize(t, ethernet(layers.EthernetTypeIPv4), ip, udp, gopacket.Payload("\r\n\r\n"))
	data = append(data, make([]byte, 60-len(data))...) // pad to minimum frame

	rec, err := NewStandardDecoder(Config{}).Decode(frame(data, linkTypeEthernet))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if string(rec.Payload) != "\r\n\r\n" {
		t.Errorf("Expected padding trimmed, got %q", rec.Payload)
	}
}

func TestStandardDecoderErrors(t *testing.T) {
	fragment := makeSimpleUDPPacket()
	fragment[20] = 0x20 // MF

	arp := makeSimpleUDPPacket()
	arp[12], arp[13] = 0x08, 0x06

	icmp := makeSimpleUDPPacket()
	icmp[23] = 0x01

	tests := []struct {
		name     string
		data     []byte
		linkType core.LinkType
		want     error
	}{
		{"Empty", []byte{}, linkTypeEthernet, core.ErrPacketTooShort},
		{"TooShort", []byte{0x01, 0x02, 0x03}, linkTypeEthernet, core.ErrPacketTooShort},
		{"Fragment", fragment, linkTypeEthernet, core.ErrFragmented},
		{"ARP", arp, linkTypeEthernet, core.ErrUnsupportedProto},
		{"ICMP", icmp, linkTypeEthernet, core.ErrUnsupportedProto},
		{"UnknownLinkType", makeSimpleUDPPacket(), core.LinkType(147), core.ErrUnsupportedProto},
	}

	decoder := NewStandardDecoder(Config{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decoder.Decode(frame(tt.data, tt.linkType))
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func BenchmarkStandardDecoderDecode(b *testing.B) {
	decoder := NewStandardDecoder(Config{})
	f := frame(makeSimpleUDPPacket(), linkTypeEthernet)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, err := decoder.Decode(f)
		if err != nil {
			b.Fatal(err)
		}
	}
}
