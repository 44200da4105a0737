package decoder

import (
	"encoding/binary"
	"errors"
	"slices"
	"testing"

	"firestige.xyz/sipzamine/internal/core"
)

var (
	testDstMAC = []byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	testSrcMAC = []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}
)

// ethernetFrame builds a MAC header with tags pushed outermost first,
// each tag given as {TPID, VLAN ID}, followed by etherType and payload.
func ethernetFrame(etherType uint16, tags [][2]uint16, payload []byte) []byte {
	data := slices.Concat(testDstMAC, testSrcMAC)
	for _, tag := range tags {
		data = binary.BigEndian.AppendUint16(data, tag[0])
		data = binary.BigEndian.AppendUint16(data, tag[1])
	}
	data = binary.BigEndian.AppendUint16(data, etherType)
	return append(data, payload...)
}

func TestDecodeEthernetHeader(t *testing.T) {
	eth, payload, err := decodeEthernet(ethernetFrame(0x0800, [][2]uint16{{0x8100, 0xE00A}}, []byte{0x45, 0x00}))
	if err != nil {
		t.Fatalf("decodeEthernet failed: %v", err)
	}
	if !slices.Equal(eth.DstMAC[:], testDstMAC) || !slices.Equal(eth.SrcMAC[:], testSrcMAC) {
		t.Errorf("unexpected MACs %x -> %x", eth.SrcMAC, eth.DstMAC)
	}
	// Priority bits are not part of the VLAN ID.
	if !slices.Equal(eth.VLANs, []uint16{10}) {
		t.Errorf("Expected VLANs [10], got %v", eth.VLANs)
	}
	if eth.EtherType != 0x0800 || len(payload) != 2 {
		t.Errorf("Expected IPv4 with 2 payload bytes, got 0x%04x with %d", eth.EtherType, len(payload))
	}
}

func TestDecodeLinkEthernetVLANStacks(t *testing.T) {
	ipPacket := makeIPv4UDP(t, "OPTIONS")

	tests := []struct {
		name  string
		tags  [][2]uint16
		vlans []uint16
	}{
		{"Untagged", nil, nil},
		{"Dot1Q", [][2]uint16{{0x8100, 10}}, []uint16{10}},
		{"QinQ", [][2]uint16{{0x88A8, 20}, {0x8100, 10}}, []uint16{20, 10}},
		{"LegacyQinQ", [][2]uint16{{0x9100, 30}, {0x8100, 10}}, []uint16{30, 10}},
		{"ThreeTags", [][2]uint16{{0x88A8, 1}, {0x88A8, 2}, {0x8100, 3}}, []uint16{1, 2, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := ethernetFrame(0x0800, tt.tags, ipPacket)

			eth, _, err := decodeEthernet(data)
			if err != nil {
				t.Fatalf("decodeEthernet failed: %v", err)
			}
			if !slices.Equal(eth.VLANs, tt.vlans) {
				t.Errorf("Expected VLANs %v, got %v", tt.vlans, eth.VLANs)
			}

			payload, err := decodeLink(linkTypeEthernet, data)
			if err != nil {
				t.Fatalf("decodeLink failed: %v", err)
			}
			if !slices.Equal(payload, ipPacket) {
				t.Errorf("Expected the IP packet after %d tags", len(tt.tags))
			}
		})
	}
}

func TestDecodeLinkEthernetRejects(t *testing.T) {
	ipPacket := makeIPv4UDP(t, "OPTIONS")
	deep := [][2]uint16{{0x88A8, 1}, {0x88A8, 2}, {0x88A8, 3}, {0x88A8, 4}, {0x8100, 5}}

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"ARP", ethernetFrame(0x0806, nil, make([]byte, 28)), core.ErrUnsupportedProto},
		{"ARPBehindVLAN", ethernetFrame(0x0806, [][2]uint16{{0x8100, 10}}, make([]byte, 28)), core.ErrUnsupportedProto},
		{"LLDP", ethernetFrame(0x88CC, nil, make([]byte, 16)), core.ErrUnsupportedProto},
		{"TooManyTags", ethernetFrame(0x0800, deep, ipPacket), core.ErrUnsupportedProto},
		{"CutInsideTag", ethernetFrame(0x0800, [][2]uint16{{0x8100, 10}}, nil)[:16], core.ErrPacketTooShort},
		{"CutInsideHeader", testDstMAC, core.ErrPacketTooShort},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := decodeLink(linkTypeEthernet, tt.data); !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestDecodeLinkEthernetIPv6(t *testing.T) {
	packet := makeIPv6Header(17, 8)
	packet = append(packet, make([]byte, 8)...)

	payload, err := decodeLink(linkTypeEthernet, ethernetFrame(0x86DD, [][2]uint16{{0x8100, 7}}, packet))
	if err != nil {
		t.Fatalf("decodeLink failed: %v", err)
	}
	if len(payload) != len(packet) {
		t.Errorf("Expected %d bytes, got %d", len(packet), len(payload))
	}
}

func BenchmarkDecodeEthernet(b *testing.B) {
	data := ethernetFrame(0x0800, [][2]uint16{{0x8100, 10}}, []byte{0x45, 0x00})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := decodeLink(linkTypeEthernet, data); err != nil {
			b.Fatal(err)
		}
	}
}
