package decoder

import (
	"errors"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/sipzamine/internal/core"
)

func makeIPv4UDP(t *testing.T, payload string) []byte {
	t.Helper()
	ip := ipv4("172.16.0.1", "172.16.0.2", layers.IPProtocolUDP)
	udp := &layers.UDP{SrcPort: 5060, DstPort: 5060}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatalf("SetNetworkLayerForChecksum failed: %v", err)
	}
	return serialize(t, ip, udp, gopacket.Payload(payload))
}

func TestDecodeLinkTypes(t *testing.T) {
	ipPacket := makeIPv4UDP(t, "REGISTER")

	sll := make([]byte, sllHeaderLen)
	sll[14], sll[15] = 0x08, 0x00

	sll2 := make([]byte, sll2HeaderLen)
	sll2[0], sll2[1] = 0x08, 0x00

	tests := []struct {
		name     string
		linkType core.LinkType
		header   []byte
	}{
		{"Raw", linkTypeRaw, nil},
		{"RawIPv4", linkTypeIPv4, nil},
		{"RawBSD", linkTypeRawBSD, nil},
		{"Null", linkTypeNull, []byte{0x02, 0x00, 0x00, 0x00}},
		{"Loop", linkTypeLoop, []byte{0x00, 0x00, 0x00, 0x02}},
		{"LinuxSLL", linkTypeLinuxSLL, sll},
		{"LinuxSLL2", linkTypeLinuxSLL2, sll2},
	}

	decoder := NewStandardDecoder(Config{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := append(append([]byte{}, tt.header...), ipPacket...)
			rec, err := decoder.Decode(frame(data, tt.linkType))
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if string(rec.Payload) != "REGISTER" {
				t.Errorf("Expected payload REGISTER, got %q", rec.Payload)
			}
			if rec.Src.Port() != 5060 {
				t.Errorf("Expected source port 5060, got %d", rec.Src.Port())
			}
		})
	}
}

func TestDecodeLinkSLLNonIP(t *testing.T) {
	sll := make([]byte, sllHeaderLen+4)
	sll[14], sll[15] = 0x08, 0x06 // ARP

	_, err := decodeLink(linkTypeLinuxSLL, sll)
	if !errors.Is(err, core.ErrUnsupportedProto) {
		t.Errorf("Expected ErrUnsupportedProto, got %v", err)
	}
}

func TestDecodeLinkTooShort(t *testing.T) {
	for _, lt := range []core.LinkType{linkTypeNull, linkTypeLinuxSLL, linkTypeLinuxSLL2, linkTypeEthernet} {
		if _, err := decodeLink(lt, []byte{0x01}); !errors.Is(err, core.ErrPacketTooShort) {
			t.Errorf("link type %d: expected ErrPacketTooShort, got %v", lt, err)
		}
	}
}
