package core

import (
	"errors"
	"fmt"
	"net/netip"
	"testing"
	"time"
)

// Test zero values of core structs
func TestStructZeroValues(t *testing.T) {
	t.Run("EthernetHeader", func(t *testing.T) {
		var eth EthernetHeader
		if eth.EtherType != 0 {
			t.Errorf("expected EtherType=0, got %d", eth.EtherType)
		}
		if eth.VLANs != nil {
			t.Errorf("expected VLANs=nil, got %v", eth.VLANs)
		}
	})

	t.Run("IPHeader", func(t *testing.T) {
		var ip IPHeader
		if ip.SrcIP.IsValid() || ip.OuterSrcIP.IsValid() {
			t.Errorf("expected invalid addresses, got %v / %v", ip.SrcIP, ip.OuterSrcIP)
		}
		if ip.Fragmented {
			t.Error("expected Fragmented=false")
		}
	})

	t.Run("PacketRecord", func(t *testing.T) {
		var rec PacketRecord
		if rec.Payload != nil {
			t.Errorf("expected Payload=nil, got %v", rec.Payload)
		}
		if rec.Src.IsValid() {
			t.Errorf("expected invalid Src, got %v", rec.Src)
		}
	})
}

func TestStreamKey(t *testing.T) {
	a := netip.MustParseAddrPort("10.0.0.1:5060")
	b := netip.MustParseAddrPort("10.0.0.2:5080")

	rec := PacketRecord{Src: a, Dst: b, Transport: TransportTCP}
	key := rec.Key()

	t.Run("Reverse", func(t *testing.T) {
		rev := key.Reverse()
		if rev.Src != b || rev.Dst != a || rev.Transport != TransportTCP {
			t.Errorf("unexpected reverse key %v", rev)
		}
		if rev.Reverse() != key {
			t.Error("double reverse should yield the original key")
		}
	})

	t.Run("SameConversation", func(t *testing.T) {
		if !key.SameConversation(key.Reverse()) {
			t.Error("expected reverse to be the same conversation")
		}
		other := StreamKey{Src: a, Dst: b, Transport: TransportUDP}
		if key.SameConversation(other) {
			t.Error("different transport must not match")
		}
	})

	t.Run("String", func(t *testing.T) {
		want := "tcp 10.0.0.1:5060 -> 10.0.0.2:5080"
		if key.String() != want {
			t.Errorf("expected %q, got %q", want, key.String())
		}
	})
}

func TestPacketRecordFlags(t *testing.T) {
	rec := PacketRecord{
		Timestamp: time.Unix(1700000000, 0),
		Transport: TransportTCP,
		Flags:     TCPFlagSYN | TCPFlagACK,
	}
	if !rec.HasFlag(TCPFlagSYN) {
		t.Error("expected SYN")
	}
	if !rec.HasFlag(TCPFlagSYN | TCPFlagACK) {
		t.Error("expected SYN|ACK")
	}
	if rec.HasFlag(TCPFlagFIN) {
		t.Error("unexpected FIN")
	}
}

func TestTransportString(t *testing.T) {
	tests := []struct {
		tr   Transport
		want string
	}{
		{TransportTCP, "tcp"},
		{TransportUDP, "udp"},
		{Transport(132), "proto(132)"},
	}
	for _, tt := range tests {
		if got := tt.tr.String(); got != tt.want {
			t.Errorf("expected %q, got %q", tt.want, got)
		}
	}
}

// Test sentinel errors
func TestSentinelErrors(t *testing.T) {
	t.Run("ErrorMessages", func(t *testing.T) {
		tests := []struct {
			err     error
			message string
		}{
			{ErrPacketTooShort, "sipzamine: packet too short"},
			{ErrUnsupportedProto, "sipzamine: unsupported protocol"},
			{ErrFragmented, "sipzamine: ip fragment not reassembled"},
			{ErrConfigInvalid, "sipzamine: invalid configuration"},
		}

		for _, tt := range tests {
			if tt.err.Error() != tt.message {
				t.Errorf("expected error message %q, got %q", tt.message, tt.err.Error())
			}
		}
	})

	t.Run("ErrorWrapping", func(t *testing.T) {
		wrapped := fmt.Errorf("decode frame 7: %w", ErrPacketTooShort)
		if !errors.Is(wrapped, ErrPacketTooShort) {
			t.Error("errors.Is failed for wrapped error")
		}
	})
}
