package filter

import (
	"fmt"
	"net/netip"
	"testing"

	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/sipzamine/internal/core"
	"firestige.xyz/sipzamine/internal/core/decoder"
	"firestige.xyz/sipzamine/internal/testutil"
)

func ethernet(data []byte) core.Frame {
	return core.Frame{Data: data, LinkType: core.LinkType(layers.LinkTypeEthernet), Index: 1}
}

func addrs(s ...string) []netip.Addr {
	out := make([]netip.Addr, len(s))
	for i, a := range s {
		out[i] = netip.MustParseAddr(a)
	}
	return out
}

func TestFrameVerdicts(t *testing.T) {
	sip := []byte("OPTIONS sip:a@b SIP/2.0\r\n\r\n")
	udp := testutil.UDPFrame(t, "10.0.0.1:5060", "10.0.0.2:5080", sip)
	tcp := testutil.TCPFrame(t, "10.0.0.3:40000", "10.0.0.4:5061", 1, testutil.ACK|testutil.PSH, sip)
	udp6 := testutil.UDPFrame(t, "[2001:db8::1]:5060", "[2001:db8::2]:5060", sip)

	tests := []struct {
		name     string
		cfg      Config
		frame    []byte
		expected Verdict
	}{
		{"empty keeps all", Config{}, udp, Accept},
		{"source host", Config{Hosts: addrs("10.0.0.1")}, udp, Accept},
		{"destination host", Config{Hosts: addrs("10.0.0.2")}, udp, Accept},
		{"mapped host", Config{Hosts: addrs("::ffff:10.0.0.2")}, udp, Accept},
		{"other host", Config{Hosts: addrs("10.9.9.9")}, udp, Reject},
		{"ipv6 host on ipv4 frame", Config{Hosts: addrs("2001:db8::1")}, udp, Reject},
		{"udp port", Config{Ports: []uint16{5080}}, udp, Accept},
		{"tcp port", Config{Ports: []uint16{5061}}, tcp, Accept},
		{"tcp port miss", Config{Ports: []uint16{5060}}, tcp, Reject},
		{"host and port", Config{Hosts: addrs("10.0.0.1"), Ports: []uint16{5060}}, udp, Accept},
		{"host without port", Config{Hosts: addrs("10.0.0.1"), Ports: []uint16{5061}}, udp, Reject},
		{"ipv6 frame", Config{Ports: []uint16{5060}}, udp6, Undecided},
		{"short frame", Config{Ports: []uint16{5060}}, udp[:30], Undecided},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := New(tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, f.Frame(ethernet(tt.frame)))
		})
	}
}

func TestFrameMatchesRecord(t *testing.T) {
	sip := []byte("REGISTER sip:b SIP/2.0\r\n\r\n")
	frames := [][]byte{
		testutil.UDPFrame(t, "10.0.0.1:5060", "10.0.0.2:5060", sip),
		testutil.UDPFrame(t, "10.0.0.5:5070", "10.0.0.1:5080", sip),
		testutil.UDPFrame(t, "10.0.0.7:5060", "10.0.0.8:9999", sip),
		testutil.TCPFrame(t, "10.0.0.2:5060", "10.0.0.9:41000", 7, testutil.ACK, sip),
		testutil.TCPFrame(t, "10.0.0.8:1234", "10.0.0.9:4321", 7, testutil.SYN, nil),
	}
	configs := []Config{
		{Hosts: addrs("10.0.0.1")},
		{Ports: []uint16{5060}},
		{Hosts: addrs("10.0.0.2", "10.0.0.9"), Ports: []uint16{41000, 5060}},
	}
	dec := decoder.NewStandardDecoder(decoder.Config{})

	for ci, cfg := range configs {
		f, err := New(cfg)
		require.NoError(t, err)
		for fi, data := range frames {
			rec, err := dec.Decode(ethernet(data))
			require.NoError(t, err)

			verdict := f.Frame(ethernet(data))
			match := f.Match(rec)
			if verdict == Undecided {
				t.Errorf("config %d frame %d: expected a decided verdict", ci, fi)
				continue
			}
			if (verdict == Accept) != match {
				t.Errorf("config %d frame %d: frame verdict %s, record match %v", ci, fi, verdict, match)
			}
		}
	}
}

func TestMatch(t *testing.T) {
	rec := core.PacketRecord{
		Src:       netip.MustParseAddrPort("[2001:db8::1]:5060"),
		Dst:       netip.MustParseAddrPort("[2001:db8::2]:40000"),
		Transport: core.TransportUDP,
	}

	tests := []struct {
		cfg      Config
		expected bool
	}{
		{Config{}, true},
		{Config{Hosts: addrs("2001:db8::2")}, true},
		{Config{Hosts: addrs("10.0.0.1")}, false},
		{Config{Ports: []uint16{40000}}, true},
		{Config{Hosts: addrs("2001:db8::1"), Ports: []uint16{5080}}, false},
	}

	for i, tt := range tests {
		f, err := New(tt.cfg)
		require.NoError(t, err)
		if got := f.Match(rec); got != tt.expected {
			t.Errorf("case %d: Match() = %v, expected %v", i, got, tt.expected)
		}
	}
}

func TestLargeHostSetFallsBackToRecords(t *testing.T) {
	var hosts []netip.Addr
	for i := range 200 {
		hosts = append(hosts, netip.MustParseAddr(fmt.Sprintf("10.1.%d.%d", i/250, i%250+1)))
	}
	f, err := New(Config{Hosts: hosts})
	require.NoError(t, err)

	frame := ethernet(testutil.UDPFrame(t, "10.1.0.7:5060", "10.0.0.2:5060", []byte("x")))
	assert.Equal(t, Undecided, f.Frame(frame))
	assert.True(t, f.Match(core.PacketRecord{
		Src: netip.MustParseAddrPort("10.1.0.7:5060"),
		Dst: netip.MustParseAddrPort("10.0.0.2:5060"),
	}))
}

func TestNewRejectsInvalidHost(t *testing.T) {
	_, err := New(Config{Hosts: []netip.Addr{{}}})
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
}

func TestNonEthernetIsUndecided(t *testing.T) {
	f, err := New(Config{Ports: []uint16{5060}})
	require.NoError(t, err)

	frame := ethernet(testutil.UDPFrame(t, "10.0.0.1:5060", "10.0.0.2:5060", nil))
	frame.LinkType = core.LinkType(layers.LinkTypeLinuxSLL)
	assert.Equal(t, Undecided, f.Frame(frame))
}
