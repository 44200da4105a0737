// Package decoder implements L2-L4 protocol stack decoding.
package decoder

import (
	"net/netip"

	"firestige.xyz/sipzamine/internal/core"
)

// Decoder decodes captured frames into transport-level records.
type Decoder interface {
	Decode(frame core.Frame) (core.PacketRecord, error)
}

// TunnelConfig selects which encapsulations are stripped before the
// transport header is read. All are off by default.
type TunnelConfig struct {
	VXLAN  bool `mapstructure:"vxlan"`
	Geneve bool `mapstructure:"geneve"`
	GRE    bool `mapstructure:"gre"`
	IPIP   bool `mapstructure:"ipip"`
}

func (c TunnelConfig) any() bool {
	return c.VXLAN || c.Geneve || c.GRE || c.IPIP
}

// Config holds decoder options.
type Config struct {
	Tunnel TunnelConfig `mapstructure:"tunnel"`
}

// maxTunnelDepth bounds nested decapsulation.
const maxTunnelDepth = 2

// StandardDecoder decodes Ethernet, Linux cooked, loopback and raw IP
// frames carrying UDP or TCP over IPv4/IPv6.
type StandardDecoder struct {
	config Config
}

// NewStandardDecoder creates a decoder.
func NewStandardDecoder(cfg Config) *StandardDecoder {
	return &StandardDecoder{config: cfg}
}

// Decode strips link, network and transport headers from a frame.
//
// Errors:
//   - core.ErrUnsupportedProto: non-IP link payload, or neither UDP nor TCP
//   - core.ErrFragmented: an IP fragment (never reassembled)
//   - core.ErrPacketTooShort: a header ends before its declared length
func (d *StandardDecoder) Decode(frame core.Frame) (core.PacketRecord, error) {
	network, err := decodeLink(frame.LinkType, frame.Data)
	if err != nil {
		return core.PacketRecord{}, err
	}

	ip, payload, err := decodeIP(network)
	if err != nil {
		return core.PacketRecord{}, err
	}
	if ip.Fragmented {
		return core.PacketRecord{}, core.ErrFragmented
	}

	if d.config.Tunnel.any() {
		for depth := 0; depth < maxTunnelDepth; depth++ {
			inner, innerPayload, ok := decodeTunnel(payload, ip.Protocol, d.config.Tunnel)
			if !ok {
				break
			}
			if inner.Fragmented {
				return core.PacketRecord{}, core.ErrFragmented
			}
			inner.OuterSrcIP, inner.OuterDstIP = ip.SrcIP, ip.DstIP
			ip, payload = inner, innerPayload
		}
	}

	th, payload, err := decodeTransport(payload, ip.Protocol)
	if err != nil {
		return core.PacketRecord{}, err
	}

	rec := core.PacketRecord{
		Timestamp:  frame.Timestamp,
		FrameIndex: frame.Index,
		Src:        netip.AddrPortFrom(ip.SrcIP, th.SrcPort),
		Dst:        netip.AddrPortFrom(ip.DstIP, th.DstPort),
		Transport:  core.Transport(th.Protocol),
		Payload:    payload,
	}
	if rec.Transport == core.TransportTCP {
		rec.Seq = th.SeqNum
		rec.Flags = th.TCPFlags
	}
	return rec, nil
}
