// Package decoder implements protocol decoding.
package decoder

import (
	"encoding/binary"
	"net/netip"

	"firestige.xyz/sipzamine/internal/core"
)

const (
	ipv4HeaderMinLen = 20
	ipv6HeaderLen    = 40

	// IPv6 extension header numbers
	ipv6HopByHop   = 0
	ipv6Routing    = 43
	ipv6Fragment   = 44
	ipv6AuthHeader = 51
	ipv6DestOpts   = 60

	ipv6FragmentHeaderLen = 8
	maxIPv6ExtHeaders     = 8
)

// decodeIP decodes IP header (IPv4 or IPv6).
// Returns IPHeader and the upper-layer payload bounded by the IP length
// fields, so link-layer padding never reaches the transport decoder.
func decodeIP(data []byte) (core.IPHeader, []byte, error) {
	if len(data) < 1 {
		return core.IPHeader{}, nil, core.ErrPacketTooShort
	}

	switch data[0] >> 4 {
	case 4:
		return decodeIPv4(data)
	case 6:
		return decodeIPv6(data)
	default:
		return core.IPHeader{}, nil, core.ErrUnsupportedProto
	}
}

// decodeIPv4 decodes IPv4 header.
func decodeIPv4(data []byte) (core.IPHeader, []byte, error) {
	if len(data) < ipv4HeaderMinLen {
		return core.IPHeader{}, nil, core.ErrPacketTooShort
	}

	// IHL is in 32-bit words
	headerLen := int(data[0]&0x0F) * 4
	if headerLen < ipv4HeaderMinLen || len(data) < headerLen {
		return core.IPHeader{}, nil, core.ErrPacketTooShort
	}

	ip := core.IPHeader{
		Version:  4,
		TotalLen: binary.BigEndian.Uint16(data[2:4]),
		TTL:      data[8],
		Protocol: data[9],
		SrcIP:    netip.AddrFrom4([4]byte(data[12:16])),
		DstIP:    netip.AddrFrom4([4]byte(data[16:20])),
	}

	// Flags and Fragment Offset (2 bytes at offset 6)
	flagsOffset := binary.BigEndian.Uint16(data[6:8])
	moreFragments := flagsOffset&0x2000 != 0
	fragmentOffset := flagsOffset & 0x1FFF
	ip.Fragmented = moreFragments || fragmentOffset != 0

	end := len(data)
	switch {
	case ip.TotalLen == 0:
		// Segmentation offload captures leave Total Length unset.
	case int(ip.TotalLen) < headerLen:
		return ip, nil, core.ErrPacketTooShort
	case int(ip.TotalLen) < end:
		end = int(ip.TotalLen)
	}

	return ip, data[headerLen:end], nil
}

// decodeIPv6 decodes IPv6 header and skips known extension headers.
func decodeIPv6(data []byte) (core.IPHeader, []byte, error) {
	if len(data) < ipv6HeaderLen {
		return core.IPHeader{}, nil, core.ErrPacketTooShort
	}

	payloadLen := binary.BigEndian.Uint16(data[4:6])
	ip := core.IPHeader{
		Version:  6,
		TotalLen: uint16(ipv6HeaderLen) + payloadLen,
		Protocol: data[6],
		TTL:      data[7],
		SrcIP:    netip.AddrFrom16([16]byte(data[8:24])),
		DstIP:    netip.AddrFrom16([16]byte(data[24:40])),
	}

	end := len(data)
	if payloadLen != 0 && ipv6HeaderLen+int(payloadLen) < end {
		end = ipv6HeaderLen + int(payloadLen)
	}
	payload := data[ipv6HeaderLen:end]

	for i := 0; i < maxIPv6ExtHeaders; i++ {
		var extLen int
		switch ip.Protocol {
		case ipv6HopByHop, ipv6Routing, ipv6DestOpts:
			if len(payload) < 2 {
				return ip, nil, core.ErrPacketTooShort
			}
			extLen = (int(payload[1]) + 1) * 8
		case ipv6AuthHeader:
			if len(payload) < 2 {
				return ip, nil, core.ErrPacketTooShort
			}
			extLen = (int(payload[1]) + 2) * 4
		case ipv6Fragment:
			if len(payload) < ipv6FragmentHeaderLen {
				return ip, nil, core.ErrPacketTooShort
			}
			offsetFlags := binary.BigEndian.Uint16(payload[2:4])
			if offsetFlags>>3 != 0 || offsetFlags&0x1 != 0 {
				ip.Fragmented = true
			}
			extLen = ipv6FragmentHeaderLen
		default:
			return ip, payload, nil
		}
		if len(payload) < extLen {
			return ip, nil, core.ErrPacketTooShort
		}
		ip.Protocol = payload[0]
		payload = payload[extLen:]
	}
	return ip, nil, core.ErrUnsupportedProto
}
