// Package decoder implements protocol decoding.
package decoder

import (
	"encoding/binary"

	"firestige.xyz/sipzamine/internal/core"
)

const (
	// Protocol numbers
	protocolGRE  = 47
	protocolIPIP = 4
	protocolIPv6 = 41

	// Well-known UDP ports
	vxlanPort  = 4789
	genevePort = 6081

	// Header lengths
	vxlanHeaderLen  = 8
	geneveHeaderLen = 8
	greHeaderMinLen = 4

	geneveProtoEthernet = 0x6558
)

// decodeTunnel attempts to decapsulate an enabled tunnel protocol.
// data is the outer IP payload. ok is false when the packet is not a
// tunnel or the inner packet cannot be decoded; the caller then keeps
// the outer headers.
func decodeTunnel(data []byte, protocol uint8, cfg TunnelConfig) (core.IPHeader, []byte, bool) {
	switch protocol {
	case protocolGRE:
		if cfg.GRE {
			return decodeGRE(data)
		}
	case protocolIPIP, protocolIPv6:
		if cfg.IPIP {
			return decodeIPIP(data)
		}
	case protocolUDP:
		// VXLAN or Geneve based on destination port
		if len(data) < udpHeaderLen {
			return core.IPHeader{}, nil, false
		}
		_, udpPayload, err := decodeUDP(data)
		if err != nil {
			return core.IPHeader{}, nil, false
		}
		switch dstPort := binary.BigEndian.Uint16(data[2:4]); {
		case dstPort == vxlanPort && cfg.VXLAN:
			return decodeVXLAN(udpPayload)
		case dstPort == genevePort && cfg.Geneve:
			return decodeGeneve(udpPayload)
		}
	}
	return core.IPHeader{}, nil, false
}

// decodeVXLAN decapsulates VXLAN tunnel.
func decodeVXLAN(data []byte) (core.IPHeader, []byte, bool) {
	if len(data) < vxlanHeaderLen {
		return core.IPHeader{}, nil, false
	}

	// VXLAN header format:
	// 0-3: Flags (1 byte) + Reserved (3 bytes)
	// 4-7: VNI (3 bytes) + Reserved (1 byte)
	if data[0]&0x08 == 0 {
		return core.IPHeader{}, nil, false
	}

	return decodeInnerEthernet(data[vxlanHeaderLen:])
}

// decodeGeneve decapsulates Geneve tunnel.
func decodeGeneve(data []byte) (core.IPHeader, []byte, bool) {
	if len(data) < geneveHeaderLen {
		return core.IPHeader{}, nil, false
	}

	// 0: Version (2 bits) + Opt Len (6 bits)
	// 1: Flags
	// 2-3: Protocol Type
	// 4-6: VNI
	// 7: Reserved
	if data[0]>>6 != 0 {
		return core.IPHeader{}, nil, false
	}

	headerLen := geneveHeaderLen + int(data[0]&0x3F)*4
	if len(data) < headerLen {
		return core.IPHeader{}, nil, false
	}

	protoType := binary.BigEndian.Uint16(data[2:4])
	inner := data[headerLen:]
	switch {
	case protoType == geneveProtoEthernet:
		return decodeInnerEthernet(inner)
	case isIPEtherType(protoType):
		return decodeInnerIP(inner)
	default:
		return core.IPHeader{}, nil, false
	}
}

// decodeGRE decapsulates GRE tunnel.
func decodeGRE(data []byte) (core.IPHeader, []byte, bool) {
	if len(data) < greHeaderMinLen {
		return core.IPHeader{}, nil, false
	}

	flags := binary.BigEndian.Uint16(data[0:2])
	protocolType := binary.BigEndian.Uint16(data[2:4])

	headerLen := greHeaderMinLen
	// Checksum present (bit 15)
	if flags&0x8000 != 0 {
		headerLen += 4
	}
	// Key present (bit 13)
	if flags&0x2000 != 0 {
		headerLen += 4
	}
	// Sequence present (bit 12)
	if flags&0x1000 != 0 {
		headerLen += 4
	}

	if len(data) < headerLen || !isIPEtherType(protocolType) {
		return core.IPHeader{}, nil, false
	}

	return decodeInnerIP(data[headerLen:])
}

// decodeIPIP decapsulates IP-in-IP: the outer payload is the inner packet.
func decodeIPIP(data []byte) (core.IPHeader, []byte, bool) {
	return decodeInnerIP(data)
}

func decodeInnerEthernet(frame []byte) (core.IPHeader, []byte, bool) {
	eth, payload, err := decodeEthernet(frame)
	if err != nil || !isIPEtherType(eth.EtherType) {
		return core.IPHeader{}, nil, false
	}
	return decodeInnerIP(payload)
}

func decodeInnerIP(data []byte) (core.IPHeader, []byte, bool) {
	ip, payload, err := decodeIP(data)
	if err != nil {
		return core.IPHeader{}, nil, false
	}
	return ip, payload, true
}
