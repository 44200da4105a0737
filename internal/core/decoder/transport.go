// Package decoder implements protocol decoding.
package decoder

import (
	"encoding/binary"

	"firestige.xyz/sipzamine/internal/core"
)

const (
	udpHeaderLen    = 8
	tcpHeaderMinLen = 20

	// Protocol numbers
	protocolTCP = 6
	protocolUDP = 17
)

// decodeTransport decodes transport layer header (TCP/UDP).
// Returns TransportHeader and remaining payload.
func decodeTransport(data []byte, protocol uint8) (core.TransportHeader, []byte, error) {
	switch protocol {
	case protocolTCP:
		return decodeTCP(data)
	case protocolUDP:
		return decodeUDP(data)
	default:
		// SCTP, ICMP, ESP ...
		return core.TransportHeader{Protocol: protocol}, nil, core.ErrUnsupportedProto
	}
}

// decodeUDP decodes UDP header.
func decodeUDP(data []byte) (core.TransportHeader, []byte, error) {
	if len(data) < udpHeaderLen {
		return core.TransportHeader{}, nil, core.ErrPacketTooShort
	}

	transport := core.TransportHeader{
		Protocol: protocolUDP,
		SrcPort:  binary.BigEndian.Uint16(data[0:2]),
		DstPort:  binary.BigEndian.Uint16(data[2:4]),
	}

	// Length includes header and data. Zero is used by jumbograms and
	// offloaded checksums; anything shorter than the header is bogus.
	length := int(binary.BigEndian.Uint16(data[4:6]))
	end := len(data)
	if length >= udpHeaderLen && length < end {
		end = length
	}

	return transport, data[udpHeaderLen:end], nil
}

// decodeTCP decodes TCP header.
func decodeTCP(data []byte) (core.TransportHeader, []byte, error) {
	if len(data) < tcpHeaderMinLen {
		return core.TransportHeader{}, nil, core.ErrPacketTooShort
	}

	transport := core.TransportHeader{
		Protocol: protocolTCP,
		SrcPort:  binary.BigEndian.Uint16(data[0:2]),
		DstPort:  binary.BigEndian.Uint16(data[2:4]),
		SeqNum:   binary.BigEndian.Uint32(data[4:8]),
		AckNum:   binary.BigEndian.Uint32(data[8:12]),
	}

	// Data Offset is in 32-bit words
	headerLen := int(data[12]>>4) * 4
	if headerLen < tcpHeaderMinLen || len(data) < headerLen {
		return transport, nil, core.ErrPacketTooShort
	}

	// Flags: URG, ACK, PSH, RST, SYN, FIN
	transport.TCPFlags = data[13] & 0x3F

	return transport, data[headerLen:], nil
}
