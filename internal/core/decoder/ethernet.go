// Package decoder implements protocol decoding.
package decoder

import (
	"encoding/binary"

	"github.com/google/gopacket/layers"

	"firestige.xyz/sipzamine/internal/core"
)

const (
	ethernetHeaderLen = 14
	vlanHeaderLen     = 4
	maxVLANTags       = 4

	// Pre-802.1ad QinQ outer tag still emitted by some switches.
	etherTypeQinQLegacy layers.EthernetType = 0x9100
)

// decodeEthernet reads the MAC header and any 802.1Q/802.1ad tag stack.
// The returned EtherType is the one after the innermost tag.
func decodeEthernet(data []byte) (core.EthernetHeader, []byte, error) {
	if len(data) < ethernetHeaderLen {
		return core.EthernetHeader{}, nil, core.ErrPacketTooShort
	}

	var eth core.EthernetHeader
	copy(eth.DstMAC[:], data[0:6])
	copy(eth.SrcMAC[:], data[6:12])

	etherType := layers.EthernetType(binary.BigEndian.Uint16(data[12:14]))
	offset := ethernetHeaderLen
	for isVLANEtherType(etherType) {
		if len(eth.VLANs) == maxVLANTags {
			return eth, nil, core.ErrUnsupportedProto
		}
		if len(data) < offset+vlanHeaderLen {
			return eth, nil, core.ErrPacketTooShort
		}
		tci := binary.BigEndian.Uint16(data[offset : offset+2])
		eth.VLANs = append(eth.VLANs, tci&0x0FFF)
		etherType = layers.EthernetType(binary.BigEndian.Uint16(data[offset+2 : offset+4]))
		offset += vlanHeaderLen
	}

	eth.EtherType = uint16(etherType)
	return eth, data[offset:], nil
}

func isVLANEtherType(t layers.EthernetType) bool {
	return t == layers.EthernetTypeDot1Q || t == layers.EthernetTypeQinQ || t == etherTypeQinQLegacy
}

// isIPEtherType reports whether an EtherType carries IPv4 or IPv6.
func isIPEtherType(etherType uint16) bool {
	t := layers.EthernetType(etherType)
	return t == layers.EthernetTypeIPv4 || t == layers.EthernetTypeIPv6
}
