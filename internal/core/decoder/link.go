package decoder

import (
	"encoding/binary"

	"github.com/google/gopacket/layers"

	"firestige.xyz/sipzamine/internal/core"
)

const (
	nullHeaderLen = 4
	sllHeaderLen  = 16
	sll2HeaderLen = 20

	// LINKTYPE_LINUX_SLL2 does not fit layers.LinkType.
	linkTypeLinuxSLL2 core.LinkType = 276
	// DLT_RAW as written by some older OpenBSD/BSDI captures.
	linkTypeRawBSD core.LinkType = 12
	linkTypeRawAlt core.LinkType = 14
)

var (
	linkTypeNull     = core.LinkType(layers.LinkTypeNull)
	linkTypeEthernet = core.LinkType(layers.LinkTypeEthernet)
	linkTypeRaw      = core.LinkType(layers.LinkTypeRaw)
	linkTypeLoop     = core.LinkType(layers.LinkTypeLoop)
	linkTypeLinuxSLL = core.LinkType(layers.LinkTypeLinuxSLL)
	linkTypeIPv4     = core.LinkType(layers.LinkTypeIPv4)
	linkTypeIPv6     = core.LinkType(layers.LinkTypeIPv6)
)

// decodeLink strips the link-layer header and returns the IP packet.
func decodeLink(linkType core.LinkType, data []byte) ([]byte, error) {
	switch linkType {
	case linkTypeEthernet:
		eth, payload, err := decodeEthernet(data)
		if err != nil {
			return nil, err
		}
		if !isIPEtherType(eth.EtherType) {
			return nil, core.ErrUnsupportedProto
		}
		return payload, nil

	case linkTypeNull, linkTypeLoop:
		// 4-byte address family in host (NULL) or network (LOOP) order.
		// The IP version nibble is authoritative, so the family is not
		// decoded here.
		if len(data) < nullHeaderLen {
			return nil, core.ErrPacketTooShort
		}
		return data[nullHeaderLen:], nil

	case linkTypeRaw, linkTypeRawBSD, linkTypeRawAlt, linkTypeIPv4, linkTypeIPv6:
		return data, nil

	case linkTypeLinuxSLL:
		if len(data) < sllHeaderLen {
			return nil, core.ErrPacketTooShort
		}
		if !isIPEtherType(binary.BigEndian.Uint16(data[14:16])) {
			return nil, core.ErrUnsupportedProto
		}
		return data[sllHeaderLen:], nil

	case linkTypeLinuxSLL2:
		if len(data) < sll2HeaderLen {
			return nil, core.ErrPacketTooShort
		}
		if !isIPEtherType(binary.BigEndian.Uint16(data[0:2])) {
			return nil, core.ErrUnsupportedProto
		}
		return data[sll2HeaderLen:], nil

	default:
		return nil, core.ErrUnsupportedProto
	}
}
