// Package core defines core types with zero external dependencies.
package core

import "net/netip"

// LinkType is the capture link-layer type (LINKTYPE_* registry value).
type LinkType uint32

// EthernetHeader represents L2 Ethernet frame header.
type EthernetHeader struct {
	SrcMAC    [6]byte
	DstMAC    [6]byte
	EtherType uint16   // 0x0800=IPv4, 0x86DD=IPv6, 0x8100=VLAN
	VLANs     []uint16 // 0~2 VLAN IDs (QinQ scenarios have 2)
}

// IPHeader represents L3 IP header (IPv4/IPv6).
type IPHeader struct {
	Version  uint8
	SrcIP    netip.Addr
	DstIP    netip.Addr
	Protocol uint8 // upper-layer protocol after IPv6 extension headers
	TTL      uint8
	TotalLen uint16
	// Fragmented is set for any fragment (first, middle or last).
	Fragmented bool
	// Outer addresses when the packet was decapsulated from a tunnel
	// (zero value if not tunneled).
	OuterSrcIP netip.Addr
	OuterDstIP netip.Addr
}

// TransportHeader represents L4 transport layer header (TCP/UDP).
type TransportHeader struct {
	SrcPort  uint16
	DstPort  uint16
	Protocol uint8
	// TCP-specific fields (only populated for TCP)
	TCPFlags uint8
	SeqNum   uint32
	AckNum   uint32
}

// TCP flag bits as found in byte 13 of the TCP header.
const (
	TCPFlagFIN uint8 = 0x01
	TCPFlagSYN uint8 = 0x02
	TCPFlagRST uint8 = 0x04
	TCPFlagPSH uint8 = 0x08
	TCPFlagACK uint8 = 0x10
	TCPFlagURG uint8 = 0x20
)
