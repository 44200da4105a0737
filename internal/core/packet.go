// Package core defines core data structures with zero external dependencies.
package core

import (
	"fmt"
	"net/netip"
	"time"
)

// Frame is one captured record as read from a capture file. Immutable.
type Frame struct {
	Data       []byte    // Captured bytes
	Timestamp  time.Time // Capture timestamp
	CaptureLen uint32    // Captured length
	OrigLen    uint32    // Original length on the wire
	LinkType   LinkType
	Index      int // 1-based position in the capture
}

// Transport identifies the transport protocol of a record or stream.
type Transport uint8

const (
	TransportTCP Transport = 6
	TransportUDP Transport = 17
)

func (t Transport) String() string {
	switch t {
	case TransportTCP:
		return "tcp"
	case TransportUDP:
		return "udp"
	default:
		return fmt.Sprintf("proto(%d)", uint8(t))
	}
}

// PacketRecord is the decoded L4 view of a frame.
type PacketRecord struct {
	Timestamp  time.Time
	FrameIndex int
	Src        netip.AddrPort
	Dst        netip.AddrPort
	Transport  Transport
	// TCP-specific fields (only populated for TCP)
	Seq   uint32
	Flags uint8
	// Payload is the application layer payload, zero-copy slice of the frame.
	Payload []byte
}

// Key returns the directional stream key of the record.
func (p PacketRecord) Key() StreamKey {
	return StreamKey{Src: p.Src, Dst: p.Dst, Transport: p.Transport}
}

// HasFlag reports whether every bit in flag is set.
func (p PacketRecord) HasFlag(flag uint8) bool {
	return p.Flags&flag == flag
}

// StreamKey identifies one direction of a conversation.
type StreamKey struct {
	Src       netip.AddrPort
	Dst       netip.AddrPort
	Transport Transport
}

// Reverse returns the key of the opposite direction.
func (k StreamKey) Reverse() StreamKey {
	return StreamKey{Src: k.Dst, Dst: k.Src, Transport: k.Transport}
}

// SameConversation reports whether o is k or its reverse.
func (k StreamKey) SameConversation(o StreamKey) bool {
	return k == o || k == o.Reverse()
}

func (k StreamKey) String() string {
	return fmt.Sprintf("%s %s -> %s", k.Transport, k.Src, k.Dst)
}
