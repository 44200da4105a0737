// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors shared by the decoding stages.
var (
	// Packet decoding errors
	ErrPacketTooShort   = errors.New("sipzamine: packet too short")
	ErrUnsupportedProto = errors.New("sipzamine: unsupported protocol")
	ErrFragmented       = errors.New("sipzamine: ip fragment not reassembled")

	// Configuration errors
	ErrConfigInvalid = errors.New("sipzamine: invalid configuration")
)
