package sipmsg

import (
	gosiplog "github.com/ghettovoice/gosip/log"
	"github.com/ghettovoice/gosip/sip/parser"
)

// StrictValidator re-parses complete messages with the gosip packet
// parser and rejects what it refuses.
type StrictValidator struct {
	delegate *parser.PacketParser
}

// NewStrictValidator creates a validator logging through logger.
func NewStrictValidator(logger gosiplog.Logger) *StrictValidator {
	return &StrictValidator{
		delegate: parser.NewPacketParser(logger),
	}
}

// Validate implements Validator.
func (v *StrictValidator) Validate(raw []byte) error {
	_, err := v.delegate.ParseMessage(raw)
	return err
}
