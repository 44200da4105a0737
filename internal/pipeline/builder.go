package pipeline

import (
	"fmt"

	"firestige.xyz/sipzamine/internal/config"
	"firestige.xyz/sipzamine/internal/core/decoder"
	"firestige.xyz/sipzamine/internal/filter"
	"firestige.xyz/sipzamine/internal/log"
	"firestige.xyz/sipzamine/internal/sipmsg"
)

// Builder provides a fluent interface for building pipelines.
// Stages not set explicitly are derived from the configuration.
type Builder struct {
	config    config.Config
	decoder   decoder.Decoder
	validator sipmsg.Validator
}

// NewBuilder creates a new pipeline builder.
func NewBuilder(cfg config.Config) *Builder {
	return &Builder{config: cfg}
}

// WithDecoder replaces the standard frame decoder.
func (b *Builder) WithDecoder(d decoder.Decoder) *Builder {
	b.decoder = d
	return b
}

// WithValidator sets the extra SIP message check. It takes precedence over
// sip.strict.
func (b *Builder) WithValidator(v sipmsg.Validator) *Builder {
	b.validator = v
	return b
}

// Build creates the pipeline.
func (b *Builder) Build() (*Pipeline, error) {
	f, err := filter.New(b.config.Filter)
	if err != nil {
		return nil, fmt.Errorf("failed to build filter: %w", err)
	}

	dec := b.decoder
	if dec == nil {
		dec = decoder.NewStandardDecoder(b.config.Decoder)
	}

	validator := b.validator
	if validator == nil && b.config.SIP.Strict {
		validator = sipmsg.NewStrictValidator(log.GosipLogger())
	}

	tunnels := b.config.Decoder.Tunnel
	decapsulates := tunnels.VXLAN || tunnels.Geneve || tunnels.GRE || tunnels.IPIP

	return &Pipeline{
		config:  b.config,
		decoder: dec,
		filter:  f,
		parser: &sipmsg.Parser{
			MaxMessageSize: b.config.SIP.MaxMessageSize,
			Validator:      validator,
		},
		frameFilter: !f.Empty() && !decapsulates && b.decoder == nil,
	}, nil
}
