// Package filter restricts examination to traffic touching given hosts or
// ports.
package filter

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"slices"

	"github.com/google/gopacket/layers"
	"golang.org/x/net/bpf"

	"firestige.xyz/sipzamine/internal/core"
)

// Config selects the traffic to keep. Empty lists keep everything; when
// both are set a packet must match a host and a port.
type Config struct {
	Hosts []netip.Addr `mapstructure:"hosts"`
	Ports []uint16     `mapstructure:"ports"`
}

// Verdict is the outcome of judging a raw frame.
type Verdict int

const (
	Undecided Verdict = iota // decode the frame and use Match
	Accept
	Reject
)

func (v Verdict) String() string {
	switch v {
	case Accept:
		return "accept"
	case Reject:
		return "reject"
	default:
		return "undecided"
	}
}

// Filter matches frames before decoding and records after.
type Filter struct {
	hosts []netip.Addr
	ports []uint16
	vm    *bpf.VM // nil when frames are never judged early
}

// New creates a filter. A host set too large for a single classic BPF
// program is matched on decoded records only.
func New(cfg Config) (*Filter, error) {
	f := &Filter{ports: slices.Clone(cfg.Ports)}
	for _, h := range cfg.Hosts {
		if !h.IsValid() {
			return nil, fmt.Errorf("%w: invalid filter host", core.ErrConfigInvalid)
		}
		f.hosts = append(f.hosts, h.Unmap())
	}
	if f.Empty() {
		return f, nil
	}

	prog, err := compileFrameProgram(f.hosts, f.ports)
	if errors.Is(err, errJumpTooFar) {
		slog.Debug("frame filter disabled, matching decoded packets only",
			"hosts", len(f.hosts), "ports", len(f.ports))
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("compile frame filter: %w", err)
	}
	vm, err := bpf.NewVM(prog)
	if err != nil {
		return nil, fmt.Errorf("load frame filter: %w", err)
	}
	f.vm = vm
	return f, nil
}

// Empty reports whether the filter keeps everything.
func (f *Filter) Empty() bool {
	return len(f.hosts) == 0 && len(f.ports) == 0
}

// Frame judges an undecoded frame. Only untagged Ethernet IPv4 frames are
// decided; tunnelled traffic must be judged on the decoded record, so
// callers decapsulating tunnels skip this step.
func (f *Filter) Frame(frame core.Frame) Verdict {
	if f.Empty() {
		return Accept
	}
	if f.vm == nil || frame.LinkType != core.LinkType(layers.LinkTypeEthernet) {
		return Undecided
	}
	ret, err := f.vm.Run(frame.Data)
	if err != nil {
		return Undecided
	}
	switch ret {
	case retAccept:
		return Accept
	case retReject:
		return Reject
	default:
		return Undecided
	}
}

// Match reports whether a decoded record passes the filter.
func (f *Filter) Match(rec core.PacketRecord) bool {
	if len(f.hosts) > 0 &&
		!slices.Contains(f.hosts, rec.Src.Addr().Unmap()) &&
		!slices.Contains(f.hosts, rec.Dst.Addr().Unmap()) {
		return false
	}
	if len(f.ports) > 0 &&
		!slices.Contains(f.ports, rec.Src.Port()) &&
		!slices.Contains(f.ports, rec.Dst.Port()) {
		return false
	}
	return true
}
