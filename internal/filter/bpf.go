package filter

import (
	"errors"
	"net/netip"

	"golang.org/x/net/bpf"
)

// Return values of the frame program.
const (
	retReject    = 0
	retAccept    = 1
	retUndecided = 2
)

// Ethernet/IPv4 offsets used by the frame program.
const (
	offEtherType = 12
	offIPv4      = 14
	offFlagsFrag = offIPv4 + 6
	offProto     = offIPv4 + 9
	offSrcIP     = offIPv4 + 12
	offDstIP     = offIPv4 + 16
	minIPv4Frame = offIPv4 + 20
)

var errJumpTooFar = errors.New("bpf jump exceeds 255 instructions")

// jump is a conditional branch to named labels; an empty label falls
// through.
type jump struct {
	cond    bpf.JumpTest
	val     uint32
	x       bool // compare against X instead of val
	onTrue  string
	onFalse string
}

// goTo is an unconditional branch.
type goTo string

type label string

// compileFrameProgram builds a classic BPF program that accepts Ethernet
// IPv4 frames matching the host and port sets, rejects the rest, and
// answers undecided for anything it cannot judge at fixed offsets (VLAN
// tags, IPv6, fragments, short headers).
func compileFrameProgram(hosts []netip.Addr, ports []uint16) ([]bpf.Instruction, error) {
	prog := []any{
		bpf.LoadAbsolute{Off: offEtherType, Size: 2},
		jump{cond: bpf.JumpEqual, val: 0x0800, onFalse: "undecided"},
		bpf.LoadExtension{Num: bpf.ExtLen},
		bpf.StoreScratch{Src: bpf.RegA, N: 0},
		jump{cond: bpf.JumpGreaterOrEqual, val: minIPv4Frame, onFalse: "undecided"},
		bpf.LoadAbsolute{Off: offFlagsFrag, Size: 2},
		jump{cond: bpf.JumpBitsSet, val: 0x3fff, onTrue: "undecided"},
	}

	if len(hosts) > 0 {
		var v4 []uint32
		for _, h := range hosts {
			if h = h.Unmap(); h.Is4() {
				b := h.As4()
				v4 = append(v4, uint32(b[0])<<24|uint32(b[1])<<16|uint32(b[2])<<8|uint32(b[3]))
			}
		}
		for _, off := range []uint32{offSrcIP, offDstIP} {
			prog = append(prog, bpf.LoadAbsolute{Off: off, Size: 4})
			for _, ip := range v4 {
				prog = append(prog, jump{cond: bpf.JumpEqual, val: ip, onTrue: "host_ok"})
			}
		}
		prog = append(prog, goTo("reject"), label("host_ok"))
	}

	if len(ports) > 0 {
		prog = append(prog,
			bpf.LoadAbsolute{Off: offProto, Size: 1},
			jump{cond: bpf.JumpEqual, val: 6, onTrue: "l4"},
			jump{cond: bpf.JumpEqual, val: 17, onFalse: "reject"},
			label("l4"),
			// X = IHL*4; the ports need IHL*4 + 18 bytes of frame.
			bpf.LoadMemShift{Off: offIPv4},
			bpf.TXA{},
			jump{cond: bpf.JumpGreaterOrEqual, val: 20, onFalse: "undecided"},
			bpf.ALUOpConstant{Op: bpf.ALUOpAdd, Val: offIPv4 + 4},
			bpf.LoadScratch{Dst: bpf.RegX, N: 0},
			jump{cond: bpf.JumpGreaterThan, x: true, onTrue: "undecided"},
			bpf.LoadMemShift{Off: offIPv4},
		)
		for _, off := range []uint32{offIPv4, offIPv4 + 2} {
			prog = append(prog, bpf.LoadIndirect{Off: off, Size: 2})
			for _, p := range ports {
				prog = append(prog, jump{cond: bpf.JumpEqual, val: uint32(p), onTrue: "accept"})
			}
		}
		prog = append(prog, goTo("reject"))
	}

	prog = append(prog,
		label("accept"), bpf.RetConstant{Val: retAccept},
		label("reject"), bpf.RetConstant{Val: retReject},
		label("undecided"), bpf.RetConstant{Val: retUndecided},
	)
	return assemble(prog)
}

// assemble resolves labels into relative skips.
func assemble(prog []any) ([]bpf.Instruction, error) {
	labels := make(map[string]int)
	pc := 0
	for _, p := range prog {
		if l, ok := p.(label); ok {
			labels[string(l)] = pc
			continue
		}
		pc++
	}

	skip := func(from int, target string) (uint32, error) {
		if target == "" {
			return 0, nil
		}
		to, ok := labels[target]
		if !ok {
			return 0, errors.New("bpf label not defined: " + target)
		}
		return uint32(to - from - 1), nil
	}

	out := make([]bpf.Instruction, 0, pc)
	for _, p := range prog {
		at := len(out)
		switch p := p.(type) {
		case label:
		case goTo:
			s, err := skip(at, string(p))
			if err != nil {
				return nil, err
			}
			out = append(out, bpf.Jump{Skip: s})
		case jump:
			t, err := skip(at, p.onTrue)
			if err != nil {
				return nil, err
			}
			f, err := skip(at, p.onFalse)
			if err != nil {
				return nil, err
			}
			if t > 255 || f > 255 {
				return nil, errJumpTooFar
			}
			if p.x {
				out = append(out, bpf.JumpIfX{Cond: p.cond, SkipTrue: uint8(t), SkipFalse: uint8(f)})
			} else {
				out = append(out, bpf.JumpIf{Cond: p.cond, Val: p.val, SkipTrue: uint8(t), SkipFalse: uint8(f)})
			}
		case bpf.Instruction:
			out = append(out, p)
		}
	}
	return out, nil
}
