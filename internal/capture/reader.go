// Package capture reads pcap and pcapng capture files.
package capture

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/sipzamine/internal/core"
)

const (
	pcapHeaderLen = 24

	magicMicroseconds          = 0xA1B2C3D4
	magicNanoseconds           = 0xA1B23C4D
	magicMicrosecondsBigEndian = 0xD4C3B2A1
	magicNanosecondsBigEndian  = 0x4D3CB2A1

	ngByteOrderMagic = 0x1A2B3C4D

	// maximumSnaplen matches tcpdump: records are accepted up to this
	// size regardless of the snaplen written in the file header.
	maximumSnaplen = 262144
)

var (
	pcapngMagic = []byte{0x0A, 0x0D, 0x0D, 0x0A}
	gzipMagic   = []byte{0x1F, 0x8B}
)

// Format is the capture container format.
type Format int

const (
	FormatPcap Format = iota
	FormatPcapNG
)

func (f Format) String() string {
	if f == FormatPcapNG {
		return "pcapng"
	}
	return "pcap"
}

// Header describes the capture container as detected from its magic.
type Header struct {
	Format     Format
	ByteOrder  binary.ByteOrder // nil for gzip-compressed pcap
	Nanosecond bool             // pcap timestamp resolution
	Compressed bool
	Snaplen    uint32
	LinkType   core.LinkType // pcap only, pcapng records carry their own
}

type packetSource interface {
	next() ([]byte, gopacket.CaptureInfo, core.LinkType, error)
}

// Reader yields frames from a capture in file order.
// It is single-pass and not safe for concurrent use.
type Reader struct {
	src        packetSource
	header     Header
	framesRead int
	err        error
	closer     io.Closer
}

// OpenFile opens a capture file by path.
func OpenFile(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file %s: %w", path, err)
	}
	r, err := Open(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// Open detects the container format of r and prepares to read frames.
// An unrecognized or unreadable file header yields *FormatError.
func Open(r io.Reader) (*Reader, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, &FormatError{Magic: bytes.Clone(magic), Err: fmt.Errorf("read magic: %w", err)}
	}

	switch {
	case bytes.Equal(magic, pcapngMagic):
		return openPcapNG(br)
	case bytes.HasPrefix(magic, gzipMagic):
		return openPcap(br, Header{Format: FormatPcap, Compressed: true})
	}

	hdr, err := br.Peek(pcapHeaderLen)
	if err != nil {
		return nil, &FormatError{Magic: bytes.Clone(magic), Err: fmt.Errorf("read file header: %w", err)}
	}
	h := Header{Format: FormatPcap}
	switch binary.LittleEndian.Uint32(magic) {
	case magicMicroseconds:
		h.ByteOrder = binary.LittleEndian
	case magicNanoseconds:
		h.ByteOrder, h.Nanosecond = binary.LittleEndian, true
	case magicMicrosecondsBigEndian:
		h.ByteOrder = binary.BigEndian
	case magicNanosecondsBigEndian:
		h.ByteOrder, h.Nanosecond = binary.BigEndian, true
	default:
		return nil, &FormatError{Magic: bytes.Clone(magic), Err: errors.New("unknown magic")}
	}
	h.Snaplen = h.ByteOrder.Uint32(hdr[16:20])
	// Read the full 32-bit link type here, layers.LinkType is narrower.
	h.LinkType = core.LinkType(h.ByteOrder.Uint32(hdr[20:24]))
	return openPcap(br, h)
}

func openPcap(br *bufio.Reader, h Header) (*Reader, error) {
	pr, err := pcapgo.NewReader(br)
	if err != nil {
		return nil, &FormatError{Err: err}
	}
	if h.Compressed {
		h.Snaplen = pr.Snaplen()
		h.LinkType = core.LinkType(pr.LinkType())
	}
	if pr.Snaplen() < maximumSnaplen {
		pr.SetSnaplen(maximumSnaplen)
	}
	return &Reader{src: &pcapSource{r: pr, linkType: h.LinkType}, header: h}, nil
}

func openPcapNG(br *bufio.Reader) (*Reader, error) {
	h := Header{Format: FormatPcapNG, Nanosecond: true}
	if shb, err := br.Peek(12); err == nil {
		if binary.BigEndian.Uint32(shb[8:12]) == ngByteOrderMagic {
			h.ByteOrder = binary.BigEndian
		} else {
			h.ByteOrder = binary.LittleEndian
		}
	}
	nr, err := pcapgo.NewNgReader(br, pcapgo.NgReaderOptions{WantMixedLinkType: true})
	if err != nil {
		return nil, &FormatError{Magic: pcapngMagic, Err: err}
	}
	return &Reader{src: &ngSource{r: nr}, header: h}, nil
}

// Header returns the detected container header.
func (r *Reader) Header() Header {
	return r.header
}

// FramesRead returns the number of frames successfully read so far.
func (r *Reader) FramesRead() int {
	return r.framesRead
}

// Next returns the next frame. It returns io.EOF at the clean end of the
// capture and *TruncatedCaptureError when a record is cut short or its
// length fields are impossible. After either, every call returns the
// same error.
func (r *Reader) Next() (core.Frame, error) {
	if r.err != nil {
		return core.Frame{}, r.err
	}

	data, ci, linkType, err := r.src.next()
	if err != nil {
		if errors.Is(err, io.EOF) && data == nil {
			r.err = io.EOF
		} else {
			r.err = &TruncatedCaptureError{FramesRead: r.framesRead, Err: err}
		}
		return core.Frame{}, r.err
	}

	r.framesRead++
	return core.Frame{
		Data:       data,
		Timestamp:  ci.Timestamp,
		CaptureLen: uint32(ci.CaptureLength),
		OrigLen:    uint32(ci.Length),
		LinkType:   linkType,
		Index:      r.framesRead,
	}, nil
}

// Close releases the underlying file when the reader was opened by path.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	err := r.closer.Close()
	r.closer = nil
	return err
}

type pcapSource struct {
	r        *pcapgo.Reader
	linkType core.LinkType
}

func (s *pcapSource) next() ([]byte, gopacket.CaptureInfo, core.LinkType, error) {
	data, ci, err := s.r.ReadPacketData()
	return data, ci, s.linkType, err
}

type ngSource struct {
	r *pcapgo.NgReader
}

func (s *ngSource) next() ([]byte, gopacket.CaptureInfo, core.LinkType, error) {
	data, ci, err := s.r.ReadPacketData()
	if err != nil {
		return data, ci, 0, err
	}
	return data, ci, s.linkType(ci), nil
}

func (s *ngSource) linkType(ci gopacket.CaptureInfo) core.LinkType {
	if len(ci.AncillaryData) > 0 {
		if lt, ok := ci.AncillaryData[0].(layers.LinkType); ok {
			return core.LinkType(lt)
		}
	}
	if iface, err := s.r.Interface(ci.InterfaceIndex); err == nil {
		return core.LinkType(iface.LinkType)
	}
	return core.LinkType(layers.LinkTypeEthernet)
}
