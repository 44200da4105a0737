package pipeline

import (
	"log/slog"

	"firestige.xyz/sipzamine/internal/capture"
	"firestige.xyz/sipzamine/internal/dialog"
	"firestige.xyz/sipzamine/internal/metrics"
	"firestige.xyz/sipzamine/internal/stream"
)

// Summary holds the diagnostics of one examine run. Nothing in it aborts
// a run; it explains what the dialogs do not show.
type Summary struct {
	Capture capture.Header

	FramesRead   int
	Truncated    *capture.TruncatedCaptureError // set when the capture ends inside a record
	Cancelled    bool                           // the context ended the run
	LimitReached bool                           // capture.max_frames ended the run

	// Frame outcomes
	Unsupported  int // not UDP or TCP over IP
	Fragments    int // IP fragments, never reassembled
	DecodeErrors int // headers cut short
	Filtered     int // dropped by the host/port filter

	// Stream outcomes
	PartialStreams    []stream.PartialStream
	StaleSegments     int
	DuplicateSegments int
	OverflowCloses    int

	// SIP outcomes
	NonSIP          int // payloads that do not look like SIP
	MalformedSIP    int
	TruncatedBodies int // datagrams shorter than their Content-Length
	SIPMessages     int
	Retransmissions int
	Unkeyed         int // messages without a Call-ID

	Dialogs  map[dialog.EndReason]int
	Reopened int
}

func newSummary(h capture.Header) Summary {
	return Summary{Capture: h, Dialogs: make(map[dialog.EndReason]int)}
}

// PartialBytes totals the bytes never delivered by partial streams.
func (s *Summary) PartialBytes() int {
	n := 0
	for _, p := range s.PartialStreams {
		n += p.Bytes
	}
	return n
}

// TotalDialogs counts dialogs emitted.
func (s *Summary) TotalDialogs() int {
	n := 0
	for _, c := range s.Dialogs {
		n += c
	}
	return n
}

func (s *Summary) frame(result string) {
	metrics.FramesTotal.WithLabelValues(result).Inc()
	switch result {
	case metrics.FrameUnsupported:
		s.Unsupported++
	case metrics.FrameFragment:
		s.Fragments++
	case metrics.FrameError:
		s.DecodeErrors++
	case metrics.FrameFiltered:
		s.Filtered++
	}
}

func (s *Summary) sip(result string) {
	metrics.SIPMessagesTotal.WithLabelValues(result).Inc()
	switch result {
	case metrics.SIPParsed:
		s.SIPMessages++
	case metrics.SIPMalformed:
		s.MalformedSIP++
	case metrics.SIPNotSIP:
		s.NonSIP++
	}
}

func (s *Summary) dialog(d *dialog.Dialog) {
	metrics.DialogsTotal.WithLabelValues(string(d.EndReason)).Inc()
	s.Dialogs[d.EndReason]++
}

func (s *Summary) partial(p stream.PartialStream) {
	s.PartialStreams = append(s.PartialStreams, p)
	slog.Debug("stream closed with undelivered bytes", "stream", p.Key.String(), "bytes", p.Bytes)
}

// LogValue implements slog.LogValuer.
func (s *Summary) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Int("frames", s.FramesRead),
		slog.Int("sip_messages", s.SIPMessages),
		slog.Int("dialogs", s.TotalDialogs()),
		slog.Int("malformed_sip", s.MalformedSIP),
		slog.Int("non_sip", s.NonSIP),
		slog.Int("decode_errors", s.DecodeErrors),
		slog.Int("unsupported", s.Unsupported),
		slog.Int("fragments", s.Fragments),
		slog.Int("filtered", s.Filtered),
		slog.Int("partial_streams", len(s.PartialStreams)),
	}
	if s.Truncated != nil {
		attrs = append(attrs, slog.Bool("truncated", true))
	}
	return slog.GroupValue(attrs...)
}
