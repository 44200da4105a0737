// Package pipeline drives an examine run: capture reading, decoding,
// filtering, reassembly, SIP parsing and dialog correlation.
package pipeline

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"time"

	"firestige.xyz/sipzamine/internal/capture"
	"firestige.xyz/sipzamine/internal/config"
	"firestige.xyz/sipzamine/internal/core"
	"firestige.xyz/sipzamine/internal/core/decoder"
	"firestige.xyz/sipzamine/internal/dialog"
	"firestige.xyz/sipzamine/internal/filter"
	"firestige.xyz/sipzamine/internal/metrics"
	"firestige.xyz/sipzamine/internal/sipmsg"
	"firestige.xyz/sipzamine/internal/stream"
)

// sweepInterval is how much capture time passes between idle sweeps.
const sweepInterval = time.Second

// Pipeline holds the stages shared by every run. Runs never share state,
// so examining the same capture twice yields the same dialogs.
type Pipeline struct {
	config      config.Config
	decoder     decoder.Decoder
	filter      *filter.Filter
	parser      *sipmsg.Parser
	frameFilter bool // judge raw frames before decoding
}

// New creates a pipeline from configuration.
func New(cfg config.Config) (*Pipeline, error) {
	return NewBuilder(cfg).Build()
}

// Examine prepares a run over reader. Nothing is read until the dialogs
// are iterated.
func (p *Pipeline) Examine(ctx context.Context, reader *capture.Reader) *Run {
	run := &Run{
		p:       p,
		ctx:     ctx,
		reader:  reader,
		reasm:   stream.NewReassembler(p.config.Stream),
		corr:    dialog.NewCorrelator(p.config.Dialog),
		summary: newSummary(reader.Header()),
	}
	run.framer = newFramer(p.parser, &run.summary)
	return run
}

// ExamineFile opens a capture file and prepares a run over it. The file is
// closed when iteration ends. Only an unreadable or unrecognized file is
// an error.
func (p *Pipeline) ExamineFile(ctx context.Context, path string) (*Run, error) {
	reader, err := capture.OpenFile(path)
	if err != nil {
		return nil, err
	}
	run := p.Examine(ctx, reader)
	run.owned = true
	return run, nil
}

// Run is the state of one pass over a capture.
type Run struct {
	p       *Pipeline
	ctx     context.Context
	reader  *capture.Reader
	owned   bool
	reasm   *stream.Reassembler
	corr    *dialog.Correlator
	framer  *framer
	summary Summary

	started   bool
	clock     time.Time // latest capture time seen
	lastSweep time.Time
}

// Dialogs returns the dialogs of the capture in the order they closed.
// The sequence is single-pass: a second iteration yields nothing.
// Stopping early leaves the rest of the capture unread.
func (r *Run) Dialogs() iter.Seq[*dialog.Dialog] {
	return func(yield func(*dialog.Dialog) bool) {
		if r.started {
			return
		}
		r.started = true
		r.run(yield)
	}
}

// Summary returns the diagnostics gathered so far; it is complete once
// Dialogs has been fully iterated.
func (r *Run) Summary() Summary {
	return r.summary
}

func (r *Run) run(yield func(*dialog.Dialog) bool) {
	var src frameSource = &inlineSource{ctx: r.ctx, reader: r.reader}
	if n := r.p.config.Capture.ReadAhead; n > 0 {
		src = newReadAhead(r.ctx, r.reader, n)
	}
	defer func() {
		src.stop()
		r.collectStats()
		if r.owned {
			if err := r.reader.Close(); err != nil {
				slog.Warn("failed to close capture", "error", err)
			}
		}
	}()

	emit := func(dialogs []*dialog.Dialog) bool {
		for _, d := range dialogs {
			r.summary.dialog(d)
			if !yield(d) {
				return false
			}
		}
		return true
	}

	started := time.Now()
	limit := r.p.config.Capture.MaxFrames
	for {
		if limit > 0 && r.summary.FramesRead >= limit {
			r.summary.LimitReached = true
			slog.Info("frame limit reached", "max_frames", limit)
			break
		}
		frame, err := src.next()
		if err != nil {
			r.stopReading(err)
			break
		}
		r.summary.FramesRead++
		if !emit(r.frame(frame)) {
			return
		}
	}

	if !emit(r.finish()) {
		return
	}
	slog.Info("examine finished", "summary", &r.summary, "elapsed", time.Since(started))
}

func (r *Run) stopReading(err error) {
	var truncated *capture.TruncatedCaptureError
	switch {
	case errors.Is(err, io.EOF):
	case errors.As(err, &truncated):
		r.summary.Truncated = truncated
		slog.Warn("capture truncated, keeping frames read so far", "frames", truncated.FramesRead, "error", truncated.Err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		r.summary.Cancelled = true
		slog.Info("examine cancelled", "frames", r.summary.FramesRead)
	default:
		// Any other read error ends the capture like a truncation.
		r.summary.Truncated = &capture.TruncatedCaptureError{FramesRead: r.summary.FramesRead, Err: err}
		slog.Warn("capture read failed", "error", err)
	}
}

// frame pushes one frame through every stage and returns the dialogs that
// closed meanwhile.
func (r *Run) frame(frame core.Frame) []*dialog.Dialog {
	var out []*dialog.Dialog
	if frame.Timestamp.After(r.clock) {
		r.clock = frame.Timestamp
		if r.lastSweep.IsZero() {
			r.lastSweep = r.clock
		} else if r.clock.Sub(r.lastSweep) >= sweepInterval {
			out = append(out, r.sweep()...)
		}
	}

	accepted := false
	if r.p.frameFilter {
		switch r.p.filter.Frame(frame) {
		case filter.Reject:
			r.summary.frame(metrics.FrameFiltered)
			return out
		case filter.Accept:
			accepted = true
		}
	}

	start := time.Now()
	rec, err := r.p.decoder.Decode(frame)
	metrics.StageLatencySeconds.WithLabelValues("decode").Observe(time.Since(start).Seconds())
	if err != nil {
		switch {
		case errors.Is(err, core.ErrUnsupportedProto):
			r.summary.frame(metrics.FrameUnsupported)
		case errors.Is(err, core.ErrFragmented):
			r.summary.frame(metrics.FrameFragment)
		default:
			r.summary.frame(metrics.FrameError)
			slog.Debug("frame decode failed", "frame", frame.Index, "error", err)
		}
		return out
	}
	if !accepted && !r.p.filter.Match(rec) {
		r.summary.frame(metrics.FrameFiltered)
		return out
	}
	r.summary.frame(metrics.FrameDecoded)

	start = time.Now()
	chunks := r.reasm.Process(rec)
	metrics.StageLatencySeconds.WithLabelValues("reassemble").Observe(time.Since(start).Seconds())
	return append(out, r.chunks(chunks)...)
}

func (r *Run) chunks(chunks []stream.Chunk) []*dialog.Dialog {
	var out []*dialog.Dialog
	for _, c := range chunks {
		for _, msg := range r.framer.handle(c) {
			out = append(out, r.corr.Add(msg)...)
		}
	}
	return out
}

// sweep evicts idle streams and dialogs on capture time.
func (r *Run) sweep() []*dialog.Dialog {
	r.lastSweep = r.clock
	out := r.chunks(r.reasm.Expire(r.clock))
	return append(out, r.corr.Expire(r.clock)...)
}

// finish closes every stream and hands off every dialog still held.
func (r *Run) finish() []*dialog.Dialog {
	out := r.chunks(r.reasm.CloseAll(r.clock))
	out = append(out, r.corr.Expire(r.clock)...)
	return append(out, r.corr.Flush(dialog.EndIncomplete)...)
}

func (r *Run) collectStats() {
	rs := r.reasm.Stats()
	r.summary.StaleSegments = rs.StaleSegments
	r.summary.DuplicateSegments = rs.DuplicateSegments
	r.summary.OverflowCloses = rs.OverflowCloses

	cs := r.corr.Stats()
	r.summary.Retransmissions = cs.Retransmissions
	r.summary.Unkeyed = cs.Unkeyed
	r.summary.Reopened = cs.Reopened
}
