// Package stream reassembles TCP byte streams and passes UDP datagrams
// through unchanged. It knows nothing about the application protocol.
package stream

import (
	"bytes"
	"cmp"
	"container/list"
	"slices"
	"time"

	"firestige.xyz/sipzamine/internal/core"
	"firestige.xyz/sipzamine/internal/metrics"
)

const (
	defaultMaxBufferedBytes = 1 << 20
	defaultIdleTimeout      = 5 * time.Minute
	defaultAnchorWindow     = 200 * time.Millisecond

	// seqOrigin keeps unwrapped positions away from zero so data slightly
	// before the anchor does not underflow.
	seqOrigin uint64 = 1 << 32
)

// Config contains configuration for TCP reassembly.
type Config struct {
	MaxBufferedBytes int           `mapstructure:"max_buffered_bytes"` // per direction (default 1 MiB)
	IdleTimeout      time.Duration `mapstructure:"idle_timeout"`       // on capture time (default 5m)
	// AnchorWindow is how long a stream picked up without its SYN buffers
	// segments before settling on the lowest sequence number seen.
	AnchorWindow time.Duration `mapstructure:"anchor_window"` // on capture time (default 200ms)
}

// Chunk is a contiguous piece of application data for one direction.
// A datagram chunk is one whole UDP payload. A chunk with End set is the
// last one for its stream; Undelivered counts buffered bytes that never
// became contiguous.
type Chunk struct {
	Key         core.StreamKey
	Timestamp   time.Time
	Data        []byte
	Datagram    bool
	End         bool
	Undelivered int
}

// Partial reports whether the stream ended with undelivered bytes.
func (c Chunk) Partial() bool {
	return c.End && c.Undelivered > 0
}

// Stats counts reassembly anomalies.
type Stats struct {
	Streams           int // stream directions opened
	DuplicateSegments int // segments entirely at or before the delivered position
	StaleSegments     int // segments for a stream already closed
	OverflowCloses    int // streams closed for exceeding MaxBufferedBytes
}

// segment is a run of bytes at an unwrapped stream position.
type segment struct {
	start uint64
	data  []byte
	at    time.Time // capture time the bytes arrived
}

func (s *segment) end() uint64 {
	return s.start + uint64(len(s.data))
}

// tcpStream holds one direction of a TCP connection.
// pending is sorted by start and never overlapping: bytes that arrived
// first are kept (first-seen-wins), later overlapping bytes only fill gaps.
// Once anchored every pending segment starts after next. Before that, next
// is only the reference point for unwrapping sequence numbers.
type tcpStream struct {
	key      core.StreamKey
	order    int
	anchored bool
	opened   time.Time
	next     uint64
	pending  list.List // list of *segment, sorted by start ascending
	buffered int
	finSeen  bool
	finPos   uint64
	closed   bool
	lastSeen time.Time
}

// unwrap maps a 32-bit sequence number to the position closest to next.
func (s *tcpStream) unwrap(seq uint32) uint64 {
	diff := int32(seq - uint32(s.next))
	return uint64(int64(s.next) + int64(diff))
}

// Reassembler tracks TCP streams keyed by direction. It is driven by a
// single goroutine and owns all buffered data.
type Reassembler struct {
	config  Config
	streams map[core.StreamKey]*tcpStream
	order   int
	stats   Stats
}

// NewReassembler creates a new reassembler.
func NewReassembler(cfg Config) *Reassembler {
	if cfg.MaxBufferedBytes <= 0 {
		cfg.MaxBufferedBytes = defaultMaxBufferedBytes
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.AnchorWindow <= 0 {
		cfg.AnchorWindow = defaultAnchorWindow
	}
	return &Reassembler{
		config:  cfg,
		streams: make(map[core.StreamKey]*tcpStream),
	}
}

// Stats returns anomaly counters accumulated so far.
func (r *Reassembler) Stats() Stats {
	return r.stats
}

// Active returns the number of open stream directions.
func (r *Reassembler) Active() int {
	n := 0
	for _, st := range r.streams {
		if !st.closed {
			n++
		}
	}
	return n
}

// Process consumes one record and returns the chunks it made available.
func (r *Reassembler) Process(rec core.PacketRecord) []Chunk {
	switch rec.Transport {
	case core.TransportUDP:
		if len(rec.Payload) == 0 {
			return nil
		}
		return []Chunk{{Key: rec.Key(), Timestamp: rec.Timestamp, Data: rec.Payload, Datagram: true}}
	case core.TransportTCP:
		return r.processTCP(rec)
	default:
		return nil
	}
}

func (r *Reassembler) processTCP(rec core.PacketRecord) []Chunk {
	key := rec.Key()

	if rec.HasFlag(core.TCPFlagRST) {
		var out []Chunk
		for _, k := range []core.StreamKey{key, key.Reverse()} {
			if st, ok := r.streams[k]; ok && !st.closed {
				st.lastSeen = rec.Timestamp
				out = append(out, r.close(st, rec.Timestamp)...)
			}
		}
		return out
	}

	syn := rec.HasFlag(core.TCPFlagSYN)
	fin := rec.HasFlag(core.TCPFlagFIN)

	st, ok := r.streams[key]
	switch {
	case ok && st.closed && syn:
		delete(r.streams, key)
		ok = false
	case ok && st.closed:
		st.lastSeen = rec.Timestamp
		if len(rec.Payload) > 0 || fin {
			r.stats.StaleSegments++
		}
		return nil
	}

	if !ok {
		if !syn && len(rec.Payload) == 0 {
			// A bare ACK or FIN cannot open a stream.
			return nil
		}
		st = r.open(key, rec)
	}
	st.lastSeen = rec.Timestamp

	var out []Chunk
	pos := st.unwrap(rec.Seq)
	if syn {
		// SYN occupies one sequence number.
		pos++
		if !st.anchored {
			st.anchor(pos)
		}
	} else if !st.anchored && rec.Timestamp.Sub(st.opened) > r.config.AnchorWindow {
		st.anchor(st.lowest())
		if c, ok := st.deliver(); ok {
			out = append(out, c)
		}
	}

	data := rec.Payload
	end := pos + uint64(len(data))

	if fin && (!st.finSeen || end < st.finPos) {
		st.finSeen, st.finPos = true, end
	}

	if len(data) > 0 {
		if st.anchored && end <= st.next {
			r.stats.DuplicateSegments++
		} else {
			if st.anchored && pos < st.next {
				data = data[st.next-pos:]
				pos = st.next
			}
			st.buffered += st.insert(pos, data, rec.Timestamp)
		}
	}

	return append(out, r.advance(st, rec.Timestamp)...)
}

// advance delivers what became contiguous on an anchored stream and
// closes it once the FIN is reached or the buffer overflows.
func (r *Reassembler) advance(st *tcpStream, now time.Time) []Chunk {
	var out []Chunk
	if st.anchored {
		if c, ok := st.deliver(); ok {
			out = append(out, c)
		}
	}

	switch {
	case st.anchored && st.finSeen && st.next >= st.finPos:
		out = append(out, r.close(st, now)...)
	case st.buffered > r.config.MaxBufferedBytes:
		r.stats.OverflowCloses++
		out = append(out, r.close(st, now)...)
	}
	return out
}

func (r *Reassembler) open(key core.StreamKey, rec core.PacketRecord) *tcpStream {
	r.order++
	r.stats.Streams++
	st := &tcpStream{key: key, order: r.order, opened: rec.Timestamp}
	st.next = seqOrigin + uint64(rec.Seq)
	if rec.HasFlag(core.TCPFlagSYN) {
		st.next++
		st.anchored = true
	}
	r.streams[key] = st
	metrics.ActiveStreams.Inc()
	return st
}

// anchor fixes the stream origin at pos. Buffered bytes before it are
// discarded.
func (s *tcpStream) anchor(pos uint64) {
	s.anchored = true
	s.next = pos
	for e := s.pending.Front(); e != nil; e = s.pending.Front() {
		seg := e.Value.(*segment)
		if seg.start >= pos {
			break
		}
		if seg.end() <= pos {
			s.buffered -= len(seg.data)
			s.pending.Remove(e)
			continue
		}
		cut := int(pos - seg.start)
		s.buffered -= cut
		seg.data = seg.data[cut:]
		seg.start = pos
		break
	}
}

// lowest returns the start of the earliest buffered byte.
func (s *tcpStream) lowest() uint64 {
	if e := s.pending.Front(); e != nil {
		return e.Value.(*segment).start
	}
	return s.next
}

// insert adds data at pos, keeping bytes already buffered and filling
// every gap the new segment spans. Returns the number of bytes added.
func (s *tcpStream) insert(pos uint64, data []byte, at time.Time) int {
	end := pos + uint64(len(data))
	cur := pos
	added := 0

	e := s.pending.Front()
	for ; e != nil && cur < end; e = e.Next() {
		seg := e.Value.(*segment)
		if seg.end() <= cur {
			continue
		}
		if seg.start >= end {
			break
		}
		if seg.start > cur {
			piece := &segment{start: cur, data: bytes.Clone(data[cur-pos : seg.start-pos]), at: at}
			s.pending.InsertBefore(piece, e)
			added += len(piece.data)
		}
		cur = seg.end()
	}

	if cur < end {
		piece := &segment{start: cur, data: bytes.Clone(data[cur-pos:]), at: at}
		if e != nil {
			s.pending.InsertBefore(piece, e)
		} else {
			s.pending.PushBack(piece)
		}
		added += len(piece.data)
	}
	return added
}

// deliver pops the contiguous prefix starting at next. The chunk is
// stamped with the arrival of its latest segment, the moment the bytes
// became available.
func (s *tcpStream) deliver() (Chunk, bool) {
	c := Chunk{Key: s.key}
	for e := s.pending.Front(); e != nil; e = s.pending.Front() {
		seg := e.Value.(*segment)
		if seg.start != s.next {
			break
		}
		c.Data = append(c.Data, seg.data...)
		if seg.at.After(c.Timestamp) {
			c.Timestamp = seg.at
		}
		s.next = seg.end()
		s.buffered -= len(seg.data)
		s.pending.Remove(e)
	}
	return c, len(c.Data) > 0
}

// close marks a stream closed and returns its End chunk, preceded by the
// data of a stream that never anchored. The closed stream stays as a
// tombstone so late retransmissions are not mistaken for a new stream;
// Expire removes it.
func (r *Reassembler) close(st *tcpStream, ts time.Time) []Chunk {
	var out []Chunk
	if !st.anchored {
		st.anchor(st.lowest())
		if c, ok := st.deliver(); ok {
			out = append(out, c)
		}
	}
	end := Chunk{Key: st.key, Timestamp: ts, End: true, Undelivered: st.buffered}
	if st.buffered > 0 {
		metrics.PartialStreamBytesTotal.Add(float64(st.buffered))
	}
	st.closed = true
	st.pending.Init()
	st.buffered = 0
	metrics.ActiveStreams.Dec()
	return append(out, end)
}

// Expire anchors streams whose anchor window has passed and closes
// streams idle for longer than the idle timeout at capture time now.
// Chunks of anchored streams come first in stream age order, then End
// chunks ordered by last activity, then stream age.
func (r *Reassembler) Expire(now time.Time) []Chunk {
	var idle, settle []*tcpStream
	for key, st := range r.streams {
		switch {
		case now.Sub(st.lastSeen) > r.config.IdleTimeout:
			if st.closed {
				delete(r.streams, key)
				continue
			}
			idle = append(idle, st)
		case !st.closed && !st.anchored && now.Sub(st.opened) > r.config.AnchorWindow:
			settle = append(settle, st)
		}
	}

	slices.SortFunc(settle, func(a, b *tcpStream) int { return cmp.Compare(a.order, b.order) })
	var out []Chunk
	for _, st := range settle {
		st.anchor(st.lowest())
		out = append(out, r.advance(st, now)...)
	}
	return append(out, r.closeAll(idle, now, true)...)
}

// CloseAll closes every open stream at end of input.
func (r *Reassembler) CloseAll(now time.Time) []Chunk {
	var open []*tcpStream
	for _, st := range r.streams {
		if !st.closed {
			open = append(open, st)
		}
	}
	chunks := r.closeAll(open, now, false)
	clear(r.streams)
	return chunks
}

func (r *Reassembler) closeAll(streams []*tcpStream, now time.Time, remove bool) []Chunk {
	slices.SortFunc(streams, func(a, b *tcpStream) int {
		if c := a.lastSeen.Compare(b.lastSeen); c != 0 {
			return c
		}
		return cmp.Compare(a.order, b.order)
	})
	chunks := make([]Chunk, 0, len(streams))
	for _, st := range streams {
		chunks = append(chunks, r.close(st, now)...)
		if remove {
			delete(r.streams, st.key)
		}
	}
	return chunks
}
