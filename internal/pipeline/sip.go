package pipeline

import (
	"errors"
	"log/slog"
	"slices"
	"time"

	"firestige.xyz/sipzamine/internal/core"
	"firestige.xyz/sipzamine/internal/metrics"
	"firestige.xyz/sipzamine/internal/sipmsg"
	"firestige.xyz/sipzamine/internal/stream"
)

// sipStream is the unparsed tail of one TCP direction.
type sipStream struct {
	buf      []byte
	detected bool // framing reached a SIP start-line
	ignored  bool // the stream carries something else
	skipped  int  // bytes dropped before the first start-line
}

// framer cuts reassembled chunks into SIP messages and stamps them with
// their stream key, capture time and arrival sequence.
type framer struct {
	parser  *sipmsg.Parser
	streams map[core.StreamKey]*sipStream
	seq     int
	summary *Summary
}

func newFramer(parser *sipmsg.Parser, summary *Summary) *framer {
	return &framer{
		parser:  parser,
		streams: make(map[core.StreamKey]*sipStream),
		summary: summary,
	}
}

func (f *framer) handle(c stream.Chunk) []*sipmsg.Message {
	if c.Datagram {
		return f.datagram(c)
	}
	return f.stream(c)
}

func (f *framer) datagram(c stream.Chunk) []*sipmsg.Message {
	if sipmsg.IsKeepAlive(c.Data) {
		return nil
	}
	if !sipmsg.Detect(c.Data) {
		f.summary.sip(metrics.SIPNotSIP)
		return nil
	}
	msg, _, err := f.parser.Parse(c.Data, sipmsg.Datagram)
	if err != nil {
		if !errors.Is(err, sipmsg.ErrNeedMoreData) {
			f.malformed(c.Key, err)
		}
		return nil
	}
	if msg.BodyTruncated {
		f.summary.TruncatedBodies++
	}
	return []*sipmsg.Message{f.stamp(msg, c.Key, c.Timestamp)}
}

func (f *framer) stream(c stream.Chunk) []*sipmsg.Message {
	st, ok := f.streams[c.Key]
	if !ok {
		st = &sipStream{}
		f.streams[c.Key] = st
	}

	if c.End {
		if c.Partial() {
			f.summary.partial(stream.PartialStream{Key: c.Key, Bytes: c.Undelivered})
		}
		pending := len(st.buf) > 0 && !sipmsg.IsKeepAlive(st.buf)
		switch {
		case st.ignored:
		case !st.detected:
			if st.skipped > 0 || pending {
				f.summary.sip(metrics.SIPNotSIP)
			}
		case pending:
			f.malformed(c.Key, &sipmsg.MalformedMessage{Reason: "stream ended inside a message"})
		}
		delete(f.streams, c.Key)
		return nil
	}
	if st.ignored {
		return nil
	}

	st.buf = append(st.buf, c.Data...)
	if !st.detected && !f.detect(c.Key, st) {
		return nil
	}

	var out []*sipmsg.Message
	consumed := 0
	for consumed < len(st.buf) {
		msg, n, err := f.parser.Parse(st.buf[consumed:], sipmsg.Stream)
		if errors.Is(err, sipmsg.ErrNeedMoreData) {
			consumed += n
			break
		}
		if err != nil {
			f.malformed(c.Key, err)
			consumed += n
			consumed += sipmsg.Resync(st.buf[consumed:])
			continue
		}
		consumed += n
		out = append(out, f.stamp(msg, c.Key, c.Timestamp))
	}

	switch {
	case consumed == len(st.buf):
		st.buf = nil
	case consumed > 0:
		st.buf = slices.Clone(st.buf[consumed:])
	}
	return out
}

// detect moves st.buf to the first SIP start-line. A capture that began
// inside a message leaves its tail at the head of the stream; that tail is
// dropped and counted once as malformed. The stream is ignored when more
// than a maximum message size passes without a start-line.
func (f *framer) detect(key core.StreamKey, st *sipStream) bool {
	for len(st.buf) > 0 && !sipmsg.IsKeepAlive(st.buf) {
		if sipmsg.Detect(st.buf) {
			if st.skipped > 0 {
				f.malformed(key, &sipmsg.MalformedMessage{Reason: "stream picked up inside a message"})
			}
			st.detected = true
			return true
		}
		n := sipmsg.Resync(st.buf)
		st.skipped += n
		st.buf = st.buf[n:]
	}

	limit := f.parser.MaxMessageSize
	if limit <= 0 {
		limit = sipmsg.DefaultMaxMessageSize
	}
	if st.skipped+len(st.buf) > limit {
		st.ignored = true
		st.buf = nil
		f.summary.sip(metrics.SIPNotSIP)
		slog.Debug("ignoring non-SIP stream", "stream", key.String(), "skipped", st.skipped)
	}
	return false
}

func (f *framer) stamp(msg *sipmsg.Message, key core.StreamKey, ts time.Time) *sipmsg.Message {
	f.seq++
	msg.Key = key
	msg.Timestamp = ts
	msg.Seq = f.seq
	f.summary.sip(metrics.SIPParsed)
	return msg
}

func (f *framer) malformed(key core.StreamKey, err error) {
	f.summary.sip(metrics.SIPMalformed)
	slog.Debug("malformed SIP message", "stream", key.String(), "error", err)
}
