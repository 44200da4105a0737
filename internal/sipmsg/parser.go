package sipmsg

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// DefaultMaxMessageSize bounds a message header section held in a stream
// buffer.
const DefaultMaxMessageSize = 65536

// Framing says how message boundaries are delimited.
type Framing int

const (
	// Datagram framing: the buffer is one UDP payload.
	Datagram Framing = iota
	// Stream framing: the buffer is the unconsumed prefix of a TCP stream.
	Stream
)

func (f Framing) String() string {
	if f == Stream {
		return "stream"
	}
	return "datagram"
}

// ErrNeedMoreData signals that the buffer holds no complete message yet.
var ErrNeedMoreData = errors.New("sipzamine: need more data")

// MalformedMessage reports SIP syntax that cannot be parsed. Offset is
// relative to the buffer passed to Parse.
type MalformedMessage struct {
	Reason string
	Offset int
}

func (e *MalformedMessage) Error() string {
	return fmt.Sprintf("sipzamine: malformed sip message at offset %d: %s", e.Offset, e.Reason)
}

// Validator performs extra checks on a complete message.
type Validator interface {
	Validate(raw []byte) error
}

// Parser extracts SIP messages from buffers. The zero value is usable.
type Parser struct {
	MaxMessageSize int
	Validator      Validator // optional
}

var defaultParser Parser

// Parse extracts one message with default limits.
func Parse(buf []byte, framing Framing) (*Message, int, error) {
	return defaultParser.Parse(buf, framing)
}

// Parse extracts one message from the start of buf. The int result is the
// number of bytes consumed and is meaningful even with ErrNeedMoreData
// (leading keep-alives are consumed). A datagram is always consumed whole
// on success.
func (p *Parser) Parse(buf []byte, framing Framing) (*Message, int, error) {
	maxSize := p.MaxMessageSize
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}

	start := skipKeepAlive(buf)
	if start == len(buf) {
		return nil, start, ErrNeedMoreData
	}

	lines, bodyStart, complete := splitHeader(buf, start)
	if !complete {
		if framing == Stream {
			if len(buf)-start > maxSize {
				return nil, start, &MalformedMessage{Reason: "header section exceeds maximum message size", Offset: start}
			}
			return nil, start, ErrNeedMoreData
		}
		// The datagram ends the header section.
		bodyStart = len(buf)
	}
	if framing == Stream && bodyStart-start > maxSize {
		return nil, start, &MalformedMessage{Reason: "header section exceeds maximum message size", Offset: start}
	}

	msg := &Message{}
	if err := parseStartLine(msg, lines[0].text); err != nil {
		return nil, start, &MalformedMessage{Reason: err.Error(), Offset: lines[0].offset}
	}
	if err := parseHeaders(msg, lines[1:]); err != nil {
		return nil, start, err
	}

	bodyLen, err := contentLength(msg, framing)
	if err != nil {
		return nil, start, &MalformedMessage{Reason: err.Error(), Offset: start}
	}

	var end int
	switch framing {
	case Stream:
		if bodyLen > maxSize {
			return nil, start, &MalformedMessage{Reason: "content-length exceeds maximum message size", Offset: start}
		}
		end = bodyStart + bodyLen
		if end > len(buf) {
			return nil, start, ErrNeedMoreData
		}
	default:
		end = bodyStart + bodyLen
		if end > len(buf) {
			end = len(buf)
			msg.BodyTruncated = true
		}
	}

	msg.Raw = bytes.Clone(buf[start:end])
	msg.Body = msg.Raw[bodyStart-start:]

	if p.Validator != nil && !msg.BodyTruncated {
		if err := p.Validator.Validate(msg.Raw); err != nil {
			return nil, start, &MalformedMessage{Reason: "strict: " + err.Error(), Offset: start}
		}
	}

	consumed := end
	if framing == Datagram {
		consumed = len(buf)
	}
	return msg, consumed, nil
}

type line struct {
	text   string
	offset int
}

// splitHeader returns the header lines from start up to the blank line and
// the offset of the body. Lines end in CRLF or a bare LF.
func splitHeader(buf []byte, start int) ([]line, int, bool) {
	var lines []line
	pos := start
	for pos < len(buf) {
		nl := bytes.IndexByte(buf[pos:], '\n')
		if nl < 0 {
			if text := bytes.TrimSuffix(buf[pos:], []byte("\r")); len(text) > 0 {
				lines = append(lines, line{text: string(text), offset: pos})
			}
			return lines, len(buf), false
		}
		text := bytes.TrimSuffix(buf[pos:pos+nl], []byte("\r"))
		next := pos + nl + 1
		if len(text) == 0 {
			return lines, next, true
		}
		lines = append(lines, line{text: string(text), offset: pos})
		pos = next
	}
	return lines, len(buf), false
}

func skipKeepAlive(buf []byte) int {
	i := 0
	for i < len(buf) && (buf[i] == '\r' || buf[i] == '\n') {
		i++
	}
	return i
}

// IsKeepAlive reports whether b holds only CRLF keep-alive bytes.
func IsKeepAlive(b []byte) bool {
	return len(b) > 0 && skipKeepAlive(b) == len(b)
}

func parseStartLine(msg *Message, text string) error {
	if strings.HasPrefix(text, "SIP/") {
		version, rest, ok := strings.Cut(text, " ")
		if !ok {
			return errors.New("status line without status code")
		}
		code, reason, _ := strings.Cut(rest, " ")
		status, err := strconv.Atoi(code)
		if err != nil || status < 100 || status > 699 {
			return fmt.Errorf("invalid status code %q", code)
		}
		if !validVersion(version) {
			return fmt.Errorf("invalid sip version %q", version)
		}
		msg.Version = version
		msg.StatusCode = status
		msg.Reason = strings.TrimSpace(reason)
		return nil
	}

	parts := strings.Split(text, " ")
	if len(parts) != 3 {
		return fmt.Errorf("invalid request line %q", truncate(text))
	}
	method, uri, version := parts[0], parts[1], parts[2]
	if !isToken(method) {
		return fmt.Errorf("invalid method %q", truncate(method))
	}
	if uri == "" {
		return errors.New("empty request uri")
	}
	if !validVersion(version) {
		return fmt.Errorf("invalid sip version %q", truncate(version))
	}
	msg.Method = strings.ToUpper(method)
	msg.RequestURI = uri
	msg.Version = version
	return nil
}

func parseHeaders(msg *Message, lines []line) error {
	for _, l := range lines {
		if l.text[0] == ' ' || l.text[0] == '\t' {
			if len(msg.Headers) == 0 {
				return &MalformedMessage{Reason: "continuation line before first header", Offset: l.offset}
			}
			last := &msg.Headers[len(msg.Headers)-1]
			folded := strings.TrimSpace(l.text)
			if last.Value == "" {
				last.Value = folded
			} else if folded != "" {
				last.Value += " " + folded
			}
			continue
		}
		name, value, ok := strings.Cut(l.text, ":")
		name = strings.TrimRight(name, " \t")
		if !ok || !isToken(name) {
			return &MalformedMessage{Reason: fmt.Sprintf("invalid header line %q", truncate(l.text)), Offset: l.offset}
		}
		msg.addHeader(name, strings.TrimSpace(value))
	}
	return nil
}

// contentLength returns the declared body length. A missing header means
// zero. An unparsable value means zero for datagrams.
func contentLength(msg *Message, framing Framing) (int, error) {
	v, ok := msg.Header("content-length")
	if !ok {
		return 0, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		if framing == Datagram {
			return 0, nil
		}
		return 0, fmt.Errorf("invalid content-length %q", truncate(v))
	}
	return n, nil
}

func validVersion(v string) bool {
	return len(v) > 4 && strings.EqualFold(v[:4], "SIP/")
}

// isToken reports whether s is a non-empty RFC 3261 token.
func isToken(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case strings.IndexByte("-.!%*_+`'~", c) >= 0:
		default:
			return false
		}
	}
	return true
}

func truncate(s string) string {
	if len(s) > 64 {
		return s[:64] + "..."
	}
	return s
}

// Detect cheaply reports whether payload starts like a SIP message.
// RTP, TLS and other binary payloads are rejected without parsing.
func Detect(payload []byte) bool {
	payload = payload[skipKeepAlive(payload):]
	end := bytes.IndexByte(payload, '\n')
	if end < 0 {
		end = len(payload)
	}
	first := bytes.TrimSuffix(payload[:end], []byte("\r"))
	return looksLikeStartLine(first, end < len(payload))
}

// looksLikeStartLine checks a request or status line. When the line is
// not known to be complete only its prefix is checked.
func looksLikeStartLine(l []byte, complete bool) bool {
	if bytes.HasPrefix(l, []byte("SIP/2.0 ")) {
		return true
	}
	sp := bytes.IndexByte(l, ' ')
	if sp <= 0 || sp > 32 {
		if !complete && sp < 0 && len(l) > 0 && len(l) <= 32 {
			return isUpperToken(l)
		}
		return false
	}
	if !isUpperToken(l[:sp]) {
		return false
	}
	if !complete {
		return true
	}
	return bytes.HasSuffix(l, []byte(" SIP/2.0"))
}

func isUpperToken(b []byte) bool {
	for _, c := range b {
		if (c < 'A' || c > 'Z') && c != '-' {
			return false
		}
	}
	return len(b) > 0
}

// Resync returns how many bytes of a stream buffer to discard to reach the
// next line that looks like a SIP start-line. When none is found the
// incomplete last line is kept.
func Resync(buf []byte) int {
	pos := 0
	for {
		nl := bytes.IndexByte(buf[pos:], '\n')
		if nl < 0 {
			if pos == 0 {
				return len(buf)
			}
			return pos
		}
		pos += nl + 1
		rest := buf[pos:]
		end := bytes.IndexByte(rest, '\n')
		complete := end >= 0
		if !complete {
			end = len(rest)
		}
		if end > 0 && looksLikeStartLine(bytes.TrimSuffix(rest[:end], []byte("\r")), complete) {
			return pos
		}
		if !complete {
			return pos
		}
	}
}
