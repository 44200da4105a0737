// Package sipmsg parses SIP messages out of datagrams and reassembled
// TCP byte streams.
package sipmsg

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"firestige.xyz/sipzamine/internal/core"
)

// Header is one header line as written, after unfolding.
type Header struct {
	Name  string
	Value string
}

// Message is a parsed SIP request or response.
// Fields are not modified after parsing, except Retransmission which the
// dialog correlator sets before handing the message off.
type Message struct {
	// Request-Line
	Method     string
	RequestURI string

	// Status-Line
	StatusCode int
	Reason     string

	Version string
	Headers []Header // in wire order, repeated names preserved
	Body    []byte
	Raw     []byte

	// BodyTruncated is set when a datagram ended before Content-Length.
	BodyTruncated bool

	Key       core.StreamKey
	Timestamp time.Time
	Seq       int // arrival order within a run

	Retransmission bool

	index map[string][]int // canonical lower-case name -> positions in Headers
}

// IsRequest reports whether the message is a request.
func (m *Message) IsRequest() bool {
	return m.Method != ""
}

// IsResponse reports whether the message is a response.
func (m *Message) IsResponse() bool {
	return m.StatusCode != 0
}

// Header returns the first value of the named header. Compact and full
// names are interchangeable and matched case-insensitively.
func (m *Message) Header(name string) (string, bool) {
	idx := m.index[canonicalName(name)]
	if len(idx) == 0 {
		return "", false
	}
	return m.Headers[idx[0]].Value, true
}

// Values returns every value of the named header in wire order.
func (m *Message) Values(name string) []string {
	idx := m.index[canonicalName(name)]
	if len(idx) == 0 {
		return nil
	}
	out := make([]string, len(idx))
	for i, pos := range idx {
		out[i] = m.Headers[pos].Value
	}
	return out
}

// CallID returns the Call-ID header value with surrounding whitespace removed.
func (m *Message) CallID() string {
	v, _ := m.Header("call-id")
	return strings.TrimSpace(v)
}

// FromTag returns the tag parameter of the From header.
func (m *Message) FromTag() string {
	v, _ := m.Header("from")
	tag, _ := Param(v, "tag")
	return tag
}

// ToTag returns the tag parameter of the To header.
func (m *Message) ToTag() string {
	v, _ := m.Header("to")
	tag, _ := Param(v, "tag")
	return tag
}

// CSeq returns the sequence number and method of the CSeq header.
func (m *Message) CSeq() (uint32, string, bool) {
	v, ok := m.Header("cseq")
	if !ok {
		return 0, "", false
	}
	fields := strings.Fields(v)
	if len(fields) != 2 {
		return 0, "", false
	}
	n, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return 0, "", false
	}
	return uint32(n), strings.ToUpper(fields[1]), true
}

// CSeqMethod returns the method named in CSeq, or the request method when
// CSeq is unusable.
func (m *Message) CSeqMethod() string {
	if _, method, ok := m.CSeq(); ok {
		return method
	}
	return m.Method
}

// StartLine renders the request or status line.
func (m *Message) StartLine() string {
	if m.IsRequest() {
		return fmt.Sprintf("%s %s %s", m.Method, m.RequestURI, m.Version)
	}
	return fmt.Sprintf("%s %d %s", m.Version, m.StatusCode, m.Reason)
}

func (m *Message) String() string {
	return m.StartLine()
}

func (m *Message) addHeader(name, value string) {
	if m.index == nil {
		m.index = make(map[string][]int)
	}
	key := canonicalName(name)
	m.index[key] = append(m.index[key], len(m.Headers))
	m.Headers = append(m.Headers, Header{Name: name, Value: value})
}

// compactNames maps RFC 3261 and extension compact forms to full names.
var compactNames = map[string]string{
	"a": "accept-contact",
	"b": "referred-by",
	"c": "content-type",
	"d": "request-disposition",
	"e": "content-encoding",
	"f": "from",
	"i": "call-id",
	"j": "reject-contact",
	"k": "supported",
	"l": "content-length",
	"m": "contact",
	"n": "identity-info",
	"o": "event",
	"r": "refer-to",
	"s": "subject",
	"t": "to",
	"u": "allow-events",
	"v": "via",
	"x": "session-expires",
	"y": "identity",
}

// canonicalName lower-cases a header name and resolves compact forms.
func canonicalName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if full, ok := compactNames[name]; ok {
		return full
	}
	return name
}
