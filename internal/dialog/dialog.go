// Package dialog groups SIP messages into dialogs and tracks their
// lifecycle on capture time.
package dialog

import (
	"slices"
	"time"

	"firestige.xyz/sipzamine/internal/core"
	"firestige.xyz/sipzamine/internal/sipmsg"
)

// State is the lifecycle state of a dialog.
type State int

const (
	Provisional State = iota
	Established
	Closed
)

func (s State) String() string {
	switch s {
	case Provisional:
		return "provisional"
	case Established:
		return "established"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// EndReason says why a dialog was closed.
type EndReason string

const (
	EndCompleted  EndReason = "completed"
	EndRejected   EndReason = "rejected"
	EndCancelled  EndReason = "cancelled"
	EndTimedOut   EndReason = "timed-out"
	EndIncomplete EndReason = "incomplete"
)

// Dialog is a group of messages sharing a dialog identity.
type Dialog struct {
	Key       Key
	State     State
	EndReason EndReason

	// Messages are ordered by timestamp, then arrival.
	Messages []*sipmsg.Message

	Method       string         // method of the initiating request
	Initiator    core.StreamKey // direction of the initiating request
	Start        time.Time
	LastActivity time.Time
	CloseTime    time.Time

	Statuses   []int    // distinct status codes in order first seen
	ForkedTags []string // remote tags of forked responses other than the key's

	id          int
	state       dialogState
	localTag    string
	initialCSeq uint32
	confirmed   bool // a 2xx answered the initiating request
	cancelled   bool
	byeSeen     bool // closed by a BYE transaction
	closeAt     time.Time
	seen        map[uint64]struct{}
}

// CallID returns the dialog's Call-ID.
func (d *Dialog) CallID() string {
	return CallIDOf(d.Key)
}

// Established reports whether a tagged response fixed the full key. It
// stays true after the dialog closes.
func (d *Dialog) Established() bool {
	_, ok := d.Key.(EstablishedKey)
	return ok
}

// Duration is the time between the first and the last message.
func (d *Dialog) Duration() time.Duration {
	return d.LastActivity.Sub(d.Start)
}

// Retransmissions counts messages marked as retransmitted.
func (d *Dialog) Retransmissions() int {
	n := 0
	for _, m := range d.Messages {
		if m.Retransmission {
			n++
		}
	}
	return n
}

// LocalTag returns the From tag of the initiating request.
func (d *Dialog) LocalTag() string {
	return d.localTag
}

// RemoteTag returns the remote tag of an established dialog.
func (d *Dialog) RemoteTag() string {
	if k, ok := d.Key.(EstablishedKey); ok {
		return k.RemoteTag
	}
	return ""
}

// insert places msg by timestamp; equal timestamps keep arrival order.
func (d *Dialog) insert(msg *sipmsg.Message) {
	i := len(d.Messages)
	for i > 0 && d.Messages[i-1].Timestamp.After(msg.Timestamp) {
		i--
	}
	d.Messages = slices.Insert(d.Messages, i, msg)

	if d.Start.IsZero() || msg.Timestamp.Before(d.Start) {
		d.Start = msg.Timestamp
	}
	if msg.Timestamp.After(d.LastActivity) {
		d.LastActivity = msg.Timestamp
	}
	if msg.IsResponse() && !slices.Contains(d.Statuses, msg.StatusCode) {
		d.Statuses = append(d.Statuses, msg.StatusCode)
	}
}

// establish fixes the dialog key from a tagged response, or records a
// forked remote tag once the key is fixed.
func (d *Dialog) establish(msg *sipmsg.Message) {
	remote := msg.ToTag()
	switch k := d.Key.(type) {
	case ProvisionalKey:
		if d.localTag == "" {
			d.localTag = msg.FromTag()
		}
		d.Key = EstablishedKey{CallID: k.CallID, LocalTag: d.localTag, RemoteTag: remote}
	case EstablishedKey:
		if remote != k.RemoteTag && !slices.Contains(d.ForkedTags, remote) {
			d.ForkedTags = append(d.ForkedTags, remote)
		}
	}
}

// knowsTag reports whether tag is the local tag or a seen remote tag.
func (d *Dialog) knowsTag(tag string) bool {
	if tag == "" {
		return false
	}
	if tag == d.localTag || tag == d.RemoteTag() {
		return true
	}
	return slices.Contains(d.ForkedTags, tag)
}

// tagsCompatible reports whether msg carries tags of this dialog.
func (d *Dialog) tagsCompatible(msg *sipmsg.Message) bool {
	if d.localTag == "" {
		return true
	}
	return d.knowsTag(msg.FromTag()) || d.knowsTag(msg.ToTag())
}

// endpointsMatch reports whether msg travels between the initiator's
// endpoints in either direction.
func (d *Dialog) endpointsMatch(msg *sipmsg.Message) bool {
	return d.Initiator.SameConversation(msg.Key)
}
