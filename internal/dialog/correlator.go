package dialog

import (
	"cmp"
	"slices"
	"time"

	"github.com/cespare/xxhash/v2"

	"firestige.xyz/sipzamine/internal/metrics"
	"firestige.xyz/sipzamine/internal/sipmsg"
)

const (
	defaultIdleTimeout = time.Hour
	defaultLinger      = 2 * time.Second
)

// Config contains dialog correlation settings. Both durations are judged
// on capture time.
type Config struct {
	IdleTimeout time.Duration `mapstructure:"idle_timeout"` // default 1h
	Linger      time.Duration `mapstructure:"linger"`       // default 2s
}

// Stats counts messages the correlator could not place.
type Stats struct {
	Dialogs         int // dialogs created
	Reopened        int // lingering dialogs reopened by a new request
	Retransmissions int
	Unkeyed         int // messages without a Call-ID
}

// Correlator owns every open dialog. It is driven by a single goroutine.
// A dialog leaves the correlator exactly once, through Add, Expire or
// Flush, and is not referenced afterwards.
type Correlator struct {
	config    Config
	byCall    map[string][]*Dialog // Call-ID -> dialogs in creation order
	lingering []*Dialog            // closed, awaiting hand-off
	nextID    int
	holding   int
	stats     Stats
}

// NewCorrelator creates a correlator.
func NewCorrelator(cfg Config) *Correlator {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Linger < 0 {
		cfg.Linger = 0
	} else if cfg.Linger == 0 {
		cfg.Linger = defaultLinger
	}
	return &Correlator{
		config: cfg,
		byCall: make(map[string][]*Dialog),
	}
}

// Stats returns counters accumulated so far.
func (c *Correlator) Stats() Stats {
	return c.stats
}

// Open returns the number of dialogs held, lingering ones included.
func (c *Correlator) Open() int {
	return c.holding
}

// Add appends msg to its dialog and returns the dialogs whose closing
// became final at msg's timestamp, in detection order. A dialog closed by
// msg itself lingers and is returned by a later call.
func (c *Correlator) Add(msg *sipmsg.Message) []*Dialog {
	out := c.releaseLingering(msg.Timestamp)

	callID := msg.CallID()
	if callID == "" {
		c.stats.Unkeyed++
		return out
	}

	d, tagMatch := c.lookup(callID, msg)
	if d == nil {
		d = c.create(callID, msg)
	}

	if c.fingerprint(d, msg) {
		msg.Retransmission = true
		c.stats.Retransmissions++
	}
	d.insert(msg)

	if d.State == Closed {
		if tagMatch && c.reopens(d, msg) {
			c.reopen(d, msg)
		} else {
			return out
		}
	}

	next := d.state.handle(d, msg)
	d.state = next
	d.State = next.State()
	if d.State == Closed {
		d.CloseTime = msg.Timestamp
		d.closeAt = msg.Timestamp.Add(c.config.Linger)
		c.lingering = append(c.lingering, d)
	}
	return out
}

// Expire closes dialogs idle for longer than the idle timeout at capture
// time now and releases lingering dialogs whose window has passed.
// Results are ordered by last activity, then creation.
func (c *Correlator) Expire(now time.Time) []*Dialog {
	var out []*Dialog
	for _, d := range c.all() {
		switch {
		case d.State == Closed:
			if now.After(d.closeAt) {
				out = append(out, d)
			}
		case now.Sub(d.LastActivity) > c.config.IdleTimeout:
			d.State = Closed
			d.state = closedState{}
			d.EndReason = EndTimedOut
			d.CloseTime = now
			out = append(out, d)
		}
	}
	sortByActivity(out)
	c.remove(out)
	return out
}

// Flush hands off every dialog still held. Lingering dialogs keep the
// reason they closed with and come first; open ones are closed with
// reason.
func (c *Correlator) Flush(reason EndReason) []*Dialog {
	var closed, open []*Dialog
	for _, d := range c.all() {
		if d.State == Closed {
			closed = append(closed, d)
			continue
		}
		d.State = Closed
		d.state = closedState{}
		d.EndReason = reason
		d.CloseTime = d.LastActivity
		open = append(open, d)
	}
	sortByClose(closed)
	sortByActivity(open)
	out := append(closed, open...)
	c.remove(out)
	return out
}

// lookup finds the dialog msg belongs to: the first with compatible tags,
// else the first between the same endpoints. A closed dialog is not matched
// by endpoints alone for a request that opens a dialog of its own. The
// bool reports a tag match.
func (c *Correlator) lookup(callID string, msg *sipmsg.Message) (*Dialog, bool) {
	candidates := c.byCall[callID]
	for _, d := range candidates {
		if d.tagsCompatible(msg) {
			return d, true
		}
	}
	fresh := startsDialog(msg)
	for _, d := range candidates {
		if fresh && d.State == Closed {
			continue
		}
		if d.endpointsMatch(msg) {
			return d, false
		}
	}
	return nil, false
}

// startsDialog reports whether msg is a tagged request other than ACK,
// which carries its own dialog identity.
func startsDialog(msg *sipmsg.Message) bool {
	return msg.IsRequest() && msg.Method != "ACK" && msg.FromTag() != ""
}

func (c *Correlator) create(callID string, msg *sipmsg.Message) *Dialog {
	c.nextID++
	c.stats.Dialogs++
	c.holding++
	metrics.OpenDialogs.Inc()

	d := &Dialog{
		Key:      ProvisionalKey{CallID: callID},
		State:    Provisional,
		state:    provisionalState{},
		localTag: msg.FromTag(),
		id:       c.nextID,
		seen:     make(map[uint64]struct{}),
	}
	num, method, ok := msg.CSeq()
	if ok {
		d.initialCSeq = num
	}
	if msg.IsRequest() {
		d.Method = msg.Method
		d.Initiator = msg.Key
	} else {
		d.Method = method
		d.Initiator = msg.Key.Reverse()
	}
	c.byCall[callID] = append(c.byCall[callID], d)
	return d
}

// fingerprint records msg in d and reports whether the same bytes were
// already seen travelling in the same direction.
func (c *Correlator) fingerprint(d *Dialog, msg *sipmsg.Message) bool {
	h := xxhash.New()
	_, _ = h.WriteString(msg.Key.String())
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(msg.Raw)
	sum := h.Sum64()
	if _, ok := d.seen[sum]; ok {
		return true
	}
	d.seen[sum] = struct{}{}
	return false
}

// reopens reports whether msg revives a lingering dialog: a new request
// other than ACK, for a dialog not ended by a BYE.
func (c *Correlator) reopens(d *Dialog, msg *sipmsg.Message) bool {
	return msg.IsRequest() && !msg.Retransmission && msg.Method != "ACK" &&
		msg.Method != "CANCEL" && !d.byeSeen
}

func (c *Correlator) reopen(d *Dialog, msg *sipmsg.Message) {
	c.stats.Reopened++
	c.lingering = slices.DeleteFunc(c.lingering, func(x *Dialog) bool { return x == d })
	d.EndReason = ""
	d.CloseTime = time.Time{}
	d.closeAt = time.Time{}
	d.cancelled = false
	if num, _, ok := msg.CSeq(); ok && msg.Method == d.Method {
		d.initialCSeq = num
	}
	if _, ok := d.Key.(EstablishedKey); ok {
		d.state = establishedState{}
	} else {
		d.state = provisionalState{}
	}
	d.State = d.state.State()
}

// releaseLingering hands off closed dialogs whose linger window ended
// before now, in the order they closed.
func (c *Correlator) releaseLingering(now time.Time) []*Dialog {
	var out []*Dialog
	for _, d := range c.lingering {
		if now.After(d.closeAt) {
			out = append(out, d)
		}
	}
	if len(out) == 0 {
		return nil
	}
	sortByClose(out)
	c.remove(out)
	return out
}

func (c *Correlator) all() []*Dialog {
	var out []*Dialog
	for _, list := range c.byCall {
		out = append(out, list...)
	}
	slices.SortFunc(out, func(a, b *Dialog) int { return cmp.Compare(a.id, b.id) })
	return out
}

func (c *Correlator) remove(dialogs []*Dialog) {
	for _, d := range dialogs {
		callID := d.CallID()
		list := slices.DeleteFunc(c.byCall[callID], func(x *Dialog) bool { return x == d })
		if len(list) == 0 {
			delete(c.byCall, callID)
		} else {
			c.byCall[callID] = list
		}
		if d.State == Closed {
			c.lingering = slices.DeleteFunc(c.lingering, func(x *Dialog) bool { return x == d })
		}
		c.holding--
		metrics.OpenDialogs.Dec()
	}
}

func sortByActivity(dialogs []*Dialog) {
	slices.SortStableFunc(dialogs, func(a, b *Dialog) int {
		if r := a.LastActivity.Compare(b.LastActivity); r != 0 {
			return r
		}
		return cmp.Compare(a.id, b.id)
	})
}

func sortByClose(dialogs []*Dialog) {
	slices.SortStableFunc(dialogs, func(a, b *Dialog) int {
		if r := a.closeAt.Compare(b.closeAt); r != 0 {
			return r
		}
		return cmp.Compare(a.id, b.id)
	})
}
