// Package query selects dialogs and messages with composable predicates.
package query

import (
	"iter"
	"net/netip"
	"regexp"
	"slices"
	"strings"
	"time"

	"firestige.xyz/sipzamine/internal/dialog"
	"firestige.xyz/sipzamine/internal/sipmsg"
)

// Predicate matches a dialog.
type Predicate func(*dialog.Dialog) bool

// MessagePredicate matches a single message.
type MessagePredicate func(*sipmsg.Message) bool

// All matches when every predicate matches. No predicates match everything.
func All(preds ...Predicate) Predicate {
	return func(d *dialog.Dialog) bool {
		for _, p := range preds {
			if !p(d) {
				return false
			}
		}
		return true
	}
}

// Any matches when at least one predicate matches.
func Any(preds ...Predicate) Predicate {
	return func(d *dialog.Dialog) bool {
		for _, p := range preds {
			if p(d) {
				return true
			}
		}
		return false
	}
}

// Not inverts p.
func Not(p Predicate) Predicate {
	return func(d *dialog.Dialog) bool {
		return !p(d)
	}
}

// AnyMessage matches dialogs with at least one matching message.
func AnyMessage(p MessagePredicate) Predicate {
	return func(d *dialog.Dialog) bool {
		return slices.ContainsFunc(d.Messages, p)
	}
}

// EveryMessage matches dialogs whose messages all match.
func EveryMessage(p MessagePredicate) Predicate {
	return func(d *dialog.Dialog) bool {
		for _, m := range d.Messages {
			if !p(m) {
				return false
			}
		}
		return true
	}
}

// CallID matches any of the given Call-IDs exactly.
func CallID(ids ...string) Predicate {
	return func(d *dialog.Dialog) bool {
		return slices.Contains(ids, d.CallID())
	}
}

// Method matches the initiating method, case-insensitively.
func Method(methods ...string) Predicate {
	return func(d *dialog.Dialog) bool {
		return slices.ContainsFunc(methods, func(m string) bool {
			return strings.EqualFold(m, d.Method)
		})
	}
}

// HasStatus matches dialogs that saw any of the status codes.
func HasStatus(codes ...int) Predicate {
	return func(d *dialog.Dialog) bool {
		return slices.ContainsFunc(d.Statuses, func(c int) bool {
			return slices.Contains(codes, c)
		})
	}
}

// StatusRange matches dialogs that saw a status code in [lo, hi].
func StatusRange(lo, hi int) Predicate {
	return func(d *dialog.Dialog) bool {
		return slices.ContainsFunc(d.Statuses, func(c int) bool {
			return c >= lo && c <= hi
		})
	}
}

// DurationBetween matches dialogs lasting at least lo and at most hi.
// A zero hi is unbounded.
func DurationBetween(lo, hi time.Duration) Predicate {
	return func(d *dialog.Dialog) bool {
		dur := d.Duration()
		return dur >= lo && (hi == 0 || dur <= hi)
	}
}

// StartedBetween matches dialogs whose first message falls in [from, to].
// A zero bound is open.
func StartedBetween(from, to time.Time) Predicate {
	return func(d *dialog.Dialog) bool {
		if !from.IsZero() && d.Start.Before(from) {
			return false
		}
		return to.IsZero() || !d.Start.After(to)
	}
}

// Endpoint matches dialogs with a message sent from or to addr and port.
// An invalid addr or a zero port matches any.
func Endpoint(addr netip.Addr, port uint16) Predicate {
	match := func(ap netip.AddrPort) bool {
		if addr.IsValid() && ap.Addr().Unmap() != addr.Unmap() {
			return false
		}
		return port == 0 || ap.Port() == port
	}
	return func(d *dialog.Dialog) bool {
		if match(d.Initiator.Src) || match(d.Initiator.Dst) {
			return true
		}
		return slices.ContainsFunc(d.Messages, func(m *sipmsg.Message) bool {
			return match(m.Key.Src) || match(m.Key.Dst)
		})
	}
}

// EndReason matches any of the end reasons.
func EndReason(reasons ...dialog.EndReason) Predicate {
	return func(d *dialog.Dialog) bool {
		return slices.Contains(reasons, d.EndReason)
	}
}

// HasRetransmissions matches dialogs with a retransmitted message.
func HasRetransmissions() Predicate {
	return AnyMessage(func(m *sipmsg.Message) bool {
		return m.Retransmission
	})
}

// Contains matches dialogs with a message whose raw bytes match re.
func Contains(re *regexp.Regexp) Predicate {
	return AnyMessage(func(m *sipmsg.Message) bool {
		return re.Match(m.Raw)
	})
}

// HeaderPresent matches messages carrying the named header.
func HeaderPresent(name string) MessagePredicate {
	return func(m *sipmsg.Message) bool {
		_, ok := m.Header(name)
		return ok
	}
}

// HeaderMatches matches messages with a value of the named header
// matching re.
func HeaderMatches(name string, re *regexp.Regexp) MessagePredicate {
	return func(m *sipmsg.Message) bool {
		return slices.ContainsFunc(m.Values(name), re.MatchString)
	}
}

// Filter yields the dialogs of seq matching pred.
func Filter(seq iter.Seq[*dialog.Dialog], pred Predicate) iter.Seq[*dialog.Dialog] {
	return func(yield func(*dialog.Dialog) bool) {
		for d := range seq {
			if pred(d) && !yield(d) {
				return
			}
		}
	}
}
