package cmd

import (
	"fmt"
	"net/netip"
	"regexp"
	"strconv"
	"strings"
	"time"

	"firestige.xyz/sipzamine/internal/dialog"
	"firestige.xyz/sipzamine/internal/query"
)

// dateLayouts are tried in order for --mindate and --maxdate. Layouts
// without a zone are read as UTC.
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

var endReasons = []dialog.EndReason{
	dialog.EndCompleted,
	dialog.EndRejected,
	dialog.EndCancelled,
	dialog.EndTimedOut,
	dialog.EndIncomplete,
}

// queryOptions holds the query flags of examine. Every set option must
// match.
type queryOptions struct {
	callIDs     []string
	methods     []string
	statuses    []int
	minDate     string
	maxDate     string
	minDur      time.Duration
	maxDur      time.Duration
	contains    string
	headers     []string
	retransmits bool
	endReasons  []string
	endpoint    string

	limit     int
	verbose   bool
	noSummary bool
}

func (o *queryOptions) predicate() (query.Predicate, error) {
	var preds []query.Predicate

	if len(o.callIDs) > 0 {
		preds = append(preds, query.CallID(o.callIDs...))
	}
	if len(o.methods) > 0 {
		preds = append(preds, query.Method(o.methods...))
	}
	if len(o.statuses) > 0 {
		preds = append(preds, query.HasStatus(o.statuses...))
	}

	if o.minDate != "" || o.maxDate != "" {
		from, err := parseDate(o.minDate)
		if err != nil {
			return nil, fmt.Errorf("invalid --mindate: %w", err)
		}
		to, err := parseDate(o.maxDate)
		if err != nil {
			return nil, fmt.Errorf("invalid --maxdate: %w", err)
		}
		if !from.IsZero() && !to.IsZero() && to.Before(from) {
			return nil, fmt.Errorf("--maxdate %s is before --mindate %s", o.maxDate, o.minDate)
		}
		preds = append(preds, query.StartedBetween(from, to))
	}

	if o.minDur < 0 || o.maxDur < 0 {
		return nil, fmt.Errorf("durations must not be negative")
	}
	if o.maxDur > 0 && o.maxDur < o.minDur {
		return nil, fmt.Errorf("--maxdur %s is below --mindur %s", o.maxDur, o.minDur)
	}
	if o.minDur > 0 || o.maxDur > 0 {
		preds = append(preds, query.DurationBetween(o.minDur, o.maxDur))
	}

	if o.contains != "" {
		re, err := regexp.Compile(o.contains)
		if err != nil {
			return nil, fmt.Errorf("invalid --contains: %w", err)
		}
		preds = append(preds, query.Contains(re))
	}

	for _, h := range o.headers {
		p, err := headerPredicate(h)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}

	if o.retransmits {
		preds = append(preds, query.HasRetransmissions())
	}

	if len(o.endReasons) > 0 {
		reasons := make([]dialog.EndReason, 0, len(o.endReasons))
		for _, r := range o.endReasons {
			reason, err := parseEndReason(r)
			if err != nil {
				return nil, err
			}
			reasons = append(reasons, reason)
		}
		preds = append(preds, query.EndReason(reasons...))
	}

	if o.endpoint != "" {
		addr, port, err := parseEndpoint(o.endpoint)
		if err != nil {
			return nil, err
		}
		preds = append(preds, query.Endpoint(addr, port))
	}

	return query.All(preds...), nil
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as a date", s)
}

func parseEndReason(s string) (dialog.EndReason, error) {
	for _, r := range endReasons {
		if strings.EqualFold(s, string(r)) {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown end reason %q", s)
}

// headerPredicate reads NAME or NAME=REGEXP.
func headerPredicate(s string) (query.Predicate, error) {
	name, pattern, hasPattern := strings.Cut(s, "=")
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("invalid --header %q: missing name", s)
	}
	if !hasPattern {
		return query.AnyMessage(query.HeaderPresent(name)), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid --header %q: %w", s, err)
	}
	return query.AnyMessage(query.HeaderMatches(name, re)), nil
}

// parseEndpoint reads ADDR, ADDR:PORT, [V6]:PORT or :PORT.
func parseEndpoint(s string) (netip.Addr, uint16, error) {
	if addr, err := netip.ParseAddr(s); err == nil {
		return addr, 0, nil
	}
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap.Addr(), ap.Port(), nil
	}
	if rest, ok := strings.CutPrefix(s, ":"); ok {
		port, err := strconv.ParseUint(rest, 10, 16)
		if err == nil && port > 0 {
			return netip.Addr{}, uint16(port), nil
		}
	}
	return netip.Addr{}, 0, fmt.Errorf("invalid --endpoint %q", s)
}
