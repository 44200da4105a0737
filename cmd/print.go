package cmd

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"slices"
	"text/tabwriter"

	"firestige.xyz/sipzamine/internal/dialog"
	"firestige.xyz/sipzamine/internal/pipeline"
)

const (
	dateLayout  = "2006-01-02 15:04:05.000000"
	clockLayout = "15:04:05.000000"
)

// printDialog writes a dialog header line followed by one line per
// message, or each message in full when verbose.
func printDialog(w io.Writer, d *dialog.Dialog, verbose bool) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%s %s %s %s duration=%s end=%s messages=%d",
		d.Start.UTC().Format(dateLayout), d.Method, d.Key, d.Initiator,
		d.Duration(), d.EndReason, len(d.Messages))
	if n := d.Retransmissions(); n > 0 {
		fmt.Fprintf(bw, " retransmissions=%d", n)
	}
	if len(d.ForkedTags) > 0 {
		fmt.Fprintf(bw, " forked=%v", d.ForkedTags)
	}
	bw.WriteString("\n")

	for _, m := range d.Messages {
		fmt.Fprintf(bw, "  %s %s %s", m.Timestamp.UTC().Format(clockLayout), m.Key, m.StartLine())
		if m.Retransmission {
			bw.WriteString(" (retransmission)")
		}
		if m.BodyTruncated {
			bw.WriteString(" (body truncated)")
		}
		bw.WriteString("\n")
		if verbose {
			for line := range bytes.Lines(m.Raw) {
				bw.WriteString("    | ")
				bw.Write(bytes.TrimRight(line, "\r\n"))
				bw.WriteString("\n")
			}
		}
	}
	return bw.Flush()
}

// printSummary writes the run diagnostics as an aligned table.
func printSummary(w io.Writer, s *pipeline.Summary, printed int) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "")
	fmt.Fprintf(tw, "capture\t%s\n", s.Capture.Format)
	fmt.Fprintf(tw, "frames read\t%d\n", s.FramesRead)
	switch {
	case s.Truncated != nil:
		fmt.Fprintf(tw, "truncated\t%v\n", s.Truncated)
	case s.Cancelled:
		fmt.Fprintln(tw, "cancelled\tyes")
	case s.LimitReached:
		fmt.Fprintln(tw, "frame limit\treached")
	}

	rows := []struct {
		name  string
		value int
	}{
		{"unsupported frames", s.Unsupported},
		{"ip fragments", s.Fragments},
		{"decode errors", s.DecodeErrors},
		{"filtered frames", s.Filtered},
		{"partial streams", len(s.PartialStreams)},
		{"partial stream bytes", s.PartialBytes()},
		{"stale segments", s.StaleSegments},
		{"duplicate segments", s.DuplicateSegments},
		{"overflow closes", s.OverflowCloses},
		{"non-sip payloads", s.NonSIP},
		{"malformed sip", s.MalformedSIP},
		{"truncated bodies", s.TruncatedBodies},
		{"sip messages", s.SIPMessages},
		{"retransmissions", s.Retransmissions},
		{"messages without call-id", s.Unkeyed},
		{"reopened dialogs", s.Reopened},
	}
	for _, r := range rows {
		if r.value != 0 || r.name == "sip messages" {
			fmt.Fprintf(tw, "%s\t%d\n", r.name, r.value)
		}
	}

	reasons := make([]string, 0, len(s.Dialogs))
	for r := range s.Dialogs {
		reasons = append(reasons, string(r))
	}
	slices.Sort(reasons)
	fmt.Fprintf(tw, "dialogs\t%d\n", s.TotalDialogs())
	for _, r := range reasons {
		fmt.Fprintf(tw, "  %s\t%d\n", r, s.Dialogs[dialog.EndReason(r)])
	}
	fmt.Fprintf(tw, "dialogs printed\t%d\n", printed)
	return tw.Flush()
}
