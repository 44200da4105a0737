package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/sipzamine/internal/config"
	"firestige.xyz/sipzamine/internal/log"
	"firestige.xyz/sipzamine/internal/metrics"
	"firestige.xyz/sipzamine/internal/pipeline"
	"firestige.xyz/sipzamine/internal/query"
)

var examineCmd = &cobra.Command{
	Use:   "examine <capture-file>",
	Short: "Print the SIP dialogs of a capture file",
	Long: `Read a pcap or pcapng file, rebuild the SIP dialogs it carries and print the
ones matching every given query flag, followed by a summary of what could not
be used.

Examples:
  sipzamine examine call.pcap
  sipzamine examine -c sipzamine.yaml --idle-timeout 10m trace.pcapng
  sipzamine examine --method INVITE --status 486 --mindur 5s trace.pcap
  sipzamine examine --host 192.0.2.10 --port 5060 --contains 'User-Agent: .*Polycom' trace.pcap
  sipzamine examine --end-reason timed-out --retransmits -v trace.pcap`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(cmd.Flags(), configFile, examineBindings)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("metrics-listen") {
			cfg.Metrics.Enabled = true
		}
		if err := log.Init(cfg.Log); err != nil {
			return fmt.Errorf("failed to init logger: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if cfg.Metrics.Enabled {
			srv := metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path)
			if err := srv.Start(ctx); err != nil {
				return err
			}
			defer func() {
				if err := srv.Stop(context.Background()); err != nil {
					slog.Warn("failed to stop metrics server", "error", err)
				}
			}()
		}

		return runExamine(ctx, cfg, args[0], &examineOpts, cmd.OutOrStdout())
	},
}

// examineBindings maps config keys to the examine flags overriding them.
var examineBindings = map[string]string{
	"dialog.idle_timeout": "idle-timeout",
	"filter.hosts":        "host",
	"filter.ports":        "port",
	"capture.max_frames":  "max-frames",
	"capture.read_ahead":  "read-ahead",
	"sip.strict":          "strict",
	"metrics.listen":      "metrics-listen",
}

var examineOpts queryOptions

func init() {
	f := examineCmd.Flags()

	// Bound to configuration
	f.Duration("idle-timeout", time.Hour, "close dialogs idle this long on capture time")
	f.StringSlice("host", nil, "only examine frames from or to these addresses")
	f.IntSlice("port", nil, "only examine frames from or to these ports")
	f.Int("max-frames", 0, "stop after reading this many frames (0 = all)")
	f.Int("read-ahead", 0, "frames to read ahead on a separate goroutine (0 = off)")
	f.Bool("strict", false, "validate every SIP message with the strict grammar")
	f.String("metrics-listen", "", "serve Prometheus metrics on this address while examining")

	// Query
	f.StringSliceVar(&examineOpts.callIDs, "call-id", nil, "match any of these Call-IDs")
	f.StringSliceVarP(&examineOpts.methods, "method", "m", nil, "match dialogs created by these methods")
	f.IntSliceVar(&examineOpts.statuses, "status", nil, "match dialogs that saw any of these status codes")
	f.StringVar(&examineOpts.minDate, "mindate", "", "match dialogs starting at or after this time")
	f.StringVar(&examineOpts.maxDate, "maxdate", "", "match dialogs starting at or before this time")
	f.DurationVar(&examineOpts.minDur, "mindur", 0, "match dialogs lasting at least this long")
	f.DurationVar(&examineOpts.maxDur, "maxdur", 0, "match dialogs lasting at most this long (0 = unbounded)")
	f.StringVar(&examineOpts.contains, "contains", "", "match dialogs with a message matching this regexp")
	f.StringArrayVar(&examineOpts.headers, "header", nil, "match dialogs with a header NAME or NAME=REGEXP")
	f.BoolVar(&examineOpts.retransmits, "retransmits", false, "match dialogs with retransmitted messages")
	f.StringSliceVar(&examineOpts.endReasons, "end-reason", nil, "match any of these end reasons")
	f.StringVar(&examineOpts.endpoint, "endpoint", "", "match dialogs touching ADDR, ADDR:PORT or :PORT")

	// Output
	f.IntVarP(&examineOpts.limit, "limit", "n", 0, "stop after printing this many dialogs (0 = all)")
	f.BoolVarP(&examineOpts.verbose, "verbose", "v", false, "print every message in full")
	f.BoolVar(&examineOpts.noSummary, "no-summary", false, "do not print the summary")
}

// runExamine examines one capture and writes the matching dialogs and the
// summary to w.
func runExamine(ctx context.Context, cfg *config.Config, path string, opts *queryOptions, w io.Writer) error {
	pred, err := opts.predicate()
	if err != nil {
		return err
	}

	p, err := pipeline.New(*cfg)
	if err != nil {
		return err
	}
	run, err := p.ExamineFile(ctx, path)
	if err != nil {
		return err
	}

	printed := 0
	for d := range query.Filter(run.Dialogs(), pred) {
		if err := printDialog(w, d, opts.verbose); err != nil {
			return fmt.Errorf("failed to write dialog: %w", err)
		}
		printed++
		if opts.limit > 0 && printed >= opts.limit {
			break
		}
	}

	if opts.noSummary {
		return nil
	}
	summary := run.Summary()
	return printSummary(w, &summary, printed)
}
