package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/sipzamine/internal/config"
	"firestige.xyz/sipzamine/internal/testutil"
)

func sipRequest(method, callID string, cseq int, toTag string) []byte {
	to := "<sip:bob@example.com>"
	if toTag != "" {
		to += ";tag=" + toTag
	}
	return fmt.Appendf(nil, "%s sip:bob@example.com SIP/2.0\r\n"+
		"Via: SIP/2.0/UDP 10.0.0.1;branch=z9hG4bK%s%d\r\n"+
		"From: <sip:alice@example.com>;tag=a\r\n"+
		"To: %s\r\n"+
		"Call-ID: %s\r\n"+
		"CSeq: %d %s\r\n"+
		"User-Agent: softphone/1.0\r\n"+
		"Content-Length: 0\r\n\r\n",
		method, method, cseq, to, callID, cseq, method)
}

func sipResponse(code int, method, callID string, cseq int) []byte {
	return fmt.Appendf(nil, "SIP/2.0 %d Reason\r\n"+
		"Via: SIP/2.0/UDP 10.0.0.1;branch=z9hG4bK%s%d\r\n"+
		"From: <sip:alice@example.com>;tag=a\r\n"+
		"To: <sip:bob@example.com>;tag=b\r\n"+
		"Call-ID: %s\r\n"+
		"CSeq: %d %s\r\n"+
		"Content-Length: 0\r\n\r\n",
		code, method, cseq, callID, cseq, method)
}

// writeCapture writes an answered call and a rejected call to a pcap.
func writeCapture(t *testing.T) string {
	t.Helper()
	a, b := "10.0.0.1:5060", "10.0.0.2:5060"
	pkt := func(at time.Duration, src, dst string, payload []byte) testutil.Packet {
		return testutil.Packet{Timestamp: testutil.At(at), Data: testutil.UDPFrame(t, src, dst, payload)}
	}
	ms := time.Millisecond
	data := testutil.Pcap(t,
		pkt(0, a, b, sipRequest("INVITE", "answered", 1, "")),
		pkt(100*ms, b, a, sipResponse(200, "INVITE", "answered", 1)),
		pkt(200*ms, a, b, sipRequest("ACK", "answered", 1, "b")),
		pkt(10*time.Second, a, b, sipRequest("BYE", "answered", 2, "b")),
		pkt(10*time.Second+100*ms, b, a, sipResponse(200, "BYE", "answered", 2)),
		pkt(20*time.Second, a, b, sipRequest("INVITE", "busy", 1, "")),
		pkt(20*time.Second+50*ms, b, a, sipResponse(486, "INVITE", "busy", 1)),
	)
	path := filepath.Join(t.TempDir(), "calls.pcap")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func defaultConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func TestRunExamine(t *testing.T) {
	path := writeCapture(t)

	tests := []struct {
		name     string
		opts     queryOptions
		contains []string
		excludes []string
	}{
		{
			name:     "everything",
			contains: []string{"answered", "busy", "end=completed", "end=rejected", "dialogs printed  2"},
		},
		{
			name:     "status",
			opts:     queryOptions{statuses: []int{486}},
			contains: []string{"busy", "SIP/2.0 486 Reason"},
			excludes: []string{"answered"},
		},
		{
			name:     "min duration",
			opts:     queryOptions{minDur: 5 * time.Second},
			contains: []string{"answered", "duration=10.1s"},
			excludes: []string{"busy"},
		},
		{
			name:     "end reason",
			opts:     queryOptions{endReasons: []string{"REJECTED"}},
			contains: []string{"busy"},
			excludes: []string{"answered"},
		},
		{
			name:     "date range",
			opts:     queryOptions{minDate: "2024-03-01 10:00:10"},
			contains: []string{"busy"},
			excludes: []string{"answered"},
		},
		{
			name:     "limit",
			opts:     queryOptions{limit: 1},
			contains: []string{"answered", "dialogs printed  1"},
			excludes: []string{"busy"},
		},
		{
			name:     "verbose",
			opts:     queryOptions{callIDs: []string{"busy"}, verbose: true},
			contains: []string{"    | User-Agent: softphone/1.0"},
		},
		{
			name:     "no summary",
			opts:     queryOptions{noSummary: true},
			excludes: []string{"frames read"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := runExamine(context.Background(), defaultConfig(t), path, &tt.opts, &buf)
			require.NoError(t, err)
			out := buf.String()
			for _, s := range tt.contains {
				assert.Contains(t, out, s)
			}
			for _, s := range tt.excludes {
				assert.NotContains(t, out, s)
			}
		})
	}
}

func TestRunExamineErrors(t *testing.T) {
	path := writeCapture(t)

	var buf bytes.Buffer
	err := runExamine(context.Background(), defaultConfig(t), filepath.Join(t.TempDir(), "none.pcap"), &queryOptions{}, &buf)
	assert.Error(t, err)

	err = runExamine(context.Background(), defaultConfig(t), path, &queryOptions{contains: "("}, &buf)
	assert.ErrorContains(t, err, "--contains")
	assert.Empty(t, buf.String())
}

func TestQueryOptionErrors(t *testing.T) {
	tests := []struct {
		name string
		opts queryOptions
		want string
	}{
		{"bad mindate", queryOptions{minDate: "yesterday"}, "--mindate"},
		{"reversed dates", queryOptions{minDate: "2024-03-02", maxDate: "2024-03-01"}, "before --mindate"},
		{"negative duration", queryOptions{minDur: -time.Second}, "negative"},
		{"reversed durations", queryOptions{minDur: time.Minute, maxDur: time.Second}, "below --mindur"},
		{"bad regexp", queryOptions{contains: "[a-"}, "--contains"},
		{"header without name", queryOptions{headers: []string{"=x"}}, "missing name"},
		{"bad header regexp", queryOptions{headers: []string{"User-Agent=("}}, "--header"},
		{"unknown end reason", queryOptions{endReasons: []string{"hung-up"}}, "unknown end reason"},
		{"bad endpoint", queryOptions{endpoint: "host:port"}, "--endpoint"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.opts.predicate()
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		in   string
		addr string
		port uint16
	}{
		{"192.0.2.1", "192.0.2.1", 0},
		{"192.0.2.1:5060", "192.0.2.1", 5060},
		{"[2001:db8::1]:5061", "2001:db8::1", 5061},
		{"2001:db8::1", "2001:db8::1", 0},
		{":5080", "", 5080},
	}
	for _, tt := range tests {
		addr, port, err := parseEndpoint(tt.in)
		require.NoError(t, err, tt.in)
		if tt.addr == "" {
			assert.False(t, addr.IsValid(), tt.in)
		} else {
			assert.Equal(t, tt.addr, addr.String(), tt.in)
		}
		assert.Equal(t, tt.port, port, tt.in)
	}

	_, _, err := parseEndpoint(":0")
	assert.Error(t, err)
}

func TestLoadConfigFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sipzamine.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sipzamine:
  dialog:
    idle_timeout: 30m
  capture:
    max_frames: 100
`), 0o644))

	flags := pflag.NewFlagSet("examine", pflag.ContinueOnError)
	flags.Duration("idle-timeout", time.Hour, "")
	flags.StringSlice("host", nil, "")
	flags.IntSlice("port", nil, "")
	flags.Int("max-frames", 0, "")
	flags.Int("read-ahead", 0, "")
	flags.Bool("strict", false, "")
	flags.String("metrics-listen", "", "")
	require.NoError(t, flags.Parse([]string{"--idle-timeout=2m", "--host=192.0.2.7", "--port=5060,5080"}))

	cfg, _, err := loadConfig(flags, path, examineBindings)
	require.NoError(t, err)

	assert.Equal(t, 2*time.Minute, cfg.Dialog.IdleTimeout)
	assert.Equal(t, 100, cfg.Capture.MaxFrames)
	require.Len(t, cfg.Filter.Hosts, 1)
	assert.Equal(t, "192.0.2.7", cfg.Filter.Hosts[0].String())
	assert.Equal(t, []uint16{5060, 5080}, cfg.Filter.Ports)
	assert.False(t, cfg.SIP.Strict)
}

func TestLoadConfigUnknownFlag(t *testing.T) {
	flags := pflag.NewFlagSet("examine", pflag.ContinueOnError)
	_, _, err := loadConfig(flags, "", map[string]string{"dialog.idle_timeout": "idle-timeout"})
	assert.ErrorContains(t, err, "unknown flag")
}

func TestRunValidate(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte(`
sipzamine:
  filter:
    hosts: ["192.0.2.1"]
    ports: [5060]
`), 0o644))
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte(`
sipzamine:
  log:
    format: xml
`), 0o644))

	var buf bytes.Buffer
	require.NoError(t, runValidate(good, &buf))
	assert.Contains(t, buf.String(), "VALID:")
	assert.Contains(t, buf.String(), "1 filter host(s), 1 filter port(s)")

	err := runValidate(bad, &buf)
	assert.ErrorContains(t, err, "INVALID")
}
