// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesTotal counts capture frames by decode outcome
	FramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sipzamine_frames_total",
			Help: "Total number of capture frames processed",
		},
		[]string{"result"},
	)

	// SIPMessagesTotal counts SIP parse outcomes
	SIPMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sipzamine_sip_messages_total",
			Help: "Total number of SIP message parse attempts",
		},
		[]string{"result"},
	)

	// DialogsTotal counts emitted dialogs by end reason
	DialogsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sipzamine_dialogs_total",
			Help: "Total number of dialogs emitted",
		},
		[]string{"end_reason"},
	)

	// OpenDialogs tracks dialogs held by the correlator
	OpenDialogs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sipzamine_open_dialogs",
			Help: "Number of dialogs currently open in the correlator",
		},
	)

	// ActiveStreams tracks TCP streams awaiting reassembly
	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sipzamine_reassembly_active_streams",
			Help: "Number of TCP stream directions in the reassembler",
		},
	)

	// PartialStreamBytesTotal counts bytes never delivered by closed streams
	PartialStreamBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sipzamine_reassembly_partial_bytes_total",
			Help: "Total number of buffered TCP bytes discarded when streams closed with gaps",
		},
	)

	// StageLatencySeconds measures per-frame processing latency by stage
	StageLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sipzamine_stage_latency_seconds",
			Help:    "Latency of pipeline processing stages in seconds",
			Buckets: prometheus.ExponentialBuckets(0.000001, 2, 20), // 1µs to ~1s
		},
		[]string{"stage"},
	)
)

// Frame result label values
const (
	FrameDecoded     = "decoded"
	FrameUnsupported = "unsupported"
	FrameFragment    = "fragment"
	FrameError       = "error"
	FrameFiltered    = "filtered"
)

// SIP result label values
const (
	SIPParsed    = "parsed"
	SIPMalformed = "malformed"
	SIPNotSIP    = "not_sip"
)
