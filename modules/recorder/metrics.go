package recorder

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "streamsniffer"

var (
	metricSessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "recording_sessions_total",
		Help:      "Finished recording sessions by outcome.",
	}, []string{"outcome"})

	metricStartFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "recording_start_failures_total",
		Help:      "Recordings that failed to start, by reason.",
	}, []string{"reason"})

	metricMetadataEvents = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "metadata_events_total",
		Help:      "Now playing changes seen on recorded streams.",
	})

	metricDemuxedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "demuxed_audio_bytes_total",
		Help:      "Audio bytes read by the metadata demultiplexer.",
	})

	metricProgress = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "recording_progress_percent",
		Help:      "Progress of the current recording.",
	})

	metricRecording = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "recording_active",
		Help:      "1 while a recording is in progress.",
	})
)
