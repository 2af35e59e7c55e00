// Package metrics counts what the capture pipeline moves.
package metrics

import (
	"github.com/Niskarsh/livecapture/capture"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "livecapture"

// Collectors holds the pipeline's counters. A nil *Collectors records
// nothing, so callers never need to check for one.
type Collectors struct {
	ChunksForwarded *prometheus.CounterVec
	BytesForwarded  *prometheus.CounterVec
	PartsUploaded   *prometheus.CounterVec
	Uploads         *prometheus.CounterVec
	SessionsActive  prometheus.Gauge
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Collectors, error) {
	c := &Collectors{
		ChunksForwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_forwarded_total",
			Help:      "Chunks forwarded from capture to upload.",
		}, []string{"kind"}),
		BytesForwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_forwarded_total",
			Help:      "Bytes forwarded from capture to upload.",
		}, []string{"kind"}),
		PartsUploaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parts_uploaded_total",
			Help:      "Multipart upload parts stored.",
		}, []string{"kind"}),
		Uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Finished uploads by result.",
		}, []string{"kind", "result"}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Capture sessions currently recording or uploading.",
		}),
	}
	for _, collector := range []prometheus.Collector{
		c.ChunksForwarded, c.BytesForwarded, c.PartsUploaded, c.Uploads, c.SessionsActive,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Forwarded records one chunk of size bytes.
func (c *Collectors) Forwarded(kind capture.Kind, size int) {
	if c == nil {
		return
	}
	c.ChunksForwarded.WithLabelValues(string(kind)).Inc()
	c.BytesForwarded.WithLabelValues(string(kind)).Add(float64(size))
}

func (c *Collectors) PartUploaded(kind capture.Kind) {
	if c == nil {
		return
	}
	c.PartsUploaded.WithLabelValues(string(kind)).Inc()
}

// UploadFinished records the end of a session's upload and the session
// leaving the active set.
func (c *Collectors) UploadFinished(kind capture.Kind, err error) {
	if c == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	c.Uploads.WithLabelValues(string(kind), result).Inc()
	c.SessionsActive.Dec()
}

func (c *Collectors) SessionStarted() {
	if c == nil {
		return
	}
	c.SessionsActive.Inc()
}
