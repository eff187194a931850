// Package metrics records RETS client activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Recorder receives events from the RETS client and comp service.
type Recorder interface {
	RecordLogin(result string)
	RecordSessionReuse()
	RecordAuthRetry(op string)
	RecordSearch(result string, rows int)
	RecordMalformedResponse(op string)
	RecordPhoto(found bool)
}

// PrometheusRecorder records metrics using Prometheus.
type PrometheusRecorder struct {
	loginsTotal        *prometheus.CounterVec
	sessionReusesTotal prometheus.Counter
	authRetriesTotal   *prometheus.CounterVec
	searchesTotal      *prometheus.CounterVec
	searchRows         prometheus.Histogram
	malformedTotal     *prometheus.CounterVec
	photosTotal        *prometheus.CounterVec
}

// NewPrometheusRecorder creates a recorder on the default registry.
func NewPrometheusRecorder() *PrometheusRecorder {
	return NewPrometheusRecorderWithRegistry(prometheus.DefaultRegisterer)
}

// NewPrometheusRecorderWithRegistry creates a recorder registered on reg.
// Use this for testing.
func NewPrometheusRecorderWithRegistry(reg prometheus.Registerer) *PrometheusRecorder {
	p := &PrometheusRecorder{
		loginsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rentcomps_rets_logins_total",
			Help: "RETS login handshakes by result",
		}, []string{"result"}),
		sessionReusesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rentcomps_rets_session_reuses_total",
			Help: "Cached RETS sessions handed out without a handshake",
		}),
		authRetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rentcomps_rets_auth_retries_total",
			Help: "Requests retried after a 401 with a fresh session",
		}, []string{"op"}),
		searchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rentcomps_rets_searches_total",
			Help: "RETS searches by result",
		}, []string{"result"}),
		searchRows: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rentcomps_rets_search_rows",
			Help:    "Rows returned per successful search",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 200, 500},
		}),
		malformedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rentcomps_rets_malformed_responses_total",
			Help: "Responses that could not be parsed and were treated as empty",
		}, []string{"op"}),
		photosTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rentcomps_rets_photos_total",
			Help: "Photo object requests by outcome",
		}, []string{"result"}),
	}

	reg.MustRegister(
		p.loginsTotal,
		p.sessionReusesTotal,
		p.authRetriesTotal,
		p.searchesTotal,
		p.searchRows,
		p.malformedTotal,
		p.photosTotal,
	)
	return p
}

func (p *PrometheusRecorder) RecordLogin(result string) {
	p.loginsTotal.WithLabelValues(result).Inc()
}

func (p *PrometheusRecorder) RecordSessionReuse() {
	p.sessionReusesTotal.Inc()
}

func (p *PrometheusRecorder) RecordAuthRetry(op string) {
	p.authRetriesTotal.WithLabelValues(op).Inc()
}

func (p *PrometheusRecorder) RecordSearch(result string, rows int) {
	p.searchesTotal.WithLabelValues(result).Inc()
	if result == "success" {
		p.searchRows.Observe(float64(rows))
	}
}

func (p *PrometheusRecorder) RecordMalformedResponse(op string) {
	p.malformedTotal.WithLabelValues(op).Inc()
}

func (p *PrometheusRecorder) RecordPhoto(found bool) {
	result := "missing"
	if found {
		result = "found"
	}
	p.photosTotal.WithLabelValues(result).Inc()
}

// NoopRecorder discards all metrics.
type NoopRecorder struct{}

func (NoopRecorder) RecordLogin(string)             {}
func (NoopRecorder) RecordSessionReuse()            {}
func (NoopRecorder) RecordAuthRetry(string)         {}
func (NoopRecorder) RecordSearch(string, int)       {}
func (NoopRecorder) RecordMalformedResponse(string) {}
func (NoopRecorder) RecordPhoto(bool)               {}

var (
	_ Recorder = (*PrometheusRecorder)(nil)
	_ Recorder = NoopRecorder{}
)
