package solarmanv5

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Observer is the abstract telemetry sink. Every method is optional and
// fire-and-forget; the core engine never blocks on, or branches on the
// result of, an Observer call — this is an interface, not a dependency.
// A nil Observer is valid and silently does nothing (see noopObserver).
type Observer interface {
	RequestOK(functionCode byte, duration time.Duration)
	RequestErr(functionCode byte, errorLabel string)
	Retry(functionCode byte)
	Connect()
	Disconnect()
	ReconnectionAttempt()
}

type noopObserver struct{}

func (noopObserver) RequestOK(byte, time.Duration) {}
func (noopObserver) RequestErr(byte, string)       {}
func (noopObserver) Retry(byte)                    {}
func (noopObserver) Connect()                      {}
func (noopObserver) Disconnect()                   {}
func (noopObserver) ReconnectionAttempt()           {}

// NoopObserver is the default, side-effect-free Observer.
var NoopObserver Observer = noopObserver{}

// PrometheusObserver is an instrumented Observer, backed by
// github.com/prometheus/client_golang. It is not installed by default (New
// uses NoopObserver); attach it with WithObserver. Metrics are registered against the
// supplied registerer so multiple clients in one process can share a
// registry without colliding, as long as they pass distinct constLabels.
type PrometheusObserver struct {
	requestsOK      *prometheus.CounterVec
	requestsErr     *prometheus.CounterVec
	retries         *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	connects        prometheus.Counter
	disconnects     prometheus.Counter
	reconnects      prometheus.Counter
}

// NewPrometheusObserver creates and registers the metric vectors against
// reg, labelling every series with constLabels (typically the logger
// serial and/or host, so multiple clients don't collide).
func NewPrometheusObserver(reg prometheus.Registerer, constLabels prometheus.Labels) *PrometheusObserver {
	o := &PrometheusObserver{
		requestsOK: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "solarmanv5",
			Name:        "requests_ok_total",
			Help:        "Number of successful Modbus requests, by function code.",
			ConstLabels: constLabels,
		}, []string{"function_code"}),
		requestsErr: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "solarmanv5",
			Name:        "requests_error_total",
			Help:        "Number of failed Modbus requests, by function code and error kind.",
			ConstLabels: constLabels,
		}, []string{"function_code", "error"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "solarmanv5",
			Name:        "retries_total",
			Help:        "Number of retry attempts, by function code.",
			ConstLabels: constLabels,
		}, []string{"function_code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "solarmanv5",
			Name:        "request_duration_seconds",
			Help:        "Duration of successful Modbus requests, by function code.",
			ConstLabels: constLabels,
		}, []string{"function_code"}),
		connects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "solarmanv5",
			Name:        "connects_total",
			Help:        "Number of successful transport connections.",
			ConstLabels: constLabels,
		}),
		disconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "solarmanv5",
			Name:        "disconnects_total",
			Help:        "Number of transport disconnections.",
			ConstLabels: constLabels,
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "solarmanv5",
			Name:        "reconnection_attempts_total",
			Help:        "Number of reconnection attempts.",
			ConstLabels: constLabels,
		}),
	}
	if reg != nil {
		reg.MustRegister(o.requestsOK, o.requestsErr, o.retries, o.requestDuration, o.connects, o.disconnects, o.reconnects)
	}
	return o
}

func fcLabel(functionCode byte) string {
	const hexDigits = "0123456789ABCDEF"
	return string([]byte{'0', 'x', hexDigits[functionCode>>4], hexDigits[functionCode&0xF]})
}

func (o *PrometheusObserver) RequestOK(functionCode byte, duration time.Duration) {
	label := fcLabel(functionCode)
	o.requestsOK.WithLabelValues(label).Inc()
	o.requestDuration.WithLabelValues(label).Observe(duration.Seconds())
}

func (o *PrometheusObserver) RequestErr(functionCode byte, errorLabel string) {
	o.requestsErr.WithLabelValues(fcLabel(functionCode), errorLabel).Inc()
}

func (o *PrometheusObserver) Retry(functionCode byte) {
	o.retries.WithLabelValues(fcLabel(functionCode)).Inc()
}

func (o *PrometheusObserver) Connect()              { o.connects.Inc() }
func (o *PrometheusObserver) Disconnect()           { o.disconnects.Inc() }
func (o *PrometheusObserver) ReconnectionAttempt()  { o.reconnects.Inc() }
