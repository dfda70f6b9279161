// Package monitoring exposes the Prometheus metrics endpoint and the
// counters maintained by the stack controller.
package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-device-stack/internal/config"
	"github.com/brocaar/chirpstack-device-stack/internal/models"
)

var (
	eventCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "device_stack_event_count",
		Help: "The number of events emitted to the application (per event).",
	}, []string{"event"})

	uplinkCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "device_stack_uplink_count",
		Help: "The number of uplinks handed to the radio scheduler.",
	})

	rejoinCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "device_stack_rejoin_count",
		Help: "The number of rejoin-requests started (per rejoin type).",
	}, []string{"type"})
)

// Setup starts the metrics endpoint when a bind address is configured.
func Setup(c config.Config) error {
	if c.Monitoring.Bind == "" {
		return nil
	}

	log.WithFields(log.Fields{
		"bind": c.Monitoring.Bind,
	}).Info("monitoring: setting up monitoring endpoint")

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := http.Server{
		Handler: mux,
		Addr:    c.Monitoring.Bind,
	}

	go func() {
		err := server.ListenAndServe()
		log.WithError(err).Error("monitoring: monitoring server error")
	}()

	return nil
}

// EventEmitted increments the event counter.
func EventEmitted(e models.Event) {
	eventCounter.WithLabelValues(e.String()).Inc()
}

// UplinkScheduled increments the uplink counter.
func UplinkScheduled() {
	uplinkCounter.Inc()
}

// RejoinStarted increments the rejoin counter.
func RejoinStarted(rejoinType string) {
	rejoinCounter.WithLabelValues(rejoinType).Inc()
}
