/*
 * Copyright (c) Marco Tusa 2021 - present
 *                     GNU GENERAL PUBLIC LICENSE
 *                        Version 3, 29 June 2007
 *
 *  Copyright (C) 2007 Free Software Foundation, Inc. <https://fsf.org/>
 *  Everyone is permitted to copy and distribute verbatim copies
 *  of this license document, but changing it is not allowed.
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */


package Metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

const namespace = "replication_monitor"

/*
Metrics lives on its own registry so only the monitor series are exposed.
A nil *Metrics is valid and records nothing, one shot commands do not need it.
*/
type Metrics struct {
	registry       *prometheus.Registry
	cycles         *prometheus.CounterVec
	findings       *prometheus.GaugeVec
	probeSeconds   *prometheus.HistogramVec
	probeFailures  *prometheus.CounterVec
	healingSteps   *prometheus.CounterVec
	reports        *prometheus.CounterVec
	lastCycleStamp prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Monitoring cycles run, by mode",
		}, []string{"mode"}),
		findings: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "findings",
			Help:      "Findings of the last detection, by kind",
		}, []string{"kind"}),
		probeSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_seconds",
			Help:      "Time for a marker row to reach the slave",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"edge"}),
		probeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probe_failures_total",
			Help:      "Active checks that did not replicate",
		}, []string{"edge"}),
		healingSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "healing_steps_total",
			Help:      "Healing steps taken, by outcome",
		}, []string{"outcome"}),
		reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_total",
			Help:      "Reports evaluated by the throttler, by type and decision",
		}, []string{"type", "decision"}),
		lastCycleStamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_cycle_timestamp_seconds",
			Help:      "Unix time of the last completed cycle",
		}),
	}
	m.registry.MustRegister(m.cycles, m.findings, m.probeSeconds, m.probeFailures, m.healingSteps, m.reports, m.lastCycleStamp)
	return m
}

func (m *Metrics) Cycle(mode string) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(mode).Inc()
	m.lastCycleStamp.SetToCurrentTime()
}

// Findings replaces the previous counts, kinds absent from counts go to 0
func (m *Metrics) Findings(kinds []string, counts map[string]int) {
	if m == nil {
		return
	}
	for _, kind := range kinds {
		m.findings.WithLabelValues(kind).Set(float64(counts[kind]))
	}
}

func (m *Metrics) Probe(edge string, seconds float64, failed bool) {
	if m == nil {
		return
	}
	if failed {
		m.probeFailures.WithLabelValues(edge).Inc()
		return
	}
	m.probeSeconds.WithLabelValues(edge).Observe(seconds)
}

func (m *Metrics) HealingStep(outcome string) {
	if m == nil {
		return
	}
	m.healingSteps.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Report(messageType string, sent bool) {
	if m == nil {
		return
	}
	decision := "suppressed"
	if sent {
		decision = "sent"
	}
	m.reports.WithLabelValues(messageType, decision).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics until ctx ends
func (m *Metrics) Serve(ctx context.Context, address string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{Addr: address, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdown)
	}()

	log.Info("Metrics available on ", address, "/metrics")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
