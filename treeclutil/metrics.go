/*
Copyright © 2024 the treecl authors.
This file is part of treecl.

treecl is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

treecl is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with treecl.  If not, see <http://www.gnu.org/licenses/>.
*/

package treeclutil

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/treecl"
)

// Metrics is a treecl.Reporter that records pipeline progress as
// Prometheus metrics.
type Metrics struct {
	// Registry holds the pipeline collectors.
	Registry *prometheus.Registry

	items        *prometheus.CounterVec
	stageSeconds *prometheus.GaugeVec
	stages       prometheus.Counter
}

// NewMetrics returns a new set of pipeline metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		items: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "treecl",
				Subsystem: "pipeline",
				Name:      "rasters_total",
				Help:      "Number of output rasters processed, by stage and outcome.",
			},
			[]string{"stage", "status"},
		),
		stageSeconds: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "treecl",
				Subsystem: "pipeline",
				Name:      "stage_duration_seconds",
				Help:      "Duration of the last run of each stage.",
			},
			[]string{"stage"},
		),
		stages: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "treecl",
				Subsystem: "pipeline",
				Name:      "stages_completed_total",
				Help:      "Number of stages completed.",
			},
		),
	}
	m.Registry.MustRegister(
		m.items,
		m.stageSeconds,
		m.stages,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
	return m
}

// ItemDone implements treecl.Reporter.
func (m *Metrics) ItemDone(stage string, status treecl.TaskStatus) {
	m.items.WithLabelValues(stage, status.String()).Inc()
}

// StageDone implements treecl.Reporter.
func (m *Metrics) StageDone(r *treecl.StageResult) {
	m.stageSeconds.WithLabelValues(r.Stage).Set(r.Elapsed.Seconds())
	m.stages.Inc()
}

// Handler returns an HTTP handler exposing the metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Serve serves the metrics at path /metrics on addr until the returned
// server is closed.
func (m *Metrics) Serve(addr string, log logrus.FieldLogger) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Handler: mux}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("metrics server failed")
		}
	}()
	log.Infof("serving metrics at http://%s/metrics", ln.Addr())
	return srv, nil
}
