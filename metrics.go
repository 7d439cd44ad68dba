// Copyright 2011 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package redo

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	metricsMu sync.RWMutex
	registry  *prometheus.Registry

	buildsTotal    *prometheus.CounterVec
	buildDuration  *prometheus.HistogramVec
	lockWaitTotal  *prometheus.CounterVec
	activeBuilds   prometheus.Gauge
)

func init() {
	resetMetricsLocked()
}

// ResetMetrics reinitializes the package's metric collectors; tests use it
// to get a clean registry between cases.
func ResetMetrics() {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	resetMetricsLocked()
}

// MetricsHandler exposes the package's metrics in Prometheus text format,
// served over REDO_METRICS_ADDR when set.
func MetricsHandler() http.Handler {
	metricsMu.RLock()
	reg := registry
	metricsMu.RUnlock()
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// ObserveBuild records the outcome and duration of one .do execution.
func ObserveBuild(result doResult, d time.Duration) {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	if buildsTotal != nil {
		buildsTotal.WithLabelValues(result.String()).Inc()
	}
	if buildDuration != nil {
		buildDuration.WithLabelValues(result.String()).Observe(d.Seconds())
	}
}

// IncLockWait counts a blocking wait on another process's target lock,
// labeled by the outcome that ended the wait (LCKREL or DEPCYCL).
func IncLockWait(outcome string) {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	if lockWaitTotal != nil {
		lockWaitTotal.WithLabelValues(outcome).Inc()
	}
}

// SetActiveBuilds reports the current number of .do scripts running under
// this process tree's job manager.
func SetActiveBuilds(n int) {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	if activeBuilds != nil {
		activeBuilds.Set(float64(n))
	}
}

func resetMetricsLocked() {
	reg := prometheus.NewRegistry()

	builds := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "redo",
		Name:      "builds_total",
		Help:      "Total .do script executions grouped by result.",
	}, []string{"result"})

	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "redo",
		Name:      "build_duration_seconds",
		Help:      "Duration of .do script executions grouped by result.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
	}, []string{"result"})

	lockWait := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "redo",
		Name:      "lock_waits_total",
		Help:      "Total times a build blocked on another process's target lock.",
	}, []string{"outcome"})

	active := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "redo",
		Name:      "jobs_running",
		Help:      "Number of .do scripts the job manager currently has admitted.",
	})

	reg.MustRegister(builds, duration, lockWait, active)

	registry = reg
	buildsTotal = builds
	buildDuration = duration
	lockWaitTotal = lockWait
	activeBuilds = active
}
