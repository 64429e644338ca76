// Copyright 2025 DocFlow
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

package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docflow_operations_total",
			Help: "Routed operations by tier and outcome.",
		},
		[]string{"tier", "success"},
	)

	operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docflow_operation_duration_seconds",
			Help:    "End-to-end operation latency by tier.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 3, 4, 5, 8, 13},
		},
		[]string{"tier"},
	)

	rollbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docflow_rollbacks_total",
			Help: "Checkpoint rollbacks performed across all workflows.",
		},
	)

	cacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docflow_cache_hits_total",
			Help: "Focused-router results served from cache.",
		},
	)

	recommendationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docflow_recommendations_total",
			Help: "Optimization recommendations generated by category.",
		},
		[]string{"category"},
	)

	activeAlertsGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "docflow_active_alerts",
			Help: "System alerts currently within the retention window.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		operationsTotal,
		operationDuration,
		rollbacksTotal,
		cacheHitsTotal,
		recommendationsTotal,
		activeAlertsGauge,
	)
}
