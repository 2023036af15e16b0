/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "planbot_jobs_total",
			Help: "Jobs processed, by command and outcome",
		},
		[]string{"command", "outcome"},
	)

	jobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "planbot_job_duration_seconds",
			Help:    "Time from claim to terminal state",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		},
		[]string{"command"},
	)

	recoveredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "planbot_jobs_recovered_total",
			Help: "Running jobs failed on startup because a previous process exited mid-job",
		},
	)
)
