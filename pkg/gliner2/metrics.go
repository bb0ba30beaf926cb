// Copyright 2026 Antfly, Inc.
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

package gliner2

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	extractionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gliner2_extractions_total",
		Help: "Total ExtractEntities calls.",
	})

	extractionErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gliner2_extraction_errors_total",
		Help: "ExtractEntities calls that returned an error.",
	})

	entitiesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gliner2_entities_total",
		Help: "Total entities returned across all calls.",
	})

	extractionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gliner2_extraction_duration_seconds",
		Help:    "Wall-clock duration of ExtractEntities calls.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	})
)

func observeExtraction(elapsed time.Duration, entityCount int, err error) {
	extractionsTotal.Inc()
	extractionDuration.Observe(elapsed.Seconds())
	if err != nil {
		extractionErrorsTotal.Inc()
		return
	}
	entitiesTotal.Add(float64(entityCount))
}
