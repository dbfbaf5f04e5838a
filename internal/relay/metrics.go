// Copyright 2019 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package relay

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var requestCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "foundry_relay_requests_total",
		Help: "relayed payloads by trigger and response status",
	},
	[]string{"trigger", "code"})

var uploadHistograms = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "foundry_relay_upload_duration_seconds",
		Help:    "duration of uploads to Foundry",
		Buckets: []float64{0.05, 0.1, 0.2, 0.5, 1, 2, 5, 10, 30},
	},
	[]string{"mode", "outcome"})

func observeRequest(trigger string, status int) {
	requestCounter.WithLabelValues(trigger, strconv.Itoa(status)).Inc()
}

func observeUpload(mode string, err error, d time.Duration) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	uploadHistograms.WithLabelValues(mode, outcome).Observe(d.Seconds())
}
