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
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/matta/meshtools/internal/logging"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routes served by the function host.
const (
	HTTPTriggerPath  = "/api/FoundryRelayFunction"
	EventTriggerPath = "/FoundryRelayEvent"

	TriggerHTTP  = "http"
	TriggerEvent = "event"

	// EventBinding names the input binding that carries the payload.
	EventBinding = "event"

	maxPayloadBytes = 10 << 20
)

// Invocation is a custom handler request for a non-HTTP trigger.
type Invocation struct {
	Data     map[string]json.RawMessage `json:"Data"`
	Metadata map[string]json.RawMessage `json:"Metadata,omitempty"`
}

// InvocationResult is the custom handler response.
type InvocationResult struct {
	Outputs     map[string]interface{} `json:"Outputs"`
	Logs        []string               `json:"Logs"`
	ReturnValue interface{}            `json:"ReturnValue"`
}

// NewRouter serves both triggers plus /metrics and /healthz.
func NewRouter(r *Relay) http.Handler {
	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(withLogger)
	mux.Use(middleware.Recoverer)

	mux.Post(HTTPTriggerPath, r.serveHTTPTrigger)
	mux.Post(EventTriggerPath, r.serveEventTrigger)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "ok\n")
	})
	return mux
}

func withLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ctx := logging.AddFields(req.Context(), logging.Fields{
			logging.RequestIDFieldKey: middleware.GetReqID(req.Context()),
		})
		next.ServeHTTP(w, req.WithContext(ctx))
	})
}

func readPayload(w http.ResponseWriter, req *http.Request) ([]byte, *Result) {
	data, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxPayloadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			res := failed(http.StatusRequestEntityTooLarge, "Payload exceeds %d bytes.", tooLarge.Limit)
			return nil, &res
		}
		res := failed(http.StatusBadRequest, "Reading request: %v", err)
		return nil, &res
	}
	return data, nil
}

func (r *Relay) serveHTTPTrigger(w http.ResponseWriter, req *http.Request) {
	payload, bad := readPayload(w, req)
	var res Result
	if bad != nil {
		res = *bad
	} else {
		res = r.Handle(req.Context(), TriggerHTTP, payload)
	}
	observeRequest(TriggerHTTP, res.Status)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(res.Status)
	io.WriteString(w, res.Message)
}

func (r *Relay) serveEventTrigger(w http.ResponseWriter, req *http.Request) {
	payload, bad := readPayload(w, req)
	var res Result
	switch {
	case bad != nil:
		res = *bad
	default:
		var inv Invocation
		if err := json.Unmarshal(payload, &inv); err != nil {
			res = failed(http.StatusBadRequest, "Invalid invocation: %v", err)
			break
		}
		data, err := eventPayload(inv)
		if err != nil {
			res = failed(http.StatusBadRequest, "%v", err)
			break
		}
		res = r.Handle(req.Context(), TriggerEvent, data)
	}
	observeRequest(TriggerEvent, res.Status)

	out := InvocationResult{
		Outputs:     map[string]interface{}{},
		Logs:        []string{res.Message},
		ReturnValue: res.Message,
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(res.Status)
	if err := json.NewEncoder(w).Encode(out); err != nil {
		logging.FromContext(req.Context()).WithError(err).Warn("writing invocation result")
	}
}

// eventPayload extracts the bound payload.  The host delivers some event
// bodies as a JSON string holding the document.
func eventPayload(inv Invocation) ([]byte, error) {
	raw, ok := inv.Data[EventBinding]
	if !ok {
		if len(inv.Data) != 1 {
			return nil, errors.Errorf("invocation has no %q binding", EventBinding)
		}
		for _, v := range inv.Data {
			raw = v
		}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []byte(s), nil
	}
	return raw, nil
}
