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

// Package relay accepts JSON payloads over HTTP or as function events and
// stores each one in Foundry under a generated file name.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	nanoid "github.com/matoous/go-nanoid/v2"
	"github.com/matta/meshtools/internal/config"
	"github.com/matta/meshtools/internal/foundry"
	"github.com/matta/meshtools/internal/logging"
	"github.com/pkg/errors"
)

const (
	fileTimeLayout = "2006-01-02_15-04-05"
	suffixAlphabet = "0123456789abcdef"
	suffixLength   = 8
)

// Uploader stores one named document.  *foundry.Client implements it.
type Uploader interface {
	Upload(ctx context.Context, name string, body []byte) error
}

// Relay turns payloads into uploads.  Configuration is loaded again for
// every payload.
type Relay struct {
	LoadConfig  func() (config.Foundry, error)
	NewUploader func(config.Foundry) (Uploader, error)

	// Now and Suffix build file names; nil means the wall clock and a
	// random hex suffix.
	Now    func() time.Time
	Suffix func() (string, error)
}

// New returns a Relay that reads configuration from the environment and
// envFile and uploads with a foundry.Client.
func New(envFile string, trace bool) *Relay {
	return &Relay{
		LoadConfig: func() (config.Foundry, error) {
			src, err := config.New(envFile)
			if err != nil {
				return config.Foundry{}, err
			}
			return src.Foundry()
		},
		NewUploader: func(cfg config.Foundry) (Uploader, error) {
			return foundry.New(cfg, foundry.NewHTTPClient(cfg.APIToken, cfg.MaxRetries, trace))
		},
	}
}

// Result is the outcome of one payload.
type Result struct {
	Status   int
	Message  string
	FileName string
}

func failed(status int, format string, args ...interface{}) Result {
	return Result{Status: status, Message: fmt.Sprintf(format, args...)}
}

// Handle validates payload and uploads it.  The status follows HTTP
// conventions: 500 for configuration problems, 400 for a payload that is
// not a JSON object, 502 when Foundry rejects the upload.
func (r *Relay) Handle(ctx context.Context, trigger string, payload []byte) Result {
	log := logging.FromContext(ctx).WithField(logging.TriggerFieldKey, trigger)
	log.Info("relay triggered")

	cfg, err := r.LoadConfig()
	if err != nil {
		log.WithError(err).Error("configuration error")
		return failed(http.StatusInternalServerError, "%v", err)
	}

	var doc interface{}
	if err := json.Unmarshal(payload, &doc); err != nil {
		log.WithError(err).Warn("payload is not JSON")
		return failed(http.StatusBadRequest, "Invalid JSON payload.")
	}
	if _, ok := doc.(map[string]interface{}); !ok {
		log.Warn("payload is not a JSON object")
		return failed(http.StatusBadRequest, "Invalid payload format. Expected a JSON object.")
	}
	// The document is stored as sent, minus insignificant whitespace.
	var body bytes.Buffer
	if err := json.Compact(&body, payload); err != nil {
		return failed(http.StatusBadRequest, "Invalid JSON payload.")
	}

	name, err := r.fileName()
	if err != nil {
		log.WithError(err).Error("generating file name")
		return failed(http.StatusInternalServerError, "An internal server error occurred: %v", err)
	}
	log = log.WithField(logging.FileFieldKey, name)

	up, err := r.NewUploader(cfg)
	if err != nil {
		log.WithError(err).Error("configuration error")
		return failed(http.StatusInternalServerError, "%v", err)
	}

	log.Infof("uploading to Foundry resource %q", cfg.ResourceID)
	start := time.Now()
	err = up.Upload(ctx, name, body.Bytes())
	observeUpload(cfg.Mode, err, time.Since(start))
	if err != nil {
		var apiErr *foundry.APIError
		if errors.As(err, &apiErr) {
			log.WithError(err).Error("Foundry rejected the upload")
			return failed(http.StatusBadGateway, "Foundry rejected the upload: %v", err)
		}
		log.WithError(err).Error("upload failed")
		return failed(http.StatusInternalServerError, "An internal server error occurred: %v", err)
	}
	log.Info("uploaded")
	return Result{
		Status:   http.StatusOK,
		FileName: name,
		Message:  fmt.Sprintf("File '%s' uploaded to Foundry dataset resource ID '%s' successfully.", name, cfg.ResourceID),
	}
}

// fileName returns YYYY-MM-DD_HH-MM-SS_<8 hex>.json in UTC.
func (r *Relay) fileName() (string, error) {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	suffix := r.Suffix
	if suffix == nil {
		suffix = func() (string, error) { return nanoid.Generate(suffixAlphabet, suffixLength) }
	}
	s, err := suffix()
	if err != nil {
		return "", err
	}
	return now().UTC().Format(fileTimeLayout) + "_" + s + ".json", nil
}
