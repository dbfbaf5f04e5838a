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

// Package config reads the tools' settings from the process environment,
// falling back to a dotenv file.  Each tool gets a typed struct; a missing
// required key is reported together with every other missing key.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// DefaultEnvFile is read when present and no other file is named.
const DefaultEnvFile = ".env"

var ErrInvalidValue = errors.New("invalid configuration value")

// MissingError lists required keys that have no value.
type MissingError struct {
	Keys []string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("the following required environment variables are not set: %s",
		strings.Join(e.Keys, ", "))
}

// Source resolves configuration keys.  The environment takes precedence
// over the dotenv file; values given with Set take precedence over both.
type Source struct {
	v *viper.Viper
}

// New returns a Source backed by the environment and envFile.  An empty
// envFile means DefaultEnvFile, which may be absent; a named file must
// exist.
func New(envFile string) (*Source, error) {
	v := viper.New()
	for _, key := range allKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, errors.Wrapf(err, "binding %s", key)
		}
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	path := envFile
	if path == "" {
		path = DefaultEnvFile
		if _, err := os.Stat(path); err != nil {
			return &Source{v: v}, nil
		}
	}
	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	return &Source{v: v}, nil
}

// Set overrides key, typically from a command line flag.
func (s *Source) Set(key, value string) {
	s.v.Set(key, value)
}

// Get returns the value of key, or "" when unset.
func (s *Source) Get(key string) string {
	return strings.TrimSpace(s.v.GetString(key))
}

// EnvFile returns the dotenv file in use, if any.
func (s *Source) EnvFile() string {
	return s.v.ConfigFileUsed()
}

func (s *Source) require(keys ...string) error {
	var missing []string
	for _, key := range keys {
		if s.Get(key) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return &MissingError{Keys: missing}
	}
	return nil
}

func (s *Source) getInt(key string) (int, error) {
	raw := s.Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.Wrapf(ErrInvalidValue, "%s=%q is not a non-negative integer", key, raw)
	}
	return n, nil
}

func (s *Source) getBool(key string) (bool, error) {
	switch strings.ToLower(s.Get(key)) {
	case "", "0", "false", "no", "off":
		return false, nil
	case "1", "true", "yes", "on":
		return true, nil
	default:
		return false, errors.Wrapf(ErrInvalidValue, "%s=%q is not a boolean", key, s.Get(key))
	}
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

var allKeys = func() []string {
	var keys []string
	for _, group := range [][]string{meshKeys, azuriteKeys, foundryKeys} {
		keys = append(keys, group...)
	}
	sort.Strings(keys)
	return keys
}()

var defaults = map[string]string{
	MeshURL:              DefaultMeshURL,
	MeshTransport:        TransportCurl,
	MeshCurlPath:         "curl",
	AzuriteContainers:    strings.Join(DefaultContainers, ","),
	AzuriteSeedDir:       "rules",
	AzuriteSeedContainer: "rules",
	FoundryMode:          ModeDataset,
}
