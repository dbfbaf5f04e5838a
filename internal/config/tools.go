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

package config

import (
	"strconv"

	"github.com/pkg/errors"
)

// MESH keys.
const (
	MailboxIDFrom       = "MAILBOX_ID_FROM"
	MailboxFromPassword = "MAILBOX_FROM_PASSWORD"
	MailboxIDTo         = "MAILBOX_ID_TO"
	MailboxToPassword   = "MAILBOX_TO_PASSWORD"
	SharedKey           = "SHARED_KEY"
	FilePath            = "FILE_PATH"
	CertPath            = "CERT_PATH"
	KeyPath             = "KEY_PATH"
	WorkflowID          = "WORKFLOW_ID"

	MeshURL        = "MESH_URL"
	MeshTransport  = "MESH_TRANSPORT"
	MeshCurlPath   = "MESH_CURL_PATH"
	MeshLocalID    = "MESH_LOCAL_ID"
	MeshCACertPath = "MESH_CA_CERT_PATH"
	MeshVerifyTLS  = "MESH_VERIFY_TLS"
	MeshMaxRetries = "MESH_MAX_RETRIES"
	MeshRateLimit  = "MESH_RATE_LIMIT"
)

// Azurite keys.
const (
	AzuriteConnectionString = "AZURITE_CONNECTION_STRING"
	AzuriteContainers       = "AZURITE_CONTAINERS"
	AzuriteSeedDir          = "AZURITE_SEED_DIR"
	AzuriteSeedContainer    = "AZURITE_SEED_CONTAINER"
)

// Foundry keys.
const (
	FoundryAPIURL     = "FOUNDRY_API_URL"
	FoundryAPIToken   = "FOUNDRY_API_TOKEN"
	FoundryResourceID = "FOUNDRY_RESOURCE_ID"
	FoundryMode       = "FOUNDRY_MODE"
	FoundryBranch     = "FOUNDRY_BRANCH"
	FoundryMaxRetries = "FOUNDRY_MAX_RETRIES"
)

const (
	DefaultMeshURL = "https://msg.intspineservices.nhs.uk"

	TransportCurl   = "curl"
	TransportNative = "native"

	ModeDataset = "dataset"
	ModePost    = "post"
)

// DefaultContainers are created by the emulator bootstrap.
var DefaultContainers = []string{"inbound", "sample-container", "rules"}

var (
	meshKeys = []string{
		MailboxIDFrom, MailboxFromPassword, MailboxIDTo, MailboxToPassword,
		SharedKey, FilePath, CertPath, KeyPath, WorkflowID,
		MeshURL, MeshTransport, MeshCurlPath, MeshLocalID, MeshCACertPath,
		MeshVerifyTLS, MeshMaxRetries, MeshRateLimit,
	}
	azuriteKeys = []string{
		AzuriteConnectionString, AzuriteContainers, AzuriteSeedDir, AzuriteSeedContainer,
	}
	foundryKeys = []string{
		FoundryAPIURL, FoundryAPIToken, FoundryResourceID, FoundryMode,
		FoundryBranch, FoundryMaxRetries,
	}
)

// MeshNeed selects which MESH operations the caller is about to run, and so
// which keys are required.
type MeshNeed int

const (
	NeedSend MeshNeed = 1 << iota
	NeedInbox

	NeedAll = NeedSend | NeedInbox
)

// RequiredMeshKeys returns the keys required for need, in a stable order.
func RequiredMeshKeys(need MeshNeed) []string {
	var keys []string
	add := func(k ...string) {
		for _, key := range k {
			seen := false
			for _, have := range keys {
				if have == key {
					seen = true
					break
				}
			}
			if !seen {
				keys = append(keys, key)
			}
		}
	}
	if need&NeedSend != 0 {
		add(MailboxIDFrom, MailboxFromPassword, MailboxIDTo, SharedKey, FilePath, CertPath, KeyPath, WorkflowID)
	}
	if need&NeedInbox != 0 {
		add(MailboxIDTo, MailboxToPassword, SharedKey, CertPath, KeyPath)
	}
	return keys
}

// Mesh holds the MESH mailbox test settings.
type Mesh struct {
	BaseURL string

	FromMailbox  string
	FromPassword string
	ToMailbox    string
	ToPassword   string
	SharedKey    string

	FilePath   string
	WorkflowID string
	// LocalID is sent as mex-localid; empty means generate one per send.
	LocalID string

	CertPath   string
	KeyPath    string
	CACertPath string
	// VerifyTLS turns server certificate verification on.  Off by default,
	// matching the "curl -k" the mailbox scripts were written around.
	VerifyTLS bool

	Transport  string
	CurlPath   string
	MaxRetries int
	// RateLimit is requests per second; zero means unlimited.
	RateLimit float64
}

// Mesh loads the MESH settings, checking the keys required by need.
func (s *Source) Mesh(need MeshNeed) (Mesh, error) {
	if err := s.require(RequiredMeshKeys(need)...); err != nil {
		return Mesh{}, err
	}
	verify, err := s.getBool(MeshVerifyTLS)
	if err != nil {
		return Mesh{}, err
	}
	retries, err := s.getInt(MeshMaxRetries)
	if err != nil {
		return Mesh{}, err
	}
	var rate float64
	if raw := s.Get(MeshRateLimit); raw != "" {
		rate, err = strconv.ParseFloat(raw, 64)
		if err != nil || rate < 0 {
			return Mesh{}, errors.Wrapf(ErrInvalidValue, "%s=%q is not a non-negative number", MeshRateLimit, raw)
		}
	}
	m := Mesh{
		BaseURL:      s.Get(MeshURL),
		FromMailbox:  s.Get(MailboxIDFrom),
		FromPassword: s.Get(MailboxFromPassword),
		ToMailbox:    s.Get(MailboxIDTo),
		ToPassword:   s.Get(MailboxToPassword),
		SharedKey:    s.Get(SharedKey),
		FilePath:     s.Get(FilePath),
		WorkflowID:   s.Get(WorkflowID),
		LocalID:      s.Get(MeshLocalID),
		CertPath:     s.Get(CertPath),
		KeyPath:      s.Get(KeyPath),
		CACertPath:   s.Get(MeshCACertPath),
		VerifyTLS:    verify,
		Transport:    s.Get(MeshTransport),
		CurlPath:     s.Get(MeshCurlPath),
		MaxRetries:   retries,
		RateLimit:    rate,
	}
	switch m.Transport {
	case TransportCurl, TransportNative:
	default:
		return Mesh{}, errors.Wrapf(ErrInvalidValue, "%s=%q, want %q or %q",
			MeshTransport, m.Transport, TransportCurl, TransportNative)
	}
	return m, nil
}

// Azurite holds the emulator bootstrap settings.
type Azurite struct {
	ConnectionString string
	Containers       []string
	SeedDir          string
	SeedContainer    string
}

// Azurite loads the emulator bootstrap settings.  The connection string is
// not checked here; the bootstrap reports it missing itself.
func (s *Source) Azurite() Azurite {
	return Azurite{
		ConnectionString: s.Get(AzuriteConnectionString),
		Containers:       splitList(s.Get(AzuriteContainers)),
		SeedDir:          s.Get(AzuriteSeedDir),
		SeedContainer:    s.Get(AzuriteSeedContainer),
	}
}

// Foundry holds the relay's data-platform settings.
type Foundry struct {
	APIURL     string
	APIToken   string
	ResourceID string
	Mode       string
	Branch     string
	MaxRetries int
}

// Foundry loads the relay settings.  Dataset mode needs a resource ID;
// post mode only needs the URL and token.
func (s *Source) Foundry() (Foundry, error) {
	mode := s.Get(FoundryMode)
	required := []string{FoundryAPIURL, FoundryAPIToken}
	switch mode {
	case ModeDataset:
		required = append(required, FoundryResourceID)
	case ModePost:
	default:
		return Foundry{}, errors.Wrapf(ErrInvalidValue, "%s=%q, want %q or %q",
			FoundryMode, mode, ModeDataset, ModePost)
	}
	if err := s.require(required...); err != nil {
		return Foundry{}, err
	}
	retries, err := s.getInt(FoundryMaxRetries)
	if err != nil {
		return Foundry{}, err
	}
	return Foundry{
		APIURL:     s.Get(FoundryAPIURL),
		APIToken:   s.Get(FoundryAPIToken),
		ResourceID: s.Get(FoundryResourceID),
		Mode:       mode,
		Branch:     s.Get(FoundryBranch),
		MaxRetries: retries,
	}, nil
}
