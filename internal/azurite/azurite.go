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

// Package azurite prepares a local Azurite blob emulator: it creates the
// containers the services expect and seeds one of them from a directory.
package azurite

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	gomime "github.com/cubewise-code/go-mime"
	"github.com/hashicorp/go-multierror"
	"github.com/matta/meshtools/internal/logging"
	"github.com/pkg/errors"
)

var (
	ErrMissingConnectionString = errors.New("AZURITE_CONNECTION_STRING is not set")
	ErrMissingSeedDir          = errors.New("seed directory does not exist")
)

// BlobService is the part of *azblob.Client used here.
type BlobService interface {
	CreateContainer(ctx context.Context, containerName string, o *azblob.CreateContainerOptions) (azblob.CreateContainerResponse, error)
	NewListContainersPager(o *azblob.ListContainersOptions) *runtime.Pager[azblob.ListContainersResponse]
	UploadFile(ctx context.Context, containerName string, blobName string, file *os.File, o *azblob.UploadFileOptions) (azblob.UploadFileResponse, error)
}

// NewClient connects to the emulator named by connectionString.
func NewClient(connectionString string) (*azblob.Client, error) {
	if strings.TrimSpace(connectionString) == "" {
		return nil, ErrMissingConnectionString
	}
	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, errors.Wrap(err, "parsing connection string")
	}
	return client, nil
}

// Options controls Bootstrap.
type Options struct {
	Containers []string

	// SeedDir is uploaded into SeedContainer.  Empty skips seeding.
	SeedDir       string
	SeedContainer string

	// Overwrite replaces blobs that already exist; otherwise they are
	// left alone and reported as skipped.
	Overwrite bool

	// Out receives the progress lines; nil discards them.
	Out io.Writer
}

// ContainerInfo is one listed container.
type ContainerInfo struct {
	Name         string
	LastModified time.Time
}

// Report says what Bootstrap did.
type Report struct {
	Created  []string
	Existing []string
	Listed   []ContainerInfo
	Uploaded []string
	Skipped  []string
}

// Bootstrap creates the containers, lists every container and seeds the
// seed container.  A container that already exists counts as success.
// Any other container error stops the run; upload errors are collected
// and returned after every file was attempted.
func Bootstrap(ctx context.Context, svc BlobService, opts Options) (*Report, error) {
	out := opts.Out
	if out == nil {
		out = io.Discard
	}
	report := &Report{}

	if err := createContainers(ctx, svc, opts.Containers, out, report); err != nil {
		return report, err
	}

	fmt.Fprintln(out, "\nListing Blob containers:")
	listed, err := ListContainers(ctx, svc)
	if err != nil {
		return report, err
	}
	report.Listed = listed
	for _, c := range listed {
		fmt.Fprintf(out, "Container Name: %s, Last Modified: %s\n", c.Name, c.LastModified.Format(time.RFC3339))
	}

	if opts.SeedDir == "" {
		return report, nil
	}
	err = seed(ctx, svc, opts, report)
	if err == nil {
		fmt.Fprintf(out, "\nUploaded %d files to blob container %s (%d already present)\n",
			len(report.Uploaded), opts.SeedContainer, len(report.Skipped))
	}
	return report, err
}

func createContainers(ctx context.Context, svc BlobService, names []string, out io.Writer, report *Report) error {
	for _, name := range names {
		log := logging.FromContext(ctx).WithField(logging.ContainerFieldKey, name)
		_, err := svc.CreateContainer(ctx, name, nil)
		switch {
		case err == nil:
			report.Created = append(report.Created, name)
			fmt.Fprintf(out, "Blob container %s created\n", name)
		case bloberror.HasCode(err, bloberror.ContainerAlreadyExists):
			report.Existing = append(report.Existing, name)
			log.Info("container already exists")
			fmt.Fprintf(out, "Blob container %s already exists\n", name)
		default:
			return errors.Wrapf(err, "creating container %s", name)
		}
	}
	return nil
}

// ListContainers pages through every container.
func ListContainers(ctx context.Context, svc BlobService) ([]ContainerInfo, error) {
	var listed []ContainerInfo
	pager := svc.NewListContainersPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return listed, errors.Wrap(err, "listing containers")
		}
		for _, item := range page.ContainerItems {
			info := ContainerInfo{Name: deref(item.Name)}
			if item.Properties != nil {
				info.LastModified = deref(item.Properties.LastModified)
			}
			listed = append(listed, info)
		}
	}
	return listed, nil
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

func seed(ctx context.Context, svc BlobService, opts Options, report *Report) error {
	entries, err := os.ReadDir(opts.SeedDir)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.Wrap(ErrMissingSeedDir, opts.SeedDir)
		}
		return errors.Wrapf(err, "reading %s", opts.SeedDir)
	}

	var result *multierror.Error
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		name := entry.Name()
		uploaded, err := uploadFile(ctx, svc, opts, name)
		switch {
		case err != nil:
			result = multierror.Append(result, err)
		case uploaded:
			report.Uploaded = append(report.Uploaded, name)
		default:
			report.Skipped = append(report.Skipped, name)
		}
	}
	return result.ErrorOrNil()
}

// uploadFile reports false when the blob already existed and was kept.
func uploadFile(ctx context.Context, svc BlobService, opts Options, name string) (bool, error) {
	log := logging.FromContext(ctx).WithFields(logging.Fields{
		logging.ContainerFieldKey: opts.SeedContainer,
		logging.BlobFieldKey:      name,
	})
	f, err := os.Open(filepath.Join(opts.SeedDir, name))
	if err != nil {
		return false, errors.Wrapf(err, "opening %s", name)
	}
	defer f.Close()

	upload := &azblob.UploadFileOptions{}
	if contentType := gomime.TypeByExtension(strings.ToLower(filepath.Ext(name))); contentType != "" {
		upload.HTTPHeaders = &blob.HTTPHeaders{BlobContentType: to.Ptr(contentType)}
	}
	if !opts.Overwrite {
		upload.AccessConditions = &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{IfNoneMatch: to.Ptr(azcore.ETagAny)},
		}
	}
	_, err = svc.UploadFile(ctx, opts.SeedContainer, name, f, upload)
	switch {
	case err == nil:
		log.Debug("uploaded")
		return true, nil
	case !opts.Overwrite && bloberror.HasCode(err, bloberror.BlobAlreadyExists, bloberror.ConditionNotMet):
		log.Info("blob already exists, skipping")
		return false, nil
	default:
		return false, errors.Wrapf(err, "uploading %s", name)
	}
}
