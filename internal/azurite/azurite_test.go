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

package azurite

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/service"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var modified = time.Date(2024, time.January, 2, 15, 4, 5, 0, time.UTC)

func responseError(code bloberror.Code, status int) error {
	return &azcore.ResponseError{ErrorCode: string(code), StatusCode: status}
}

// fakeBlobs is an in-memory BlobService.  Containers are listed two per
// page so paging is exercised.
type fakeBlobs struct {
	containers map[string]bool
	blobs      map[string]string
	createErr  error
	uploadErr  map[string]error
	uploads    []*azblob.UploadFileOptions
}

func newFakeBlobs(existing ...string) *fakeBlobs {
	f := &fakeBlobs{containers: map[string]bool{}, blobs: map[string]string{}, uploadErr: map[string]error{}}
	for _, c := range existing {
		f.containers[c] = true
	}
	return f
}

func (f *fakeBlobs) CreateContainer(ctx context.Context, name string, o *azblob.CreateContainerOptions) (azblob.CreateContainerResponse, error) {
	if f.createErr != nil {
		return azblob.CreateContainerResponse{}, f.createErr
	}
	if f.containers[name] {
		return azblob.CreateContainerResponse{}, responseError(bloberror.ContainerAlreadyExists, http.StatusConflict)
	}
	f.containers[name] = true
	return azblob.CreateContainerResponse{}, nil
}

func (f *fakeBlobs) NewListContainersPager(o *azblob.ListContainersOptions) *runtime.Pager[azblob.ListContainersResponse] {
	var names []string
	for name := range f.containers {
		names = append(names, name)
	}
	sort.Strings(names)
	next := 0
	return runtime.NewPager(runtime.PagingHandler[azblob.ListContainersResponse]{
		More: func(azblob.ListContainersResponse) bool { return next < len(names) },
		Fetcher: func(ctx context.Context, _ *azblob.ListContainersResponse) (azblob.ListContainersResponse, error) {
			var items []*service.ContainerItem
			for i := 0; i < 2 && next < len(names); i++ {
				items = append(items, &service.ContainerItem{
					Name:       to.Ptr(names[next]),
					Properties: &service.ContainerProperties{LastModified: to.Ptr(modified)},
				})
				next++
			}
			return azblob.ListContainersResponse{
				ListContainersSegmentResponse: service.ListContainersSegmentResponse{ContainerItems: items},
			}, nil
		},
	})
}

func (f *fakeBlobs) UploadFile(ctx context.Context, container, name string, file *os.File, o *azblob.UploadFileOptions) (azblob.UploadFileResponse, error) {
	f.uploads = append(f.uploads, o)
	if err := f.uploadErr[name]; err != nil {
		return azblob.UploadFileResponse{}, err
	}
	key := container + "/" + name
	if _, ok := f.blobs[key]; ok && o != nil && o.AccessConditions != nil {
		return azblob.UploadFileResponse{}, responseError(bloberror.BlobAlreadyExists, http.StatusConflict)
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return azblob.UploadFileResponse{}, err
	}
	f.blobs[key] = string(data)
	return azblob.UploadFileResponse{}, nil
}

func seedDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir"), 0o700))
	return dir
}

func TestBootstrapFresh(t *testing.T) {
	blobs := newFakeBlobs()
	dir := seedDir(t, map[string]string{"a.json": `{"rule":1}`, "b.json": `{"rule":2}`})
	var out bytes.Buffer

	report, err := Bootstrap(context.Background(), blobs, Options{
		Containers:    []string{"inbound", "sample-container", "rules"},
		SeedDir:       dir,
		SeedContainer: "rules",
		Out:           &out,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"inbound", "sample-container", "rules"}, report.Created)
	assert.Empty(t, report.Existing)
	require.Len(t, report.Listed, 3)
	assert.Equal(t, ContainerInfo{Name: "inbound", LastModified: modified}, report.Listed[0])
	assert.ElementsMatch(t, []string{"a.json", "b.json"}, report.Uploaded)
	assert.Equal(t, `{"rule":1}`, blobs.blobs["rules/a.json"])
	assert.Contains(t, out.String(), "Container Name: rules, Last Modified: 2024-01-02T15:04:05Z")

	for _, o := range blobs.uploads {
		require.NotNil(t, o.AccessConditions, "uploads must not overwrite by default")
		assert.Equal(t, azcore.ETagAny, *o.AccessConditions.ModifiedAccessConditions.IfNoneMatch)
	}
}

func TestBootstrapAlreadyExists(t *testing.T) {
	blobs := newFakeBlobs("inbound", "rules")
	report, err := Bootstrap(context.Background(), blobs, Options{
		Containers: []string{"inbound", "sample-container", "rules"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"sample-container"}, report.Created)
	assert.Equal(t, []string{"inbound", "rules"}, report.Existing)
	assert.Len(t, report.Listed, 3)
}

func TestBootstrapCreateFailureStops(t *testing.T) {
	blobs := newFakeBlobs()
	blobs.createErr = errors.New("dial tcp 127.0.0.1:10000: connection refused")
	report, err := Bootstrap(context.Background(), blobs, Options{Containers: []string{"inbound", "rules"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "creating container inbound")
	assert.Empty(t, report.Listed)
}

func TestSeedSkipsExisting(t *testing.T) {
	blobs := newFakeBlobs("rules")
	blobs.blobs["rules/a.json"] = "old"
	dir := seedDir(t, map[string]string{"a.json": "new", "b.json": "b"})

	report, err := Bootstrap(context.Background(), blobs, Options{SeedDir: dir, SeedContainer: "rules"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.json"}, report.Skipped)
	assert.Equal(t, []string{"b.json"}, report.Uploaded)
	assert.Equal(t, "old", blobs.blobs["rules/a.json"])
}

func TestSeedOverwrite(t *testing.T) {
	blobs := newFakeBlobs("rules")
	blobs.blobs["rules/a.json"] = "old"
	dir := seedDir(t, map[string]string{"a.json": "new"})

	report, err := Bootstrap(context.Background(), blobs, Options{SeedDir: dir, SeedContainer: "rules", Overwrite: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.json"}, report.Uploaded)
	assert.Equal(t, "new", blobs.blobs["rules/a.json"])
	assert.Nil(t, blobs.uploads[0].AccessConditions)
}

func TestSeedCollectsFailures(t *testing.T) {
	blobs := newFakeBlobs("rules")
	blobs.uploadErr["a.json"] = responseError(bloberror.AuthenticationFailed, http.StatusForbidden)
	blobs.uploadErr["c.json"] = responseError(bloberror.InternalError, http.StatusInternalServerError)
	dir := seedDir(t, map[string]string{"a.json": "a", "b.json": "b", "c.json": "c"})

	report, err := Bootstrap(context.Background(), blobs, Options{SeedDir: dir, SeedContainer: "rules"})
	var merr *multierror.Error
	require.True(t, errors.As(err, &merr), "error = %v", err)
	assert.Len(t, merr.Errors, 2)
	assert.Equal(t, []string{"b.json"}, report.Uploaded)
}

func TestSeedMissingDir(t *testing.T) {
	_, err := Bootstrap(context.Background(), newFakeBlobs(), Options{
		SeedDir: filepath.Join(t.TempDir(), "absent"), SeedContainer: "rules",
	})
	assert.Equal(t, ErrMissingSeedDir, errors.Cause(err))
}

func TestNewClientRequiresConnectionString(t *testing.T) {
	for _, cs := range []string{"", "   "} {
		_, err := NewClient(cs)
		assert.Equal(t, ErrMissingConnectionString, err)
	}
	_, err := NewClient("not a connection string")
	assert.Error(t, err)
}
