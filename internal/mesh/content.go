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

package mesh

import (
	"path/filepath"
	"strings"

	gomime "github.com/cubewise-code/go-mime"
)

const defaultContentType = "application/octet-stream"

// ContentType returns the content type and content encoding for a file
// name.  A ".gz" suffix means gzip encoding of whatever the rest of the
// name says.
func ContentType(name string) (contentType, encoding string) {
	base := filepath.Base(name)
	if strings.EqualFold(filepath.Ext(base), ".gz") {
		encoding = "gzip"
		base = base[:len(base)-len(".gz")]
	}
	contentType = gomime.TypeByExtension(strings.ToLower(filepath.Ext(base)))
	if contentType == "" {
		contentType = defaultContentType
	}
	return contentType, encoding
}
