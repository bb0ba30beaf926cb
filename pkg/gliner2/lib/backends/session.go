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

// Package backends defines the inference backend contract the GLiNER2
// pipeline talks to, and the typed adapters for the five neural modules.
// A backend knows how to compile a model artifact into a Session; a Session
// maps named input tensors to named output tensors and nothing more.
package backends

import (
	"context"
	"sort"
	"sync"

	"github.com/antflydb/gliner2/pkg/gliner2/lib/errdefs"
)

// Session is a compiled model artifact that can run tensor computations.
// Implementations may require serial access; the adapters in this package
// guarantee it.
type Session interface {
	// Predict executes the model with the given named inputs and returns
	// its named outputs.
	Predict(ctx context.Context, inputs map[string]Tensor) (map[string]Tensor, error)

	// Close releases resources associated with the session.
	Close() error
}

// Backend compiles model artifacts into sessions. Compile must be
// idempotent: compiling the same path twice returns the cached session.
type Backend interface {
	// Name identifies the backend for logging.
	Name() string

	// Compile loads (and if necessary compiles) the artifact at path.
	Compile(path string) (Session, error)
}

var (
	registryMu sync.Mutex
	registry   = map[string]Backend{}
)

// Register makes a backend available to Default. Build-tagged backend
// implementations register themselves from init.
func Register(b Backend) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[b.Name()] = b
}

// Default returns a registered backend. With several registered the
// lexicographically first name wins, keeping selection deterministic.
func Default() (Backend, error) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if len(registry) == 0 {
		return nil, errdefs.Resourcef("no inference backend registered in this build")
	}
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return registry[names[0]], nil
}
