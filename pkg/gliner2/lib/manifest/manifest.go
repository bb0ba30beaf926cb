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

// Package manifest loads the export manifest that names the five GLiNER2
// model artifacts, the tokenizer directory, and the shape constants the
// pipeline is compiled against.
package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/antflydb/gliner2/pkg/gliner2/lib/errdefs"
)

// Artifacts holds the on-disk paths of the five neural modules. Relative
// entries are joined to the manifest's directory, so they are absolute
// only when the manifest path is.
type Artifacts struct {
	Encoder        string `json:"encoder"`
	SpanRep        string `json:"span_rep"`
	Classifier     string `json:"classifier"`
	CountPredictor string `json:"count_predictor"`
	CountEmbed     string `json:"count_embed"`
}

// Manifest describes an exported GLiNER2 model bundle.
type Manifest struct {
	// ModelID is the upstream model identifier the bundle was exported from.
	ModelID string `json:"model_id"`

	// MaxSeqLen is the compiled maximum token sequence length.
	MaxSeqLen int `json:"max_seq_len"`

	// MaxSchemaTokens is the maximum number of schema prompt positions.
	MaxSchemaTokens int `json:"max_schema_tokens"`

	// MaxWidth is the maximum entity span width in words.
	MaxWidth int `json:"max_width"`

	// HiddenSize is the encoder hidden dimension.
	HiddenSize int `json:"hidden_size"`

	// CountingLayer names the counting layer variant used at export time.
	CountingLayer string `json:"counting_layer"`

	// MaxCount is the count predictor's upper bound.
	MaxCount int `json:"max_count"`

	// Precision is the export precision tag ("fp32" or "fp16").
	Precision string `json:"precision"`

	// Artifacts are the module paths, resolved against the manifest dir.
	Artifacts Artifacts `json:"artifacts"`

	// TokenizerDir is the tokenizer directory, resolved likewise.
	TokenizerDir string `json:"tokenizer_dir"`

	// ModelConfig is the upstream model configuration, preserved verbatim
	// for callers that need exporter-specific detail.
	ModelConfig json.RawMessage `json:"model_config,omitempty"`

	// Dir is the directory the manifest was loaded from.
	Dir string `json:"-"`
}

// Load reads and validates a manifest file. Relative artifact and tokenizer
// paths are resolved against the manifest's directory.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errdefs.Resourcef("reading manifest %s: %v", path, err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errdefs.Resourcef("parsing manifest %s: %v", path, err)
	}

	m.Dir = filepath.Dir(path)

	if m.MaxSeqLen <= 0 || m.HiddenSize <= 0 || m.MaxWidth <= 0 {
		return nil, errdefs.Resourcef("manifest %s: max_seq_len, hidden_size and max_width must be positive", path)
	}
	if m.MaxSchemaTokens <= 0 {
		m.MaxSchemaTokens = 64
	}
	if m.MaxCount <= 0 {
		m.MaxCount = 20
	}

	for name, p := range map[string]*string{
		"encoder":         &m.Artifacts.Encoder,
		"span_rep":        &m.Artifacts.SpanRep,
		"classifier":      &m.Artifacts.Classifier,
		"count_predictor": &m.Artifacts.CountPredictor,
		"count_embed":     &m.Artifacts.CountEmbed,
	} {
		if *p == "" {
			return nil, errdefs.Resourcef("manifest %s: missing artifact %q", path, name)
		}
		*p = m.resolve(*p)
		if _, err := os.Stat(*p); err != nil {
			return nil, errdefs.Resourcef("manifest %s: artifact %q not found at %s", path, name, *p)
		}
	}

	if m.TokenizerDir == "" {
		return nil, errdefs.Resourcef("manifest %s: missing tokenizer_dir", path)
	}
	m.TokenizerDir = m.resolve(m.TokenizerDir)
	if info, err := os.Stat(m.TokenizerDir); err != nil || !info.IsDir() {
		return nil, errdefs.Resourcef("manifest %s: tokenizer directory not found at %s", path, m.TokenizerDir)
	}

	return &m, nil
}

func (m *Manifest) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}
