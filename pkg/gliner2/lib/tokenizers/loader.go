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

package tokenizers

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"unicode/utf8"

	"github.com/gomlx/go-huggingface/tokenizers/api"

	"github.com/antflydb/gliner2/pkg/gliner2/lib/errdefs"
)

// requiredSpecials are the base special tokens a usable export must declare.
var requiredSpecials = []string{"[UNK]", "[PAD]", "[CLS]", "[SEP]"}

// tokenizerJSON mirrors the subset of the HuggingFace tokenizer.json layout
// the Unigram loader consumes.
type tokenizerJSON struct {
	Model struct {
		Type  string            `json:"type"`
		UnkID *int              `json:"unk_id"`
		Vocab []json.RawMessage `json:"vocab"`
	} `json:"model"`
	AddedTokens []struct {
		ID      int    `json:"id"`
		Content string `json:"content"`
		Special bool   `json:"special"`
	} `json:"added_tokens"`
}

// LoaderOption configures tokenizer loading.
type LoaderOption func(*loaderConfig)

type loaderConfig struct {
	maxLength int
}

// WithMaxLength sets the tokenizer's maximum sequence length.
func WithMaxLength(n int) LoaderOption {
	return func(c *loaderConfig) {
		c.maxLength = n
	}
}

// Load reads a Unigram tokenizer from a model directory. The directory must
// contain tokenizer/tokenizer.json or tokenizer.json. A tokenizer_config.json
// next to it is parsed for completeness but the vocabulary file is
// authoritative for IDs.
func Load(dir string, opts ...LoaderOption) (*Tokenizer, error) {
	cfg := &loaderConfig{maxLength: 384}
	for _, opt := range opts {
		opt(cfg)
	}

	path := ""
	for _, candidate := range []string{
		filepath.Join(dir, "tokenizer", "tokenizer.json"),
		filepath.Join(dir, "tokenizer.json"),
	} {
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
			break
		}
	}
	if path == "" {
		return nil, errdefs.Resourcef("no tokenizer.json found under %s", dir)
	}

	// tokenizer_config.json is optional; parse it when present so malformed
	// exports fail loudly at load rather than at encode time.
	configPath := filepath.Join(filepath.Dir(path), "tokenizer_config.json")
	if _, err := os.Stat(configPath); err == nil {
		if _, err := api.ParseConfigFile(configPath); err != nil {
			return nil, errdefs.Resourcef("parsing %s: %v", configPath, err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errdefs.Resourcef("reading %s: %v", path, err)
	}

	var raw tokenizerJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errdefs.Resourcef("parsing %s: %v", path, err)
	}

	if raw.Model.Type != "unigram" {
		return nil, errdefs.Tokenizerf("unsupported tokenizer model type %q (want unigram)", raw.Model.Type)
	}
	if len(raw.Model.Vocab) == 0 {
		return nil, errdefs.Resourcef("%s: empty unigram vocabulary", path)
	}
	if raw.Model.UnkID == nil {
		return nil, errdefs.Resourcef("%s: missing model.unk_id", path)
	}

	t := &Tokenizer{
		entries:   make([]vocabEntry, 0, len(raw.Model.Vocab)),
		lookup:    make(map[string]int, len(raw.Model.Vocab)),
		unkID:     *raw.Model.UnkID,
		maxLength: cfg.maxLength,
		specials:  make(map[string]int),
	}
	t.scratch.New = func() any { return &viterbiScratch{} }

	for i, rawEntry := range raw.Model.Vocab {
		var pair [2]json.RawMessage
		if err := json.Unmarshal(rawEntry, &pair); err != nil {
			return nil, errdefs.Resourcef("%s: vocab entry %d is not a [surface, score] pair", path, i)
		}
		var surface string
		var score float64
		if err := json.Unmarshal(pair[0], &surface); err != nil {
			return nil, errdefs.Resourcef("%s: vocab entry %d has a non-string surface", path, i)
		}
		if err := json.Unmarshal(pair[1], &score); err != nil {
			return nil, errdefs.Resourcef("%s: vocab entry %d has a non-numeric score", path, i)
		}
		t.entries = append(t.entries, vocabEntry{surface: surface, score: score})
		if _, dup := t.lookup[surface]; !dup {
			t.lookup[surface] = i
		}
		if n := utf8.RuneCountInString(surface); n > t.maxPieceLen {
			t.maxPieceLen = n
		}
	}

	if t.unkID < 0 || t.unkID >= len(t.entries) {
		return nil, errdefs.Resourcef("%s: unk_id %d out of vocabulary range", path, t.unkID)
	}

	for _, added := range raw.AddedTokens {
		t.specials[added.Content] = added.ID
	}

	for _, required := range requiredSpecials {
		if _, ok := t.specials[required]; !ok {
			return nil, errdefs.Resourcef("%s: required special token %s absent", path, required)
		}
	}

	return t, nil
}

// loadCache memoises loaded tokenizers by directory. Entries are never
// evicted within a process.
var loadCache = struct {
	sync.Mutex
	byDir map[string]*Tokenizer
}{byDir: make(map[string]*Tokenizer)}

// LoadCached returns the process-wide tokenizer for dir, loading it on first
// use.
func LoadCached(dir string, opts ...LoaderOption) (*Tokenizer, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}

	loadCache.Lock()
	defer loadCache.Unlock()
	if t, ok := loadCache.byDir[abs]; ok {
		return t, nil
	}
	t, err := Load(dir, opts...)
	if err != nil {
		return nil, err
	}
	loadCache.byDir[abs] = t
	return t, nil
}
