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

// Package metadata loads the span-head metadata written next to the model
// manifest at export time. It declares the schema marker tokens and the
// vocabulary IDs the tokenizer must register before schema encoding.
package metadata

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/antflydb/gliner2/pkg/gliner2/lib/errdefs"
)

// SpecialTokens carries the integer vocabulary IDs for the base special
// tokens and the GLiNER2 task markers.
type SpecialTokens struct {
	PromptToken      string `json:"prompt_token"`
	PromptTokenIndex int    `json:"prompt_token_index"`

	EntTokenIndex int `json:"ent_token_index"`
	SepTokenIndex int `json:"sep_token_index"`

	TextToken      string `json:"text_token"`
	TextTokenIndex int    `json:"text_token_index"`

	ClsTokenIndex     int `json:"cls_token_index"`
	BaseSepTokenIndex int `json:"base_sep_token_index"`
	UnkTokenIndex     int `json:"unk_token_index"`
	PadTokenIndex     int `json:"pad_token_index"`
	MaskTokenIndex    int `json:"mask_token_index"`
}

// SpanHead describes the exported span head: hidden size, span width, and
// the marker tokens the prompt formatter emits.
type SpanHead struct {
	Model           string        `json:"model,omitempty"`
	HiddenSize      int           `json:"hidden_size"`
	MaxWidth        int           `json:"max_width"`
	ClassTokenIndex int           `json:"class_token_index"`
	EntToken        string        `json:"ent_token"`
	SepToken        string        `json:"sep_token"`
	SpecialTokens   SpecialTokens `json:"special_tokens"`
}

// Load reads span-head metadata from the given path.
func Load(path string) (*SpanHead, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errdefs.Resourcef("reading span-head metadata %s: %v", path, err)
	}

	var sh SpanHead
	if err := json.Unmarshal(data, &sh); err != nil {
		return nil, errdefs.Resourcef("parsing span-head metadata %s: %v", path, err)
	}

	if sh.HiddenSize <= 0 || sh.MaxWidth <= 0 {
		return nil, errdefs.Resourcef("span-head metadata %s: hidden_size and max_width must be positive", path)
	}
	if sh.EntToken == "" {
		sh.EntToken = "[E]"
	}
	if sh.SepToken == "" {
		sh.SepToken = "[SEP_STRUCT]"
	}
	if sh.SpecialTokens.PromptToken == "" {
		sh.SpecialTokens.PromptToken = "[P]"
	}
	if sh.SpecialTokens.TextToken == "" {
		sh.SpecialTokens.TextToken = "[SEP_TEXT]"
	}

	return &sh, nil
}

// loadCache memoises span-head metadata by path. Entries are never evicted
// within a process.
var loadCache = struct {
	sync.Mutex
	byPath map[string]*SpanHead
}{byPath: make(map[string]*SpanHead)}

// LoadCached returns the process-wide metadata for path, loading it on
// first use.
func LoadCached(path string) (*SpanHead, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	loadCache.Lock()
	defer loadCache.Unlock()
	if sh, ok := loadCache.byPath[abs]; ok {
		return sh, nil
	}
	sh, err := Load(path)
	if err != nil {
		return nil, err
	}
	loadCache.byPath[abs] = sh
	return sh, nil
}

// MarkerTokens returns the marker surface → vocabulary ID pairs the
// tokenizer must register for schema encoding.
func (sh *SpanHead) MarkerTokens() map[string]int {
	return map[string]int{
		sh.SpecialTokens.PromptToken: sh.SpecialTokens.PromptTokenIndex,
		sh.EntToken:                  sh.SpecialTokens.EntTokenIndex,
		sh.SepToken:                  sh.SpecialTokens.SepTokenIndex,
		sh.SpecialTokens.TextToken:   sh.SpecialTokens.TextTokenIndex,
	}
}
