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
	"fmt"

	hf "github.com/gomlx/go-huggingface/tokenizers"
	"github.com/gomlx/go-huggingface/tokenizers/api"
)

// hfAdapter exposes the Unigram tokenizer through the go-huggingface
// Tokenizer interface so callers written against that API can reuse it.
type hfAdapter struct {
	t *Tokenizer
}

var _ hf.Tokenizer = (*hfAdapter)(nil)

// AsHFTokenizer returns a go-huggingface view of the tokenizer.
func (t *Tokenizer) AsHFTokenizer() hf.Tokenizer {
	return &hfAdapter{t: t}
}

// Encode returns the text encoded into a sequence of token IDs.
func (a *hfAdapter) Encode(text string) []int {
	pieces := a.t.Tokenize(text)
	ids := make([]int, len(pieces))
	for i, p := range pieces {
		ids[i] = p.ID
	}
	return ids
}

// Decode returns the text from a sequence of token IDs.
func (a *hfAdapter) Decode(ids []int) string {
	return a.t.Decode(ids)
}

// SpecialTokenID returns the ID for the given special token, or an error if
// unknown.
func (a *hfAdapter) SpecialTokenID(token api.SpecialToken) (int, error) {
	var surface string
	switch token {
	case api.TokUnknown:
		surface = "[UNK]"
	case api.TokPad:
		surface = "[PAD]"
	case api.TokBeginningOfSentence:
		surface = "[CLS]"
	case api.TokEndOfSentence:
		surface = "[SEP]"
	default:
		return 0, fmt.Errorf("unknown special token: %s (%d)", token, int(token))
	}
	id, ok := a.t.SpecialID(surface)
	if !ok {
		return 0, fmt.Errorf("special token %s is not registered", surface)
	}
	return id, nil
}
