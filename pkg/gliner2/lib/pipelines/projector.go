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

// Package pipelines implements the GLiNER2 inference stages between the
// schema encoding and the decoded entities: hidden-state projection, span
// pipeline orchestration, score assembly, and greedy span decoding.
package pipelines

import (
	"github.com/antflydb/gliner2/pkg/gliner2/lib/errdefs"
	"github.com/antflydb/gliner2/pkg/gliner2/lib/tokenizers"
)

// PromptVector is one schema marker's pooled embedding.
type PromptVector struct {
	Kind   tokenizers.PromptKind
	Vector []float32
}

// ProjectWords gathers one embedding per text word: the hidden state of the
// word's first subword.
func ProjectWords(hidden [][]float32, enc *tokenizers.SchemaEncoding) ([][]float32, error) {
	if len(hidden) < len(enc.InputIDs) {
		return nil, errdefs.Encodingf("hidden states cover %d positions, encoding has %d subwords", len(hidden), len(enc.InputIDs))
	}

	numWords := len(enc.TextWords)
	wordEmb := make([][]float32, numWords)
	for i, m := range enc.Mappings {
		if m.Segment != tokenizers.SegmentText {
			continue
		}
		if m.OriginalIndex < 0 || m.OriginalIndex >= numWords {
			return nil, errdefs.Encodingf("text mapping at subword %d points to word %d of %d", i, m.OriginalIndex, numWords)
		}
		if wordEmb[m.OriginalIndex] == nil {
			wordEmb[m.OriginalIndex] = hidden[i]
		}
	}

	for w, emb := range wordEmb {
		if emb == nil {
			return nil, errdefs.Encodingf("word %d (%q) has no subword mapping", w, enc.TextWords[w])
		}
	}
	return wordEmb, nil
}

// ProjectPrompts mean-pools the hidden states of every schema marker,
// grouped by schema group. Mean pooling is used because markers may expand
// to more than one subword.
func ProjectPrompts(hidden [][]float32, enc *tokenizers.SchemaEncoding) ([][]PromptVector, error) {
	groups := make([][]PromptVector, enc.NumGroups)
	for _, loc := range enc.PromptLocations {
		if loc.Start >= loc.End {
			return nil, errdefs.Encodingf("%s marker in group %d has empty subword span [%d, %d)", loc.Kind, loc.Group, loc.Start, loc.End)
		}
		if loc.Start < 0 || loc.End > len(hidden) {
			return nil, errdefs.Encodingf("%s marker span [%d, %d) is outside %d hidden states", loc.Kind, loc.Start, loc.End, len(hidden))
		}
		if loc.Group < 0 || loc.Group >= enc.NumGroups {
			return nil, errdefs.Encodingf("%s marker references group %d of %d", loc.Kind, loc.Group, enc.NumGroups)
		}
		groups[loc.Group] = append(groups[loc.Group], PromptVector{
			Kind:   loc.Kind,
			Vector: meanPool(hidden[loc.Start:loc.End]),
		})
	}
	return groups, nil
}

func meanPool(rows [][]float32) []float32 {
	out := make([]float32, len(rows[0]))
	for _, row := range rows {
		for i, v := range row {
			out[i] += v
		}
	}
	inv := 1 / float32(len(rows))
	for i := range out {
		out[i] *= inv
	}
	return out
}
