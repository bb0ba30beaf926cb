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
	"strings"

	"github.com/antflydb/gliner2/pkg/gliner2/lib/errdefs"
)

// Segment classifies a subword position within a schema encoding.
type Segment string

const (
	// SegmentSchema marks subwords belonging to the schema prompt.
	SegmentSchema Segment = "schema"
	// SegmentSeparator marks the text separator token.
	SegmentSeparator Segment = "separator"
	// SegmentText marks subwords belonging to the input text.
	SegmentText Segment = "text"
)

// PromptKind classifies a schema marker.
type PromptKind string

const (
	PromptKindPrompt         PromptKind = "prompt"
	PromptKindEntity         PromptKind = "entity"
	PromptKindRelation       PromptKind = "relation"
	PromptKindClassification PromptKind = "classification"
	PromptKindList           PromptKind = "list"
)

// Mapping records, for one subword, which segment it belongs to and which
// original token produced it. OriginalIndex is a schema-token index for
// schema subwords and a word index for text subwords. SchemaGroup is -1
// outside the schema.
type Mapping struct {
	Segment       Segment
	OriginalIndex int
	SchemaGroup   int
}

// PromptLocation is the subword range [Start, End) a schema marker expanded
// to, together with its kind and group.
type PromptLocation struct {
	Kind  PromptKind
	Group int
	Start int
	End   int
}

// SchemaEncoding is the fully-expanded GLiNER2 input: schema prompt,
// separator, and text words, with every mapping the downstream projection
// stages need.
type SchemaEncoding struct {
	// SchemaTokens is the coarse schema token stream.
	SchemaTokens []string

	// TextWords is the word list from the input.
	TextWords []string

	InputIDs      []int32
	AttentionMask []int32
	Tokens        []Token

	// Mappings has exactly one entry per subword.
	Mappings []Mapping

	// PromptLocations lists every schema marker in stream order.
	PromptLocations []PromptLocation

	// TextWordRanges are the character ranges of TextWords in the input.
	TextWordRanges []CharRange

	// SpanIndices is the flat [|TextWords| * MaxWidth * 2] span plan:
	// entry (s, w) is [s, s+w] when s+w < |TextWords| and [0, 0] otherwise.
	SpanIndices []int32

	// SpanMask is 1.0 on valid span entries and 0.0 on padding.
	SpanMask []float32

	// EntityLabels are the caller's labels, in order.
	EntityLabels []string

	// MaxWidth is the span width the plan was built for.
	MaxWidth int

	// NumGroups is the number of schema groups encoded.
	NumGroups int
}

// schemaGroup is one task block inside the schema prompt. The entity task
// uses a single group named "entities" with one entity marker per label.
type schemaGroup struct {
	name       string
	markerKind PromptKind
	labels     []string
}

// EncodeSchema builds the GLiNER2 entity-task schema encoding:
//
//	( [P] entities ( [E] label₁ [E] label₂ … ) ) [SEP_TEXT] word₁ word₂ …
//
// Words are lower-cased before subword tokenization. Registered special
// tokens are emitted verbatim and never re-tokenized.
func (t *Tokenizer) EncodeSchema(text string, labels []string, maxSpanWidth int) (*SchemaEncoding, error) {
	groups := []schemaGroup{{name: "entities", markerKind: PromptKindEntity, labels: labels}}
	return t.encodeGroups(text, groups, maxSpanWidth)
}

func (t *Tokenizer) encodeGroups(text string, groups []schemaGroup, maxSpanWidth int) (*SchemaEncoding, error) {
	if maxSpanWidth <= 0 {
		return nil, errdefs.InvalidInputf("max span width must be positive, got %d", maxSpanWidth)
	}

	promptID, ok := t.SpecialID("[P]")
	if !ok {
		return nil, errdefs.Tokenizerf("special token [P] is not registered")
	}
	entID, ok := t.SpecialID("[E]")
	if !ok {
		return nil, errdefs.Tokenizerf("special token [E] is not registered")
	}
	sepTextID, ok := t.SpecialID("[SEP_TEXT]")
	if !ok {
		return nil, errdefs.Tokenizerf("special token [SEP_TEXT] is not registered")
	}
	sepStructID, hasSepStruct := t.SpecialID("[SEP_STRUCT]")
	if len(groups) > 1 && !hasSepStruct {
		return nil, errdefs.Tokenizerf("special token [SEP_STRUCT] is not registered")
	}

	words, ranges := SplitWords(text)

	enc := &SchemaEncoding{
		TextWords:      words,
		TextWordRanges: ranges,
		MaxWidth:       maxSpanWidth,
		NumGroups:      len(groups),
	}

	pushSubword := func(tok Token, m Mapping) {
		enc.InputIDs = append(enc.InputIDs, int32(tok.ID))
		enc.AttentionMask = append(enc.AttentionMask, 1)
		enc.Tokens = append(enc.Tokens, tok)
		enc.Mappings = append(enc.Mappings, m)
	}

	for g, group := range groups {
		if g > 0 {
			si := len(enc.SchemaTokens)
			enc.SchemaTokens = append(enc.SchemaTokens, "[SEP_STRUCT]")
			pushSubword(Token{ID: sepStructID, Surface: "[SEP_STRUCT]"},
				Mapping{Segment: SegmentSchema, OriginalIndex: si, SchemaGroup: g})
		}

		emit := func(coarse string) int {
			si := len(enc.SchemaTokens)
			enc.SchemaTokens = append(enc.SchemaTokens, coarse)
			m := Mapping{Segment: SegmentSchema, OriginalIndex: si, SchemaGroup: g}
			if id, special := t.SpecialID(coarse); special {
				pushSubword(Token{ID: id, Surface: coarse}, m)
				return 1
			}
			pieces := t.Tokenize(coarse)
			for _, p := range pieces {
				pushSubword(p, m)
			}
			return len(pieces)
		}

		emit("(")

		start := len(enc.InputIDs)
		enc.SchemaTokens = append(enc.SchemaTokens, "[P]")
		pushSubword(Token{ID: promptID, Surface: "[P]"},
			Mapping{Segment: SegmentSchema, OriginalIndex: len(enc.SchemaTokens) - 1, SchemaGroup: g})
		enc.PromptLocations = append(enc.PromptLocations, PromptLocation{
			Kind: PromptKindPrompt, Group: g, Start: start, End: len(enc.InputIDs),
		})

		emit(group.name)
		emit("(")

		for _, label := range group.labels {
			markerStart := len(enc.InputIDs)
			enc.SchemaTokens = append(enc.SchemaTokens, "[E]")
			pushSubword(Token{ID: entID, Surface: "[E]"},
				Mapping{Segment: SegmentSchema, OriginalIndex: len(enc.SchemaTokens) - 1, SchemaGroup: g})
			enc.PromptLocations = append(enc.PromptLocations, PromptLocation{
				Kind: group.markerKind, Group: g, Start: markerStart, End: len(enc.InputIDs),
			})
			emit(label)
		}

		emit(")")
		emit(")")
	}

	pushSubword(Token{ID: sepTextID, Surface: "[SEP_TEXT]"},
		Mapping{Segment: SegmentSeparator, OriginalIndex: 0, SchemaGroup: -1})

	for w, word := range words {
		for _, p := range t.Tokenize(strings.ToLower(word)) {
			pushSubword(p, Mapping{Segment: SegmentText, OriginalIndex: w, SchemaGroup: -1})
		}
	}

	if len(enc.InputIDs) > t.maxLength {
		return nil, errdefs.Tokenizerf("schema sequence length %d exceeds max length %d", len(enc.InputIDs), t.maxLength)
	}

	enc.planSpans()

	for g := range groups {
		enc.EntityLabels = append(enc.EntityLabels, groups[g].labels...)
	}

	return enc, nil
}

// planSpans fills SpanIndices and SpanMask row-major over (word, width).
func (enc *SchemaEncoding) planSpans() {
	numWords := len(enc.TextWords)
	total := numWords * enc.MaxWidth
	enc.SpanIndices = make([]int32, total*2)
	enc.SpanMask = make([]float32, total)

	for s := 0; s < numWords; s++ {
		for w := 0; w < enc.MaxWidth; w++ {
			i := s*enc.MaxWidth + w
			if s+w < numWords {
				enc.SpanIndices[i*2] = int32(s)
				enc.SpanIndices[i*2+1] = int32(s + w)
				enc.SpanMask[i] = 1
			}
		}
	}
}

// TextStart returns the subword index of the first text subword, or -1 when
// the encoding has no text segment.
func (enc *SchemaEncoding) TextStart() int {
	for i, m := range enc.Mappings {
		if m.Segment == SegmentText {
			return i
		}
	}
	return -1
}

// GroupLocations returns the prompt locations of the given schema group.
func (enc *SchemaEncoding) GroupLocations(group int) []PromptLocation {
	var out []PromptLocation
	for _, loc := range enc.PromptLocations {
		if loc.Group == group {
			out = append(out, loc)
		}
	}
	return out
}
