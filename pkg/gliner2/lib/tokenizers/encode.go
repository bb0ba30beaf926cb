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
	"unicode"

	"github.com/antflydb/gliner2/pkg/gliner2/lib/errdefs"
)

// CharRange is a half-open [Start, End) byte range in the original input.
type CharRange struct {
	Start int
	End   int
}

// Encoding is the output of plain text encoding.
type Encoding struct {
	InputIDs      []int32
	AttentionMask []int32
	Tokens        []Token
}

// PromptedEncoding extends Encoding with the word and marker bookkeeping
// produced by the prompt formatter.
type PromptedEncoding struct {
	Encoding

	// WordMask holds, per subword, the 1-based index of the text word whose
	// first piece it is, and 0 everywhere else.
	WordMask []int32

	// WordRanges are the character ranges of the text words.
	WordRanges []CharRange

	// EntMarkers are the subword indices of the [E] markers, in label order.
	EntMarkers []int
}

// Encode tokenizes text, surrounds it with [CLS] and [SEP], truncates to
// the maximum length, and optionally pads with [PAD] (attention mask 0).
func (t *Tokenizer) Encode(text string, padToMax bool) (*Encoding, error) {
	if t.maxLength < 2 {
		return nil, errdefs.Tokenizerf("max length %d leaves no room for special tokens", t.maxLength)
	}

	clsID, sepID, padID, err := t.baseSpecials()
	if err != nil {
		return nil, err
	}

	pieces := t.Tokenize(text)
	if len(pieces) > t.maxLength-2 {
		pieces = pieces[:t.maxLength-2]
	}

	enc := &Encoding{
		InputIDs:      make([]int32, 0, len(pieces)+2),
		AttentionMask: make([]int32, 0, len(pieces)+2),
		Tokens:        make([]Token, 0, len(pieces)+2),
	}
	enc.push(Token{ID: clsID, Surface: "[CLS]"}, 1)
	for _, p := range pieces {
		enc.push(p, 1)
	}
	enc.push(Token{ID: sepID, Surface: "[SEP]"}, 1)

	if padToMax {
		for len(enc.InputIDs) < t.maxLength {
			enc.push(Token{ID: padID, Surface: "[PAD]"}, 0)
		}
	}

	return enc, nil
}

// EncodePrompted builds the schema-free prompt `[E] label₁ [E] label₂ … [SEP]`
// followed by the text words, recording word boundaries and marker positions.
func (t *Tokenizer) EncodePrompted(text string, labels []string, padToMax bool) (*PromptedEncoding, error) {
	if t.maxLength < 2 {
		return nil, errdefs.Tokenizerf("max length %d leaves no room for special tokens", t.maxLength)
	}

	clsID, sepID, padID, err := t.baseSpecials()
	if err != nil {
		return nil, err
	}
	entID, ok := t.SpecialID("[E]")
	if !ok {
		return nil, errdefs.Tokenizerf("special token [E] is not registered")
	}

	words, ranges := SplitWords(text)

	enc := &PromptedEncoding{WordRanges: ranges}
	enc.push(Token{ID: clsID, Surface: "[CLS]"}, 1)
	enc.WordMask = append(enc.WordMask, 0)

	for _, label := range labels {
		enc.EntMarkers = append(enc.EntMarkers, len(enc.InputIDs))
		enc.push(Token{ID: entID, Surface: "[E]"}, 1)
		enc.WordMask = append(enc.WordMask, 0)
		for _, p := range t.Tokenize(label) {
			enc.push(p, 1)
			enc.WordMask = append(enc.WordMask, 0)
		}
	}
	enc.push(Token{ID: sepID, Surface: "[SEP]"}, 1)
	enc.WordMask = append(enc.WordMask, 0)

	for w, word := range words {
		for j, p := range t.Tokenize(word) {
			enc.push(p, 1)
			if j == 0 {
				enc.WordMask = append(enc.WordMask, int32(w+1))
			} else {
				enc.WordMask = append(enc.WordMask, 0)
			}
		}
	}
	enc.push(Token{ID: sepID, Surface: "[SEP]"}, 1)
	enc.WordMask = append(enc.WordMask, 0)

	if len(enc.InputIDs) > t.maxLength {
		return nil, errdefs.Tokenizerf("prompted sequence length %d exceeds max length %d", len(enc.InputIDs), t.maxLength)
	}

	if padToMax {
		for len(enc.InputIDs) < t.maxLength {
			enc.push(Token{ID: padID, Surface: "[PAD]"}, 0)
			enc.WordMask = append(enc.WordMask, 0)
		}
	}

	return enc, nil
}

func (e *Encoding) push(tok Token, mask int32) {
	e.InputIDs = append(e.InputIDs, int32(tok.ID))
	e.AttentionMask = append(e.AttentionMask, mask)
	e.Tokens = append(e.Tokens, tok)
}

func (t *Tokenizer) baseSpecials() (cls, sep, pad int, err error) {
	var ok bool
	if cls, ok = t.SpecialID("[CLS]"); !ok {
		return 0, 0, 0, errdefs.Tokenizerf("special token [CLS] is not registered")
	}
	if sep, ok = t.SpecialID("[SEP]"); !ok {
		return 0, 0, 0, errdefs.Tokenizerf("special token [SEP] is not registered")
	}
	if pad, ok = t.SpecialID("[PAD]"); !ok {
		return 0, 0, 0, errdefs.Tokenizerf("special token [PAD] is not registered")
	}
	return cls, sep, pad, nil
}

// SplitWords splits text into words: contiguous runs of letters and digits
// (with internal '-' or '_' joiners), or single non-whitespace characters.
// Ranges are byte offsets into text.
func SplitWords(text string) ([]string, []CharRange) {
	var words []string
	var ranges []CharRange

	runes := []rune(text)
	offsets := make([]int, len(runes)+1)
	pos := 0
	for i, r := range runes {
		offsets[i] = pos
		pos += len(string(r))
	}
	offsets[len(runes)] = pos

	isWordRune := func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsDigit(r)
	}

	for i := 0; i < len(runes); {
		r := runes[i]
		if unicode.IsSpace(r) {
			i++
			continue
		}
		if !isWordRune(r) {
			words = append(words, string(r))
			ranges = append(ranges, CharRange{Start: offsets[i], End: offsets[i+1]})
			i++
			continue
		}
		start := i
		i++
		for i < len(runes) {
			if isWordRune(runes[i]) {
				i++
				continue
			}
			if (runes[i] == '-' || runes[i] == '_') && i+1 < len(runes) && isWordRune(runes[i+1]) {
				i += 2
				continue
			}
			break
		}
		words = append(words, string(runes[start:i]))
		ranges = append(ranges, CharRange{Start: offsets[start], End: offsets[i]})
	}

	return words, ranges
}

// WordCount returns the number of words SplitWords would produce.
func WordCount(text string) int {
	words, _ := SplitWords(text)
	return len(words)
}
