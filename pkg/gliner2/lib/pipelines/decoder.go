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

package pipelines

import (
	"math"
	"sort"

	"github.com/antflydb/gliner2/pkg/gliner2/lib/tokenizers"
)

// spanCandidate is a thresholded span before overlap suppression. Word
// intervals are inclusive on both ends.
type spanCandidate struct {
	startWord int
	endWord   int
	labelIdx  int
	prob      float32
}

// DecodeSpans converts the raw score tensor into entities: sigmoid +
// threshold, greedy overlap suppression across labels, then character
// offset resolution against the original text. Empty inputs yield an empty
// list without error.
func DecodeSpans(
	scores [][][]float32,
	labels []string,
	threshold float32,
	text string,
	wordRanges []tokenizers.CharRange,
) []Entity {
	if len(scores) == 0 || len(wordRanges) == 0 || len(labels) == 0 {
		return nil
	}
	numWords := len(wordRanges)

	var candidates []spanCandidate
	for w := range scores {
		for wi := range scores[w] {
			end := w + wi
			if end >= numWords {
				continue
			}
			for l, raw := range scores[w][wi] {
				prob := sigmoid(raw)
				if prob < threshold {
					continue
				}
				candidates = append(candidates, spanCandidate{
					startWord: w,
					endWord:   end,
					labelIdx:  l,
					prob:      prob,
				})
			}
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].prob != candidates[j].prob {
			return candidates[i].prob > candidates[j].prob
		}
		if candidates[i].startWord != candidates[j].startWord {
			return candidates[i].startWord < candidates[j].startWord
		}
		if candidates[i].endWord != candidates[j].endWord {
			return candidates[i].endWord < candidates[j].endWord
		}
		return candidates[i].labelIdx < candidates[j].labelIdx
	})

	// Greedy suppression: highest probability first, rejecting any span
	// whose word interval intersects an accepted one, regardless of label.
	var accepted []spanCandidate
	for _, cand := range candidates {
		overlaps := false
		for _, a := range accepted {
			if cand.startWord <= a.endWord && a.startWord <= cand.endWord {
				overlaps = true
				break
			}
		}
		if !overlaps {
			accepted = append(accepted, cand)
		}
	}

	sort.SliceStable(accepted, func(i, j int) bool {
		if accepted[i].startWord != accepted[j].startWord {
			return accepted[i].startWord < accepted[j].startWord
		}
		return accepted[i].prob > accepted[j].prob
	})

	entities := make([]Entity, 0, len(accepted))
	for _, cand := range accepted {
		charStart := wordRanges[cand.startWord].Start
		charEnd := wordRanges[cand.endWord].End
		if charStart < 0 || charEnd > len(text) || charStart >= charEnd {
			continue
		}
		entities = append(entities, Entity{
			Text:  text[charStart:charEnd],
			Label: labels[cand.labelIdx],
			Score: cand.prob,
			Start: charStart,
			End:   charEnd,
		})
	}
	return entities
}

func sigmoid(x float32) float32 {
	return float32(1.0 / (1.0 + math.Exp(float64(-x))))
}
