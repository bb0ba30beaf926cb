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

// BuildScores combines span embeddings with the first structure instance's
// label projections into a [words][widths][labels] raw score tensor.
// Entries masked out by spanMask stay zero, as do entries whose hidden
// sizes disagree.
func BuildScores(result *SpanResult) [][][]float32 {
	numWords := len(result.SpanEmb)
	numLabels := len(result.Labels)

	scores := make([][][]float32, numWords)
	var labelEmb [][]float32
	if result.PredictedCount > 0 && len(result.StructureEmb) > 0 {
		// Only the first instance's rows score the entity path; higher
		// counts are reserved for other task kinds.
		labelEmb = result.StructureEmb[0]
	}

	for w := 0; w < numWords; w++ {
		widths := len(result.SpanEmb[w])
		scores[w] = make([][]float32, widths)
		for wi := 0; wi < widths; wi++ {
			scores[w][wi] = make([]float32, numLabels)
			if labelEmb == nil {
				continue
			}
			maskIdx := w*widths + wi
			if maskIdx >= len(result.SpanMask) || result.SpanMask[maskIdx] < 0.5 {
				continue
			}
			span := result.SpanEmb[w][wi]
			for l := 0; l < numLabels && l < len(labelEmb); l++ {
				if len(labelEmb[l]) != len(span) {
					continue
				}
				scores[w][wi][l] = dot(span, labelEmb[l])
			}
		}
	}
	return scores
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
