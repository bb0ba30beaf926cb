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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func spanResultFixture() *SpanResult {
	return &SpanResult{
		SpanEmb: [][][]float32{
			{{1, 0}, {0, 1}},
			{{2, 2}, {1, 1}},
		},
		SpanMask: []float32{1, 1, 1, 0},
		StructureEmb: [][][]float32{
			{{3, 0}, {0, 3}}, // instance 0: two labels
			{{9, 9}, {9, 9}}, // instance 1: unused by the entity path
		},
		PredictedCount: 2,
		Labels:         []string{"a", "b"},
	}
}

func TestBuildScoresDotProducts(t *testing.T) {
	scores := BuildScores(spanResultFixture())
	require.Len(t, scores, 2)

	assert.Equal(t, float32(3), scores[0][0][0])
	assert.Equal(t, float32(0), scores[0][0][1])
	assert.Equal(t, float32(0), scores[0][1][0])
	assert.Equal(t, float32(3), scores[0][1][1])
	assert.Equal(t, float32(6), scores[1][0][0])
	assert.Equal(t, float32(6), scores[1][0][1])
}

func TestBuildScoresMaskedEntriesStayZero(t *testing.T) {
	scores := BuildScores(spanResultFixture())
	assert.Equal(t, []float32{0, 0}, scores[1][1], "masked span stays zero")
}

func TestBuildScoresZeroCount(t *testing.T) {
	result := spanResultFixture()
	result.PredictedCount = 0
	result.StructureEmb = nil

	scores := BuildScores(result)
	for _, row := range scores {
		for _, widths := range row {
			for _, v := range widths {
				assert.Zero(t, v)
			}
		}
	}
}

func TestBuildScoresDimensionMismatchIsSilent(t *testing.T) {
	result := spanResultFixture()
	result.StructureEmb[0][1] = []float32{1} // wrong hidden size for label 1

	scores := BuildScores(result)
	assert.Equal(t, float32(3), scores[0][0][0])
	assert.Zero(t, scores[0][0][1])
}
