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

package metadata

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antflydb/gliner2/pkg/gliner2/lib/errdefs"
)

const testMetadata = `{
  "model": "fastino/gliner2-base-v1",
  "hidden_size": 768,
  "max_width": 8,
  "class_token_index": 128002,
  "ent_token": "[E]",
  "sep_token": "[SEP_STRUCT]",
  "special_tokens": {
    "prompt_token": "[P]",
    "prompt_token_index": 128001,
    "ent_token_index": 128002,
    "sep_token_index": 128003,
    "text_token": "[SEP_TEXT]",
    "text_token_index": 128004,
    "cls_token_index": 1,
    "base_sep_token_index": 2,
    "unk_token_index": 3,
    "pad_token_index": 0,
    "mask_token_index": 128000
  }
}`

func writeMetadata(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "metadata.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadSpanHead(t *testing.T) {
	sh, err := Load(writeMetadata(t, testMetadata))
	require.NoError(t, err)

	assert.Equal(t, 768, sh.HiddenSize)
	assert.Equal(t, 8, sh.MaxWidth)
	assert.Equal(t, 128002, sh.ClassTokenIndex)
	assert.Equal(t, "[E]", sh.EntToken)

	markers := sh.MarkerTokens()
	assert.Equal(t, 128001, markers["[P]"])
	assert.Equal(t, 128002, markers["[E]"])
	assert.Equal(t, 128003, markers["[SEP_STRUCT]"])
	assert.Equal(t, 128004, markers["[SEP_TEXT]"])
}

func TestLoadSpanHeadDefaultsMarkers(t *testing.T) {
	sh, err := Load(writeMetadata(t, `{"hidden_size": 4, "max_width": 2}`))
	require.NoError(t, err)
	assert.Equal(t, "[E]", sh.EntToken)
	assert.Equal(t, "[SEP_STRUCT]", sh.SepToken)
	assert.Equal(t, "[P]", sh.SpecialTokens.PromptToken)
	assert.Equal(t, "[SEP_TEXT]", sh.SpecialTokens.TextToken)
}

func TestLoadSpanHeadRejectsBadShapes(t *testing.T) {
	_, err := Load(writeMetadata(t, `{"hidden_size": 0, "max_width": 8}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, errdefs.ErrResource)
}

func TestLoadSpanHeadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errdefs.ErrResource)
}

func TestLoadCachedSameInstance(t *testing.T) {
	path := writeMetadata(t, testMetadata)

	a, err := LoadCached(path)
	require.NoError(t, err)
	b, err := LoadCached(path)
	require.NoError(t, err)
	assert.Same(t, a, b)
}
