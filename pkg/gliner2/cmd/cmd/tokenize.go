// Copyright 2026 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/antflydb/gliner2/pkg/gliner2/lib/manifest"
	"github.com/antflydb/gliner2/pkg/gliner2/lib/tokenizers"
)

var tokenizeCmd = &cobra.Command{
	Use:   "tokenize [text]",
	Short: "Show how text tokenizes into subword pieces",
	Args:  cobra.ExactArgs(1),
	RunE:  runTokenize,
}

func init() {
	rootCmd.AddCommand(tokenizeCmd)
}

func runTokenize(cmd *cobra.Command, args []string) error {
	m, err := manifest.Load(viper.GetString("manifest"))
	if err != nil {
		return err
	}

	tok, err := tokenizers.LoadCached(m.TokenizerDir, tokenizers.WithMaxLength(m.MaxSeqLen))
	if err != nil {
		return err
	}

	// The go-huggingface view keeps the output identical to other tooling
	// built on that interface.
	hft := tok.AsHFTokenizer()
	ids := hft.Encode(args[0])

	for i, piece := range tok.Tokenize(args[0]) {
		fmt.Printf("%4d  %6d  %s\n", i, ids[i], piece.Surface)
	}
	fmt.Printf("round-trip: %s\n", hft.Decode(ids))
	return nil
}
