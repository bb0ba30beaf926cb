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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/antflydb/gliner2/pkg/gliner2"
)

var (
	extractLabels    string
	extractThreshold float64
)

var extractCmd = &cobra.Command{
	Use:   "extract [text]",
	Short: "Extract entities from text",
	Long: `Extract character-offset entity spans from text using the labels
given with --labels. Reads text from stdin when no argument is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)

	extractCmd.Flags().
		StringVar(&extractLabels, "labels", "", "comma-separated entity labels (e.g. person,company)")
	extractCmd.Flags().
		Float64Var(&extractThreshold, "threshold", 0, "sigmoid cutoff override (0 = model default)")
}

func runExtract(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	text, err := readInputText(args)
	if err != nil {
		return err
	}

	cfg := gliner2.DefaultConfig()
	cfg.Logger = logger

	recognizer, err := gliner2.New(viper.GetString("manifest"), cfg)
	if err != nil {
		return fmt.Errorf("loading model: %w", err)
	}
	defer func() {
		_ = recognizer.Close()
	}()

	labels := splitLabels(extractLabels)
	if len(labels) == 0 {
		labels = cfg.DefaultLabels
	}

	var opts []gliner2.ExtractOption
	if extractThreshold > 0 {
		opts = append(opts, gliner2.WithThreshold(float32(extractThreshold)))
	}

	entities, err := recognizer.ExtractEntities(ctx, text, labels, opts...)
	if err != nil {
		return fmt.Errorf("extracting entities: %w", err)
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(entities)
}

func readInputText(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return string(data), nil
}

func splitLabels(raw string) []string {
	var labels []string
	for _, label := range strings.Split(raw, ",") {
		if label = strings.TrimSpace(label); label != "" {
			labels = append(labels, label)
		}
	}
	return labels
}
