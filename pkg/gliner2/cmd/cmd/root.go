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
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/antflydb/gliner2/pkg/gliner2/lib/paths"
)

var (
	// Version is injected at build time.
	Version string

	manifestPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "gliner2",
	Short: "Zero-shot named-entity recognition with GLiNER2 model exports",
	Long: `Run zero-shot NER over exported GLiNER2 model bundles.

Examples:
  # Extract entities with custom labels
  gliner2 extract --manifest ./model/export_manifest.json \
    --labels person,company,location "Jane Doe joined ACME Corp."

  # Inspect how text tokenizes
  gliner2 tokenize --manifest ./model/export_manifest.json "Jane Doe"`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	rootCmd.Version = Version
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().
		StringVar(&manifestPath, "manifest", "", "path to the export manifest JSON")
	rootCmd.PersistentFlags().
		String("log-level", "info", "set the logging level (e.g. debug, info, warn, error)")

	mustBindPFlag("manifest", rootCmd.PersistentFlags().Lookup("manifest"))
	mustBindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))

	viper.SetDefault("models_dir", paths.DefaultModelsDir())
	viper.SetEnvPrefix("GLINER2")
	viper.AutomaticEnv()
}

func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		fmt.Fprintf(os.Stderr, "binding flag %s: %v\n", key, err)
		os.Exit(1)
	}
}

// newLogger builds a console logger honouring the configured level.
func newLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(viper.GetString("log.level"))
	if err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	return cfg.Build()
}
