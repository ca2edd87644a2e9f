package main

import (
	"github.com/spf13/cobra"

	"github.com/docpipe/docpipe/version"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "docpipe",
	Short: "Document translation pipeline service",
	Long: `Docpipe ingests documents submitted for translation (HTML, email,
plain text, XLIFF), breaks them into translatable segments, protects inline
markup and sensitive personal data behind reversible placeholders, and
reassembles the final document once translation is done.

The pipeline includes:
  - Format-specific parsing into a structure skeleton plus ordered segments
  - Reversible placeholder tokenization of inline markup
  - Sensitive-data masking with external anonymization
  - Byte-faithful document reconstruction`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.docpipe/config.yaml)",
	)

	rootCmd.AddCommand(versionCmd)
}
