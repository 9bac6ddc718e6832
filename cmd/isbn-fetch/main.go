// Command isbn-fetch looks up book metadata for a list of ISBNs, pacing
// requests so long runs stay under the API's rate limits.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/book-metadata-client/pkg/config"
)

// version is set at build time via ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "isbn-fetch",
	Short: "Fetch book metadata for ISBN lists",
	Long: `isbn-fetch reads ISBNs from a CSV or text file, normalizes them, and looks
each one up against the book metadata API. Requests are rate limited, retried
on transient failures, and paced with random delays and periodic cooldowns.

Configuration comes from defaults, an optional YAML file (--config) and
BOOKMETA_* environment variables.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file (YAML)")
}

// loadConfig reads the configuration named by the --config flag.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
