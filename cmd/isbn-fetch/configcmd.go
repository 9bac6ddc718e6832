package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/book-metadata-client/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	Long: `config prints the configuration isbn-fetch would run with after applying
defaults, the --config file and BOOKMETA_* environment variables. The output
is a valid config file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		data, err := config.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("render config: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
