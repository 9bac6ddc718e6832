package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/book-metadata-client/pkg/isbn"
)

var normalizeCmd = &cobra.Command{
	Use:   "normalize",
	Short: "Print the canonical ISBN for each input line",
	Long: `normalize reads the same input as fetch and prints one tab-separated line
per input record: the raw value and its canonical key. The key column is empty
when the value is not a valid ISBN. No requests are made.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		input, _ := cmd.Flags().GetString("input")
		column, _ := cmd.Flags().GetInt("column")
		to13, _ := cmd.Flags().GetBool("isbn13")

		in, err := openInput(input)
		if err != nil {
			return err
		}
		defer in.Close()

		raws, err := readKeys(in, column)
		if err != nil {
			return err
		}
		return writeNormalized(cmd.OutOrStdout(), raws, to13)
	},
}

func writeNormalized(w io.Writer, raws []any, to13 bool) error {
	for _, raw := range raws {
		key, ok := isbn.Normalize(raw)
		if ok && to13 {
			if k13, converted := isbn.ToISBN13(key); converted {
				key = k13
			}
		}
		if !ok {
			key = ""
		}
		if _, err := fmt.Fprintf(w, "%v\t%s\n", raw, key); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	normalizeCmd.Flags().String("input", "", "input file, CSV or one ISBN per line (default: stdin)")
	normalizeCmd.Flags().Int("column", 0, "0-based CSV column holding the ISBN")
	normalizeCmd.Flags().Bool("isbn13", false, "convert ISBN-10 keys to ISBN-13")

	rootCmd.AddCommand(normalizeCmd)
}
