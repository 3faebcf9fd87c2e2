package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/tagserve/internal/server"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"l"},
	Short:   "List compiled tags",
	Long: `Compile every tag matching the configured pattern and list the results.
Tags that fail to compile are reported and make the command fail.

Examples:
  tagserve list
  tagserve list -f json
  tagserve list --format yaml`,
	RunE: runList,
}

var listFormat string

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringVarP(&listFormat, "format", "f", "table", "Output format (table, json, yaml)")
}

func runList(cmd *cobra.Command, args []string) error {
	switch strings.ToLower(listFormat) {
	case "table", "json", "yaml":
	default:
		return fmt.Errorf("unsupported format: %s (supported: table, json, yaml)", listFormat)
	}

	a, err := loadApp(cmd)
	if err != nil {
		return err
	}

	units, scanErr := a.scan(commandContext(cmd))
	tags := server.Describe(units)

	out := cmd.OutOrStdout()
	var outErr error
	switch strings.ToLower(listFormat) {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		outErr = enc.Encode(tags)
	case "yaml":
		enc := yaml.NewEncoder(out)
		outErr = enc.Encode(tags)
		if closeErr := enc.Close(); outErr == nil {
			outErr = closeErr
		}
	default:
		outErr = outputTable(out, tags)
	}
	if outErr != nil {
		return outErr
	}
	return scanErr
}

func outputTable(out io.Writer, tags []server.TagInfo) error {
	if len(tags) == 0 {
		_, err := fmt.Fprintln(out, "No tags found.")
		return err
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tPATH\tHASH\tCOMPILED")
	for _, t := range tags {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.Name, t.Path, t.SourceHash[:8], t.CompiledAt.Format(time.RFC3339))
	}
	return w.Flush()
}
