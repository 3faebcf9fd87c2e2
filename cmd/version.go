package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conneroisu/tagserve/internal/version"
)

var (
	versionFormat string
	versionShort  bool
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long: `Display the version, git commit, build time, Go version and platform.

Examples:
  tagserve version
  tagserve version --short
  tagserve version --format json`,
	RunE: runVersionCommand,
}

func init() {
	rootCmd.AddCommand(versionCmd)

	versionCmd.Flags().StringVarP(&versionFormat, "format", "f", "text", "Output format (text, json)")
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "Show short version only")
}

func runVersionCommand(cmd *cobra.Command, args []string) error {
	info := version.Get()
	out := cmd.OutOrStdout()

	switch versionFormat {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]interface{}{
			"version":    info.Version,
			"git_commit": info.GitCommit,
			"build_time": info.BuildTime,
			"go_version": info.GoVersion,
			"platform":   info.Platform,
			"modified":   info.Modified,
			"is_release": info.IsRelease(),
		})
	case "text":
		if versionShort {
			fmt.Fprintln(out, info.Short())
			return nil
		}
		fmt.Fprintln(out, info.String())
		return nil
	default:
		return fmt.Errorf("unsupported format: %s (supported: text, json)", versionFormat)
	}
}
