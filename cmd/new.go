package cmd

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/conneroisu/tagserve/internal/compiler"
	"github.com/conneroisu/tagserve/internal/config"
	"github.com/conneroisu/tagserve/internal/scanner"
)

var newCmd = &cobra.Command{
	Use:     "new <tag-name>",
	Aliases: []string{"n"},
	Short:   "Scaffold a tag source file",
	Long: `Create <pattern base>/<tag-name>.tag with a heading and a paragraph
bound to the "message" state key, in the configured dialect.

Tag names follow custom element rules: lowercase, starting with a letter,
with at least one hyphen.

Examples:
  tagserve new todo-list
  tagserve new user-card --force`,
	Args: cobra.ExactArgs(1),
	RunE: runNew,
}

var newForce bool

var tagName = regexp.MustCompile(`^[a-z][a-z0-9]*(-[a-z0-9]+)+$`)

func init() {
	rootCmd.AddCommand(newCmd)

	newCmd.Flags().BoolVar(&newForce, "force", false, "Overwrite an existing file")
}

func runNew(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	name := args[0]
	if !tagName.MatchString(name) {
		return fmt.Errorf("invalid tag name %q: use lowercase words joined by hyphens, e.g. todo-list", name)
	}

	pattern, err := scanner.ParsePattern(cfg.Tags.Pattern)
	if err != nil {
		return err
	}
	path := filepath.Join(pattern.Base, name+".tag")
	if !pattern.Match(path) {
		return fmt.Errorf("%s would not match tags.pattern %q", path, cfg.Tags.Pattern)
	}

	exists, err := afero.Exists(appFs, path)
	if err != nil {
		return err
	}
	if exists && !newForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	if err := appFs.MkdirAll(pattern.Base, 0o755); err != nil {
		return err
	}
	src := scaffold(name, compiler.Dialect(cfg.Tags.Dialect))
	if err := afero.WriteFile(appFs, path, []byte(src), 0o644); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", path)
	return nil
}

func scaffold(name string, dialect compiler.Dialect) string {
	title := cases.Title(language.English).String(strings.ReplaceAll(name, "-", " "))
	expr := "{{ .message }}"
	if dialect == compiler.DialectRiot {
		expr = "{ .message }"
	}
	return fmt.Sprintf("<%s>\n  <h1>%s</h1>\n  <p>%s</p>\n</%s>\n", name, title, expr, name)
}
