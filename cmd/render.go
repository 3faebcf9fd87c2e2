package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conneroisu/tagserve/internal/pipeline"
	"github.com/conneroisu/tagserve/internal/store"
)

var renderCmd = &cobra.Command{
	Use:     "render <tag>",
	Aliases: []string{"r"},
	Short:   "Render one page to stdout",
	Long: `Compile every tag, dispatch the given actions against a fresh store and
print the resulting HTML document.

The initial state comes from --state, or from the route manifest's
initial_state when --state is not given. Actions are applied with the
set/delete/append reducer in the order given.

Examples:
  tagserve render todo-list
  tagserve render todo-list --state '{"title":"Todos"}'
  tagserve render todo-list --action '{"type":"append","payload":{"key":"items","value":"milk"}}'
  tagserve render todo-list --stylesheet /css/app.css --script /js/app.js`,
	Args: cobra.ExactArgs(1),
	RunE: runRender,
}

var (
	renderActions     []string
	renderState       string
	renderStylesheets []string
	renderScripts     []string
	renderStatus      int
)

func init() {
	rootCmd.AddCommand(renderCmd)

	renderCmd.Flags().StringArrayVarP(&renderActions, "action", "a", nil, "Action as JSON (repeatable, applied in order)")
	renderCmd.Flags().StringVarP(&renderState, "state", "s", "", "Initial state as a JSON object")
	renderCmd.Flags().StringSliceVar(&renderStylesheets, "stylesheet", nil, "Stylesheet path (overrides assets.stylesheets)")
	renderCmd.Flags().StringSliceVar(&renderScripts, "script", nil, "Script path (overrides assets.scripts)")
	renderCmd.Flags().IntVar(&renderStatus, "status", 0, "Response status recorded for the page")
}

func runRender(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)

	if _, err := a.scan(ctx); err != nil {
		return fmt.Errorf("loading tags: %w", err)
	}

	actions, err := parseActions(renderActions)
	if err != nil {
		return err
	}

	initial, err := parseState(renderState)
	if err != nil {
		return err
	}
	if initial == nil {
		m, err := a.manifest(ctx)
		if err != nil {
			return err
		}
		initial = m.InitialState
	}

	var opts []pipeline.Option
	if cmd.Flags().Changed("stylesheet") {
		opts = append(opts, pipeline.WithStylesheets(renderStylesheets...))
	}
	if cmd.Flags().Changed("script") {
		opts = append(opts, pipeline.WithScripts(renderScripts...))
	}
	if renderStatus != 0 {
		opts = append(opts, pipeline.WithStatus(pipeline.Literal(renderStatus)))
	}

	p := a.pipeline(store.MergeReducer(initial), a.cfg.Assets.HeaderMarkup)
	page, err := p.Render(ctx, pipeline.Request{
		Unit:    args[0],
		Actions: actions,
		Options: pipeline.NewOptions(opts...),
	})
	if err != nil {
		return err
	}

	_, err = cmd.OutOrStdout().Write(page.HTML)
	return err
}

func parseActions(raw []string) ([]store.Action, error) {
	actions := make([]store.Action, 0, len(raw))
	for i, r := range raw {
		var action store.Action
		if err := json.Unmarshal([]byte(r), &action); err != nil {
			return nil, fmt.Errorf("action %d: invalid JSON: %w", i, err)
		}
		if action.Type == "" {
			return nil, fmt.Errorf("action %d: type is required", i)
		}
		actions = append(actions, action)
	}
	return actions, nil
}

func parseState(raw string) (map[string]interface{}, error) {
	if raw == "" {
		return nil, nil
	}
	var state map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("state must be a JSON object: %w", err)
	}
	if state == nil {
		state = map[string]interface{}{}
	}
	return state, nil
}
