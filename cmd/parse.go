package cmd

import (
	"errors"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/stepdriver/api/schemas"
	"github.com/xkilldash9x/stepdriver/internal/observability"
	"github.com/xkilldash9x/stepdriver/internal/parser"
)

func newParseCmd(a *app) *cobra.Command {
	var (
		vars    []string
		suggest bool
	)
	parseCmd := &cobra.Command{
		Use:   "parse <step>",
		Short: "Show how a step is understood, without touching a browser",
		Example: `  stepdriver parse "When I click the Submit button"
  stepdriver parse --var user=alice "When I type '${user}' into the username field"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			hints := schemas.ParseHints{Variables: make(map[string]string, len(vars))}
			for _, kv := range vars {
				k, v, ok := strings.Cut(kv, "=")
				if !ok || strings.TrimSpace(k) == "" {
					return fmt.Errorf("invalid --var %q, want name=value", kv)
				}
				hints.Variables[strings.TrimSpace(k)] = v
			}

			var opts []parser.Option
			s, client, err := newSuggester(ctx, a.cfg, logger)
			if err != nil {
				return err
			}
			if s != nil {
				defer client.Close()
				opts = append(opts, parser.WithSuggester(s))
			}

			p := parser.New(a.cfg.Parser(), logger, opts...)
			intent, err := p.Parse(ctx, strings.Join(args, " "), hints)
			if err != nil {
				var amb *schemas.AmbiguityError
				if errors.As(err, &amb) {
					return writeJSON(cmd, map[string]any{"error": schemas.CodeOf(err), "alternatives": amb.Alternatives})
				}
				return err
			}
			return writeJSON(cmd, intent)
		},
	}
	parseCmd.Flags().StringArrayVar(&vars, "var", nil, "session variable available as ${name}, as name=value (repeatable)")
	parseCmd.Flags().BoolVar(&suggest, "suggest", false, "ask the language model when the patterns cannot parse the step")
	return parseCmd
}

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
