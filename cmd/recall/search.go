package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/oceanbase/recall-go/pkg/assembler"
	"github.com/oceanbase/recall-go/pkg/core"
	"github.com/oceanbase/recall-go/pkg/model"
	"github.com/oceanbase/recall-go/pkg/search"
)

func newSearchCmd() *cobra.Command {
	var (
		limit      int
		rewrite    bool
		strategies []string
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run a hybrid search over the memories of the --tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := singleTenant()
			if err != nil {
				return err
			}
			opts, err := searchOptions(limit, rewrite, strategies)
			if err != nil {
				return err
			}

			client, err := openClient()
			if err != nil {
				return err
			}
			defer client.Close()

			resp, err := client.Search(context.Background(), tenantID, args[0], opts...)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(resp)
			}
			printSearch(resp)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")
	cmd.Flags().BoolVar(&rewrite, "rewrite", false, "Rewrite the query with the tenant's profile memories")
	cmd.Flags().StringSliceVar(&strategies, "strategy", nil, "Restrict to these strategies (vector, graph, sparse, fulltext)")

	return cmd
}

func newContextCmd() *cobra.Command {
	var (
		budget     int
		preference string
		complexity float64
		strategies []string
	)

	cmd := &cobra.Command{
		Use:   "context <query>",
		Short: "Assemble a token-budgeted context for the --tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := singleTenant()
			if err != nil {
				return err
			}

			var opts []core.ContextOption
			if budget > 0 {
				opts = append(opts, core.WithBudget(budget))
			}
			if preference != "" {
				p := assembler.Preference(preference)
				if !p.Valid() {
					return model.NewValidationError("preference", "unknown preference %q", preference)
				}
				opts = append(opts, core.WithPreference(p))
			}
			if cmd.Flags().Changed("complexity") {
				opts = append(opts, core.WithComplexity(complexity))
			}
			searchOpts, err := searchOptions(0, false, strategies)
			if err != nil {
				return err
			}
			if len(searchOpts) > 0 {
				opts = append(opts, core.WithSearchOptions(searchOpts...))
			}

			client, err := openClient()
			if err != nil {
				return err
			}
			defer client.Close()

			res, err := client.BuildContext(context.Background(), tenantID, args[0], opts...)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(map[string]interface{}{
					"prompt": res.Prompt,
					"items":  res.Context.Items(),
					"stats":  res.Stats,
				})
			}

			if res.Prompt == "" {
				fmt.Println("(empty context)")
			} else {
				fmt.Print(res.Prompt)
			}
			s := res.Stats
			fmt.Printf("\nselected %d/%d, %d tokens, β %.2f, relevance retained %.2f, compression %.2f\n",
				s.SelectedCount, s.TotalCandidates, s.TokensUsed, s.Beta, s.EstimatedRelevanceRetained, s.CompressionRatio)
			if s.Reason != nil {
				fmt.Printf("reason: %v\n", s.Reason)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&budget, "budget", 0, "Token budget; the configured default when unset")
	cmd.Flags().StringVar(&preference, "preference", "", "quality, balanced or efficiency")
	cmd.Flags().Float64Var(&complexity, "complexity", assembler.NeutralComplexity, "Task complexity in [0, 1]")
	cmd.Flags().StringSliceVar(&strategies, "strategy", nil, "Restrict to these strategies (vector, graph, sparse, fulltext)")

	return cmd
}

func searchOptions(limit int, rewrite bool, strategies []string) ([]core.SearchOption, error) {
	var opts []core.SearchOption
	if limit > 0 {
		opts = append(opts, core.WithLimit(limit))
	}
	if rewrite {
		opts = append(opts, core.WithQueryRewrite())
	}
	if len(strategies) > 0 {
		names := make([]model.StrategyName, 0, len(strategies))
		for _, s := range strategies {
			name := model.StrategyName(strings.ToLower(strings.TrimSpace(s)))
			if !knownStrategy(name) {
				return nil, model.NewValidationError("strategy", "unknown strategy %q", s)
			}
			names = append(names, name)
		}
		opts = append(opts, core.WithStrategies(names...))
	}
	return opts, nil
}

func knownStrategy(name model.StrategyName) bool {
	for _, n := range model.StrategyNames {
		if n == name {
			return true
		}
	}
	return false
}

func printSearch(resp *search.Response) {
	if resp.Rewrite != nil && resp.Rewrite.Rewritten {
		fmt.Printf("rewritten: %q\n", resp.Rewrite.Query)
	}
	fmt.Printf("status %s, %d results in %s\n", resp.Status, len(resp.Results), resp.Took)
	for _, f := range resp.Failed {
		fmt.Printf("  %s failed: %s\n", f.Strategy, f.Reason)
	}
	for i, r := range resp.Results {
		content := r.ItemID
		if r.Item != nil {
			content = r.Item.Content
		}
		fmt.Printf("%2d. [%.3f] %s %v\n", i+1, r.FusedScore, content, r.ContributingStrategies)
	}
}
