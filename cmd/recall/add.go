package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oceanbase/recall-go/pkg/core"
	"github.com/oceanbase/recall-go/pkg/model"
)

func newAddCmd() *cobra.Command {
	var (
		kind       string
		layer      string
		tags       []string
		importance float64
	)

	cmd := &cobra.Command{
		Use:   "add <content>",
		Short: "Store a memory for the --tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := singleTenant()
			if err != nil {
				return err
			}

			var opts []core.AddOption
			if layer != "" {
				l, err := model.ParseLayer(layer)
				if err != nil {
					return err
				}
				opts = append(opts, core.WithLayer(l))
			}
			if kind != "" {
				opts = append(opts, core.WithKind(model.Kind(kind)))
			}
			if len(tags) > 0 {
				opts = append(opts, core.WithTags(tags...))
			}
			if cmd.Flags().Changed("importance") {
				opts = append(opts, core.WithImportance(importance))
			}

			client, err := openClient()
			if err != nil {
				return err
			}
			defer client.Close()

			item, err := client.Add(context.Background(), tenantID, args[0], opts...)
			if err != nil {
				return err
			}
			client.WaitIdle()

			if jsonOutput {
				return printJSON(item)
			}
			fmt.Printf("%s [%s/%s] importance %.2f\n", item.ID, item.Layer, item.Kind, item.Importance)
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "Memory kind (episodic, semantic, profile, ...)")
	cmd.Flags().StringVar(&layer, "layer", "", "Memory layer (sensory, working, long_term, reflective)")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "Tag (repeatable)")
	cmd.Flags().Float64Var(&importance, "importance", 0, "Importance in [0, 1]; scored automatically when unset")

	return cmd
}
