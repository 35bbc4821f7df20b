package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/oceanbase/recall-go/pkg/scheduler"
)

func newJobCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "job <" + strings.Join(scheduler.Jobs, "|") + ">",
		Short:     "Run one maintenance job now for every --tenant",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: scheduler.Jobs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := openClient()
			if err != nil {
				return err
			}
			defer client.Close()

			sum, err := client.RunJob(context.Background(), args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				errs := make([]string, 0, len(sum.Errors))
				for _, e := range sum.Errors {
					errs = append(errs, e.Error())
				}
				return printJSON(map[string]interface{}{
					"job":     sum.Job,
					"tenants": sum.Tenants,
					"busy":    sum.Busy,
					"errors":  errs,
				})
			}

			fmt.Printf("%s: %d tenants, %d busy, %d failed\n", sum.Job, sum.Tenants, sum.Busy, len(sum.Errors))
			for _, e := range sum.Errors {
				fmt.Printf("  %v\n", e)
			}
			if len(sum.Errors) > 0 {
				return fmt.Errorf("%s failed for %d tenants", sum.Job, len(sum.Errors))
			}
			return nil
		},
	}

	return cmd
}
