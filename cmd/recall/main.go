// Package main is the entry point for the recall CLI: it runs the
// maintenance worker and gives shell access to search, context assembly and
// the maintenance jobs.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oceanbase/recall-go/pkg/core"
)

// Global flags.
var (
	configPath string
	tenants    []string
	jsonOutput bool
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "recall",
		Short: "Layered agent memory: search, context assembly and maintenance",
		Long: `recall stores agent memories in sensory, working, long-term and
reflective layers, retrieves them with hybrid search, packs them into
token-budgeted contexts and keeps them healthy with scheduled
consolidation, decay, reflection and graph upkeep.

Configuration comes from --config (.json, .yaml, .env) or, when unset,
from the environment and the nearest .env file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to a .json, .yaml or .env config file")
	root.PersistentFlags().StringSliceVar(&tenants, "tenant", nil, "Tenant to operate on (repeatable)")
	root.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")

	root.AddCommand(newWorkerCmd())
	root.AddCommand(newJobCmd())
	root.AddCommand(newAddCmd())
	root.AddCommand(newSearchCmd())
	root.AddCommand(newContextCmd())
	root.AddCommand(newConfigCmd())

	return root
}

// loadConfig loads the configuration and adds the --tenant flags to its
// tenant list.
func loadConfig() (*core.Config, error) {
	cfg, err := core.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	cfg.Tenants = append(cfg.Tenants, tenants...)
	return cfg, nil
}

func openClient() (*core.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return core.NewClient(cfg)
}

// singleTenant returns the one tenant a command operates on.
func singleTenant() (string, error) {
	if len(tenants) != 1 {
		return "", fmt.Errorf("exactly one --tenant is required")
	}
	return tenants[0], nil
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
