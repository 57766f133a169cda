package main

import (
	"github.com/spf13/cobra"

	"github.com/LerianStudio/claims-telemetry/internal/bootstrap"
)

var version = "dev"

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "claims-demo",
		Short:         "Claims processing demo with end-to-end tracing and enriched logs",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("http-address", "", "listen address, overrides HTTP_ADDRESS")

	root.AddCommand(
		newClaimCommand(),
		newFinanceCommand(),
		newPolicyCommand(),
		newWorkerCommand(),
	)

	return root
}

// newRuntime loads the configuration of one service and builds its runtime.
func newRuntime(cmd *cobra.Command, defaults bootstrap.Defaults) (*bootstrap.Runtime, error) {
	cfg, err := bootstrap.Load(defaults)
	if err != nil {
		return nil, err
	}

	if addr, _ := cmd.Flags().GetString("http-address"); addr != "" {
		cfg.HTTPAddress = addr
	}

	return bootstrap.NewRuntime(cfg)
}

// abort releases what rt acquired so far and returns err.
func abort(rt *bootstrap.Runtime, err error) error {
	rt.Shutdown()
	return err
}
