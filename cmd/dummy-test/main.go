package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jsitnicki/rushit"
)

func main() {
	opts := rushit.DefaultOptions()

	cmd := &cobra.Command{
		Use:   "dummy_test",
		Short: "Workload skeleton with no data plane",
		Long: `dummy_test exercises the common worker, script, and control paths
without opening data sockets. A short canned readiness sequence is fed to
each worker so every hook fires at least once. Use it as a template when
bringing up a new workload variant.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rushit.Run(opts, rushit.WorkloadDummy)
		},
	}
	opts.AddFlags(cmd.Flags())

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
