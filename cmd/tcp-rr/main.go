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
		Use:   "tcp_rr",
		Short: "Request/response TCP benchmark driven by workload scripts",
		Long: `tcp_rr measures request/response performance over TCP. Clients open
num_flows connections spread across num_threads event-loop threads, write
request_size bytes and wait for response_size bytes back; servers mirror.
A workload script can hook every per-socket event (socket, close,
sendmsg, recvmsg, recverr) on each worker thread.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rushit.Run(opts, rushit.WorkloadTCPRR)
		},
	}
	opts.AddFlags(cmd.Flags())

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
