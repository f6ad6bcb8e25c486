package main

import (
	"os"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/elevated-systems/carbon-footprint-node/pkg/carbonfootprint/common"
	"github.com/elevated-systems/carbon-footprint-node/pkg/carbonfootprint/telemetry"
	"github.com/elevated-systems/carbon-footprint-node/pkg/carbonfootprint/worker"
)

// The worker command is spawned by the node itself. It reads one request on
// stdin and writes one result on stdout; all logging goes to stderr.
func newWorkerCommand() *cobra.Command {
	return &cobra.Command{
		Use:    common.WorkerCommand,
		Short:  "Run one isolated measurement (internal)",
		Hidden: true,
		Args:   cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			code := worker.Serve(cmd.Context(), os.Stdin, os.Stdout, telemetry.NewAdapter().Measure)
			klog.Flush()
			os.Exit(code)
		},
	}
}
