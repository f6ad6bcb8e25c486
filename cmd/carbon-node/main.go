package main

import (
	"flag"
	"os"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/elevated-systems/carbon-footprint-node/pkg/carbonfootprint/config"
)

var configPath string

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "carbon-node",
		Short: "Estimate the carbon footprint of ML tasks on the hardware they run on",
		Long: `carbon-node measures the energy a task would draw on a given piece of
hardware, converts it to CO2 with the local grid intensity and reports
the carbon footprint. Every measurement runs in an isolated worker
process so that a misbehaving telemetry backend cannot take the node down.`,
		SilenceUsage: true,
	}

	goflags := flag.NewFlagSet("klog", flag.ExitOnError)
	klog.InitFlags(goflags)
	root.PersistentFlags().AddGoFlagSet(goflags)
	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CARBON_NODE_CONFIG"), "Path to the YAML configuration file")

	root.AddCommand(newServeCommand())
	root.AddCommand(newMeasureCommand())
	root.AddCommand(newWorkerCommand())
	return root
}

func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

func main() {
	defer klog.Flush()
	if err := newRootCommand().Execute(); err != nil {
		klog.Flush()
		os.Exit(1)
	}
}
