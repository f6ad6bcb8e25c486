package main

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/elevated-systems/carbon-footprint-node/pkg/carbonfootprint/node"
	"github.com/elevated-systems/carbon-footprint-node/pkg/carbonfootprint/publish"
)

func newMeasureCommand() *cobra.Command {
	var (
		model     string
		problem   string
		hardware  string
		latencyMs float64
		powerW    float64
		extra     string
	)

	cmd := &cobra.Command{
		Use:   "measure",
		Short: "Run a single measurement and print the carbon footprint record",
		Example: `  carbon-node measure --model gpt-x --hardware PIM_AI_1chip --latency 1200 --power 250 \
    --extra '{"num_outputs": 3, "model_restrains": []}'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if extra != "" && !json.Valid([]byte(extra)) {
				return fmt.Errorf("--extra must be valid JSON")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			n, err := node.New(cfg)
			if err != nil {
				return fmt.Errorf("failed to create node: %w", err)
			}
			defer n.Close()

			out := &publish.CarbonFootprintOutput{}
			n.Task(ctx,
				node.ModelInfo{Name: model},
				node.UserInputInfo{Problem: problem, Extra: json.RawMessage(extra)},
				node.HardwareInfo{Description: hardware, Latency: latencyMs, Power: powerW},
				n.Status(),
				out)

			data, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode record: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}

	cmd.Flags().StringVar(&model, "model", "", "Model identifier")
	cmd.Flags().StringVar(&problem, "problem", "", "Problem description")
	cmd.Flags().StringVar(&hardware, "hardware", "", "Hardware description")
	cmd.Flags().Float64Var(&latencyMs, "latency", 0, "Task latency on the hardware in milliseconds")
	cmd.Flags().Float64Var(&powerW, "power", 0, "Hardware power consumption in watts")
	cmd.Flags().StringVar(&extra, "extra", "", "Task metadata as a JSON object")
	cmd.MarkFlagRequired("latency")
	cmd.MarkFlagRequired("power")
	return cmd
}
