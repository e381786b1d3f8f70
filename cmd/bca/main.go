package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/boristopalov/bca/pkg/config"
	"github.com/boristopalov/bca/pkg/core"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "bca",
		Short:         "bca runs building simulations with controllers attached to the engine's calling points.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	for _, envFile := range []string{
		".env",
		"../../.env",
		"../../../.env",
	} {
		if err := godotenv.Load(envFile); err == nil {
			break
		}
	}

	rootCmd.AddCommand(newRunCmd(), newValidateCmd(), newCallingPointsCmd(), newWeatherMetricsCmd())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config>",
		Short: "Check a run configuration without starting the engine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: ok\n", cfg.Name)
			fmt.Fprintf(out, "  metrics:        %d\n", len(cfg.Metrics))
			fmt.Fprintf(out, "  calling points: %d\n", len(cfg.CallingPoints))
			fmt.Fprintf(out, "  record sets:    %d\n", len(cfg.RecordSets))
			fmt.Fprintf(out, "  controller:     %s\n", cfg.Controller.Type)
			return nil
		},
	}
}

func newCallingPointsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "calling-points",
		Short: "List the calling points callbacks can be bound to",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			for _, p := range core.CallingPoints {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
		},
	}
}

func newWeatherMetricsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "weather-metrics",
		Short: "List the weather metrics that can be declared",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			names := make([]string, len(core.WeatherMetrics))
			for i, m := range core.WeatherMetrics {
				names[i] = string(m)
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(names, "\n"))
		},
	}
}
