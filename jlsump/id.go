package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var idCmd = &cobra.Command{
	Use:   "id",
	Short: "Query the device identity and status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := setupLogger(cfg.Log)

		dev, err := openDevice(cfg, log)
		if err != nil {
			return err
		}
		defer dev.Close()

		id, err := dev.ID()
		if err != nil {
			return fmt.Errorf("identify: %w", err)
		}
		report, err := dev.Status()
		if err != nil {
			return fmt.Errorf("status: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Identity:    %s\n", id)
		fmt.Fprintf(out, "State:       %s\n", report.State)
		fmt.Fprintf(out, "Factor:      %d\n", report.Factor)
		fmt.Fprintf(out, "Max samples: %d\n", report.MaxSamples)
		fmt.Fprintf(out, "Count:       %d\n", report.Count)
		return nil
	},
}
