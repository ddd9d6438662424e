// Package simulate implements the simulate command, which plays a YAML
// scenario against simulated hardware on a virtual clock and checks the
// resulting status.
package simulate

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/tphakala/twsaudio/internal/conf"
	"github.com/tphakala/twsaudio/internal/errors"
	"github.com/tphakala/twsaudio/internal/logger"
)

// Command creates the simulate command
func Command(settings *conf.Settings) *cobra.Command {
	var asJSON, showCalls bool

	cmd := &cobra.Command{
		Use:   "simulate [scenario.yaml]",
		Short: "Play a scenario against simulated hardware",
		Long: "Boot a simulated earbud on a virtual clock, inject the scenario's events and " +
			"faults, and check its expectations. Exits non-zero when an expectation fails.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := LoadScenario(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			transcript := out
			if asJSON {
				transcript = nil
			}
			report, runErr := NewRunner(settings, transcript, logger.Global().Module(ComponentSimulate)).Run(sc)
			if report != nil {
				if err := printReport(cmd, report, asJSON, showCalls); err != nil {
					return err
				}
			}
			if runErr != nil {
				return runErr
			}
			if !report.Passed() {
				return errors.Newf("%d expectation(s) failed", len(report.Failures)).
					Component(ComponentSimulate).
					Category(errors.CategoryValidation).
					Build()
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON instead of a transcript")
	cmd.Flags().BoolVar(&showCalls, "calls", false, "Include the recorded hardware calls")
	return cmd
}

func printReport(cmd *cobra.Command, report *Report, asJSON, showCalls bool) error {
	if !showCalls {
		report.Calls = nil
	}
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	cmd.Printf("\n%d steps, %d transitions, final state %s\n",
		report.Steps, len(report.Transitions), report.Final.Pipeline.State)
	for _, c := range report.Calls {
		cmd.Printf("  %s\n", c)
	}
	if report.Passed() {
		cmd.Println("PASS")
	} else {
		cmd.Printf("FAIL (%d)\n", len(report.Failures))
	}
	return nil
}
