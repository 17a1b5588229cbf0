package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// newWatermarkCmd creates the 'watermark' subcommand, which reports the
// newest updated_at across a state's remote metadata indexes. Scraping runs
// resume from this timestamp.
func newWatermarkCmd() *cobra.Command {
	var state string
	cmd := &cobra.Command{
		Use:   "watermark",
		Short: "Prints the resume watermark for a state's archives",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := buildServices(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.close()

			latest, err := svc.syncer.LatestUpdate(cmd.Context(), state)
			if err != nil {
				return err
			}
			if latest.IsZero() {
				fmt.Printf("no archives found for state %s\n", state)
				return nil
			}
			fmt.Println(latest.UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "state code (required)")
	_ = cmd.MarkFlagRequired("state")
	return cmd
}
