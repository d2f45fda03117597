package cli

import (
	"encoding/json"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/me/slotq/pkg/model"
	"github.com/spf13/cobra"
)

func newEstimateCmd() *cobra.Command {
	var (
		targetSlot uint64
		gasLimit   uint64
	)

	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Quote the fee for a gas limit and target slot",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Post("/api/v1/estimate", map[string]any{
				"gas_limit":   gasLimit,
				"target_slot": targetSlot,
			})
			if err != nil {
				return fmt.Errorf("estimate: %w", err)
			}

			var est model.EstimateResult
			if err := json.Unmarshal(resp.Data, &est); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			fmt.Printf("Estimate for slot %d:\n", est.TargetSlot)
			fmt.Printf("  Tier: %s\n", est.Tier)
			fmt.Printf("  Fee:  %s\n", humanize.Comma(int64(est.Fee)))
			return nil
		},
	}

	cmd.Flags().Uint64Var(&targetSlot, "slot", 0, "Target slot (required)")
	cmd.Flags().Uint64Var(&gasLimit, "gas", 50_000, "Gas limit; selects the task tier")
	cmd.MarkFlagRequired("slot")
	return cmd
}
