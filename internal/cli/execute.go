package cli

import (
	"encoding/json"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/me/slotq/pkg/model"
	"github.com/spf13/cobra"
)

func newExecuteCmd() *cobra.Command {
	var (
		budget   uint64
		reserved uint64
		payout   string
	)

	cmd := &cobra.Command{
		Use:   "execute",
		Short: "Run an execution pass over due tasks",
		Long: `Drain due tasks in priority order until the gas budget runs out. The
executor share of each collected fee is credited to the payout account.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]any{
				"budget":   budget,
				"reserved": reserved,
			}
			if payout != "" {
				req["payout"] = payout
			}
			resp, err := client.Post("/api/v1/execute", req)
			if err != nil {
				return fmt.Errorf("execute: %w", err)
			}

			var res model.ExecuteResult
			if err := json.Unmarshal(resp.Data, &res); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			if len(res.Executed) == 0 {
				fmt.Printf("No tasks due at slot %d.\n", res.CurrentSlot)
				return nil
			}

			for _, t := range res.Executed {
				mark := "ok"
				switch {
				case t.Rescheduled:
					mark = "rescheduled"
				case !t.OK:
					mark = "failed: " + t.Error
				}
				fmt.Printf("  %-42s  %-7s  slot %-6d  %s\n", t.TaskID, t.Tier, t.Slot, mark)
			}
			fmt.Printf("\nExecuted %d task(s) at slot %d\n", len(res.Executed), res.CurrentSlot)
			fmt.Printf("  Budget spent: %s\n", humanize.Comma(int64(res.BudgetSpent)))
			fmt.Printf("  Fees earned:  %s\n", humanize.Comma(int64(res.FeesEarned)))
			return nil
		},
	}

	cmd.Flags().Uint64Var(&budget, "budget", 1_000_000, "Gas budget for the pass")
	cmd.Flags().Uint64Var(&reserved, "reserved", 0, "Gas to leave unspent")
	cmd.Flags().StringVar(&payout, "payout", "", "Payout account for executor fees (defaults to caller)")
	return cmd
}
