package cli

import (
	"encoding/json"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/me/slotq/pkg/model"
	"github.com/spf13/cobra"
)

func newPreviewCmd() *cobra.Command {
	var lookahead uint64

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Preview pending load and quotes for upcoming slots",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Get(fmt.Sprintf("/api/v1/schedule?lookahead=%d", lookahead))
			if err != nil {
				return fmt.Errorf("preview schedule: %w", err)
			}

			var data struct {
				CurrentSlot uint64               `json:"current_slot"`
				Slots       []model.SlotSchedule `json:"slots"`
			}
			if err := json.Unmarshal(resp.Data, &data); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			fmt.Printf("Current slot: %d\n\n", data.CurrentSlot)
			fmt.Printf("%-8s  %-22s  %-22s  %s\n", "SLOT", "SMALL (pend/quote)", "MEDIUM (pend/quote)", "LARGE (pend/quote)")
			for _, row := range data.Slots {
				fmt.Printf("%-8d  %-22s  %-22s  %s\n", row.Slot,
					tierCell(row, model.TierSmall),
					tierCell(row, model.TierMedium),
					tierCell(row, model.TierLarge))
			}
			return nil
		},
	}

	cmd.Flags().Uint64Var(&lookahead, "lookahead", 16, "How many upcoming slots to preview")
	return cmd
}

func tierCell(row model.SlotSchedule, tier model.Tier) string {
	return fmt.Sprintf("%d / %s", row.Pending[tier], humanize.Comma(int64(row.Quotes[tier])))
}
