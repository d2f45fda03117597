package cli

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/me/slotq/pkg/model"
	"github.com/spf13/cobra"
)

func newDepositCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deposit <amount>",
		Short: "Deposit bond for the calling account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("amount must be a positive integer: %w", err)
			}

			resp, err := client.Post("/api/v1/accounts/deposit", map[string]any{"amount": amount})
			if err != nil {
				return fmt.Errorf("deposit: %w", err)
			}

			var bal model.BalanceResult
			if err := json.Unmarshal(resp.Data, &bal); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			fmt.Printf("Deposited %s to %s\n", humanize.Comma(int64(amount)), bal.Address)
			fmt.Printf("  Bonded:    %s\n", humanize.Comma(int64(bal.Bonded)))
			fmt.Printf("  Available: %s\n", humanize.Comma(int64(bal.Available)))
			return nil
		},
	}
}
