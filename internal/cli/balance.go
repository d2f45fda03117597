package cli

import (
	"encoding/json"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/me/slotq/pkg/model"
	"github.com/spf13/cobra"
)

func newBalanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance [address]",
		Short: "Show an account's bond balance",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/v1/accounts/balance"
			if len(args) == 1 {
				path = "/api/v1/accounts/" + args[0] + "/balance"
			}

			resp, err := client.Get(path)
			if err != nil {
				return fmt.Errorf("get balance: %w", err)
			}

			var bal model.BalanceResult
			if err := json.Unmarshal(resp.Data, &bal); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			fmt.Printf("Account: %s\n", bal.Address)
			fmt.Printf("  Bonded:    %s\n", humanize.Comma(int64(bal.Bonded)))
			fmt.Printf("  Held:      %s\n", humanize.Comma(int64(bal.Held)))
			fmt.Printf("  Available: %s\n", humanize.Comma(int64(bal.Available)))
			return nil
		},
	}
}
