package cli

import (
	"encoding/json"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/me/slotq/pkg/model"
	"github.com/spf13/cobra"
)

func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <task_id>",
		Short: "Cancel a pending task and refund its fee",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]

			resp, err := client.Delete("/api/v1/tasks/" + id)
			if err != nil {
				return fmt.Errorf("cancel task: %w", err)
			}

			var task model.Task
			if err := json.Unmarshal(resp.Data, &task); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			fmt.Printf("Task %s: %s\n", id, task.Status())
			fmt.Printf("  Fee refunded: %s\n", humanize.Comma(int64(task.FeeCharged)))
			return nil
		},
	}
}
