package cli

import (
	"encoding/json"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/me/slotq/pkg/model"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <task_id>",
		Short: "Show the status of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]

			resp, err := client.Get("/api/v1/tasks/" + id)
			if err != nil {
				return fmt.Errorf("get task: %w", err)
			}

			var task model.Task
			if err := json.Unmarshal(resp.Data, &task); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			fmt.Printf("Task: %s\n", task.ID)
			fmt.Printf("  Owner:       %s\n", task.Owner)
			fmt.Printf("  Status:      %s\n", task.Status())
			fmt.Printf("  Tier:        %s\n", task.Tier)
			fmt.Printf("  Gas limit:   %s\n", humanize.Comma(int64(task.GasLimit)))
			fmt.Printf("  Target slot: %d\n", task.TargetSlot)
			fmt.Printf("  Fee locked:  %s\n", humanize.Comma(int64(task.FeeCharged)))
			if task.FeePaid > 0 {
				fmt.Printf("  Fee paid:    %s\n", humanize.Comma(int64(task.FeePaid)))
			}
			if task.Bonded {
				fmt.Printf("  Funding:     bonded (hold %s)\n", task.HoldID)
			}
			if task.Reschedules > 0 {
				fmt.Printf("  Reschedules: %d\n", task.Reschedules)
			}
			if task.LastError != "" {
				fmt.Printf("  Last error:  %s\n", task.LastError)
			}
			fmt.Printf("  Created:     %s\n", task.CreatedAt.Format("2006-01-02 15:04:05 MST"))
			if task.ExecutedAt != nil {
				fmt.Printf("  Executed:    %s\n", task.ExecutedAt.Format("2006-01-02 15:04:05 MST"))
			}
			return nil
		},
	}
}
