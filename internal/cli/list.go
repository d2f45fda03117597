package cli

import (
	"encoding/json"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/me/slotq/pkg/model"
	"github.com/spf13/cobra"
)

func newListCmd() *cobra.Command {
	var (
		owner  string
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/api/v1/tasks/?limit=%d&offset=%d", limit, offset)
			if owner != "" {
				path += "&owner=" + owner
			}
			resp, err := client.Get(path)
			if err != nil {
				return fmt.Errorf("list tasks: %w", err)
			}

			var tasks []model.Task
			if err := json.Unmarshal(resp.Data, &tasks); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			if len(tasks) == 0 {
				fmt.Println("No tasks found.")
				return nil
			}

			fmt.Printf("%-42s  %-9s  %-10s  %-10s  %-12s  %s\n", "ID", "STATUS", "TIER", "SLOT", "FEE", "OWNER")
			fmt.Printf("%-42s  %-9s  %-10s  %-10s  %-12s  %s\n", "----", "------", "----", "----", "---", "-----")
			for i := range tasks {
				t := &tasks[i]
				fmt.Printf("%-42s  %-9s  %-10s  %-10d  %-12s  %s\n",
					t.ID, t.Status(), t.Tier, t.TargetSlot, humanize.Comma(int64(t.FeeCharged)), t.Owner)
			}

			if resp.Pagination != nil && resp.Pagination.HasMore {
				fmt.Printf("\n(%d of %d shown)\n", len(tasks), resp.Pagination.Total)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Filter by owner address")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum tasks to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "Listing offset")
	return cmd
}
