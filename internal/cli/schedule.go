package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/me/slotq/pkg/model"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newScheduleCmd() *cobra.Command {
	var (
		targetSlot  uint64
		gasLimit    uint64
		maxFee      uint64
		payloadFile string
		bonded      bool
	)

	cmd := &cobra.Command{
		Use:   "schedule <program.js>",
		Short: "Schedule a task for a future slot",
		Long: `Schedule a deferred task: read a JavaScript program, lock the quoted fee
in escrow, and queue the task for its target slot.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			programPath := args[0]

			program, err := os.ReadFile(programPath)
			if err != nil {
				return fmt.Errorf("read program: %w", err)
			}

			payload, err := readPayload(payloadFile)
			if err != nil {
				return err
			}

			req := map[string]any{
				"implementation": string(program),
				"gas_limit":      gasLimit,
				"target_slot":    targetSlot,
				"max_fee":        maxFee,
			}
			if payload != nil {
				req["payload"] = json.RawMessage(payload)
			}

			path := "/api/v1/tasks/"
			if bonded {
				path += "?bonded=true"
			}
			resp, err := client.Post(path, req)
			if err != nil {
				return fmt.Errorf("schedule task: %w", err)
			}

			var res model.ScheduleResult
			if err := json.Unmarshal(resp.Data, &res); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			fmt.Printf("Task scheduled: %s\n", res.TaskID)
			fmt.Printf("  Environment: %s\n", res.EnvironmentID)
			fmt.Printf("  Tier:        %s\n", res.Tier)
			fmt.Printf("  Target slot: %d\n", res.TargetSlot)
			fmt.Printf("  Fee locked:  %s\n", humanize.Comma(int64(res.Fee)))
			return nil
		},
	}

	cmd.Flags().Uint64Var(&targetSlot, "slot", 0, "Target slot (required)")
	cmd.Flags().Uint64Var(&gasLimit, "gas", 50_000, "Gas limit; selects the task tier")
	cmd.Flags().Uint64Var(&maxFee, "max-fee", 0, "Maximum acceptable fee (required)")
	cmd.Flags().StringVarP(&payloadFile, "payload", "p", "", "Payload file (YAML/JSON)")
	cmd.Flags().BoolVar(&bonded, "bonded", false, "Fund the fee from a bond hold instead of escrow")
	cmd.MarkFlagRequired("slot")
	cmd.MarkFlagRequired("max-fee")

	return cmd
}

// readPayload loads a YAML or JSON payload file and normalizes it to JSON.
func readPayload(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse payload: %w", err)
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return out, nil
}
