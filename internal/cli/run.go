package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/me/slotq/internal/config"
	"github.com/me/slotq/internal/engine"
	"github.com/me/slotq/internal/ledger"
	"github.com/me/slotq/internal/store"
	"github.com/me/slotq/pkg/model"
	"github.com/spf13/cobra"
)

const (
	localOwner    = model.Address("local:owner")
	localExecutor = model.Address("local:executor")
)

func newRunCmd() *cobra.Command {
	var (
		targetSlot uint64
		gasLimit   uint64
		budget     uint64
		maxPasses  int
		quiet      bool
	)

	cmd := &cobra.Command{
		Use:   "run <program.js> [payload-file]",
		Short: "Run a task program locally without a server",
		Long: `Run a program through an in-memory engine: schedule it, jump the clock
to its target slot, and execute. Self-reschedules are followed until the
task settles or the pass limit is hit. Results print as JSON on stdout.

This is meant for trying out a program before paying to schedule it.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			program, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read program: %w", err)
			}

			var payload []byte
			if len(args) > 1 {
				payload, err = readPayload(args[1])
				if err != nil {
					return err
				}
			}

			return runLocal(cmd.Context(), string(program), payload,
				model.Slot(targetSlot), model.Gas(gasLimit), model.Gas(budget), maxPasses, quiet)
		},
	}

	cmd.Flags().Uint64Var(&targetSlot, "slot", 1, "Target slot for the local schedule")
	cmd.Flags().Uint64Var(&gasLimit, "gas", 50_000, "Gas limit; selects the task tier")
	cmd.Flags().Uint64Var(&budget, "budget", 1_000_000, "Gas budget per execution pass")
	cmd.Flags().IntVar(&maxPasses, "max-passes", 8, "Give up after this many self-reschedules")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress progress messages")

	return cmd
}

func runLocal(ctx context.Context, program string, payload []byte, slot model.Slot, gas, budget model.Gas, maxPasses int, quiet bool) error {
	progress := func(format string, args ...any) {
		if !quiet {
			fmt.Fprintf(os.Stderr, format+"\n", args...)
		}
	}

	st, err := store.NewSQLiteStore(":memory:", logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	led, err := ledger.NewSQLiteLedger(":memory:", logger)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer led.Close()
	if err := led.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate ledger: %w", err)
	}

	clock := engine.NewManualClock(0)
	eng := engine.NewEngine(config.Default().Engine, st, led, clock, logger)

	// Fund generously so self-reschedules never starve mid-run.
	est, err := eng.EstimateCost(ctx, gas, slot)
	if err != nil {
		return fmt.Errorf("estimate: %w", err)
	}
	funding := est.Fee * model.Fee(maxPasses+1) * 4
	if err := eng.Deposit(ctx, localOwner, funding); err != nil {
		return fmt.Errorf("fund local owner: %w", err)
	}

	res, err := eng.ScheduleTask(ctx, localOwner, program, gas, slot, funding, payload)
	if err != nil {
		return fmt.Errorf("schedule: %w", err)
	}
	progress("Scheduled %s (tier %s, slot %d, fee %s)",
		res.TaskID, res.Tier, res.TargetSlot, humanize.Comma(int64(res.Fee)))

	var last *model.ExecutedTask
	for pass := 0; pass < maxPasses; pass++ {
		task, err := eng.GetTask(ctx, res.TaskID)
		if err != nil {
			return fmt.Errorf("get task: %w", err)
		}
		if !task.Active() {
			break
		}

		clock.Set(task.TargetSlot)
		out, err := eng.ExecuteTasks(ctx, localExecutor, budget, 0)
		if err != nil {
			return fmt.Errorf("execute pass %d: %w", pass+1, err)
		}

		for i := range out.Executed {
			if out.Executed[i].TaskID == res.TaskID {
				last = &out.Executed[i]
			}
		}
		if last == nil {
			return fmt.Errorf("task %s not reached within budget %d", res.TaskID, budget)
		}

		switch {
		case last.Rescheduled:
			progress("Pass %d: rescheduled from slot %d", pass+1, last.Slot)
		case last.OK:
			progress("Pass %d: ok (%v)", pass+1, last.Elapsed)
		default:
			progress("Pass %d: failed: %s", pass+1, last.Error)
		}
		if !last.Rescheduled {
			break
		}
	}

	if last == nil || last.Rescheduled {
		return fmt.Errorf("task did not settle within %d passes", maxPasses)
	}

	final, err := eng.GetTask(ctx, res.TaskID)
	if err != nil {
		return fmt.Errorf("get task: %w", err)
	}

	report := map[string]any{
		"task_id":     final.ID,
		"status":      final.Status(),
		"ok":          last.OK,
		"reschedules": final.Reschedules,
		"fee_paid":    final.FeePaid,
		"elapsed_ns":  last.Elapsed,
	}
	if last.Error != "" {
		report["error"] = last.Error
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}
	if !last.OK {
		return fmt.Errorf("task failed: %s", last.Error)
	}
	return nil
}
