package envrt

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/me/slotq/pkg/model"
)

// entryPoint is the function every implementation must define. It
// receives the stored payload as its single argument.
const entryPoint = "main"

// Host exposes the one engine operation a running program may call
// back into. All other entrypoint operations are closed to in-flight
// programs; the runtime surfaces those rejections as thrown
// JavaScript errors so a program can catch and ignore them.
type Host interface {
	Reschedule(newSlot model.Slot, newMaxFee model.Fee) error
}

// Outcome is the result of one environment invocation. A failed run
// is data rather than an error: the caller settles fees either way.
type Outcome struct {
	OK      bool
	Err     string
	Elapsed time.Duration
}

// Runtime executes environment programs on embedded JavaScript VMs.
// Compiled programs are cached per environment ID; every invocation
// still gets a fresh VM so no state leaks between executions.
type Runtime struct {
	logger *slog.Logger

	mu       sync.Mutex
	programs map[string]*goja.Program
}

// NewRuntime creates an environment runtime with an empty program
// cache.
func NewRuntime(logger *slog.Logger) *Runtime {
	return &Runtime{
		logger:   logger.With("component", "envrt"),
		programs: make(map[string]*goja.Program),
	}
}

func (r *Runtime) program(env *model.Environment) (*goja.Program, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prog, ok := r.programs[env.ID]; ok {
		return prog, nil
	}
	prog, err := goja.Compile(env.ID, env.Implementation, false)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", env.ID, err)
	}
	r.programs[env.ID] = prog
	return prog, nil
}

// Forget drops an environment's compiled program from the cache. The
// retention sweeper calls it when the environment row is deleted.
func (r *Runtime) Forget(envIDs ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range envIDs {
		delete(r.programs, id)
	}
}

// Invoke runs the environment's entry point with its stored payload.
// The task's tier ceiling doubles as a wall-clock watchdog at one
// microsecond per gas unit; a program still running past it is
// interrupted and the run counts as failed. The entry point fails by
// throwing or by returning false; any other completion succeeds.
func (r *Runtime) Invoke(env *model.Environment, task *model.Task, host Host) Outcome {
	start := time.Now()
	fail := func(msg string) Outcome {
		return Outcome{Err: msg, Elapsed: time.Since(start)}
	}

	prog, err := r.program(env)
	if err != nil {
		return fail(err.Error())
	}

	vm := goja.New()
	if err := bindHost(vm, env, task, host); err != nil {
		return fail(err.Error())
	}

	ceiling := task.Tier.GasCeiling()
	watchdog := time.AfterFunc(time.Duration(ceiling)*time.Microsecond, func() {
		vm.Interrupt("gas ceiling exceeded")
	})
	defer watchdog.Stop()

	if _, err := vm.RunProgram(prog); err != nil {
		return fail(runError(err))
	}
	entry, ok := goja.AssertFunction(vm.Get(entryPoint))
	if !ok {
		return fail(fmt.Sprintf("implementation defines no %s function", entryPoint))
	}

	res, err := entry(goja.Undefined(), vm.ToValue(string(env.Payload)))
	if err != nil {
		return fail(runError(err))
	}
	if b, isBool := res.Export().(bool); isBool && !b {
		return fail("main returned false")
	}
	return Outcome{OK: true, Elapsed: time.Since(start)}
}

// bindHost installs the task descriptor and the scheduler callbacks
// into the VM before the program runs.
func bindHost(vm *goja.Runtime, env *model.Environment, task *model.Task, host Host) error {
	info := map[string]any{
		"id":          task.ID,
		"owner":       string(task.Owner),
		"tier":        task.Tier.String(),
		"gas_limit":   int64(task.GasLimit),
		"target_slot": int64(task.TargetSlot),
		"environment": env.ID,
	}
	if err := vm.Set("task", info); err != nil {
		return fmt.Errorf("set task: %w", err)
	}

	sched := map[string]any{
		"reschedule": func(slot int64, maxFee int64) error {
			return host.Reschedule(model.Slot(slot), model.Fee(maxFee))
		},
		"schedule": rejectReentrant("schedule"),
		"cancel":   rejectReentrant("cancel"),
		"execute":  rejectReentrant("execute"),
	}
	if err := vm.Set("scheduler", sched); err != nil {
		return fmt.Errorf("set scheduler: %w", err)
	}
	return nil
}

// rejectReentrant builds a host function that always throws. The
// entrypoint enforces the same rule for external callers; programs
// get the rejection without a round trip through it.
func rejectReentrant(op string) func() error {
	return func() error {
		return model.Errorf(model.ErrReentrancy, "%s is not callable from a running task", op)
	}
}

// runError renders a goja failure as a one-line message.
func runError(err error) string {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return fmt.Sprintf("interrupted: %v", interrupted.Value())
	}
	var exc *goja.Exception
	if errors.As(err, &exc) {
		return exc.Value().String()
	}
	return err.Error()
}
