// Package autorun decides how the next run happens after a single pass: a
// short gap is slept through in-process, a long one is handed to an external
// trigger so the process does not idle for hours.
package autorun

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/walldrop/walldrop/internal/catalog"
)

// InProcessThreshold separates a sleep-and-rerun gap from an external
// hand-off. Ten minutes is short enough to hold the process open.
const InProcessThreshold = 10 * time.Minute

// Trigger schedules an invocation of the whole process after a delay. It
// must outlive the current process.
type Trigger interface {
	Schedule(ctx context.Context, delay time.Duration) error
}

// Driver picks the follow-up action after a completed pass.
type Driver struct {
	trigger   Trigger
	threshold time.Duration
	sleep     func(time.Duration)
	logger    *zap.Logger
}

// New constructs a Driver. A nil sleep func uses time.Sleep.
func New(trigger Trigger, threshold time.Duration, sleep func(time.Duration), logger *zap.Logger) *Driver {
	if threshold <= 0 {
		threshold = InProcessThreshold
	}
	if sleep == nil {
		sleep = time.Sleep
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{
		trigger:   trigger,
		threshold: threshold,
		sleep:     sleep,
		logger:    logger,
	}
}

// MinInterval returns the shortest destination interval, which is when the
// next pass is due.
func MinInterval(dests []catalog.Destination) (time.Duration, error) {
	if len(dests) == 0 {
		return 0, fmt.Errorf("no destinations configured")
	}
	minGap := dests[0].Interval
	for _, d := range dests[1:] {
		if d.Interval < minGap {
			minGap = d.Interval
		}
	}
	return minGap, nil
}

// Next waits out or schedules the gap before the next pass. It reports
// rerun=true when the caller should run another pass itself; rerun=false
// means the trigger owns the next invocation and the process may exit.
func (d *Driver) Next(ctx context.Context, dests []catalog.Destination) (rerun bool, err error) {
	delay, err := MinInterval(dests)
	if err != nil {
		return false, err
	}

	if delay <= d.threshold {
		d.logger.Info("short gap, sleeping in-process", zap.Duration("delay", delay))
		d.sleep(delay)
		return true, ctx.Err()
	}

	if d.trigger == nil {
		return false, fmt.Errorf("gap %s exceeds in-process threshold and no trigger is configured", delay)
	}
	d.logger.Info("long gap, handing off to external trigger", zap.Duration("delay", delay))
	if err := d.trigger.Schedule(ctx, delay); err != nil {
		return false, fmt.Errorf("schedule next run: %w", err)
	}
	return false, nil
}

// CommandTrigger schedules the next run by executing a shell command, with
// {{delay_seconds}} replaced by the gap. Typical commands enqueue a CI
// workflow or a systemd timer.
type CommandTrigger struct {
	// Command is the shell command template.
	Command string
	logger  *zap.Logger
}

// NewCommandTrigger creates a CommandTrigger.
func NewCommandTrigger(command string, logger *zap.Logger) *CommandTrigger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommandTrigger{Command: command, logger: logger}
}

// Schedule runs the command with the delay substituted in.
func (t *CommandTrigger) Schedule(ctx context.Context, delay time.Duration) error {
	if strings.TrimSpace(t.Command) == "" {
		return fmt.Errorf("trigger command is empty")
	}
	seconds := strconv.Itoa(int(delay / time.Second))
	command := strings.ReplaceAll(t.Command, "{{delay_seconds}}", seconds)

	t.logger.Info("running trigger command", zap.String("command", command))
	out, err := exec.CommandContext(ctx, "/bin/sh", "-c", command).CombinedOutput()
	if err != nil {
		return fmt.Errorf("trigger command: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}
