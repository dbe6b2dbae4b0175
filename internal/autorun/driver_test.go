package autorun

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/walldrop/walldrop/internal/catalog"
)

type fakeTrigger struct {
	delays []time.Duration
	err    error
}

func (t *fakeTrigger) Schedule(_ context.Context, delay time.Duration) error {
	if t.err != nil {
		return t.err
	}
	t.delays = append(t.delays, delay)
	return nil
}

func dests(intervals ...time.Duration) []catalog.Destination {
	out := make([]catalog.Destination, 0, len(intervals))
	for i, interval := range intervals {
		out = append(out, catalog.Destination{Name: string(rune('a' + i)), Interval: interval})
	}
	return out
}

func TestMinInterval(t *testing.T) {
	t.Parallel()

	got, err := MinInterval(dests(time.Hour, 5*time.Minute, 30*time.Minute))
	require.NoError(t, err)
	require.Equal(t, 5*time.Minute, got)

	_, err = MinInterval(nil)
	require.Error(t, err)
}

func TestNextShortGapSleepsAndReruns(t *testing.T) {
	t.Parallel()

	var slept []time.Duration
	trigger := &fakeTrigger{}
	d := New(trigger, 10*time.Minute, func(dur time.Duration) { slept = append(slept, dur) }, zap.NewNop())

	rerun, err := d.Next(context.Background(), dests(time.Hour, 3*time.Minute))
	require.NoError(t, err)
	require.True(t, rerun)
	require.Equal(t, []time.Duration{3 * time.Minute}, slept)
	require.Empty(t, trigger.delays, "a short gap must not reach the trigger")
}

func TestNextLongGapHandsOffToTrigger(t *testing.T) {
	t.Parallel()

	trigger := &fakeTrigger{}
	d := New(trigger, 10*time.Minute, func(time.Duration) { t.Fatal("must not sleep") }, zap.NewNop())

	rerun, err := d.Next(context.Background(), dests(45*time.Minute))
	require.NoError(t, err)
	require.False(t, rerun)
	require.Equal(t, []time.Duration{45 * time.Minute}, trigger.delays)
}

func TestNextBoundaryGapStaysInProcess(t *testing.T) {
	t.Parallel()

	var slept int
	d := New(&fakeTrigger{}, 10*time.Minute, func(time.Duration) { slept++ }, zap.NewNop())

	rerun, err := d.Next(context.Background(), dests(10*time.Minute))
	require.NoError(t, err)
	require.True(t, rerun, "a gap equal to the threshold sleeps in-process")
	require.Equal(t, 1, slept)
}

func TestNextTriggerFailureSurfaces(t *testing.T) {
	t.Parallel()

	d := New(&fakeTrigger{err: errors.New("api down")}, 10*time.Minute, func(time.Duration) {}, zap.NewNop())

	rerun, err := d.Next(context.Background(), dests(time.Hour))
	require.False(t, rerun)
	require.ErrorContains(t, err, "api down")
}

func TestNextLongGapWithoutTriggerErrors(t *testing.T) {
	t.Parallel()

	d := New(nil, 10*time.Minute, func(time.Duration) {}, zap.NewNop())

	rerun, err := d.Next(context.Background(), dests(time.Hour))
	require.False(t, rerun)
	require.Error(t, err)
}

func TestCommandTriggerSubstitutesDelay(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	trig := NewCommandTrigger("echo {{delay_seconds}} > "+dir+"/out", zap.NewNop())
	require.NoError(t, trig.Schedule(context.Background(), 90*time.Second))

	out, err := os.ReadFile(dir + "/out")
	require.NoError(t, err)
	require.Equal(t, "90", strings.TrimSpace(string(out)))
}

func TestCommandTriggerFailureIncludesOutput(t *testing.T) {
	t.Parallel()

	trig := NewCommandTrigger("echo broken >&2; exit 3", zap.NewNop())
	err := trig.Schedule(context.Background(), time.Hour)
	require.ErrorContains(t, err, "broken")
}

func TestCommandTriggerRejectsEmptyCommand(t *testing.T) {
	t.Parallel()

	trig := NewCommandTrigger("   ", zap.NewNop())
	require.Error(t, trig.Schedule(context.Background(), time.Minute))
}
