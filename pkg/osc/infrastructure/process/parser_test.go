package process_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tigerroll/mysqler/pkg/osc/infrastructure/process"
)

func TestParseLine(t *testing.T) {
	ev := process.ParseLine("Copying approximately 5000000 rows...")
	assert.True(t, ev.Parsed)
	assert.Equal(t, int64(5000000), ev.Progress.TotalRows)
	assert.Equal(t, process.StageCopying, ev.Progress.Stage)

	ev = process.ParseLine("Copied 3750000/5000000 rows (75%)")
	assert.True(t, ev.Parsed)
	assert.Equal(t, int64(3750000), ev.Progress.ProcessedRows)
	assert.Equal(t, int64(5000000), ev.Progress.TotalRows)
	assert.Equal(t, 75.0, ev.Progress.Percent)

	ev = process.ParseLine("Copying `shop`.`t_demo`:  45% 01:23 remain")
	assert.True(t, ev.Parsed)
	assert.Equal(t, 45.0, ev.Progress.Percent)

	ev = process.ParseLine("Current copy rate: 5420 rows/sec")
	assert.Equal(t, 5420.0, ev.Progress.Speed)

	ev = process.ParseLine("2026-01-01T00:00:00 Swapping tables...")
	assert.False(t, ev.Parsed, "stage prefixes must start the line")
	ev = process.ParseLine("Swapping tables...")
	assert.Equal(t, process.StageSwapping, ev.Progress.Stage)
	assert.Equal(t, process.StageCompleted, process.ParseLine("Successfully altered `shop`.`t_demo`.").Progress.Stage)
	assert.Equal(t, process.StageDryRunComplete, process.ParseLine("Dry run complete.  `shop`.`t_demo` was not altered.").Progress.Stage)

	ev = process.ParseLine("No slaves found.")
	assert.False(t, ev.Parsed)
	assert.Equal(t, "No slaves found.", ev.Line)
}

func TestTailBufferKeepsLastLines(t *testing.T) {
	tb := process.NewTailBuffer(3)
	assert.Empty(t, tb.Lines())
	for _, l := range []string{"a", "b"} {
		tb.Add(l)
	}
	assert.Equal(t, []string{"a", "b"}, tb.Lines())
	for _, l := range []string{"c", "d", "e"} {
		tb.Add(l)
	}
	assert.Equal(t, []string{"c", "d", "e"}, tb.Lines())
}
