package process

import (
	"regexp"
	"strconv"
	"strings"

	model "github.com/tigerroll/mysqler/pkg/osc/core/domain/model"
)

// Stage labels reported in Job.CurrentStage.
const (
	StageCreatingTable   = "creating new table"
	StageAlteringTable   = "altering new table"
	StageCreatingTrigger = "creating triggers"
	StageCopying         = "copying rows"
	StageSwapping        = "swapping tables"
	StageDroppingTable   = "dropping old table"
	StageDroppingTrigger = "dropping triggers"
	StageCompleted       = "completed"
	StageDryRunComplete  = "dry run complete"
)

var (
	approxRowsRe  = regexp.MustCompile(`Copying approximately (\d+) rows`)
	copiedRe      = regexp.MustCompile(`Copied (\d+)/(\d+) rows \((\d+(?:\.\d+)?)%\)`)
	copyingPctRe  = regexp.MustCompile("Copying `[^`]+`\\.`[^`]+`:\\s+(\\d+(?:\\.\\d+)?)%")
	copyRateRe    = regexp.MustCompile(`Current copy rate:\s*(\d+(?:\.\d+)?) rows/sec`)
	stagePrefixes = []struct {
		prefix string
		stage  string
	}{
		{"Creating new table", StageCreatingTable},
		{"Altering new table", StageAlteringTable},
		{"Creating triggers", StageCreatingTrigger},
		{"Copying approximately", StageCopying},
		{"Swapping tables", StageSwapping},
		{"Dropping old table", StageDroppingTable},
		{"Dropped old table", StageDroppingTable},
		{"Dropping triggers", StageDroppingTrigger},
		{"Successfully altered", StageCompleted},
		{"Dry run complete", StageDryRunComplete},
	}
)

// ParseLine extracts progress information from one line of pt-online-schema-change output.
// Lines without recognizable content come back with Parsed unset.
func ParseLine(line string) model.ProgressEvent {
	ev := model.ProgressEvent{Line: line}
	trimmed := strings.TrimSpace(line)
	p := &ev.Progress

	for _, s := range stagePrefixes {
		if strings.HasPrefix(trimmed, s.prefix) {
			p.Stage = s.stage
			break
		}
	}
	if m := approxRowsRe.FindStringSubmatch(trimmed); m != nil {
		p.TotalRows, _ = strconv.ParseInt(m[1], 10, 64)
	}
	if m := copiedRe.FindStringSubmatch(trimmed); m != nil {
		p.ProcessedRows, _ = strconv.ParseInt(m[1], 10, 64)
		p.TotalRows, _ = strconv.ParseInt(m[2], 10, 64)
		p.Percent, _ = strconv.ParseFloat(m[3], 64)
		p.Stage = StageCopying
	}
	if m := copyingPctRe.FindStringSubmatch(trimmed); m != nil {
		p.Percent, _ = strconv.ParseFloat(m[1], 64)
		p.Stage = StageCopying
	}
	if m := copyRateRe.FindStringSubmatch(trimmed); m != nil {
		p.Speed, _ = strconv.ParseFloat(m[1], 64)
	}
	ev.Parsed = !p.IsZero()
	return ev
}
