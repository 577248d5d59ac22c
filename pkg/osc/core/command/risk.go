package command

import (
	"fmt"
	"strings"
)

// RiskLevel grades how dangerous a schema change is.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

func (l RiskLevel) rank() int {
	switch l {
	case RiskHigh:
		return 2
	case RiskMedium:
		return 1
	}
	return 0
}

// Max returns the more severe of l and o.
func (l RiskLevel) Max(o RiskLevel) RiskLevel {
	if o.rank() > l.rank() {
		return o
	}
	if l == "" {
		return RiskLow
	}
	return l
}

// RiskAnnotations are advisory; they never block a build.
type RiskAnnotations struct {
	Level       RiskLevel `json:"level"`
	Warnings    []string  `json:"warnings"`
	Suggestions []string  `json:"suggestions"`
}

// Merge combines two annotation sets, keeping the higher level and de-duplicating messages.
func (r RiskAnnotations) Merge(o RiskAnnotations) RiskAnnotations {
	return RiskAnnotations{
		Level:       r.Level.Max(o.Level),
		Warnings:    appendUnique(r.Warnings, o.Warnings),
		Suggestions: appendUnique(r.Suggestions, o.Suggestions),
	}
}

func appendUnique(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, s := range append(append([]string(nil), a...), b...) {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

const (
	largeTableRows  = 10_000_000
	mediumTableRows = 1_000_000
	// assumedRowsPerSecond is the copy rate used for time estimates.
	assumedRowsPerSecond = 1000
)

// AnalyzeRisk grades a resolved alter clause against the target.
func AnalyzeRisk(target Target, clause string, noCheckAlter, dryRun bool) RiskAnnotations {
	risk := RiskAnnotations{Level: RiskLow, Warnings: []string{}, Suggestions: []string{}}
	upper := canonical(clause)

	if strings.Contains(upper, "DROP COLUMN") {
		risk.Level = risk.Level.Max(RiskHigh)
		risk.Warnings = append(risk.Warnings, "dropping a column is irreversible; make sure the data is backed up")
	}
	if strings.Contains(upper, "DROP INDEX") || strings.Contains(upper, "DROP KEY") || strings.Contains(upper, "DROP PRIMARY KEY") {
		risk.Level = risk.Level.Max(RiskMedium)
		risk.Warnings = append(risk.Warnings, "dropping an index may degrade query performance")
	}

	if target.RowsKnown && target.EstimatedRows > 0 {
		switch {
		case target.EstimatedRows > largeTableRows:
			risk.Level = risk.Level.Max(RiskHigh)
			risk.Warnings = append(risk.Warnings, "large table: the copy will take a long time, run it off-peak")
		case target.EstimatedRows > mediumTableRows:
			risk.Level = risk.Level.Max(RiskMedium)
			risk.Suggestions = append(risk.Suggestions, fmt.Sprintf("consider a chunk size of %d", RecommendedChunkSize(target.EstimatedRows, true, 0)))
		}
	}

	if strings.Contains(strings.ToLower(target.Host), "prod") {
		risk.Warnings = append(risk.Warnings, "target looks like a production host, proceed with care")
	}
	if noCheckAlter {
		risk.Warnings = append(risk.Warnings, "--no-check-alter disables the tool's safety checks on the ALTER clause")
	}
	if dryRun {
		risk.Suggestions = append(risk.Suggestions, "dry run: no table data will be changed")
	}
	return risk
}

// EstimateTime renders rows at the assumed copy rate as "Ns", "Nm" or "NhMm".
func EstimateTime(rows int64, known bool) string {
	if !known || rows <= 0 {
		return "unknown"
	}
	seconds := rows / assumedRowsPerSecond
	switch {
	case seconds < 60:
		return fmt.Sprintf("%ds", seconds)
	case seconds < 3600:
		return fmt.Sprintf("%dm", seconds/60)
	default:
		return fmt.Sprintf("%dh%dm", seconds/3600, (seconds%3600)/60)
	}
}

// RecommendedChunkSize picks a chunk size from the table size, falling back to def when unknown.
func RecommendedChunkSize(rows int64, known bool, def int) int {
	if !known || rows <= 0 {
		if def > 0 {
			return def
		}
		return 1000
	}
	switch {
	case rows < 100_000:
		return 1000
	case rows < 1_000_000:
		return 2000
	case rows < 10_000_000:
		return 5000
	default:
		return 8000
	}
}
