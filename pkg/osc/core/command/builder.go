// Package command turns a schema-change request into a pt-online-schema-change command line.
// Building is pure: identical inputs always render byte-identical commands.
package command

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tigerroll/mysqler/pkg/osc/core/config"
	model "github.com/tigerroll/mysqler/pkg/osc/core/domain/model"
	"github.com/tigerroll/mysqler/pkg/osc/support/util/exception"
)

const moduleName = "command"

// MaskedPassword replaces the password in previews.
const MaskedPassword = "***"

const (
	maxChunkSize = 1_000_000
	// Separator joins command parts so the preview prints one flag per line.
	Separator = " \\\n  "
)

var (
	loadPredicateRe = regexp.MustCompile(`^[A-Za-z_]+=[0-9]+(,[A-Za-z_]+=[0-9]+)*$`)
	identifierRe    = regexp.MustCompile(`^[A-Za-z0-9_$-]+$`)
	hostRe          = regexp.MustCompile(`^[A-Za-z0-9._:-]+$`)
	charsetRe       = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
	safeArgRe       = regexp.MustCompile(`^[A-Za-z0-9_@%+=:,./-]+$`)
)

// Target describes the table being changed and how to reach it.
type Target struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	Table    string
	// EstimatedRows is only meaningful when RowsKnown is set.
	EstimatedRows int64
	RowsKnown     bool
}

// Intent is the requested schema change.
type Intent struct {
	Type        model.DDLType
	OriginalDDL *string
}

// Result is a validated command plus its annotations.
type Result struct {
	Command              string                `json:"-"`
	Preview              string                `json:"command"`
	AlterClause          string                `json:"alter_clause"`
	Params               model.ExecutionParams `json:"execution_params"`
	Risk                 RiskAnnotations       `json:"risk"`
	EstimatedTime        string                `json:"estimated_time"`
	RecommendedChunkSize int                   `json:"recommended_chunk_size"`
}

// Builder renders commands using tool defaults from configuration.
// It holds no mutable state and is safe for concurrent use.
type Builder struct {
	tool          string
	defaults      model.ExecutionParams
	defaultChunk  int
	checkInterval int
	maxLag        int
	progress      string
}

// NewBuilder creates a Builder from the command configuration.
func NewBuilder(cfg *config.CommandConfig) *Builder {
	return &Builder{
		tool: cfg.Tool,
		defaults: model.ExecutionParams{
			MaxLoad:         cfg.MaxLoad,
			CriticalLoad:    cfg.CriticalLoad,
			Charset:         cfg.Charset,
			LockWaitTimeout: cfg.LockWaitTimeout,
		},
		defaultChunk:  cfg.DefaultChunkSize,
		checkInterval: cfg.CheckInterval,
		maxLag:        cfg.MaxLag,
		progress:      cfg.Progress,
	}
}

// Build validates the request and renders the command, its masked preview and risk annotations.
// Every failure is a ValidationError.
func (b *Builder) Build(target Target, intent Intent, params model.ExecutionParams) (*Result, error) {
	if err := validateTarget(target); err != nil {
		return nil, err
	}
	clause, err := AlterClause(intent)
	if err != nil {
		return nil, err
	}

	recommended := RecommendedChunkSize(target.EstimatedRows, target.RowsKnown, b.defaultChunk)
	effective := params.WithDefaults(b.defaults)
	if effective.ChunkSize < 0 || effective.ChunkSize > maxChunkSize {
		return nil, exception.NewValidationErrorf(moduleName, "chunk_size", "chunk size must be between 1 and %d, got %d", maxChunkSize, effective.ChunkSize)
	}
	if effective.ChunkSize == 0 {
		effective.ChunkSize = recommended
	}
	if err := validateParams(effective); err != nil {
		return nil, err
	}

	command := b.render(target, clause, effective, quoteArg(target.Password))
	preview := b.render(target, clause, effective, MaskedPassword)

	return &Result{
		Command:              command,
		Preview:              preview,
		AlterClause:          clause,
		Params:               effective,
		Risk:                 AnalyzeRisk(target, clause, effective.NoCheckAlter, effective.DryRun),
		EstimatedTime:        EstimateTime(target.EstimatedRows, target.RowsKnown),
		RecommendedChunkSize: recommended,
	}, nil
}

func validateTarget(t Target) error {
	switch {
	case t.Host == "":
		return exception.NewValidationError(moduleName, "host", "host is required")
	case !hostRe.MatchString(t.Host):
		return exception.NewValidationErrorf(moduleName, "host", "invalid host %q", t.Host)
	case t.Port < 1 || t.Port > 65535:
		return exception.NewValidationErrorf(moduleName, "port", "port must be between 1 and 65535, got %d", t.Port)
	case t.User == "":
		return exception.NewValidationError(moduleName, "user", "user is required")
	case t.Database == "":
		return exception.NewValidationError(moduleName, "database_name", "database name is required")
	case !identifierRe.MatchString(t.Database):
		return exception.NewValidationErrorf(moduleName, "database_name", "invalid database name %q", t.Database)
	case t.Table == "":
		return exception.NewValidationError(moduleName, "table_name", "table name is required")
	case !identifierRe.MatchString(t.Table):
		return exception.NewValidationErrorf(moduleName, "table_name", "invalid table name %q", t.Table)
	}
	return nil
}

func validateParams(p model.ExecutionParams) error {
	if p.Charset == "" {
		return exception.NewValidationError(moduleName, "charset", "charset is required")
	}
	if !charsetRe.MatchString(p.Charset) {
		return exception.NewValidationErrorf(moduleName, "charset", "invalid charset %q", p.Charset)
	}
	if p.MaxLoad != "" && !loadPredicateRe.MatchString(p.MaxLoad) {
		return exception.NewValidationErrorf(moduleName, "max_load", "malformed max load %q, expected e.g. Threads_running=25", p.MaxLoad)
	}
	if p.CriticalLoad != "" && !loadPredicateRe.MatchString(p.CriticalLoad) {
		return exception.NewValidationErrorf(moduleName, "critical_load", "malformed critical load %q, expected e.g. Threads_running=50", p.CriticalLoad)
	}
	if p.LockWaitTimeout < 0 {
		return exception.NewValidationErrorf(moduleName, "lock_wait_timeout", "lock wait timeout must not be negative, got %d", p.LockWaitTimeout)
	}
	return nil
}

// render emits flags in a fixed order. password is inserted as given.
func (b *Builder) render(t Target, clause string, p model.ExecutionParams, password string) string {
	parts := []string{
		b.tool,
		"--host=" + t.Host,
		fmt.Sprintf("--port=%d", t.Port),
		"--user=" + quoteArg(t.User),
		"--password=" + password,
		fmt.Sprintf("D=%s,t=%s", t.Database, t.Table),
		fmt.Sprintf("--alter=\"%s\"", escapeDoubleQuoted(clause)),
		fmt.Sprintf("--chunk-size=%d", p.ChunkSize),
	}
	if p.MaxLoad != "" {
		parts = append(parts, "--max-load="+p.MaxLoad)
	}
	if p.CriticalLoad != "" {
		parts = append(parts, "--critical-load="+p.CriticalLoad)
	}
	if b.checkInterval > 0 {
		parts = append(parts, fmt.Sprintf("--check-interval=%d", b.checkInterval))
	}
	if b.maxLag > 0 {
		parts = append(parts, fmt.Sprintf("--max-lag=%d", b.maxLag))
	}
	parts = append(parts, "--charset="+p.Charset)
	if b.progress != "" {
		parts = append(parts, "--progress="+b.progress)
	}
	if p.LockWaitTimeout > 0 {
		parts = append(parts, fmt.Sprintf("--set-vars=lock_wait_timeout=%d", p.LockWaitTimeout))
	}
	if p.NoCheckAlter {
		parts = append(parts, "--no-check-alter")
	}
	parts = append(parts, "--print")
	if p.DryRun {
		parts = append(parts, "--dry-run")
	} else {
		parts = append(parts, "--execute", "--drop-old-table")
	}
	parts = append(parts, "--statistics")
	return strings.Join(parts, Separator)
}

// PasswordArg returns the --password argument as it appears in a built command.
func PasswordArg(password string) string {
	return "--password=" + quoteArg(password)
}

// quoteArg single-quotes s for sh unless it consists only of safe characters.
func quoteArg(s string) string {
	if s == "" {
		return "''"
	}
	if safeArgRe.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// escapeDoubleQuoted escapes characters that sh interprets inside double quotes.
func escapeDoubleQuoted(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "$", `\$`, "`", "\\`")
	return r.Replace(s)
}
