package command

import (
	"regexp"
	"strings"

	model "github.com/tigerroll/mysqler/pkg/osc/core/domain/model"
	"github.com/tigerroll/mysqler/pkg/osc/support/util/exception"
)

// FragmentClause rebuilds the table in place to reclaim space.
const FragmentClause = "ENGINE=InnoDB"

var (
	alterPrefixRe = regexp.MustCompile(`(?is)^\s*ALTER\s+TABLE\s+(\S+)\s+(.+)$`)
	whitespaceRe  = regexp.MustCompile(`\s+`)
	assignRe      = regexp.MustCompile(`\s*=\s*`)

	dangerousOps = []struct {
		re   *regexp.Regexp
		name string
	}{
		{regexp.MustCompile(`\bDROP TABLE\b`), "DROP TABLE"},
		{regexp.MustCompile(`\bTRUNCATE\b`), "TRUNCATE"},
		{regexp.MustCompile(`\bDELETE\b`), "DELETE"},
	}

	allowedOps = []string{
		"ADD COLUMN", "ADD INDEX", "ADD KEY", "ADD UNIQUE",
		"DROP COLUMN", "DROP INDEX", "DROP KEY",
		"MODIFY COLUMN", "CHANGE COLUMN", "ALTER COLUMN",
		"ENGINE=", "AUTO_INCREMENT=", "COMMENT=",
		"ADD CONSTRAINT", "DROP CONSTRAINT",
		"ADD PRIMARY KEY", "DROP PRIMARY KEY",
	}

	// typedOps are the operations a typed intent must contain.
	typedOps = map[model.DDLType][]string{
		model.DDLAddColumn:    {"ADD COLUMN"},
		model.DDLModifyColumn: {"MODIFY COLUMN", "CHANGE COLUMN", "ALTER COLUMN"},
		model.DDLDropColumn:   {"DROP COLUMN"},
		model.DDLAddIndex:     {"ADD INDEX", "ADD KEY", "ADD UNIQUE", "ADD PRIMARY KEY"},
		model.DDLDropIndex:    {"DROP INDEX", "DROP KEY", "DROP PRIMARY KEY"},
	}
)

// NormalizeAlter trims a user supplied statement down to the clause passed to --alter.
// A trailing semicolon and a leading "ALTER TABLE <name>" are removed.
func NormalizeAlter(ddl string) string {
	sql := strings.TrimSpace(ddl)
	sql = strings.TrimSpace(strings.TrimSuffix(sql, ";"))
	if m := alterPrefixRe.FindStringSubmatch(sql); len(m) == 3 {
		sql = strings.TrimSpace(m[2])
	}
	return sql
}

// canonical upper-cases sql and collapses whitespace so keyword checks are layout independent.
func canonical(sql string) string {
	upper := whitespaceRe.ReplaceAllString(strings.ToUpper(sql), " ")
	return assignRe.ReplaceAllString(upper, "=")
}

// AlterClause resolves the --alter clause for an intent.
func AlterClause(intent Intent) (string, error) {
	if !intent.Type.IsValid() {
		return "", exception.NewValidationErrorf(moduleName, "ddl_type", "unsupported DDL type %q", intent.Type)
	}
	if intent.Type == model.DDLFragment {
		return FragmentClause, nil
	}
	if intent.OriginalDDL == nil || strings.TrimSpace(*intent.OriginalDDL) == "" {
		return "", exception.NewValidationErrorf(moduleName, "original_ddl", "original DDL is required for %s", intent.Type)
	}

	clause := NormalizeAlter(*intent.OriginalDDL)
	if clause == "" {
		return "", exception.NewValidationError(moduleName, "original_ddl", "ALTER clause is empty")
	}
	upper := canonical(clause)

	for _, op := range dangerousOps {
		if op.re.MatchString(upper) {
			return "", exception.NewValidationErrorf(moduleName, "original_ddl", "%s is not allowed", op.name)
		}
	}
	if !containsAny(upper, allowedOps) {
		return "", exception.NewValidationError(moduleName, "original_ddl", "unsupported ALTER operation")
	}
	if required, ok := typedOps[intent.Type]; ok && !containsAny(upper, required) {
		return "", exception.NewValidationErrorf(moduleName, "ddl_type",
			"DDL type %s requires one of %s", intent.Type, strings.Join(required, ", "))
	}
	return clause, nil
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
