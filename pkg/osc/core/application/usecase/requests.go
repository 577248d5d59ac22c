package usecase

import (
	"github.com/tigerroll/mysqler/pkg/osc/core/command"
	model "github.com/tigerroll/mysqler/pkg/osc/core/domain/model"
)

// CreateRequest describes a schema change to preview or create.
type CreateRequest struct {
	ConnectionID string                `json:"connection_id"`
	DatabaseName string                `json:"database_name"`
	TableName    string                `json:"table_name"`
	DDLType      model.DDLType         `json:"ddl_type"`
	OriginalDDL  *string               `json:"original_ddl,omitempty"`
	Params       model.ExecutionParams `json:"execution_params"`
}

func (r CreateRequest) intent() command.Intent {
	return command.Intent{Type: r.DDLType, OriginalDDL: r.OriginalDDL}
}

func (r CreateRequest) target() model.TargetKey {
	return model.TargetKey{ConnectionID: r.ConnectionID, Database: r.DatabaseName, Table: r.TableName}
}

// PreviewResult is a validated command with its annotations. No job is created.
type PreviewResult struct {
	*command.Result
	ConnectionID  string `json:"connection_id"`
	DatabaseName  string `json:"database_name"`
	TableName     string `json:"table_name"`
	TotalRows     int64  `json:"total_rows"`
	RowCountKnown bool   `json:"row_count_known"`
	// ActiveJobID is set when another job is currently running against the same table.
	ActiveJobID string `json:"active_job_id,omitempty"`
}
