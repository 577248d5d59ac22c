package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// ExecutionParams are the tunables passed to the schema-change tool.
type ExecutionParams struct {
	ChunkSize       int               `json:"chunk_size" yaml:"chunk_size"`
	MaxLoad         string            `json:"max_load" yaml:"max_load"`
	CriticalLoad    string            `json:"critical_load" yaml:"critical_load"`
	Charset         string            `json:"charset" yaml:"charset"`
	LockWaitTimeout int               `json:"lock_wait_timeout" yaml:"lock_wait_timeout"`
	NoCheckAlter    bool              `json:"no_check_alter" yaml:"no_check_alter"`
	DryRun          bool              `json:"dry_run" yaml:"dry_run"`
	OtherParams     map[string]string `json:"other_params,omitempty" yaml:"other_params"`
}

// WithDefaults fills zero-valued string and numeric fields from defaults.
// ChunkSize is left alone: zero means "recommend one" to the command builder.
func (p ExecutionParams) WithDefaults(defaults ExecutionParams) ExecutionParams {
	out := p.Clone()
	if out.MaxLoad == "" {
		out.MaxLoad = defaults.MaxLoad
	}
	if out.CriticalLoad == "" {
		out.CriticalLoad = defaults.CriticalLoad
	}
	if out.Charset == "" {
		out.Charset = defaults.Charset
	}
	if out.LockWaitTimeout == 0 {
		out.LockWaitTimeout = defaults.LockWaitTimeout
	}
	return out
}

// Clone returns a deep copy.
func (p ExecutionParams) Clone() ExecutionParams {
	c := p
	if p.OtherParams != nil {
		c.OtherParams = make(map[string]string, len(p.OtherParams))
		for k, v := range p.OtherParams {
			c.OtherParams[k] = v
		}
	}
	return c
}

// Value implements driver.Valuer, storing the params as JSON.
func (p ExecutionParams) Value() (driver.Value, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (p *ExecutionParams) Scan(value interface{}) error {
	if value == nil {
		*p = ExecutionParams{}
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for ExecutionParams: %T", value)
	}
	if len(b) == 0 {
		*p = ExecutionParams{}
		return nil
	}
	if err := json.Unmarshal(b, p); err != nil {
		return fmt.Errorf("failed to unmarshal ExecutionParams JSON: %w", err)
	}
	return nil
}
