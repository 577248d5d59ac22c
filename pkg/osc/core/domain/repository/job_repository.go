package repository

import (
	"context"
	"errors"
	"time"

	model "github.com/tigerroll/mysqler/pkg/osc/core/domain/model"
	"github.com/tigerroll/mysqler/pkg/osc/support/util/exception"
)

// ErrJobNotFound is returned when a Job does not exist.
var ErrJobNotFound = errors.New("job not found")

func init() {
	exception.RegisterErrorType("ErrJobNotFound", ErrJobNotFound)
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 200
)

// JobFilter narrows List results. Zero values match everything.
type JobFilter struct {
	Statuses     []model.JobStatus
	ConnectionID string
	CreatedFrom  *time.Time
	CreatedTo    *time.Time
	// Keyword is matched as a substring of id, database name and table name.
	Keyword string
}

// Page selects a window of results; Number is 1-based.
type Page struct {
	Number int
	Size   int
}

// Normalize applies defaults and the maximum page size.
func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size <= 0 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	return p
}

// Offset returns the number of rows skipped before this page.
func (p Page) Offset() int {
	return (p.Number - 1) * p.Size
}

// JobPage is one page of List results.
type JobPage struct {
	Items []*model.Job `json:"items"`
	Total int64        `json:"total"`
	Page  int          `json:"page"`
	Size  int          `json:"size"`
}

// StatsFilter narrows Stats.
type StatsFilter struct {
	ConnectionID string
	CreatedFrom  *time.Time
	CreatedTo    *time.Time
}

// Stats aggregates job outcomes.
type Stats struct {
	Total              int64                     `json:"total"`
	ByStatus           map[model.JobStatus]int64 `json:"by_status"`
	SuccessRate        float64                   `json:"success_rate"`
	AvgDurationSeconds float64                   `json:"avg_duration_seconds"`
}

// ComputeSuccessRate fills SuccessRate as completed over terminal jobs, in percent.
func (s *Stats) ComputeSuccessRate() {
	var terminal int64
	for st, n := range s.ByStatus {
		if st.IsTerminal() {
			terminal += n
		}
	}
	if terminal == 0 {
		s.SuccessRate = 0
		return
	}
	s.SuccessRate = float64(s.ByStatus[model.StatusCompleted]) * 100 / float64(terminal)
}

// JobMutator modifies a Job inside Update. Returning an error aborts the update.
type JobMutator func(job *model.Job) error

// JobRepository is the durable record of every execution.
type JobRepository interface {
	// Create persists a new job in pending state, assigning an id when empty.
	Create(ctx context.Context, job *model.Job) error
	// Get returns the job or ErrJobNotFound.
	Get(ctx context.Context, id string) (*model.Job, error)
	// List returns jobs ordered by created_at DESC, id ASC.
	List(ctx context.Context, filter JobFilter, page Page) (*JobPage, error)
	// Update atomically applies mutate to the stored job and returns the result.
	Update(ctx context.Context, id string, mutate JobMutator) (*model.Job, error)
	// Delete removes a job and its logs. Running jobs are rejected with a ConflictError.
	Delete(ctx context.Context, id string) error

	AppendLog(ctx context.Context, id string, line string) error
	// Logs returns log lines with seq > afterSeq, at most limit (0 means all).
	Logs(ctx context.Context, id string, afterSeq int64, limit int) ([]model.LogLine, error)

	FindByStatus(ctx context.Context, status model.JobStatus) ([]*model.Job, error)
	Stats(ctx context.Context, filter StatsFilter) (*Stats, error)

	// Close releases resources used by the repository.
	Close() error
}

// MatchesFilter reports whether job satisfies filter. Used by stores that filter in memory.
func MatchesFilter(job *model.Job, f JobFilter) bool {
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if job.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.ConnectionID != "" && job.ConnectionID != f.ConnectionID {
		return false
	}
	if f.CreatedFrom != nil && job.CreatedAt.Before(*f.CreatedFrom) {
		return false
	}
	if f.CreatedTo != nil && job.CreatedAt.After(*f.CreatedTo) {
		return false
	}
	if f.Keyword != "" {
		if !containsFold(job.ID, f.Keyword) && !containsFold(job.DatabaseName, f.Keyword) && !containsFold(job.TableName, f.Keyword) {
			return false
		}
	}
	return true
}
