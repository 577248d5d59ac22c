// Package sql is the GORM-backed Job Store.
package sql

import (
	"context"
	stdsql "database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	model "github.com/tigerroll/mysqler/pkg/osc/core/domain/model"
	repository "github.com/tigerroll/mysqler/pkg/osc/core/domain/repository"
	"github.com/tigerroll/mysqler/pkg/osc/support/util/exception"
	"github.com/tigerroll/mysqler/pkg/osc/support/util/logger"
)

const module = "SQLJobRepository"

// likeEscaper escapes LIKE wildcards with '!', which every supported dialect accepts in ESCAPE.
var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

// SQLJobRepository implements repository.JobRepository on a *gorm.DB.
type SQLJobRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewSQLJobRepository creates a repository over db. The schema must already be migrated.
func NewSQLJobRepository(db *gorm.DB) *SQLJobRepository {
	return &SQLJobRepository{db: db, now: time.Now}
}

func storageErr(op string, err error) error {
	return exception.NewStorageError(module, fmt.Sprintf("%s failed", op), err, true)
}

func (r *SQLJobRepository) Create(ctx context.Context, job *model.Job) error {
	if job.ID == "" {
		job.ID = model.NewID()
	}
	now := r.now()
	job.Status = model.StatusPending
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = job.CreatedAt
	job.Version = 0

	if err := r.db.WithContext(ctx).Create(fromDomainJob(job)).Error; err != nil {
		return storageErr("create job "+job.ID, err)
	}
	return nil
}

func (r *SQLJobRepository) Get(ctx context.Context, id string) (*model.Job, error) {
	return r.get(r.db.WithContext(ctx), id)
}

func (r *SQLJobRepository) get(db *gorm.DB, id string) (*model.Job, error) {
	var entity JobEntity
	err := db.Where("id = ?", id).Take(&entity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrJobNotFound
	}
	if err != nil {
		return nil, storageErr("get job "+id, err)
	}
	return toDomainJob(&entity), nil
}

func applyFilter(q *gorm.DB, f repository.JobFilter) *gorm.DB {
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		q = q.Where("status IN ?", statuses)
	}
	if f.ConnectionID != "" {
		q = q.Where("connection_id = ?", f.ConnectionID)
	}
	if f.CreatedFrom != nil {
		q = q.Where("created_at >= ?", f.CreatedFrom.UTC())
	}
	if f.CreatedTo != nil {
		q = q.Where("created_at <= ?", f.CreatedTo.UTC())
	}
	if f.Keyword != "" {
		kw := "%" + likeEscaper.Replace(strings.ToLower(f.Keyword)) + "%"
		q = q.Where("(LOWER(id) LIKE ? ESCAPE '!' OR LOWER(database_name) LIKE ? ESCAPE '!' OR LOWER(table_name) LIKE ? ESCAPE '!')", kw, kw, kw)
	}
	return q
}

func (r *SQLJobRepository) List(ctx context.Context, f repository.JobFilter, page repository.Page) (*repository.JobPage, error) {
	page = page.Normalize()
	base := applyFilter(r.db.WithContext(ctx).Model(&JobEntity{}), f)

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, storageErr("count jobs", err)
	}

	var entities []JobEntity
	err := base.Session(&gorm.Session{}).
		Order("created_at DESC").Order("id ASC").
		Offset(page.Offset()).Limit(page.Size).
		Find(&entities).Error
	if err != nil {
		return nil, storageErr("list jobs", err)
	}

	items := make([]*model.Job, 0, len(entities))
	for i := range entities {
		items = append(items, toDomainJob(&entities[i]))
	}
	return &repository.JobPage{Items: items, Total: total, Page: page.Number, Size: page.Size}, nil
}

// Update reads, mutates and writes the job in one transaction. The write is conditional on the
// version read, so a concurrent writer surfaces as an optimistic locking failure.
func (r *SQLJobRepository) Update(ctx context.Context, id string, mutate repository.JobMutator) (*model.Job, error) {
	var updated *model.Job
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		job, err := r.get(tx, id)
		if err != nil {
			return err
		}
		originalVersion := job.Version
		if err := mutate(job); err != nil {
			return err
		}
		job.ID = id
		job.Version = originalVersion + 1
		if job.UpdatedAt.IsZero() {
			job.UpdatedAt = r.now()
		}

		res := tx.Model(&JobEntity{}).
			Where("id = ? AND version = ?", id, originalVersion).
			Select("*").Omit("id", "created_at").
			Updates(fromDomainJob(job))
		if res.Error != nil {
			return storageErr("update job "+id, res.Error)
		}
		if res.RowsAffected == 0 {
			return exception.NewOptimisticLockingFailure(module,
				fmt.Sprintf("job %s with version %d was modified concurrently", id, originalVersion))
		}
		updated = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *SQLJobRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		job, err := r.get(tx, id)
		if err != nil {
			return err
		}
		if job.Status == model.StatusRunning {
			return exception.NewConflictError(module, id, fmt.Sprintf("job %s is running and cannot be deleted", id))
		}
		if err := tx.Where("job_id = ?", id).Delete(&JobLogEntity{}).Error; err != nil {
			return storageErr("delete logs of "+id, err)
		}
		if err := tx.Where("id = ?", id).Delete(&JobEntity{}).Error; err != nil {
			return storageErr("delete job "+id, err)
		}
		return nil
	})
}

// AppendLog assigns the next per-job sequence number. Callers serialize appends per job.
func (r *SQLJobRepository) AppendLog(ctx context.Context, id string, line string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxSeq int64
		row := tx.Model(&JobLogEntity{}).Where("job_id = ?", id).Select("COALESCE(MAX(seq), 0)").Row()
		if err := row.Scan(&maxSeq); err != nil {
			return storageErr("read log sequence of "+id, err)
		}
		entry := &JobLogEntity{JobID: id, Seq: maxSeq + 1, Line: line, CreatedAt: r.now().UTC()}
		if err := tx.Create(entry).Error; err != nil {
			return storageErr("append log of "+id, err)
		}
		return nil
	})
}

func (r *SQLJobRepository) Logs(ctx context.Context, id string, afterSeq int64, limit int) ([]model.LogLine, error) {
	q := r.db.WithContext(ctx).Where("job_id = ? AND seq > ?", id, afterSeq).Order("seq ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var entities []JobLogEntity
	if err := q.Find(&entities).Error; err != nil {
		return nil, storageErr("read logs of "+id, err)
	}
	lines := make([]model.LogLine, 0, len(entities))
	for i := range entities {
		lines = append(lines, toDomainLogLine(&entities[i]))
	}
	return lines, nil
}

func (r *SQLJobRepository) FindByStatus(ctx context.Context, status model.JobStatus) ([]*model.Job, error) {
	var entities []JobEntity
	err := r.db.WithContext(ctx).
		Where("status = ?", string(status)).
		Order("created_at DESC").Order("id ASC").
		Find(&entities).Error
	if err != nil {
		return nil, storageErr("find jobs by status", err)
	}
	jobs := make([]*model.Job, 0, len(entities))
	for i := range entities {
		jobs = append(jobs, toDomainJob(&entities[i]))
	}
	return jobs, nil
}

type statusCount struct {
	Status string
	Count  int64
}

func (r *SQLJobRepository) Stats(ctx context.Context, f repository.StatsFilter) (*repository.Stats, error) {
	filter := repository.JobFilter{ConnectionID: f.ConnectionID, CreatedFrom: f.CreatedFrom, CreatedTo: f.CreatedTo}

	var counts []statusCount
	err := applyFilter(r.db.WithContext(ctx).Model(&JobEntity{}), filter).
		Select("status, COUNT(*) AS count").Group("status").
		Scan(&counts).Error
	if err != nil {
		return nil, storageErr("count jobs by status", err)
	}

	stats := &repository.Stats{ByStatus: make(map[model.JobStatus]int64, len(model.AllStatuses))}
	for _, s := range model.AllStatuses {
		stats.ByStatus[s] = 0
	}
	for _, c := range counts {
		stats.ByStatus[model.JobStatus(c.Status)] = c.Count
		stats.Total += c.Count
	}

	var avg stdsql.NullFloat64
	row := applyFilter(r.db.WithContext(ctx).Model(&JobEntity{}), filter).
		Where("status = ? AND duration_seconds IS NOT NULL", string(model.StatusCompleted)).
		Select("AVG(duration_seconds)").
		Row()
	if err := row.Scan(&avg); err != nil {
		return nil, storageErr("average duration", err)
	}
	if avg.Valid {
		stats.AvgDurationSeconds = avg.Float64
	}
	stats.ComputeSuccessRate()
	return stats, nil
}

// Close is a no-op: the connection belongs to the database provider.
func (r *SQLJobRepository) Close() error {
	logger.Debugf("%s: closed", module)
	return nil
}

var _ repository.JobRepository = (*SQLJobRepository)(nil)
