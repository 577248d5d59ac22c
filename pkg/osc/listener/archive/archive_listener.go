// Package archive uploads the captured output of finished jobs to object storage.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/fx"

	storageAdapter "github.com/tigerroll/mysqler/pkg/osc/adapter/storage"
	"github.com/tigerroll/mysqler/pkg/osc/core/application/port"
	"github.com/tigerroll/mysqler/pkg/osc/core/config"
	model "github.com/tigerroll/mysqler/pkg/osc/core/domain/model"
	"github.com/tigerroll/mysqler/pkg/osc/core/domain/repository"
	"github.com/tigerroll/mysqler/pkg/osc/support/util/logger"
)

const contentType = "text/plain; charset=utf-8"

// ArchiveJobListener copies a job's log to `<prefix><job id>.log` once the job reaches a terminal status.
// Uploads run on a single worker so the controller is never blocked by storage.
type ArchiveJobListener struct {
	cfg      *config.ArchiveConfig
	store    repository.JobRepository
	resolver storageAdapter.StorageConnectionResolver

	queue   chan string
	wg      sync.WaitGroup
	closeMu sync.Mutex
	closed  bool
	errMu   sync.Mutex
	errs    *multierror.Error
}

func NewArchiveJobListener(cfg *config.ArchiveConfig, store repository.JobRepository, resolver storageAdapter.StorageConnectionResolver) *ArchiveJobListener {
	l := &ArchiveJobListener{
		cfg:      cfg,
		store:    store,
		resolver: resolver,
		queue:    make(chan string, 64),
	}
	l.wg.Add(1)
	go l.run()
	return l
}

func (l *ArchiveJobListener) OnJobStarted(ctx context.Context, job *model.Job) {}

func (l *ArchiveJobListener) OnJobFinished(ctx context.Context, job *model.Job) {
	if !l.cfg.Enabled {
		return
	}
	l.closeMu.Lock()
	defer l.closeMu.Unlock()
	if l.closed {
		logger.Warnf("ArchiveJobListener: closed, log of job %s not archived", job.ID)
		return
	}
	select {
	case l.queue <- job.ID:
	default:
		logger.Warnf("ArchiveJobListener: queue full, log of job %s not archived", job.ID)
	}
}

func (l *ArchiveJobListener) run() {
	defer l.wg.Done()
	for id := range l.queue {
		if err := l.Archive(context.Background(), id); err != nil {
			logger.Errorf("ArchiveJobListener: %v", err)
			l.errMu.Lock()
			l.errs = multierror.Append(l.errs, err)
			l.errMu.Unlock()
		}
	}
}

// ObjectName returns the object the log of jobID is stored under.
func (l *ArchiveJobListener) ObjectName(jobID string) string {
	return l.cfg.Prefix + jobID + ".log"
}

// Archive uploads the full log of one job.
func (l *ArchiveJobListener) Archive(ctx context.Context, jobID string) error {
	lines, err := l.store.Logs(ctx, jobID, 0, 0)
	if err != nil {
		return fmt.Errorf("read log of job %s: %w", jobID, err)
	}
	var buf bytes.Buffer
	for _, line := range lines {
		buf.WriteString(line.Line)
		buf.WriteByte('\n')
	}
	conn, err := l.resolver.ResolveStorageConnection(ctx, l.cfg.StorageRef)
	if err != nil {
		return fmt.Errorf("resolve storage %q: %w", l.cfg.StorageRef, err)
	}
	name := l.ObjectName(jobID)
	if err := conn.Upload(ctx, l.cfg.Bucket, name, &buf, contentType); err != nil {
		return fmt.Errorf("upload %s: %w", name, err)
	}
	logger.Debugf("ArchiveJobListener: Archived %d lines of job %s to %s", len(lines), jobID, name)
	return nil
}

// Close drains pending uploads and returns the accumulated upload errors.
func (l *ArchiveJobListener) Close() error {
	l.closeMu.Lock()
	if !l.closed {
		l.closed = true
		close(l.queue)
	}
	l.closeMu.Unlock()
	l.wg.Wait()

	l.errMu.Lock()
	defer l.errMu.Unlock()
	return l.errs.ErrorOrNil()
}

var _ port.JobListener = (*ArchiveJobListener)(nil)

// NewArchiveJobListenerWithLifecycle closes the listener when the application stops.
func NewArchiveJobListenerWithLifecycle(lc fx.Lifecycle, cfg *config.ArchiveConfig, store repository.JobRepository, resolver storageAdapter.StorageConnectionResolver) *ArchiveJobListener {
	l := NewArchiveJobListener(cfg, store, resolver)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return l.Close()
		},
	})
	return l
}
