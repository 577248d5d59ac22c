// Package export writes job history to Parquet files in object storage.
package export

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	storageAdapter "github.com/tigerroll/mysqler/pkg/osc/adapter/storage"
	"github.com/tigerroll/mysqler/pkg/osc/core/config"
	"github.com/tigerroll/mysqler/pkg/osc/core/domain/repository"
	"github.com/tigerroll/mysqler/pkg/osc/support/util/exception"
	"github.com/tigerroll/mysqler/pkg/osc/support/util/logger"
)

const (
	moduleName  = "export"
	contentType = "application/octet-stream"
	// pageSize is the List page used while scanning the store.
	pageSize = repository.MaxPageSize
)

// Result describes one export run.
type Result struct {
	Objects []string `json:"objects"`
	Rows    int64    `json:"rows"`
}

// HistoryExporter scans the job store and uploads one Parquet file per creation day.
type HistoryExporter struct {
	cfg      *config.ExportConfig
	store    repository.JobRepository
	resolver storageAdapter.StorageConnectionResolver
	now      func() time.Time
}

func NewHistoryExporter(cfg *config.ExportConfig, store repository.JobRepository, resolver storageAdapter.StorageConnectionResolver) *HistoryExporter {
	return &HistoryExporter{
		cfg:      cfg,
		store:    store,
		resolver: resolver,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Export writes every job matching filter. Running and pending jobs are included with their
// current state. Partitions are written independently; failures are aggregated.
func (e *HistoryExporter) Export(ctx context.Context, filter repository.JobFilter) (*Result, error) {
	codec, err := compressionCodec(e.cfg.Compression)
	if err != nil {
		return nil, exception.NewValidationError(moduleName, "compression", err.Error())
	}
	if e.cfg.StorageRef == "" {
		return nil, exception.NewValidationError(moduleName, "storage_ref", "export storage is not configured")
	}

	partitions, total, err := e.collect(ctx, filter)
	if err != nil {
		return nil, err
	}
	result := &Result{Objects: []string{}}
	if total == 0 {
		logger.Infof("HistoryExporter: No jobs matched, nothing exported.")
		return result, nil
	}

	conn, err := e.resolver.ResolveStorageConnection(ctx, e.cfg.StorageRef)
	if err != nil {
		return nil, exception.NewStorageError(moduleName, fmt.Sprintf("failed to resolve storage '%s'", e.cfg.StorageRef), err, false)
	}

	keys := make([]string, 0, len(partitions))
	for k := range partitions {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	stamp := e.now().Format("20060102150405")
	var multiErr error
	for _, key := range keys {
		rows := partitions[key]
		buf, err := e.encode(rows, codec)
		if err != nil {
			multiErr = multierror.Append(multiErr, fmt.Errorf("partition %s: %w", key, err))
			continue
		}
		name := path.Join(e.cfg.Prefix, key, fmt.Sprintf("jobs_%s_%s.parquet", stamp, uuid.NewString()[:8]))
		if err := conn.Upload(ctx, e.cfg.Bucket, name, buf, contentType); err != nil {
			multiErr = multierror.Append(multiErr, fmt.Errorf("upload %s: %w", name, err))
			continue
		}
		logger.Infof("HistoryExporter: Uploaded %d jobs to %s", len(rows), name)
		result.Objects = append(result.Objects, name)
		result.Rows += int64(len(rows))
	}
	if multiErr != nil {
		return result, exception.NewStorageError(moduleName, "history export incomplete", multiErr, true)
	}
	return result, nil
}

func (e *HistoryExporter) collect(ctx context.Context, filter repository.JobFilter) (map[string][]HistoryRow, int, error) {
	partitions := make(map[string][]HistoryRow)
	total := 0
	for number := 1; ; number++ {
		page, err := e.store.List(ctx, filter, repository.Page{Number: number, Size: pageSize})
		if err != nil {
			return nil, 0, err
		}
		for _, job := range page.Items {
			partitions[partitionKey(job)] = append(partitions[partitionKey(job)], NewHistoryRow(job))
		}
		total += len(page.Items)
		if len(page.Items) < pageSize || int64(total) >= page.Total {
			return partitions, total, nil
		}
	}
}

// encode serializes rows into an in-memory Parquet file.
func (e *HistoryExporter) encode(rows []HistoryRow, codec parquet.CompressionCodec) (buf *bytes.Buffer, err error) {
	np := e.cfg.Parallelism
	if np <= 0 {
		np = 1
	}
	buf = new(bytes.Buffer)
	pw, err := writer.NewParquetWriterFromWriter(buf, new(HistoryRow), np)
	if err != nil {
		return nil, err
	}
	pw.CompressionType = codec
	for _, row := range rows {
		if err := pw.Write(row); err != nil {
			return nil, err
		}
	}
	// WriteStop can panic on schema mismatches inside the library.
	defer func() {
		if r := recover(); r != nil {
			buf, err = nil, fmt.Errorf("parquet writer panicked: %v", r)
		}
	}()
	if err := pw.WriteStop(); err != nil {
		return nil, err
	}
	return buf, nil
}

func compressionCodec(name string) (parquet.CompressionCodec, error) {
	switch strings.ToUpper(name) {
	case "SNAPPY":
		return parquet.CompressionCodec_SNAPPY, nil
	case "GZIP":
		return parquet.CompressionCodec_GZIP, nil
	case "NONE", "":
		return parquet.CompressionCodec_UNCOMPRESSED, nil
	default:
		return 0, fmt.Errorf("unsupported compression type: %s", name)
	}
}
