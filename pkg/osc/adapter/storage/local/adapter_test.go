package local_test

import (
	"context"
	"io"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storageAdapter "github.com/tigerroll/mysqler/pkg/osc/adapter/storage"
	"github.com/tigerroll/mysqler/pkg/osc/adapter/storage/local"
)

func TestLocalAdapter_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	resolver := storageAdapter.NewStorageResolverFrom(
		map[string]storageAdapter.StorageConfig{"archive": {Type: local.ProviderType, BaseDir: dir, BucketName: "logs"}},
		[]storageAdapter.StorageProvider{local.NewLocalProvider()},
	)
	ctx := context.Background()
	conn, err := resolver.ResolveStorageConnection(ctx, "archive")
	require.NoError(t, err)

	require.NoError(t, conn.Upload(ctx, "", "job-logs/j1.log", strings.NewReader("line 1\nline 2\n"), "text/plain"))
	require.NoError(t, conn.Upload(ctx, "", "job-logs/j2.log", strings.NewReader("x"), "text/plain"))
	require.NoError(t, conn.Upload(ctx, "", "exports/h.parquet", strings.NewReader("p"), "application/octet-stream"))

	rc, err := conn.Download(ctx, "", "job-logs/j1.log")
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "line 1\nline 2\n", string(body))

	var names []string
	require.NoError(t, conn.ListObjects(ctx, "", "job-logs/", func(name string) error {
		names = append(names, name)
		return nil
	}))
	sort.Strings(names)
	assert.Equal(t, []string{"job-logs/j1.log", "job-logs/j2.log"}, names)

	require.NoError(t, conn.DeleteObject(ctx, "", "job-logs/j1.log"))
	require.NoError(t, conn.DeleteObject(ctx, "", "job-logs/j1.log"))
	_, err = conn.Download(ctx, "", "job-logs/j1.log")
	assert.Error(t, err)

	again, err := resolver.ResolveStorageConnection(ctx, "archive")
	require.NoError(t, err)
	assert.Same(t, conn, again)
	require.NoError(t, resolver.CloseAll())
}

func TestLocalAdapter_RejectsEscapingPaths(t *testing.T) {
	conn, err := local.NewLocalAdapter(storageAdapter.StorageConfig{Type: local.ProviderType, BaseDir: t.TempDir()}, "x")
	require.NoError(t, err)
	err = conn.Upload(context.Background(), "", "../../etc/passwd", strings.NewReader("nope"), "text/plain")
	assert.Error(t, err)
}

func TestResolver_UnknownNameOrType(t *testing.T) {
	resolver := storageAdapter.NewStorageResolverFrom(
		map[string]storageAdapter.StorageConfig{"remote": {Type: "s3"}},
		[]storageAdapter.StorageProvider{local.NewLocalProvider()},
	)
	_, err := resolver.ResolveStorageConnection(context.Background(), "missing")
	assert.Error(t, err)
	_, err = resolver.ResolveStorageConnection(context.Background(), "remote")
	assert.ErrorContains(t, err, "no storage provider")
}
