package gcs

import (
	"go.uber.org/fx"

	storageAdapter "github.com/tigerroll/mysqler/pkg/osc/adapter/storage"
)

// Module registers the GCS storage provider.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		func() *GCSProvider { return NewGCSProvider() },
		fx.As(new(storageAdapter.StorageProvider)),
		fx.ResultTags(`group:"storage_providers"`),
	)),
)
