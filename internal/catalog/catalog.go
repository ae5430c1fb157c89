// Package catalog implements the per-tenant container image catalog: keyed
// CRUD over the bucket store, the datacenter-wide ancestry refcount query
// that gates layer reclamation, and the versioned schema migrations applied
// at startup.
package catalog

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/wharfside/imagecat/internal/logging"
	"github.com/wharfside/imagecat/internal/store"
)

// ImagesBucket declares the image catalog bucket. Version 4 reflects the
// three migrations in imageMigrations; bumping it without appending a step
// is a programming error.
var ImagesBucket = store.BucketSchema{
	Name:    "docker_images",
	Version: 4,
	Index: map[string]store.IndexField{
		"owner_uuid": {Type: store.FieldString},
		"index_name": {Type: store.FieldString},
		"docker_id":  {Type: store.FieldString},
		"image_uuid": {Type: store.FieldString},
		"heads":      {Type: store.FieldStringArray},
	},
}

// LinksBucket declares the container link bucket. Version 1, never bumped.
var LinksBucket = store.BucketSchema{
	Name:    "docker_links",
	Version: 1,
	Index: map[string]store.IndexField{
		"owner_uuid":     {Type: store.FieldString},
		"container_uuid": {Type: store.FieldString},
	},
}

// Catalog is the handle returned by New once both buckets are initialized
// and migrated. All CRUD goes through it; constructing one per process,
// before serving traffic, is the caller's responsibility.
type Catalog struct {
	store  *store.Store
	logger *zerolog.Logger
}

// New initializes the image and link buckets and, when the store reports a
// schema version bump for the image bucket, streams all existing records
// through the ordered migrations. A migration failure leaves the bucket in
// an indeterminate state and must be treated as fatal by the caller.
func New(ctx context.Context, st *store.Store, logger *zerolog.Logger) (*Catalog, error) {
	if logger == nil {
		logger = logging.NewLogger("info", "component", "Catalog")
	}
	c := &Catalog{store: st, logger: logger}

	res, err := st.InitBucket(ctx, ImagesBucket)
	if err != nil {
		return nil, fmt.Errorf("init bucket %s: %w", ImagesBucket.Name, err)
	}
	if res.Updated {
		req := store.MigrateRequest{
			Bucket:   ImagesBucket.Name,
			Previous: res.Previous,
			Steps:    imageMigrations(),
		}
		if err := st.MigrateObjects(ctx, req); err != nil {
			return nil, fmt.Errorf("migrate bucket %s: %w", ImagesBucket.Name, err)
		}
	}

	if _, err := st.InitBucket(ctx, LinksBucket); err != nil {
		return nil, fmt.Errorf("init bucket %s: %w", LinksBucket.Name, err)
	}
	return c, nil
}
