package catalog

import (
	"strings"

	"github.com/wharfside/imagecat/internal/store"
	"github.com/wharfside/imagecat/internal/utils"
	"github.com/wharfside/imagecat/pkg/model"
)

// imageMigrations returns the ordered migration steps for the image bucket.
// Every step is idempotent: re-running it against an already-migrated record
// enqueues nothing (or rewrites the record to the identical value).
func imageMigrations() []store.MigrationStep {
	return []store.MigrationStep{
		{Version: 2, Apply: migrateAddIndexName},
		{Version: 3, Apply: migrateRecomputeImageUUID},
		{Version: 4, Apply: migrateRelocateKey},
	}
}

// migrateAddIndexName backfills index_name with the historical default for
// records created before multi-index support.
func migrateAddIndexName(bucket, key string, value map[string]any, b *store.Batch) (string, error) {
	if utils.PropOr(value, "index_name", "") != "" {
		return key, nil
	}
	value["index_name"] = model.DefaultIndexName
	b.Append(store.WriteOp{Bucket: bucket, Key: key, Value: value})
	return key, nil
}

// migrateRecomputeImageUUID rewrites image_uuid from (docker_id,
// index_name). Idempotent because the derivation is deterministic, not
// because of a precondition check.
func migrateRecomputeImageUUID(bucket, key string, value map[string]any, b *store.Batch) (string, error) {
	value["image_uuid"] = model.ImageUUIDFromDockerInfo(
		utils.PropOr(value, "docker_id", ""),
		utils.PropOr(value, "index_name", ""),
	)
	b.Append(store.WriteOp{Bucket: bucket, Key: key, Value: value})
	return key, nil
}

// migrateRelocateKey moves records from the old (owner_uuid, docker_id) key
// to the (owner_uuid, index_name, docker_id) key. A migrated key embeds one
// extra dash-delimited component plus the index name's own dashes, so more
// than 6 components means the record has already been relocated.
func migrateRelocateKey(bucket, key string, value map[string]any, b *store.Batch) (string, error) {
	if len(strings.Split(key, "-")) > 6 {
		return key, nil
	}
	newKey, err := model.ImageKey(
		utils.PropOr(value, "owner_uuid", ""),
		utils.PropOr(value, "index_name", ""),
		utils.PropOr(value, "docker_id", ""),
	)
	if err != nil {
		return key, err
	}
	b.Append(store.WriteOp{Bucket: bucket, Key: newKey, Value: value})
	b.Append(store.WriteOp{Bucket: bucket, Key: key, Delete: true})
	return newKey, nil
}
