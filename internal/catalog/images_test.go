package catalog

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/wharfside/imagecat/internal/logging"
	"github.com/wharfside/imagecat/internal/store"
	"github.com/wharfside/imagecat/pkg/model"
)

const ownerA = "930896af-bf8c-48d4-885c-6573a94b1853"
const ownerB = "a6a9e830-2091-4e32-b1c4-af30b00bbd4d"

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	driver := os.Getenv("DATABASE_DRIVER")
	if driver == "" {
		driver = "sqlite"
	}
	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" {
		// file-backed so concurrent writers serialize instead of hitting
		// shared-cache table locks
		dsn = fmt.Sprintf("file:%s/catalog.db?_busy_timeout=5000", t.TempDir())
	}
	var db *gorm.DB
	var err error
	if driver == "sqlite" {
		db, err = gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	} else if driver == "postgres" {
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	} else {
		t.Fatalf("Unsupported database driver: %s", driver)
	}
	require.NoError(t, err)
	st, err := store.New(db, logging.NewLogger("warn", "component", "CatalogTest"))
	require.NoError(t, err)
	return st
}

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	cat, err := New(context.Background(), openTestStore(t), nil)
	require.NoError(t, err)
	return cat
}

func imageParams(owner, dockerID string, heads []string) map[string]any {
	return map[string]any{
		"owner_uuid":   owner,
		"index_name":   "docker.io",
		"docker_id":    dockerID,
		"image_uuid":   model.ImageUUIDFromDockerInfo(dockerID, "docker.io"),
		"created":      int64(1461443657000),
		"size":         int64(1024),
		"virtual_size": int64(4096),
		"head":         false,
		"heads":        heads,
	}
}

func TestImageCRUD(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()

	t.Run("01 Create", func(t *testing.T) {
		img, err := cat.CreateImage(ctx, imageParams(ownerA, "abc123", []string{"abc123"}))
		require.NoError(t, err)
		assert.Equal(t, ownerA+"-docker.io-abc123", img.Key())
		assert.Equal(t, 1, img.Refcount())
	})

	t.Run("02 ListByOwner", func(t *testing.T) {
		imgs, err := cat.ListImages(ctx, store.Filter{Eq: map[string]any{"owner_uuid": ownerA}})
		require.NoError(t, err)
		require.Len(t, imgs, 1)
		assert.Equal(t, "abc123", imgs[0].DockerID())
	})

	t.Run("03 EmptyFilterEqualsWildcard", func(t *testing.T) {
		all, err := cat.ListImages(ctx, store.Filter{})
		require.NoError(t, err)
		wild, err := cat.ListImages(ctx, store.Filter{Raw: "(docker_id=*)"})
		require.NoError(t, err)
		require.Len(t, all, len(wild))
		for i := range all {
			assert.Equal(t, wild[i].Key(), all[i].Key())
		}
	})

	t.Run("04 CrossOwnerLookupByImageUUID", func(t *testing.T) {
		_, err := cat.CreateImage(ctx, imageParams(ownerB, "abc123", nil))
		require.NoError(t, err)
		imgs, err := cat.ListImages(ctx, store.Filter{Eq: map[string]any{
			"image_uuid": model.ImageUUIDFromDockerInfo("abc123", "docker.io"),
		}})
		require.NoError(t, err)
		assert.Len(t, imgs, 2, "same (docker_id, index_name) derives the same uuid for both owners")
	})

	t.Run("05 UpdateReplacesValueKeepsIdentity", func(t *testing.T) {
		params := imageParams(ownerA, "abc123", []string{"abc123", "new-head"})
		params["size"] = int64(2048)
		img, err := cat.UpdateImage(ctx, params)
		require.NoError(t, err)
		assert.Equal(t, ownerA+"-docker.io-abc123", img.Key())
		assert.Equal(t, int64(2048), img.Size())
		assert.Equal(t, 2, img.Refcount())
	})

	t.Run("06 UpdateMissing", func(t *testing.T) {
		_, err := cat.UpdateImage(ctx, imageParams(ownerA, "nope999", nil))
		require.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("07 Delete", func(t *testing.T) {
		err := cat.DeleteImage(ctx, map[string]any{
			"owner_uuid": ownerB,
			"index_name": "docker.io",
			"docker_id":  "abc123",
		})
		require.NoError(t, err)
		imgs, err := cat.ListImages(ctx, store.Filter{Eq: map[string]any{"owner_uuid": ownerB}})
		require.NoError(t, err)
		assert.Len(t, imgs, 0)
	})

	t.Run("08 DeleteMissing", func(t *testing.T) {
		err := cat.DeleteImage(ctx, map[string]any{
			"owner_uuid": ownerB,
			"index_name": "docker.io",
			"docker_id":  "abc123",
		})
		require.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("09 ValidationError", func(t *testing.T) {
		_, err := cat.CreateImage(ctx, map[string]any{"docker_id": "x"})
		var ve *model.ValidationError
		require.ErrorAs(t, err, &ve)
	})
}

func TestDatacenterRefcount(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()

	// Owner A has head H1 whose chain passes through A's L1 row. Owner B
	// pulled the same public L1 layer for an unrelated head H2.
	for _, params := range []map[string]any{
		imageParams(ownerA, "L1", []string{"H1"}),
		imageParams(ownerB, "L1", []string{"H2"}),
		imageParams(ownerA, "H1", []string{"H1"}),
	} {
		_, err := cat.CreateImage(ctx, params)
		require.NoError(t, err)
	}

	t.Run("01 CountsAreDatacenterWide", func(t *testing.T) {
		counts, err := cat.DatacenterRefcount(ctx, "H1", "docker.io", NoLimit)
		require.NoError(t, err)
		// ancestor set membership comes from the heads index (owner A's
		// rows only), but each ancestor is counted across all owners
		assert.Equal(t, map[string]int64{"H1": 1, "L1": 2}, counts)
	})

	t.Run("02 LimitKeepsOnlyReclaimable", func(t *testing.T) {
		counts, err := cat.DatacenterRefcount(ctx, "H1", "docker.io", 1)
		require.NoError(t, err)
		assert.Equal(t, map[string]int64{"H1": 1}, counts)
	})

	t.Run("03 UnknownSubjectIsEmpty", func(t *testing.T) {
		counts, err := cat.DatacenterRefcount(ctx, "nope", "docker.io", NoLimit)
		require.NoError(t, err)
		assert.Empty(t, counts)
	})

	t.Run("04 ArgumentsRequired", func(t *testing.T) {
		_, err := cat.DatacenterRefcount(ctx, "", "docker.io", NoLimit)
		var iae *model.InvalidArgumentError
		require.ErrorAs(t, err, &iae)
		_, err = cat.DatacenterRefcount(ctx, "H1", "", NoLimit)
		require.ErrorAs(t, err, &iae)
	})
}

func TestConcurrentCreateLastWriteWins(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()

	sizes := []int64{111, 222}
	var wg sync.WaitGroup
	for _, size := range sizes {
		wg.Add(1)
		go func(size int64) {
			defer wg.Done()
			params := imageParams(ownerA, "raceimg", nil)
			params["size"] = size
			_, err := cat.CreateImage(ctx, params)
			assert.NoError(t, err)
		}(size)
	}
	wg.Wait()

	imgs, err := cat.ListImages(ctx, store.Filter{Eq: map[string]any{"docker_id": "raceimg"}})
	require.NoError(t, err)
	require.Len(t, imgs, 1, "both writers address the same key")
	assert.Contains(t, sizes, imgs[0].Size(), "last write wins, no merge")
}

func TestImageHistory(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()

	base := imageParams(ownerA, "base00", []string{"head00"})
	mid := imageParams(ownerA, "mid00", []string{"head00"})
	mid["parent"] = "base00"
	head := imageParams(ownerA, "head00", []string{"head00"})
	head["parent"] = "mid00"
	head["head"] = true
	head["container_config"] = map[string]any{"Cmd": []string{"/bin/sh", "-c", "nginx"}}
	for _, params := range []map[string]any{base, mid, head} {
		_, err := cat.CreateImage(ctx, params)
		require.NoError(t, err)
	}

	items, err := cat.ImageHistory(ctx, ownerA, "docker.io", "head00")
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "head00", items[0].Id)
	assert.Equal(t, "/bin/sh -c nginx", items[0].CreatedBy)
	assert.Equal(t, "mid00", items[1].Id)
	assert.Equal(t, "base00", items[2].Id)

	_, err = cat.ImageHistory(ctx, ownerA, "docker.io", "missing")
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestStartupMigrations(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	// Seed a version-1 bucket the way it looked before multi-index
	// support: key is (owner_uuid, docker_id), no index_name, stale
	// image_uuid.
	v1 := store.BucketSchema{
		Name:    ImagesBucket.Name,
		Version: 1,
		Index: map[string]store.IndexField{
			"owner_uuid": {Type: store.FieldString},
			"docker_id":  {Type: store.FieldString},
		},
	}
	_, err := st.InitBucket(ctx, v1)
	require.NoError(t, err)

	oldKey := ownerA + "-abc123"
	oldValue := map[string]any{
		"owner_uuid":   ownerA,
		"docker_id":    "abc123",
		"image_uuid":   "stale-uuid",
		"created":      int64(1461443657000),
		"size":         int64(1024),
		"virtual_size": int64(4096),
		"head":         true,
	}
	require.NoError(t, st.PutObject(ctx, ImagesBucket.Name, oldKey, oldValue))

	// Startup against the current schema version runs all three
	// migrations.
	cat, err := New(ctx, st, nil)
	require.NoError(t, err)

	imgs, err := cat.ListImages(ctx, store.Filter{Eq: map[string]any{"owner_uuid": ownerA}})
	require.NoError(t, err)
	require.Len(t, imgs, 1)
	img := imgs[0]
	assert.Equal(t, model.DefaultIndexName, img.IndexName())
	assert.Equal(t, model.ImageUUIDFromDockerInfo("abc123", model.DefaultIndexName), img.ImageUUID())
	assert.Equal(t, ownerA+"-docker.io-abc123", img.Key())

	// The record exists at exactly one key.
	_, err = st.GetObject(ctx, ImagesBucket.Name, oldKey)
	require.ErrorIs(t, err, model.ErrNotFound)
	_, err = st.GetObject(ctx, ImagesBucket.Name, img.Key())
	require.NoError(t, err)

	// A second startup at the same version skips migration entirely.
	_, err = New(ctx, st, nil)
	require.NoError(t, err)
	imgs, err = cat.ListImages(ctx, store.Filter{})
	require.NoError(t, err)
	assert.Len(t, imgs, 1)
}
