package catalog

import (
	"context"
	"fmt"

	"github.com/samber/lo"

	"github.com/wharfside/imagecat/internal/store"
	"github.com/wharfside/imagecat/internal/utils"
	"github.com/wharfside/imagecat/pkg/model"
)

// NoLimit disables the shared-ancestor cutoff in DatacenterRefcount.
const NoLimit = -1

// CreateImage validates params into an image record and persists it at its
// derived key. An existing record at the same identity is overwritten; the
// last write observed by the store wins.
func (c *Catalog) CreateImage(ctx context.Context, params map[string]any) (img *model.Image, err error) {
	defer func() { observeOp("create_image", err) }()

	img, err = model.NewImage(params)
	if err != nil {
		return nil, err
	}
	if err = c.store.PutObject(ctx, ImagesBucket.Name, img.Key(), img.Serialize()); err != nil {
		return nil, err
	}
	c.logger.Debug().
		Str("owner_uuid", img.OwnerUUID()).
		Str("docker_id", utils.ShortDigest(img.DockerID())).
		Msg("Created image record")
	return img, nil
}

// ListImages returns all records matching the filter. An empty filter is
// replaced by the wildcard predicate matching any record with a docker_id.
func (c *Catalog) ListImages(ctx context.Context, filter store.Filter) (imgs []*model.Image, err error) {
	defer func() { observeOp("list_images", err) }()

	if filter.Empty() {
		filter = store.Filter{Raw: "(docker_id=*)"}
	}
	objects, err := c.store.ListObjects(ctx, ImagesBucket.Name, filter)
	if err != nil {
		return nil, err
	}
	imgs = make([]*model.Image, 0, len(objects))
	for _, obj := range objects {
		img, err := model.NewImage(obj.Value)
		if err != nil {
			return nil, fmt.Errorf("corrupt record at %s/%s: %w", ImagesBucket.Name, obj.Key, err)
		}
		imgs = append(imgs, img)
	}
	return imgs, nil
}

// UpdateImage replaces the record addressed by the identity fields in
// params with the full replacement value built from params. Identity is
// immutable: passing different identity fields addresses a different
// record, it never moves one. Returns ErrNotFound if no record exists at
// the derived key.
func (c *Catalog) UpdateImage(ctx context.Context, params map[string]any) (img *model.Image, err error) {
	defer func() { observeOp("update_image", err) }()

	img, err = model.NewImage(params)
	if err != nil {
		return nil, err
	}
	stored, err := c.store.UpdateObject(ctx, ImagesBucket.Name, img.Key(), img.Serialize())
	if err != nil {
		return nil, err
	}
	return model.NewImage(stored)
}

// DeleteImage removes the record addressed by the identity fields in
// params. No refcount check happens here: callers gating physical
// reclamation must consult DatacenterRefcount first.
func (c *Catalog) DeleteImage(ctx context.Context, params map[string]any) (err error) {
	defer func() { observeOp("delete_image", err) }()

	key, err := model.ImageKey(
		utils.PropOr(params, "owner_uuid", ""),
		utils.PropOr(params, "index_name", model.DefaultIndexName),
		utils.PropOr(params, "docker_id", ""),
	)
	if err != nil {
		return err
	}
	return c.store.DeleteObject(ctx, ImagesBucket.Name, key)
}

// ImageHistory walks the ancestry chain from the given record toward its
// base layer and returns the display projection of each record, newest
// first. A broken parent link ends the walk rather than failing it.
func (c *Catalog) ImageHistory(ctx context.Context, ownerUUID, indexName, dockerID string) (items []model.HistoryItem, err error) {
	defer func() { observeOp("image_history", err) }()

	if indexName == "" {
		indexName = model.DefaultIndexName
	}
	subject := dockerID
	seen := map[string]bool{}
	for dockerID != "" && !seen[dockerID] {
		seen[dockerID] = true
		imgs, err := c.ListImages(ctx, store.Filter{Eq: map[string]any{
			"owner_uuid": ownerUUID,
			"index_name": indexName,
			"docker_id":  dockerID,
		}})
		if err != nil {
			return nil, err
		}
		if len(imgs) == 0 {
			break
		}
		items = append(items, imgs[0].ToHistoryItem())
		dockerID = imgs[0].Parent()
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%s/%s: %w", ImagesBucket.Name, subject, model.ErrNotFound)
	}
	return items, nil
}

// DatacenterRefcount computes, across all owners, how many catalog rows
// exist for each ancestor of the subject layer. The ancestor set is every
// record whose heads array contains the subject's docker_id; the count per
// ancestor docker_id spans the entire catalog for the same index_name, not
// just the ancestor set. With limit >= 0, only ancestors whose count is
// <= limit are returned, i.e. the ones safe to reclaim.
//
// The cross-owner counting is deliberate: a layer shared by another
// tenant's image chain must never be reported as reclaimable.
func (c *Catalog) DatacenterRefcount(ctx context.Context, dockerID, indexName string, limit int) (counts map[string]int64, err error) {
	defer func() {
		observeOp("datacenter_refcount", err)
		refcountQueries.Inc()
	}()

	if dockerID == "" {
		return nil, &model.InvalidArgumentError{Name: "docker_id"}
	}
	if indexName == "" {
		return nil, &model.InvalidArgumentError{Name: "index_name"}
	}

	tbl := ImagesBucket.Name
	query := fmt.Sprintf(
		`select docker_id, count(*) from %s
		   where index_name = ?
		     and docker_id in (select docker_id from %s where index_name = ? and heads like ?)
		   group by docker_id`, tbl, tbl)
	rows, err := c.store.AggregateQuery(ctx, query, indexName, indexName, `%"`+dockerID+`"%`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts = map[string]int64{}
	for rows.Next() {
		var id string
		var n int64
		if err = rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("refcount for %s: %w", utils.ShortDigest(dockerID), err)
		}
		counts[id] = n
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("refcount for %s: %w", utils.ShortDigest(dockerID), err)
	}

	if limit >= 0 {
		counts = lo.PickBy(counts, func(_ string, n int64) bool { return n <= int64(limit) })
	}
	return counts, nil
}
