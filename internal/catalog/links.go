package catalog

import (
	"context"
	"fmt"

	"github.com/wharfside/imagecat/internal/store"
	"github.com/wharfside/imagecat/internal/utils"
	"github.com/wharfside/imagecat/pkg/model"
)

// CreateLink validates params into a link record and persists it.
func (c *Catalog) CreateLink(ctx context.Context, params map[string]any) (l *model.Link, err error) {
	defer func() { observeOp("create_link", err) }()

	l, err = model.NewLink(params)
	if err != nil {
		return nil, err
	}
	if err = c.store.PutObject(ctx, LinksBucket.Name, l.Key(), l.Serialize()); err != nil {
		return nil, err
	}
	return l, nil
}

// SaveLink persists a link whose display fields were mutated in place.
// Functionally identical to create.
func (c *Catalog) SaveLink(ctx context.Context, l *model.Link) (err error) {
	defer func() { observeOp("save_link", err) }()
	return c.store.PutObject(ctx, LinksBucket.Name, l.Key(), l.Serialize())
}

// ListLinks returns all links matching the filter; an empty filter matches
// every link.
func (c *Catalog) ListLinks(ctx context.Context, filter store.Filter) (links []*model.Link, err error) {
	defer func() { observeOp("list_links", err) }()

	if filter.Empty() {
		filter = store.Filter{Raw: "(owner_uuid=*)"}
	}
	objects, err := c.store.ListObjects(ctx, LinksBucket.Name, filter)
	if err != nil {
		return nil, err
	}
	links = make([]*model.Link, 0, len(objects))
	for _, obj := range objects {
		l, err := model.NewLink(obj.Value)
		if err != nil {
			return nil, fmt.Errorf("corrupt record at %s/%s: %w", LinksBucket.Name, obj.Key, err)
		}
		links = append(links, l)
	}
	return links, nil
}

// UpdateLink replaces the record addressed by the identity fields in params.
func (c *Catalog) UpdateLink(ctx context.Context, params map[string]any) (l *model.Link, err error) {
	defer func() { observeOp("update_link", err) }()

	l, err = model.NewLink(params)
	if err != nil {
		return nil, err
	}
	stored, err := c.store.UpdateObject(ctx, LinksBucket.Name, l.Key(), l.Serialize())
	if err != nil {
		return nil, err
	}
	return model.NewLink(stored)
}

// DeleteLink removes the record addressed by the identity fields in params.
func (c *Catalog) DeleteLink(ctx context.Context, params map[string]any) (err error) {
	defer func() { observeOp("delete_link", err) }()

	key, err := model.LinkKey(
		utils.PropOr(params, "owner_uuid", ""),
		utils.PropOr(params, "container_uuid", ""),
		utils.PropOr(params, "alias", ""),
	)
	if err != nil {
		return err
	}
	return c.store.DeleteObject(ctx, LinksBucket.Name, key)
}
