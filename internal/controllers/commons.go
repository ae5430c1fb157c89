package controllers

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/wharfside/imagecat/internal/catalog"
	"github.com/wharfside/imagecat/pkg/model"
)

type CommonResponse struct {
	Body string `json:"body"`
}

// CatalogMiddleware places the catalog handle in the request context for
// the controllers below.
func CatalogMiddleware(c *catalog.Catalog) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		ctx = huma.WithValue(ctx, "catalog", c)
		next(ctx)
	}
}

func getCatalog(ctx context.Context) (*catalog.Catalog, error) {
	c, ok := ctx.Value("catalog").(*catalog.Catalog)
	if !ok || c == nil {
		return nil, huma.Error500InternalServerError("Catalog not found in request context")
	}
	return c, nil
}

// mapError translates catalog errors to HTTP status errors: validation and
// argument errors are the caller's fault, missing records are 404, anything
// else is a store failure.
func mapError(err error) error {
	switch {
	case model.IsValidation(err):
		return huma.Error400BadRequest(err.Error())
	case errors.Is(err, model.ErrNotFound):
		return huma.Error404NotFound(err.Error())
	default:
		return huma.Error500InternalServerError(err.Error())
	}
}
