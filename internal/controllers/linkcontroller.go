package controllers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/wharfside/imagecat/internal/logging"
	"github.com/wharfside/imagecat/internal/store"
	"github.com/wharfside/imagecat/pkg/model"
)

type LinkController struct {
	Path   string
	Api    *huma.API
	Config *model.Config
	Logger *zerolog.Logger
}

type ListLinksInput struct {
	OwnerUUID     string `query:"owner_uuid"`
	ContainerUUID string `query:"container_uuid"`
}

type LinksOutput struct {
	Body []map[string]any `json:"body"`
}

type CreateLinkInput struct {
	Body map[string]any `json:"body"`
}

type LinkOutput struct {
	Body map[string]any `json:"body"`
}

type LinkIdentityInput struct {
	OwnerUUID     string `path:"owner"`
	ContainerUUID string `path:"container"`
	Alias         string `path:"alias"`
}

func NewLinkController(api *huma.API, config *model.Config) *LinkController {
	return &LinkController{
		Path:   "/links",
		Api:    api,
		Config: config,
		Logger: logging.NewLogger("info", "component", "LinkController"),
	}
}

func (lc *LinkController) AddRoutes() {
	{
		op, handler := lc.List()
		huma.Register(*lc.Api, op, handler)
	}
	{
		op, handler := lc.Create()
		huma.Register(*lc.Api, op, handler)
	}
	{
		op, handler := lc.Delete()
		huma.Register(*lc.Api, op, handler)
	}
}

func (lc *LinkController) List() (huma.Operation, func(ctx context.Context, input *ListLinksInput) (*LinksOutput, error)) {
	return huma.Operation{
			OperationID: "ListLinks",
			Method:      "GET",
			Path:        lc.Path,
			Summary:     "List container links",
			Tags:        []string{"Links"},
		}, func(ctx context.Context, input *ListLinksInput) (*LinksOutput, error) {
			c, err := getCatalog(ctx)
			if err != nil {
				return nil, err
			}
			eq := map[string]any{}
			if input.OwnerUUID != "" {
				eq["owner_uuid"] = input.OwnerUUID
			}
			if input.ContainerUUID != "" {
				eq["container_uuid"] = input.ContainerUUID
			}
			links, err := c.ListLinks(ctx, store.Filter{Eq: eq})
			if err != nil {
				lc.Logger.Error().Err(err).Msg("Failed to list links")
				return nil, mapError(err)
			}
			return &LinksOutput{
				Body: lo.Map(links, func(l *model.Link, _ int) map[string]any { return l.Serialize() }),
			}, nil
		}
}

func (lc *LinkController) Create() (huma.Operation, func(ctx context.Context, input *CreateLinkInput) (*LinkOutput, error)) {
	return huma.Operation{
			OperationID:   "CreateLink",
			Method:        "POST",
			Path:          lc.Path,
			Summary:       "Create a container link",
			Tags:          []string{"Links"},
			DefaultStatus: 201,
		}, func(ctx context.Context, input *CreateLinkInput) (*LinkOutput, error) {
			c, err := getCatalog(ctx)
			if err != nil {
				return nil, err
			}
			l, err := c.CreateLink(ctx, input.Body)
			if err != nil {
				lc.Logger.Error().Err(err).Msg("Failed to create link")
				return nil, mapError(err)
			}
			return &LinkOutput{Body: l.Serialize()}, nil
		}
}

func (lc *LinkController) Delete() (huma.Operation, func(ctx context.Context, input *LinkIdentityInput) (*CommonResponse, error)) {
	return huma.Operation{
			OperationID: "DeleteLink",
			Method:      "DELETE",
			Path:        lc.Path + "/{owner}/{container}/{alias}",
			Summary:     "Delete a container link",
			Tags:        []string{"Links"},
		}, func(ctx context.Context, input *LinkIdentityInput) (*CommonResponse, error) {
			c, err := getCatalog(ctx)
			if err != nil {
				return nil, err
			}
			err = c.DeleteLink(ctx, map[string]any{
				"owner_uuid":     input.OwnerUUID,
				"container_uuid": input.ContainerUUID,
				"alias":          input.Alias,
			})
			if err != nil {
				lc.Logger.Error().Err(err).Msg("Failed to delete link")
				return nil, mapError(err)
			}
			return &CommonResponse{Body: "deleted"}, nil
		}
}
