package controllers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/wharfside/imagecat/internal/logging"
	"github.com/wharfside/imagecat/internal/store"
	"github.com/wharfside/imagecat/internal/utils"
	"github.com/wharfside/imagecat/pkg/model"
)

type ImageController struct {
	Path   string
	Api    *huma.API
	Config *model.Config
	Logger *zerolog.Logger
}

type ListImagesInput struct {
	OwnerUUID string `query:"owner_uuid" doc:"Restrict to one owner's catalog"`
	IndexName string `query:"index_name" doc:"Restrict to one registry index"`
	DockerID  string `query:"docker_id" doc:"Restrict to one content id"`
	ImageUUID string `query:"image_uuid" doc:"Restrict to one derived image UUID (cross-owner lookup)"`
}

type ImagesOutput struct {
	Body []map[string]any `json:"body"`
}

type CreateImageInput struct {
	Body map[string]any `json:"body" doc:"Raw image record; image_uuid is derived from docker_id and index_name when omitted"`
}

type ImageOutput struct {
	Body map[string]any `json:"body"`
}

type ImageIdentityInput struct {
	OwnerUUID string `path:"owner"`
	IndexName string `path:"index"`
	DockerID  string `path:"dockerid"`
}

type RefcountInput struct {
	DockerID  string `query:"docker_id" required:"true" doc:"Subject layer content id"`
	IndexName string `query:"index_name" default:"docker.io" doc:"Registry index of the subject"`
	Limit     int    `query:"limit" default:"-1" doc:"Only return ancestors with count <= limit; -1 returns all"`
}

type RefcountOutput struct {
	Body map[string]int64 `json:"body"`
}

type HistoryInput struct {
	OwnerUUID string `query:"owner_uuid" required:"true"`
	IndexName string `query:"index_name" default:"docker.io"`
	DockerID  string `query:"docker_id" required:"true"`
}

type HistoryOutput struct {
	Body []model.HistoryItem `json:"body"`
}

func NewImageController(api *huma.API, config *model.Config) *ImageController {
	return &ImageController{
		Path:   "/images",
		Api:    api,
		Config: config,
		Logger: logging.NewLogger("info", "component", "ImageController"),
	}
}

func (ic *ImageController) AddRoutes() {
	{
		op, handler := ic.List()
		huma.Register(*ic.Api, op, handler)
	}
	{
		op, handler := ic.Create()
		huma.Register(*ic.Api, op, handler)
	}
	{
		op, handler := ic.Delete()
		huma.Register(*ic.Api, op, handler)
	}
	{
		op, handler := ic.Refcount()
		huma.Register(*ic.Api, op, handler)
	}
	{
		op, handler := ic.History()
		huma.Register(*ic.Api, op, handler)
	}
}

func (ic *ImageController) List() (huma.Operation, func(ctx context.Context, input *ListImagesInput) (*ImagesOutput, error)) {
	return huma.Operation{
			OperationID: "ListImages",
			Method:      "GET",
			Path:        ic.Path,
			Summary:     "List image records",
			Description: "Lists image records matching the given indexed-field filters. With no filters, every record in the catalog is returned.",
			Tags:        []string{"Images"},
		}, func(ctx context.Context, input *ListImagesInput) (*ImagesOutput, error) {
			c, err := getCatalog(ctx)
			if err != nil {
				return nil, err
			}
			eq := map[string]any{}
			for field, v := range map[string]string{
				"owner_uuid": input.OwnerUUID,
				"index_name": input.IndexName,
				"docker_id":  input.DockerID,
				"image_uuid": input.ImageUUID,
			} {
				if v != "" {
					eq[field] = v
				}
			}
			imgs, err := c.ListImages(ctx, store.Filter{Eq: eq})
			if err != nil {
				ic.Logger.Error().Err(err).Msg("Failed to list image records")
				return nil, mapError(err)
			}
			return &ImagesOutput{
				Body: lo.Map(imgs, func(img *model.Image, _ int) map[string]any { return img.Serialize() }),
			}, nil
		}
}

func (ic *ImageController) Create() (huma.Operation, func(ctx context.Context, input *CreateImageInput) (*ImageOutput, error)) {
	return huma.Operation{
			OperationID:   "CreateImage",
			Method:        "POST",
			Path:          ic.Path,
			Summary:       "Create an image record",
			Description:   "Creates (or overwrites) the record at the identity derived from owner_uuid, index_name and docker_id. Concurrent writers to the same identity race; the last write wins.",
			Tags:          []string{"Images"},
			DefaultStatus: 201,
		}, func(ctx context.Context, input *CreateImageInput) (*ImageOutput, error) {
			c, err := getCatalog(ctx)
			if err != nil {
				return nil, err
			}
			params := input.Body
			if utils.PropOr(params, "image_uuid", "") == "" {
				params["image_uuid"] = model.ImageUUIDFromDockerInfo(
					utils.PropOr(params, "docker_id", ""),
					utils.PropOr(params, "index_name", model.DefaultIndexName),
				)
			}
			img, err := c.CreateImage(ctx, params)
			if err != nil {
				ic.Logger.Error().Err(err).Msg("Failed to create image record")
				return nil, mapError(err)
			}
			return &ImageOutput{Body: img.Serialize()}, nil
		}
}

func (ic *ImageController) Delete() (huma.Operation, func(ctx context.Context, input *ImageIdentityInput) (*CommonResponse, error)) {
	return huma.Operation{
			OperationID: "DeleteImage",
			Method:      "DELETE",
			Path:        ic.Path + "/{owner}/{index}/{dockerid}",
			Summary:     "Delete an image record",
			Description: "Removes one record. No refcount check is performed here; callers gating layer reclamation must query the refcount endpoint first.",
			Tags:        []string{"Images"},
		}, func(ctx context.Context, input *ImageIdentityInput) (*CommonResponse, error) {
			c, err := getCatalog(ctx)
			if err != nil {
				return nil, err
			}
			err = c.DeleteImage(ctx, map[string]any{
				"owner_uuid": input.OwnerUUID,
				"index_name": input.IndexName,
				"docker_id":  input.DockerID,
			})
			if err != nil {
				ic.Logger.Error().Err(err).Str("docker_id", utils.ShortDigest(input.DockerID)).Msg("Failed to delete image record")
				return nil, mapError(err)
			}
			return &CommonResponse{Body: "deleted"}, nil
		}
}

func (ic *ImageController) Refcount() (huma.Operation, func(ctx context.Context, input *RefcountInput) (*RefcountOutput, error)) {
	return huma.Operation{
			OperationID: "DatacenterRefcount",
			Method:      "GET",
			Path:        ic.Path + "/refcount",
			Summary:     "Ancestry refcounts for a layer",
			Description: "For each ancestor of the subject layer, counts how many catalog rows exist datacenter-wide (across all owners) with that docker_id. With limit=1, only ancestors safe to reclaim are returned.",
			Tags:        []string{"Images"},
		}, func(ctx context.Context, input *RefcountInput) (*RefcountOutput, error) {
			c, err := getCatalog(ctx)
			if err != nil {
				return nil, err
			}
			counts, err := c.DatacenterRefcount(ctx, input.DockerID, input.IndexName, input.Limit)
			if err != nil {
				ic.Logger.Error().Err(err).Str("docker_id", utils.ShortDigest(input.DockerID)).Msg("Refcount query failed")
				return nil, mapError(err)
			}
			return &RefcountOutput{Body: counts}, nil
		}
}

func (ic *ImageController) History() (huma.Operation, func(ctx context.Context, input *HistoryInput) (*HistoryOutput, error)) {
	return huma.Operation{
			OperationID: "ImageHistory",
			Method:      "GET",
			Path:        ic.Path + "/history",
			Summary:     "Ancestry history of an image",
			Description: "Walks parent links from the given record toward the base layer and returns the display projection of each record.",
			Tags:        []string{"Images"},
		}, func(ctx context.Context, input *HistoryInput) (*HistoryOutput, error) {
			c, err := getCatalog(ctx)
			if err != nil {
				return nil, err
			}
			items, err := c.ImageHistory(ctx, input.OwnerUUID, input.IndexName, input.DockerID)
			if err != nil {
				return nil, mapError(err)
			}
			return &HistoryOutput{Body: items}, nil
		}
}
