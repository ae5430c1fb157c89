package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/wharfside/imagecat/internal/catalog"
	"github.com/wharfside/imagecat/internal/logging"
	"github.com/wharfside/imagecat/internal/store"
	"github.com/wharfside/imagecat/pkg/model"
)

const testOwner = "930896af-bf8c-48d4-885c-6573a94b1853"

func setupServer(t *testing.T) *httptest.Server {
	t.Helper()
	driver := os.Getenv("DATABASE_DRIVER")
	if driver == "" {
		driver = "sqlite"
	}
	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" {
		dsn = fmt.Sprintf("file:%s/api.db?_busy_timeout=5000", t.TempDir())
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

	logger := logging.NewLogger("warn", "component", "ControllerTest")
	st, err := store.New(db, logger)
	require.NoError(t, err)
	cat, err := catalog.New(context.Background(), st, logger)
	require.NoError(t, err)

	config := &model.Config{}
	router := chi.NewMux()
	apiConfig := huma.DefaultConfig("Image Catalog API", "1.0.0")
	apiConfig.OpenAPIPath = "/openapi"
	api := humachi.New(router, apiConfig)
	api.UseMiddleware(CatalogMiddleware(cat))
	NewImageController(&api, config).AddRoutes()
	NewLinkController(&api, config).AddRoutes()

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body map[string]any) *http.Response {
	t.Helper()
	encoded, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(encoded))
	require.NoError(t, err)
	return resp
}

func doDelete(t *testing.T, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodDelete, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func imageBody(dockerID string, heads []string) map[string]any {
	return map[string]any{
		"owner_uuid":   testOwner,
		"index_name":   "docker.io",
		"docker_id":    dockerID,
		"created":      1461443657000,
		"size":         1024,
		"virtual_size": 4096,
		"head":         false,
		"heads":        heads,
	}
}

func TestImageAPI(t *testing.T) {
	srv := setupServer(t)

	t.Run("01 CreateDerivesImageUUID", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/images", imageBody("abc123", []string{"abc123"}))
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		created := decodeJSON[map[string]any](t, resp)
		assert.Equal(t, model.ImageUUIDFromDockerInfo("abc123", "docker.io"), created["image_uuid"])
	})

	t.Run("02 List", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/images?owner_uuid=" + testOwner)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		imgs := decodeJSON[[]map[string]any](t, resp)
		require.Len(t, imgs, 1)
		assert.Equal(t, "abc123", imgs[0]["docker_id"])
	})

	t.Run("03 ValidationIsBadRequest", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/images", map[string]any{"docker_id": "x"})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("04 Refcount", func(t *testing.T) {
		parent := imageBody("L1", []string{"abc123"})
		resp := postJSON(t, srv.URL+"/images", parent)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		resp.Body.Close()

		resp, err := http.Get(srv.URL + "/images/refcount?docker_id=abc123&index_name=docker.io")
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		counts := decodeJSON[map[string]int64](t, resp)
		assert.Equal(t, map[string]int64{"abc123": 1, "L1": 1}, counts)
	})

	t.Run("05 History", func(t *testing.T) {
		child := imageBody("abc123", []string{"abc123"})
		child["parent"] = "L1"
		resp := postJSON(t, srv.URL+"/images", child)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		resp.Body.Close()

		resp, err := http.Get(srv.URL + "/images/history?owner_uuid=" + testOwner + "&docker_id=abc123")
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		items := decodeJSON[[]model.HistoryItem](t, resp)
		require.Len(t, items, 2)
		assert.Equal(t, "abc123", items[0].Id)
		assert.Equal(t, "L1", items[1].Id)
	})

	t.Run("06 Delete", func(t *testing.T) {
		url := srv.URL + "/images/" + testOwner + "/docker.io/L1"
		resp := doDelete(t, url)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		resp = doDelete(t, url)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestLinkAPI(t *testing.T) {
	srv := setupServer(t)

	t.Run("01 Create", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/links", map[string]any{
			"owner_uuid":     testOwner,
			"container_uuid": "web01",
			"alias":          "db",
			"target_name":    "postgres",
		})
		defer resp.Body.Close()
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	})

	t.Run("02 List", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/links?container_uuid=web01")
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		links := decodeJSON[[]map[string]any](t, resp)
		require.Len(t, links, 1)
		assert.Equal(t, "postgres", links[0]["target_name"])
	})

	t.Run("03 Delete", func(t *testing.T) {
		resp := doDelete(t, srv.URL+"/links/"+testOwner+"/web01/db")
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		resp = doDelete(t, srv.URL+"/links/"+testOwner+"/web01/db")
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}
