package routes

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	gwtypes "github.com/lgulliver/photoflow/cmd/upload-gateway/types"
	"github.com/lgulliver/photoflow/internal/registry"
	"github.com/lgulliver/photoflow/pkg/types"
	"github.com/rs/zerolog/log"
)

// PhotoRoutes proxies photo management calls to the registry backend
func PhotoRoutes(r *gin.RouterGroup, client registry.Client) {
	photos := r.Group("/photos")
	{
		photos.GET("", listPhotos(client))
		photos.GET("/completed", listCompletedPhotos(client))
		photos.GET("/:id", getPhoto(client))
		photos.PATCH("/:id/status", updatePhotoStatus(client))
		photos.PATCH("/bulk/status", bulkUpdatePhotoStatus(client))
		photos.DELETE("/:id", deletePhoto(client))
		photos.DELETE("/bulk", bulkDeletePhotos(client))
	}
}

// registryError maps a registry failure onto a gateway response
func registryError(c *gin.Context, err error, action string) {
	status := http.StatusBadGateway
	msg := "Photo service unavailable"

	var regErr *registry.Error
	switch {
	case errors.Is(err, registry.ErrNotFound):
		status = http.StatusNotFound
		msg = "Photo not found"
	case errors.Is(err, registry.ErrRejected):
		status = http.StatusBadRequest
		msg = "Request rejected by photo service"
		if errors.As(err, &regErr) && regErr.Message != "" {
			msg = regErr.Message
		}
	}

	log.Warn().Err(err).Str("action", action).Int("status", status).Msg("registry call failed")
	c.JSON(status, gwtypes.APIResponse{Error: msg})
}

func optionalInt(c *gin.Context, key string) (*int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return nil, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return nil, false
	}
	return &v, true
}

func listPhotos(client registry.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		q := types.ListPhotosQuery{Status: types.PhotoStatus(c.Query("status"))}
		if q.Status != "" && !q.Status.Valid() {
			c.JSON(http.StatusBadRequest, gwtypes.APIResponse{Error: "Invalid status"})
			return
		}
		var ok bool
		if q.Page, ok = optionalInt(c, "page"); !ok {
			c.JSON(http.StatusBadRequest, gwtypes.APIResponse{Error: "Invalid page"})
			return
		}
		if q.Size, ok = optionalInt(c, "size"); !ok {
			c.JSON(http.StatusBadRequest, gwtypes.APIResponse{Error: "Invalid size"})
			return
		}

		photos, err := client.List(c.Request.Context(), q)
		if err != nil {
			registryError(c, err, "list")
			return
		}
		c.JSON(http.StatusOK, gwtypes.APIResponse{Success: true, Data: photos})
	}
}

func listCompletedPhotos(client registry.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		photos, err := client.ListCompleted(c.Request.Context())
		if err != nil {
			registryError(c, err, "list_completed")
			return
		}
		c.JSON(http.StatusOK, gwtypes.APIResponse{Success: true, Data: photos})
	}
}

func getPhoto(client registry.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		photo, err := client.GetByID(c.Request.Context(), c.Param("id"))
		if err != nil {
			registryError(c, err, "get")
			return
		}
		c.JSON(http.StatusOK, gwtypes.APIResponse{Success: true, Data: photo})
	}
}

func updatePhotoStatus(client registry.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.PhotoStatusUpdateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gwtypes.APIResponse{Error: "Invalid request body"})
			return
		}
		if !req.Status.Valid() {
			c.JSON(http.StatusBadRequest, gwtypes.APIResponse{Error: "Invalid status"})
			return
		}
		if err := client.UpdateStatus(c.Request.Context(), c.Param("id"), req); err != nil {
			registryError(c, err, "update_status")
			return
		}
		c.JSON(http.StatusOK, gwtypes.APIResponse{Success: true, Message: "Status updated"})
	}
}

func bulkUpdatePhotoStatus(client registry.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.BulkStatusUpdateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gwtypes.APIResponse{Error: "Invalid request body"})
			return
		}
		if len(req.PhotoIDs) == 0 || !req.Status.Valid() {
			c.JSON(http.StatusBadRequest, gwtypes.APIResponse{Error: "photoIds and a valid status are required"})
			return
		}
		if err := client.BulkUpdateStatus(c.Request.Context(), req); err != nil {
			registryError(c, err, "bulk_update_status")
			return
		}
		c.JSON(http.StatusOK, gwtypes.APIResponse{Success: true, Message: "Statuses updated"})
	}
}

func deletePhoto(client registry.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := client.Delete(c.Request.Context(), c.Param("id")); err != nil {
			registryError(c, err, "delete")
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func bulkDeletePhotos(client registry.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.BulkDeleteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gwtypes.APIResponse{Error: "Invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gwtypes.APIResponse{Error: err.Error()})
			return
		}
		res, err := client.BulkDelete(c.Request.Context(), req)
		if err != nil {
			registryError(c, err, "bulk_delete")
			return
		}
		c.JSON(http.StatusOK, gwtypes.APIResponse{Success: true, Data: res})
	}
}
