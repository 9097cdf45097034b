package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"chatdock/internal/metrics"
	"chatdock/internal/storage"
)

// Handler holds the injected repositories. The backend behind them is chosen
// once at startup; handlers only see the contract.
type Handler struct {
	Folders storage.FolderRepository
	Threads storage.ThreadRepository
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// Pointer fields with a required tag enforce presence while still letting an
// explicit zero value through; non-pointer required strings double as the
// non-empty check.
type folderCreateRequest struct {
	Name string  `json:"name" binding:"required"`
	Type *string `json:"type" binding:"required"`
}

type folderUpdateRequest struct {
	Name    *string `json:"name" binding:"omitempty,min=1"`
	Type    *string `json:"type"`
	Version *int64  `json:"version"`
}

type threadCreateRequest struct {
	Name        string   `json:"name" binding:"required"`
	Prompt      *string  `json:"prompt" binding:"required"`
	Temperature *float64 `json:"temperature" binding:"required,gte=0,lte=1"`
	FolderID    *string  `json:"folderId" binding:"required"`
	IsShared    bool     `json:"isShared"`
	SharedAt    *string  `json:"sharedAt"`
}

type threadUpdateRequest struct {
	Name        *string  `json:"name" binding:"omitempty,min=1"`
	Prompt      *string  `json:"prompt"`
	Temperature *float64 `json:"temperature" binding:"omitempty,gte=0,lte=1"`
	FolderID    *string  `json:"folderId"`
	IsShared    *bool    `json:"isShared"`
	SharedAt    *string  `json:"sharedAt"`
	Version     *int64   `json:"version"`
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "message": "service is running"})
}

func (h *Handler) ListFolders(c *gin.Context) {
	limit, offset, ok := pageParams(c)
	if !ok {
		return
	}
	ident := currentIdentity(c)
	folders, err := h.Folders.List(c.Request.Context(), ident.UserID, limit, offset)
	if err != nil {
		h.fail(c, "list folders", err)
		return
	}
	c.JSON(http.StatusOK, folders)
}

func (h *Handler) GetFolder(c *gin.Context) {
	id := c.Param("id")
	folder, err := h.Folders.Get(c.Request.Context(), id)
	if err != nil {
		h.repoError(c, "Folder", id, err)
		return
	}
	c.JSON(http.StatusOK, folder)
}

func (h *Handler) CreateFolder(c *gin.Context) {
	var req folderCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	folder, err := h.Folders.Create(c.Request.Context(), storage.FolderCreate{
		Name: req.Name,
		Type: *req.Type,
	}, currentIdentity(c))
	if err != nil {
		h.fail(c, "create folder", err)
		return
	}
	h.Metrics.RecordsCreated.Inc()
	c.JSON(http.StatusCreated, folder)
}

func (h *Handler) UpdateFolder(c *gin.Context) {
	id := c.Param("id")
	var req folderUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	// The omitempty tag skips min=1 for a present-but-empty name.
	if req.Name != nil && *req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "name must not be empty"})
		return
	}
	folder, err := h.Folders.Update(c.Request.Context(), id, storage.FolderUpdate{
		Name:    req.Name,
		Type:    req.Type,
		Version: req.Version,
	})
	if err != nil {
		h.repoError(c, "Folder", id, err)
		return
	}
	h.Metrics.RecordsUpdated.Inc()
	c.JSON(http.StatusOK, folder)
}

func (h *Handler) DeleteFolder(c *gin.Context) {
	id := c.Param("id")
	if err := h.Folders.Delete(c.Request.Context(), id); err != nil {
		h.repoError(c, "Folder", id, err)
		return
	}
	h.Metrics.RecordsDeleted.Inc()
	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("Folder %s deleted successfully", id)})
}

func (h *Handler) ListThreads(c *gin.Context) {
	limit, offset, ok := pageParams(c)
	if !ok {
		return
	}
	ident := currentIdentity(c)
	threads, err := h.Threads.List(c.Request.Context(), ident.UserID, c.Query("folderId"), limit, offset)
	if err != nil {
		h.fail(c, "list chat threads", err)
		return
	}
	c.JSON(http.StatusOK, threads)
}

func (h *Handler) GetThread(c *gin.Context) {
	id := c.Param("id")
	thread, err := h.Threads.Get(c.Request.Context(), id)
	if err != nil {
		h.repoError(c, "ChatThread", id, err)
		return
	}
	c.JSON(http.StatusOK, thread)
}

func (h *Handler) CreateThread(c *gin.Context) {
	var req threadCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	thread, err := h.Threads.Create(c.Request.Context(), storage.ChatThreadCreate{
		Name:        req.Name,
		Prompt:      *req.Prompt,
		Temperature: *req.Temperature,
		FolderID:    *req.FolderID,
		IsShared:    req.IsShared,
		SharedAt:    req.SharedAt,
	}, currentIdentity(c))
	if err != nil {
		h.fail(c, "create chat thread", err)
		return
	}
	h.Metrics.RecordsCreated.Inc()
	c.JSON(http.StatusCreated, thread)
}

func (h *Handler) UpdateThread(c *gin.Context) {
	id := c.Param("id")
	var req threadUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	if req.Name != nil && *req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "name must not be empty"})
		return
	}
	thread, err := h.Threads.Update(c.Request.Context(), id, storage.ChatThreadUpdate{
		Name:        req.Name,
		Prompt:      req.Prompt,
		Temperature: req.Temperature,
		FolderID:    req.FolderID,
		IsShared:    req.IsShared,
		SharedAt:    req.SharedAt,
		Version:     req.Version,
	})
	if err != nil {
		h.repoError(c, "ChatThread", id, err)
		return
	}
	h.Metrics.RecordsUpdated.Inc()
	c.JSON(http.StatusOK, thread)
}

func (h *Handler) DeleteThread(c *gin.Context) {
	id := c.Param("id")
	if err := h.Threads.Delete(c.Request.Context(), id); err != nil {
		h.repoError(c, "ChatThread", id, err)
		return
	}
	h.Metrics.RecordsDeleted.Inc()
	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("ChatThread %s deleted successfully", id)})
}

// pageParams reads limit/offset with the API defaults and bounds. The bounds
// live here, at the validation boundary; repositories do not re-check them.
func pageParams(c *gin.Context) (limit, offset int, ok bool) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 || limit > 200 {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "limit must be an integer between 1 and 200"})
		return 0, 0, false
	}
	offset, err = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "offset must be a non-negative integer"})
		return 0, 0, false
	}
	return limit, offset, true
}

// repoError maps contract errors on id-addressed operations to status codes.
func (h *Handler) repoError(c *gin.Context, entity, id string, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"detail": fmt.Sprintf("%s %s not found", entity, id)})
	case errors.Is(err, storage.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"detail": fmt.Sprintf("%s %s was modified concurrently", entity, id)})
	default:
		h.fail(c, "storage operation", err)
	}
}

// fail handles unexpected storage faults: logged, counted, surfaced as 500.
func (h *Handler) fail(c *gin.Context, op string, err error) {
	h.Metrics.RepoErrorsTotal.Inc()
	h.Logger.Error().Err(err).Str("op", op).Str("path", c.FullPath()).Msg("request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal server error"})
}
