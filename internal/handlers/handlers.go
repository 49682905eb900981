// Package handlers exposes the Krate core over HTTP+JSON.
//
// Responses use a {"success": bool, ...} envelope. Handlers translate the
// apperr error kinds to HTTP statuses and do nothing else of substance; all
// rules live in the service packages.
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Chezo25/Krate-it/internal/activity"
	"github.com/Chezo25/Krate-it/internal/apperr"
	"github.com/Chezo25/Krate-it/internal/auth"
	"github.com/Chezo25/Krate-it/internal/hierarchy"
	"github.com/Chezo25/Krate-it/internal/logger"
	"github.com/Chezo25/Krate-it/internal/models"
	"github.com/Chezo25/Krate-it/internal/share"
)

type Handler struct {
	Hierarchy *hierarchy.Service
	Shares    *share.Manager
	Activity  *activity.Log
}

func NewHandler(h *hierarchy.Service, s *share.Manager, a *activity.Log) *Handler {
	return &Handler{Hierarchy: h, Shares: s, Activity: a}
}

// Register wires all routes. Everything under /api except share resolution
// sits behind the auth middleware.
func (h *Handler) Register(e *echo.Echo, verifier auth.TokenVerifier) {
	e.GET("/health", h.HealthHandler)

	// Public share-link landing; intentionally unauthenticated.
	e.GET("/api/sharing/:token", h.ResolveShareHandler)

	api := e.Group("/api", auth.Middleware(verifier), requestMeta)

	api.GET("/folders", h.ListFoldersHandler)
	api.POST("/folders", h.CreateFolderHandler)
	api.GET("/folders/:id", h.GetFolderHandler)
	api.PATCH("/folders/:id/rename", h.RenameFolderHandler)
	api.DELETE("/folders/:id", h.DeleteFolderHandler)
	api.GET("/folders/:id/path", h.FolderPathHandler)

	api.GET("/files", h.ListFilesHandler)
	api.POST("/files/upload", h.UploadHandler)
	api.GET("/files/:id", h.GetFileHandler)
	api.GET("/files/:id/download", h.DownloadHandler)
	api.PATCH("/files/:id/rename", h.RenameFileHandler)
	api.DELETE("/files/:id", h.DeleteFileHandler)

	api.POST("/sharing", h.CreateShareHandler)
	api.GET("/sharing", h.ListSharesHandler)
	api.PATCH("/sharing/:id", h.UpdateShareHandler)
	api.DELETE("/sharing/:id", h.RevokeShareHandler)

	api.GET("/search", h.SearchHandler)
	api.POST("/search/advanced", h.AdvancedSearchHandler)
	api.GET("/search/recent", h.RecentHandler)

	api.GET("/activity", h.ListActivityHandler)
}

// requestMeta copies transport details into the context for the audit trail.
func requestMeta(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		meta := activity.RequestMeta{
			IPAddress: c.RealIP(),
			UserAgent: c.Request().UserAgent(),
		}
		ctx := activity.WithRequestMeta(c.Request().Context(), meta)
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

func (h *Handler) HealthHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Folders

func (h *Handler) ListFoldersHandler(c echo.Context) error {
	userID := auth.UserID(c)
	limit, offset := pagination(c, 50)

	folders, err := h.Hierarchy.ListFolders(c.Request().Context(), userID, optParam(c, "parentId"), limit, offset)
	if err != nil {
		return fail(c, err)
	}
	return paged(c, folders, limit, offset)
}

func (h *Handler) GetFolderHandler(c echo.Context) error {
	folder, err := h.Hierarchy.GetFolder(c.Request().Context(), auth.UserID(c), c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return ok(c, folder)
}

func (h *Handler) CreateFolderHandler(c echo.Context) error {
	var req struct {
		Name     string  `json:"name"`
		ParentID *string `json:"parent_id"`
	}
	if err := c.Bind(&req); err != nil {
		return fail(c, fmt.Errorf("invalid request body: %w", apperr.ErrInvalidArgument))
	}

	folder, err := h.Hierarchy.CreateFolder(c.Request().Context(), auth.UserID(c), req.Name, req.ParentID)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, folder)
}

func (h *Handler) RenameFolderHandler(c echo.Context) error {
	var req struct {
		NewName string `json:"new_name"`
	}
	if err := c.Bind(&req); err != nil {
		return fail(c, fmt.Errorf("invalid request body: %w", apperr.ErrInvalidArgument))
	}

	folder, err := h.Hierarchy.RenameFolder(c.Request().Context(), auth.UserID(c), c.Param("id"), req.NewName)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, folder)
}

func (h *Handler) DeleteFolderHandler(c echo.Context) error {
	if err := h.Hierarchy.DeleteFolder(c.Request().Context(), auth.UserID(c), c.Param("id")); err != nil {
		return fail(c, err)
	}
	return message(c, "Folder deleted successfully")
}

func (h *Handler) FolderPathHandler(c echo.Context) error {
	crumbs, err := h.Hierarchy.Path(c.Request().Context(), auth.UserID(c), c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return ok(c, crumbs)
}

// Files

func (h *Handler) ListFilesHandler(c echo.Context) error {
	userID := auth.UserID(c)
	limit, offset := pagination(c, 50)

	files, err := h.Hierarchy.ListFiles(c.Request().Context(), userID, optParam(c, "folderId"), limit, offset)
	if err != nil {
		return fail(c, err)
	}
	return paged(c, files, limit, offset)
}

func (h *Handler) GetFileHandler(c echo.Context) error {
	file, err := h.Hierarchy.GetFile(c.Request().Context(), auth.UserID(c), c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return ok(c, file)
}

func (h *Handler) UploadHandler(c echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return fail(c, fmt.Errorf("no file provided: %w", apperr.ErrInvalidArgument))
	}

	src, err := fileHeader.Open()
	if err != nil {
		return fail(c, fmt.Errorf("could not open upload: %w", apperr.ErrInvalidArgument))
	}
	defer src.Close()

	var folderID *string
	if v := c.FormValue("folderId"); v != "" && v != "null" {
		folderID = &v
	}

	var tags []string
	for _, tag := range strings.Split(c.FormValue("tags"), ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}

	file, err := h.Hierarchy.CreateFile(c.Request().Context(), auth.UserID(c), hierarchy.CreateFileParams{
		Name:     fileHeader.Filename,
		MimeType: fileHeader.Header.Get("Content-Type"),
		FolderID: folderID,
		Tags:     tags,
		Content:  src,
	})
	if err != nil {
		return fail(c, err)
	}
	return ok(c, file)
}

func (h *Handler) DownloadHandler(c echo.Context) error {
	file, rc, err := h.Hierarchy.Download(c.Request().Context(), auth.UserID(c), c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	defer rc.Close()

	disposition := "inline"
	if c.QueryParam("download") == "true" {
		disposition = fmt.Sprintf("attachment; filename=%q", file.Name)
	}
	c.Response().Header().Set("Content-Disposition", disposition)

	mimeType := file.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return c.Stream(http.StatusOK, mimeType, rc)
}

func (h *Handler) RenameFileHandler(c echo.Context) error {
	var req struct {
		NewName string `json:"new_name"`
	}
	if err := c.Bind(&req); err != nil {
		return fail(c, fmt.Errorf("invalid request body: %w", apperr.ErrInvalidArgument))
	}

	file, err := h.Hierarchy.RenameFile(c.Request().Context(), auth.UserID(c), c.Param("id"), req.NewName)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, file)
}

func (h *Handler) DeleteFileHandler(c echo.Context) error {
	if err := h.Hierarchy.DeleteFile(c.Request().Context(), auth.UserID(c), c.Param("id")); err != nil {
		return fail(c, err)
	}
	return message(c, "File deleted successfully")
}

// Sharing

func (h *Handler) CreateShareHandler(c echo.Context) error {
	var req struct {
		ResourceID      string     `json:"resource_id"`
		ResourceType    string     `json:"resource_type"`
		Permissions     []string   `json:"permissions"`
		ExpiresAt       *time.Time `json:"expires_at"`
		IsPublic        *bool      `json:"is_public"`
		SharedWithEmail *string    `json:"shared_with_email"`
	}
	if err := c.Bind(&req); err != nil {
		return fail(c, fmt.Errorf("invalid request body: %w", apperr.ErrInvalidArgument))
	}

	isPublic := true
	if req.IsPublic != nil {
		isPublic = *req.IsPublic
	}

	sh, url, err := h.Shares.CreateShare(c.Request().Context(), auth.UserID(c), share.CreateShareParams{
		ResourceID:      req.ResourceID,
		ResourceType:    models.ResourceType(req.ResourceType),
		Permissions:     req.Permissions,
		ExpiresAt:       req.ExpiresAt,
		IsPublic:        isPublic,
		SharedWithEmail: req.SharedWithEmail,
	})
	if err != nil {
		return fail(c, err)
	}

	return ok(c, map[string]any{
		"share":     sh,
		"share_url": url,
	})
}

func (h *Handler) ResolveShareHandler(c echo.Context) error {
	sh, resource, err := h.Shares.ResolveShare(c.Request().Context(), c.Param("token"))
	if err != nil {
		return fail(c, err)
	}
	return ok(c, map[string]any{
		"share":    sh,
		"resource": resource,
	})
}

func (h *Handler) ListSharesHandler(c echo.Context) error {
	limit, offset := pagination(c, 20)

	shares, err := h.Shares.ListShares(c.Request().Context(), auth.UserID(c), limit, offset)
	if err != nil {
		return fail(c, err)
	}
	return paged(c, shares, limit, offset)
}

func (h *Handler) UpdateShareHandler(c echo.Context) error {
	var req struct {
		Permissions []string   `json:"permissions"`
		ExpiresAt   *time.Time `json:"expires_at"`
		IsPublic    *bool      `json:"is_public"`
	}
	if err := c.Bind(&req); err != nil {
		return fail(c, fmt.Errorf("invalid request body: %w", apperr.ErrInvalidArgument))
	}

	sh, err := h.Shares.UpdateShare(c.Request().Context(), auth.UserID(c), c.Param("id"), share.UpdateShareParams{
		Permissions: req.Permissions,
		ExpiresAt:   req.ExpiresAt,
		IsPublic:    req.IsPublic,
	})
	if err != nil {
		return fail(c, err)
	}
	return ok(c, sh)
}

func (h *Handler) RevokeShareHandler(c echo.Context) error {
	if err := h.Shares.RevokeShare(c.Request().Context(), auth.UserID(c), c.Param("id")); err != nil {
		return fail(c, err)
	}
	return message(c, "Share deleted successfully")
}

// Search and activity

func (h *Handler) SearchHandler(c echo.Context) error {
	limit, _ := pagination(c, 20)

	results, err := h.Hierarchy.Search(c.Request().Context(), auth.UserID(c), c.QueryParam("q"), c.QueryParam("type"), limit)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, results)
}

func (h *Handler) AdvancedSearchHandler(c echo.Context) error {
	var req struct {
		Query     string     `json:"query"`
		FileTypes []string   `json:"file_types"`
		SizeMin   *int64     `json:"size_min"`
		SizeMax   *int64     `json:"size_max"`
		DateFrom  *time.Time `json:"date_from"`
		DateTo    *time.Time `json:"date_to"`
		FolderID  *string    `json:"folder_id"`
		Tags      []string   `json:"tags"`
		Limit     int        `json:"limit"`
	}
	if err := c.Bind(&req); err != nil {
		return fail(c, fmt.Errorf("invalid request body: %w", apperr.ErrInvalidArgument))
	}
	if req.Limit > maxPageLimit {
		req.Limit = maxPageLimit
	}

	results, err := h.Hierarchy.AdvancedSearch(c.Request().Context(), auth.UserID(c), hierarchy.AdvancedSearchParams{
		Query:     req.Query,
		FileTypes: req.FileTypes,
		SizeMin:   req.SizeMin,
		SizeMax:   req.SizeMax,
		DateFrom:  req.DateFrom,
		DateTo:    req.DateTo,
		FolderID:  req.FolderID,
		Tags:      req.Tags,
		Limit:     req.Limit,
	})
	if err != nil {
		return fail(c, err)
	}
	return ok(c, results)
}

func (h *Handler) RecentHandler(c echo.Context) error {
	limit, _ := pagination(c, 10)

	files, err := h.Hierarchy.Recent(c.Request().Context(), auth.UserID(c), limit)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, files)
}

func (h *Handler) ListActivityHandler(c echo.Context) error {
	limit, offset := pagination(c, 50)

	records, err := h.Activity.List(c.Request().Context(), auth.UserID(c), limit, offset)
	if err != nil {
		return fail(c, err)
	}
	return paged(c, records, limit, offset)
}

// Envelope helpers

func ok(c echo.Context, data any) error {
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"data":    data,
	})
}

func message(c echo.Context, msg string) error {
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"message": msg,
	})
}

func paged(c echo.Context, documents any, limit, offset int) error {
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"data": map[string]any{
			"documents": documents,
			"limit":     limit,
			"offset":    offset,
		},
	})
}

func fail(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperr.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, apperr.ErrUnauthenticated):
		status = http.StatusUnauthorized
	case errors.Is(err, apperr.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, apperr.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apperr.ErrGone):
		status = http.StatusGone
	}

	if status == http.StatusInternalServerError {
		logger.Error("request failed: %v", err)
		// Hide internals from the client.
		return c.JSON(status, map[string]any{
			"success": false,
			"error":   "internal server error",
		})
	}

	return c.JSON(status, map[string]any{
		"success": false,
		"error":   err.Error(),
	})
}

// maxPageLimit caps client-supplied page sizes.
const maxPageLimit = 100

func pagination(c echo.Context, defaultLimit int) (limit, offset int) {
	limit = defaultLimit
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if v := c.QueryParam("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

func optParam(c echo.Context, name string) *string {
	if v := c.QueryParam(name); v != "" && v != "null" {
		return &v
	}
	return nil
}
