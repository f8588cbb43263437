package handlers

import (
	"errors"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/claude-collab/backend/internal/files"
	"github.com/claude-collab/backend/internal/model"
)

// FileHandler serves the workspace file browser.
type FileHandler struct {
	tree       *files.Tree
	synopsizer *files.Synopsizer
}

// NewFileHandler creates a new FileHandler.
func NewFileHandler(tree *files.Tree, synopsizer *files.Synopsizer) *FileHandler {
	return &FileHandler{
		tree:       tree,
		synopsizer: synopsizer,
	}
}

// ContentResponse is returned by GET /api/files/content.
type ContentResponse struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// SynopsisRequest is the body of POST /api/files/synopsis.
type SynopsisRequest struct {
	Path string `json:"path" binding:"required"`
}

// sendFileError maps file errors to responses.
func sendFileError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, model.ErrPathTraversal):
		sendError(c, http.StatusBadRequest, "PATH_TRAVERSAL", err.Error())
	case errors.Is(err, model.ErrIsDirectory):
		sendError(c, http.StatusBadRequest, "IS_DIRECTORY", err.Error())
	case errors.Is(err, model.ErrFileTooLarge):
		sendError(c, http.StatusBadRequest, "FILE_TOO_LARGE", err.Error())
	case errors.Is(err, os.ErrNotExist):
		sendError(c, http.StatusNotFound, "NOT_FOUND", err.Error())
	default:
		sendError(c, http.StatusBadRequest, "FILE_ERROR", err.Error())
	}
}

// List handles GET /api/files?path= - one level of a directory.
func (h *FileHandler) List(c *gin.Context) {
	entries, err := h.tree.List(c.DefaultQuery("path", "."))
	if err != nil {
		sendFileError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

// Content handles GET /api/files/content?path=.
func (h *FileHandler) Content(c *gin.Context) {
	p := c.Query("path")
	if p == "" {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "path required")
		return
	}
	data, err := h.tree.Content(p)
	if err != nil {
		sendFileError(c, err)
		return
	}
	c.JSON(http.StatusOK, ContentResponse{Path: p, Content: string(data)})
}

// Synopsis handles POST /api/files/synopsis - a short model-written summary.
func (h *FileHandler) Synopsis(c *gin.Context) {
	var req SynopsisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "path required")
		return
	}

	synopsis, err := h.synopsizer.Synopsis(c.Request.Context(), req.Path)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrNotConfigured):
			sendError(c, http.StatusInternalServerError, "NOT_CONFIGURED", "ANTHROPIC_API_KEY not configured")
		case errors.Is(err, model.ErrUpstream):
			sendError(c, http.StatusBadGateway, "UPSTREAM_ERROR", err.Error())
		default:
			sendFileError(c, err)
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"synopsis": synopsis})
}

// RegisterRoutes registers the file routes on a Gin router group.
func (h *FileHandler) RegisterRoutes(rg *gin.RouterGroup) {
	f := rg.Group("/files")
	{
		f.GET("", h.List)
		f.GET("/content", h.Content)
		f.POST("/synopsis", h.Synopsis)
	}
}
