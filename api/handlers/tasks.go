package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/claude-collab/backend/internal/model"
	"github.com/claude-collab/backend/internal/tasks"
	"github.com/claude-collab/backend/internal/ws"
)

// TaskHandler handles HTTP requests for the task registry.
type TaskHandler struct {
	registry *tasks.Registry
	service  *ws.Service
}

// NewTaskHandler creates a new TaskHandler. Status changes are broadcast
// through service.
func NewTaskHandler(registry *tasks.Registry, service *ws.Service) *TaskHandler {
	return &TaskHandler{
		registry: registry,
		service:  service,
	}
}

// UpdateTaskRequest is the body of PATCH /api/tasks/:id.
type UpdateTaskRequest struct {
	Status string `json:"status" binding:"required"`
}

// List handles GET /api/tasks - lists tasks in submission order.
func (h *TaskHandler) List(c *gin.Context) {
	list, err := h.registry.List(c.Request.Context())
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list tasks: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, list)
}

// Get handles GET /api/tasks/:id.
func (h *TaskHandler) Get(c *gin.Context) {
	id := c.Param("id")
	task, err := h.registry.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, model.ErrTaskNotFound) {
			sendError(c, http.StatusNotFound, "TASK_NOT_FOUND", "Task "+id+" not found")
			return
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get task: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, task)
}

// Update handles PATCH /api/tasks/:id - sets the status and broadcasts the change.
func (h *TaskHandler) Update(c *gin.Context) {
	id := c.Param("id")

	var req UpdateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}
	status, err := model.ParseTaskStatus(req.Status)
	if err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	ctx := c.Request.Context()
	patch, err := h.registry.SetStatus(ctx, id, status)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to update task: "+err.Error())
		return
	}
	h.service.BroadcastTask(patch)

	task, err := h.registry.Get(ctx, id)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get task: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, task)
}

// RegisterRoutes registers the task routes on a Gin router group.
func (h *TaskHandler) RegisterRoutes(rg *gin.RouterGroup) {
	t := rg.Group("/tasks")
	{
		t.GET("", h.List)
		t.GET("/:id", h.Get)
		t.PATCH("/:id", h.Update)
	}
}
