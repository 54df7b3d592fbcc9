// Package handlers holds small standalone route handlers.
package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/seedshare/seedshare/internal/scheduler"
)

// TaskLister lists scheduled background tasks.
type TaskLister interface {
	ListTasks() []scheduler.TaskInfo
}

// SchedulerHandler handles scheduler-related API requests.
type SchedulerHandler struct {
	scheduler TaskLister
}

// NewSchedulerHandler creates a new scheduler handler.
func NewSchedulerHandler(sched TaskLister) *SchedulerHandler {
	return &SchedulerHandler{
		scheduler: sched,
	}
}

// ListTasks returns all scheduled tasks, including per-session poll jobs.
// GET /api/system/tasks
func (h *SchedulerHandler) ListTasks(c echo.Context) error {
	tasks := h.scheduler.ListTasks()
	if tasks == nil {
		tasks = []scheduler.TaskInfo{}
	}
	return c.JSON(http.StatusOK, tasks)
}
