package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"ibstudy-server/db"
	"ibstudy-server/models"
)

// taskFilter reads ?completed=&subject=&due_before= from the query string.
func taskFilter(c *gin.Context) (db.TaskFilter, error) {
	f := db.TaskFilter{Subject: c.Query("subject")}
	if v := c.Query("completed"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, err
		}
		f.Completed = &b
	}
	if v := c.Query("due_before"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, err
		}
		f.DueBefore = &t
	}
	return f, nil
}

// ListTasks returns the caller's planner tasks.
// GET /api/planner/tasks
func ListTasks(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		f, err := taskFilter(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid filter: " + err.Error()})
			return
		}
		tasks, err := db.ListTasks(c.Request.Context(), pool, c.GetString("user_id"), f)
		if err != nil {
			respondError(c, err, "tasks")
			return
		}
		c.JSON(http.StatusOK, tasks)
	}
}

func bindTask(c *gin.Context) (models.TaskRequest, bool) {
	var req models.TaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return req, false
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title is required"})
		return req, false
	}
	return req, true
}

// CreateTask adds a task.
// POST /api/planner/tasks
func CreateTask(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, ok := bindTask(c)
		if !ok {
			return
		}
		t, err := db.CreateTask(c.Request.Context(), pool, c.GetString("user_id"), req)
		if err != nil {
			respondError(c, err, "task")
			return
		}
		c.JSON(http.StatusCreated, t)
	}
}

// UpdateTask edits a task.
// PUT /api/planner/tasks/:id
func UpdateTask(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, ok := bindTask(c)
		if !ok {
			return
		}
		t, err := db.UpdateTask(c.Request.Context(), pool, c.GetString("user_id"), c.Param("id"), req)
		if err != nil {
			respondError(c, err, "task")
			return
		}
		c.JSON(http.StatusOK, t)
	}
}

// ToggleTask flips a task between done and not done.
// PATCH /api/planner/tasks/:id/toggle
func ToggleTask(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		t, err := db.ToggleTask(c.Request.Context(), pool, c.GetString("user_id"), c.Param("id"))
		if err != nil {
			respondError(c, err, "task")
			return
		}
		c.JSON(http.StatusOK, t)
	}
}

// DeleteTask removes a task.
// DELETE /api/planner/tasks/:id
func DeleteTask(pool *pgxpool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.DeleteTask(c.Request.Context(), pool, c.GetString("user_id"), c.Param("id")); err != nil {
			respondError(c, err, "task")
			return
		}
		c.Status(http.StatusNoContent)
	}
}
