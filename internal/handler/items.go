package handler

import (
	"net/http"

	"labeling-service/internal/ingest"
	"labeling-service/internal/middleware"
	"labeling-service/internal/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type CreateItemsRequest struct {
	Texts []string `json:"texts" binding:"required"`
}

type LabelRequest struct {
	Label   string   `json:"label" binding:"required"`
	Reasons []string `json:"reasons"`
}

type AssignmentRequest struct {
	AssignedTo []string `json:"assignedTo"`
}

// FinalLabelRequest sets the admin override. An empty label withdraws it.
type FinalLabelRequest struct {
	Label string `json:"label"`
}

type AutoAssignRequest struct {
	// Students defaults to every registered student when omitted.
	Students          []string `json:"students"`
	OverlapPercentage int      `json:"overlapPercentage"`
}

// ListItems returns every item to admins and the caller's assignments to students.
func (h *Handler) ListItems(c *gin.Context) {
	var (
		items []*models.Item
		err   error
	)
	if middleware.CurrentRole(c) == models.RoleAdmin {
		items, err = h.annotator.ListItems(c.Request.Context())
	} else {
		items, err = h.annotator.ListItemsForStudent(c.Request.Context(), middleware.CurrentUsername(c))
	}
	if err != nil {
		h.respondError(c, err, "failed to get items")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"items": items,
		"total": len(items),
	})
}

func (h *Handler) GetItem(c *gin.Context) {
	item, err := h.annotator.GetItem(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err, "failed to get item")
		return
	}
	if middleware.CurrentRole(c) != models.RoleAdmin && !item.IsAssigned(middleware.CurrentUsername(c)) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Item is not assigned to you"})
		return
	}
	c.JSON(http.StatusOK, item)
}

// CreateItems adds items from a JSON list of texts.
func (h *Handler) CreateItems(c *gin.Context) {
	var req CreateItemsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	items, err := h.annotator.CreateItems(c.Request.Context(), req.Texts)
	if err != nil {
		h.respondError(c, err, "failed to create items")
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"items": items,
		"total": len(items),
	})
}

// UploadItems adds items from an uploaded CSV or plain text file.
func (h *Handler) UploadItems(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}

	f, err := header.Open()
	if err != nil {
		h.respondError(c, err, "failed to read upload")
		return
	}
	defer f.Close()

	texts, err := ingest.Parse(header.Filename, f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	items, err := h.annotator.CreateItems(c.Request.Context(), texts)
	if err != nil {
		h.respondError(c, err, "failed to create items")
		return
	}

	h.logger.Info("Items uploaded", zap.String("filename", header.Filename), zap.Int("count", len(items)))
	c.JSON(http.StatusCreated, gin.H{
		"items": items,
		"total": len(items),
	})
}

// RecordLabel stores a student's label. Students may only label their own
// assigned items.
func (h *Handler) RecordLabel(c *gin.Context) {
	var req LabelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	student := c.Param("student")
	if !h.canActFor(c, c.Param("id"), student) {
		return
	}

	item, err := h.annotator.RecordLabel(c.Request.Context(), c.Param("id"), student, req.Label, req.Reasons)
	if err != nil {
		h.respondError(c, err, "failed to record label")
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *Handler) ClearLabel(c *gin.Context) {
	student := c.Param("student")
	if !h.canActFor(c, c.Param("id"), student) {
		return
	}

	item, err := h.annotator.ClearLabel(c.Request.Context(), c.Param("id"), student)
	if err != nil {
		h.respondError(c, err, "failed to clear label")
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *Handler) SetAssignment(c *gin.Context) {
	var req AssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	item, err := h.annotator.SetAssignment(c.Request.Context(), c.Param("id"), req.AssignedTo)
	if err != nil {
		h.respondError(c, err, "failed to set assignment")
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *Handler) SetFinalLabel(c *gin.Context) {
	var req FinalLabelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	item, err := h.annotator.SetFinalLabelOverride(c.Request.Context(), c.Param("id"), req.Label)
	if err != nil {
		h.respondError(c, err, "failed to set final label")
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *Handler) DeleteItem(c *gin.Context) {
	if err := h.annotator.DeleteItem(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err, "failed to delete item")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) DeleteAllItems(c *gin.Context) {
	if err := h.annotator.DeleteAll(c.Request.Context()); err != nil {
		h.respondError(c, err, "failed to delete items")
		return
	}
	c.Status(http.StatusNoContent)
}

// AutoAssign distributes unassigned items across students.
func (h *Handler) AutoAssign(c *gin.Context) {
	var req AutoAssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	students := req.Students
	if students == nil {
		users, err := h.auth.ListUsers(c.Request.Context())
		if err != nil {
			h.respondError(c, err, "failed to list users")
			return
		}
		for _, u := range users {
			if u.Role == models.RoleStudent {
				students = append(students, u.Username)
			}
		}
	}

	result, err := h.annotator.AutoAssign(c.Request.Context(), students, req.OverlapPercentage)
	if err != nil {
		h.respondError(c, err, "failed to auto-assign")
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetStats returns annotation statistics
func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.annotator.GetStats(c.Request.Context())
	if err != nil {
		h.respondError(c, err, "failed to get stats")
		return
	}
	c.JSON(http.StatusOK, stats)
}
