package handler

import (
	"errors"
	"net/http"

	"labeling-service/internal/middleware"
	"labeling-service/internal/models"
	"labeling-service/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler handles HTTP requests
type Handler struct {
	annotator *service.Annotator
	auth      service.AuthService
	logger    *zap.Logger
}

// NewHandler creates a new API handler
func NewHandler(annotator *service.Annotator, auth service.AuthService, logger *zap.Logger) *Handler {
	return &Handler{
		annotator: annotator,
		auth:      auth,
		logger:    logger,
	}
}

// RegisterRoutes registers all API routes. loginLimiter throttles login
// attempts per client IP and may be nil.
func (h *Handler) RegisterRoutes(r *gin.Engine, loginLimiter *middleware.KeyedLimiter) {
	r.GET("/health", h.HealthCheck)

	api := r.Group("/api")

	auth := api.Group("/auth")
	{
		auth.POST("/register", h.Register)
		if loginLimiter != nil {
			auth.POST("/login", middleware.Throttle(loginLimiter, h.logger), h.Login)
		} else {
			auth.POST("/login", h.Login)
		}
	}

	authed := api.Group("", middleware.AuthMiddleware(h.auth, h.logger))
	{
		authed.GET("/labels", h.GetLabels)
		authed.GET("/items", h.ListItems)
		authed.GET("/items/:id", h.GetItem)
		authed.PUT("/items/:id/labels/:student", h.RecordLabel)
		authed.DELETE("/items/:id/labels/:student", h.ClearLabel)
	}

	admin := authed.Group("", middleware.RequireAdmin())
	{
		admin.POST("/items", h.CreateItems)
		admin.POST("/items/upload", h.UploadItems)
		admin.POST("/items/auto-assign", h.AutoAssign)
		admin.PUT("/items/:id/assignment", h.SetAssignment)
		admin.PUT("/items/:id/final-label", h.SetFinalLabel)
		admin.DELETE("/items/:id", h.DeleteItem)
		admin.DELETE("/items", h.DeleteAllItems)

		admin.GET("/users", h.ListUsers)
		admin.GET("/stats", h.GetStats)

		admin.GET("/export/csv", h.ExportCSV)
		admin.GET("/export/json", h.ExportJSON)
	}
}

// HealthCheck returns service health
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "labeling-service",
		"version": "1.0.0",
	})
}

// respondError maps service errors onto HTTP statuses. Unexpected errors
// are logged and hidden behind a generic message.
func (h *Handler) respondError(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, service.ErrItemNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidConfiguration),
		errors.Is(err, service.ErrInvalidLabel),
		errors.Is(err, service.ErrInvalidReason),
		errors.Is(err, service.ErrInvalidStudent),
		errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrUserAlreadyExists):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	default:
		h.logger.Error(msg, zap.Error(err), zap.String("path", c.FullPath()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}

// GetLabels returns the label taxonomy.
func (h *Handler) GetLabels(c *gin.Context) {
	c.JSON(http.StatusOK, h.annotator.Taxonomy())
}

// canActFor reports whether the caller may change student's annotation on
// item itemID. Admins may act for anyone on any item. Students may act only
// for themselves and only on items assigned to them. It writes the error
// response when it returns false.
func (h *Handler) canActFor(c *gin.Context, itemID, student string) bool {
	if middleware.CurrentRole(c) == models.RoleAdmin {
		return true
	}
	if middleware.CurrentUsername(c) != student {
		c.JSON(http.StatusForbidden, gin.H{"error": "Students can only act for themselves"})
		return false
	}

	item, err := h.annotator.GetItem(c.Request.Context(), itemID)
	if err != nil {
		h.respondError(c, err, "failed to get item")
		return false
	}
	if !item.IsAssigned(student) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Item is not assigned to you"})
		return false
	}
	return true
}
