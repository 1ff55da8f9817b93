package handler

import (
	"encoding/json"

	"labeling-service/internal/export"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ExportCSV exports items with per-student labels to CSV
func (h *Handler) ExportCSV(c *gin.Context) {
	items, err := h.annotator.ListItems(c.Request.Context())
	if err != nil {
		h.respondError(c, err, "export failed")
		return
	}

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", "attachment; filename=labels.csv")

	if err := export.WriteCSV(c.Writer, items); err != nil {
		h.logger.Error("Failed to write CSV export", zap.Error(err))
	}
}

// ExportJSON exports the raw item list
func (h *Handler) ExportJSON(c *gin.Context) {
	items, err := h.annotator.ListItems(c.Request.Context())
	if err != nil {
		h.respondError(c, err, "export failed")
		return
	}

	c.Header("Content-Type", "application/json")
	c.Header("Content-Disposition", "attachment; filename=labels.json")

	encoder := json.NewEncoder(c.Writer)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(gin.H{"tweets": items}); err != nil {
		h.logger.Error("Failed to write JSON export", zap.Error(err))
	}
}
