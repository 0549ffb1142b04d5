package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	vdomain "github.com/smallbiznis/facturo/internal/verification/domain"
)

// VerificationMetrics serves a pipeline health snapshot: invoice counts per
// status, the error code distribution, and the dead-letter backlog.
func (s *Server) VerificationMetrics(c *gin.Context) {
	overview, err := s.tracker.Snapshot(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": overview})
}

func (s *Server) ListDeadLetters(c *gin.Context) {
	var entries []vdomain.DeadLetterEntry
	err := s.db.WithContext(c.Request.Context()).
		Where("replayed = ?", false).
		Order("created_at ASC").
		Limit(200).
		Find(&entries).Error
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entries})
}

// ReplayDeadLetter requeues the invoice behind a parked entry and marks the
// entry replayed. The invoice gets a fresh retry budget.
func (s *Server) ReplayDeadLetter(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	var entry vdomain.DeadLetterEntry
	err = s.db.WithContext(c.Request.Context()).
		Where("id = ?", id).
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, errorResponse{Error: errorPayload{
				Type:    "not_found",
				Message: "not found",
			}})
			return
		}
		AbortWithError(c, err)
		return
	}
	if entry.Replayed {
		AbortWithError(c, ErrConflict)
		return
	}

	if err := s.invoiceSvc.RequestVerification(c.Request.Context(), entry.InvoiceID); err != nil {
		AbortWithError(c, err)
		return
	}

	err = s.db.WithContext(c.Request.Context()).
		Model(&vdomain.DeadLetterEntry{}).
		Where("id = ?", entry.ID).
		Update("replayed", true).Error
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"data": gin.H{"status": "queued"}})
}
