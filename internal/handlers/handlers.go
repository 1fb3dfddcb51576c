package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/example/facegate/internal/auth"
	"github.com/example/facegate/internal/usecase"
)

// MaxUploadSize bounds the request body. Base64 inflates the image by a
// third, so this allows roughly a 6 MB photo.
const MaxUploadSize = 8 << 20

type imageRequest struct {
	Image string `json:"image" binding:"required"`
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, uc *usecase.VerificationUseCase, authMiddleware gin.HandlerFunc) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authed := router.Group("/", authMiddleware)

	authed.POST("/attendance/verify", func(c *gin.Context) {
		studentID, ok := auth.GetStudentID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
			return
		}

		if c.Request.ContentLength > MaxUploadSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
			return
		}

		var req imageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "image is required"})
			return
		}

		requestID, result, err := uc.SubmitAttendance(c.Request.Context(), studentID, req.Image)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "verification could not be recorded"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"request_id": requestID,
			"verified":   result.Verified,
			"confidence": result.Confidence,
			"message":    result.Message,
			"code":       result.Code.String(),
		})
	})

	authed.POST("/enroll", func(c *gin.Context) {
		studentID, ok := auth.GetStudentID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
			return
		}

		if c.Request.ContentLength > MaxUploadSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
			return
		}

		var req imageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "image is required"})
			return
		}

		enrolled, message, err := uc.EnrollProfile(c.Request.Context(), studentID, req.Image)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "enrollment could not be recorded"})
			return
		}
		if !enrolled {
			c.JSON(http.StatusBadRequest, gin.H{"error": message})
			return
		}

		c.JSON(http.StatusOK, gin.H{"enrolled": true, "message": message})
	})

	authed.GET("/result/:id", func(c *gin.Context) {
		studentID, ok := auth.GetStudentID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
			return
		}

		requestID := c.Param("id")
		log, err := uc.GetResult(c.Request.Context(), studentID, requestID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"request_id": log.RequestID,
			"student_id": log.StudentID,
			"verified":   log.Verified,
			"confidence": log.Confidence,
			"reason":     log.Reason,
			"code":       log.Code,
			"created_at": log.CreatedAt,
		})
	})

	authed.GET("/duplicates/:id", func(c *gin.Context) {
		studentID, ok := auth.GetStudentID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
			return
		}

		requestID := c.Param("id")
		report, err := uc.GetDuplicateReport(c.Request.Context(), studentID, requestID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "request not found"})
			return
		}

		duplicates := make([]gin.H, 0, len(report.Duplicates))
		for _, dup := range report.Duplicates {
			duplicates = append(duplicates, gin.H{
				"request_id": dup.RequestID,
				"verified":   dup.Verified,
				"created_at": dup.CreatedAt,
			})
		}

		c.JSON(http.StatusOK, gin.H{
			"request_id": report.Request.RequestID,
			"sha1_hash":  report.Request.SHA1Hash,
			"duplicates": duplicates,
		})
	})

	authed.GET("/metrics", func(c *gin.Context) {
		summary, err := uc.GetMetricsSummary(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "metrics unavailable"})
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}
