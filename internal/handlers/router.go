package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/exam-attempt-engine/internal/engine"
	"github.com/SAP-F-2025/exam-attempt-engine/internal/models"
	"github.com/SAP-F-2025/exam-attempt-engine/internal/repositories"
	"github.com/SAP-F-2025/exam-attempt-engine/internal/services"
	"github.com/SAP-F-2025/exam-attempt-engine/internal/utils"
	"github.com/SAP-F-2025/exam-attempt-engine/internal/validator"
)

type HandlerManager struct {
	examHandler    *ExamHandler
	attemptHandler *AttemptHandler
	sessionHandler *SessionHandler
	resultHandler  *ResultHandler
	userHandler    *UserHandler
	auth           Authenticator
	health         func(ctx context.Context) error
}

func NewHandlerManager(
	serviceManager services.ServiceManager,
	sessions *engine.SessionManager,
	validator *validator.Validator,
	logger utils.Logger,
	auth Authenticator,
	userRepo repositories.UserRepository,
) *HandlerManager {
	return &HandlerManager{
		examHandler:    NewExamHandler(serviceManager.Exam(), serviceManager.Result(), validator, logger),
		attemptHandler: NewAttemptHandler(serviceManager.Attempt(), sessions, validator, logger),
		sessionHandler: NewSessionHandler(sessions, validator, logger),
		resultHandler:  NewResultHandler(serviceManager.Result(), logger),
		userHandler:    NewUserHandler(userRepo, logger),
		auth:           auth,
		health:         serviceManager.HealthCheck,
	}
}

// SetupRoutes sets up all API routes
func (hm *HandlerManager) SetupRoutes(router *gin.Engine) {
	staffOnly := hm.auth.RequireRoleMiddleware(models.RoleTeacher)

	v1 := router.Group("/api/v1")
	v1.Use(hm.auth.AuthMiddleware())
	{
		exams := v1.Group("/exams")
		{
			exams.POST("", staffOnly, hm.examHandler.CreateExam)
			exams.GET("/:id", hm.examHandler.GetExam)
			exams.GET("/:id/passages", hm.examHandler.GetPassages)
			exams.PUT("/:id/passing-score", staffOnly, hm.examHandler.UpdatePassingScore)
			exams.GET("/:id/stats", staffOnly, hm.examHandler.GetQuestionStats)
			exams.GET("/:id/results/export", staffOnly, hm.examHandler.ExportResults)

			exams.POST("/:id/attempts", hm.attemptHandler.StartAttempt)
			exams.POST("/:id/session", hm.sessionHandler.OpenSession)
		}

		attempts := v1.Group("/attempts")
		{
			attempts.GET("", hm.attemptHandler.ListAttempts)
			attempts.GET("/:id", hm.attemptHandler.GetAttempt)
			attempts.GET("/:id/answers", hm.attemptHandler.GetAnswers)
			attempts.PUT("/:id/answers/:question_id", hm.attemptHandler.UpsertAnswer)
			attempts.POST("/:id/submit", hm.attemptHandler.SubmitAttempt)

			// Results of submitted attempts
			attempts.GET("/:id/summary", hm.resultHandler.GetSummary)
			attempts.GET("/:id/review", hm.resultHandler.GetReview)
			attempts.GET("/:id/review/all", hm.resultHandler.GetReviewAll)
		}

		sessions := v1.Group("/sessions")
		{
			sessions.GET("/:attempt_id", hm.sessionHandler.GetSession)
			sessions.PUT("/:attempt_id/answers/:question_id", hm.sessionHandler.SetAnswer)
			sessions.POST("/:attempt_id/navigate", hm.sessionHandler.Navigate)
			sessions.POST("/:attempt_id/finish", hm.sessionHandler.Finish)
		}

		v1.GET("/users/me", hm.userHandler.GetMe)
	}

	router.GET("/health", hm.HealthCheck)
}

func (hm *HandlerManager) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := hm.health(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "unhealthy",
			"service": "exam-attempt-engine",
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "exam-attempt-engine",
	})
}
