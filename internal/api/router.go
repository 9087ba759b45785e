package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/creatorlab/gramsync/internal/cache"
	"github.com/creatorlab/gramsync/internal/db"
	"github.com/creatorlab/gramsync/internal/queue"
	"github.com/creatorlab/gramsync/pkg/logging"
)

// Router sets up API routes
type Router struct {
	connections *db.ConnectionRepository
	publisher   *queue.Publisher
	db          *db.DB
	cache       *cache.Cache
	logger      *zap.Logger
}

// NewRouter creates a new API router
func NewRouter(database *db.DB, redisCache *cache.Cache, publisher *queue.Publisher) *Router {
	repo := db.NewRepository(database.DB)
	return &Router{
		connections: db.NewConnectionRepository(repo),
		publisher:   publisher,
		db:          database,
		cache:       redisCache,
		logger:      logging.GetLogger().With(zap.String("component", "api-router")),
	}
}

// SetupRoutes sets up all API routes
func (r *Router) SetupRoutes(engine *gin.Engine) {
	// Health check endpoints
	engine.GET("/health", r.healthHandler)
	engine.GET("/.well-known/healthcheck.json", r.healthHandler)

	users := engine.Group("/users")
	users.POST("/:id/refresh", r.triggerRefresh)
	users.GET("/:id/sync-status", r.syncStatus)
}

// triggerRefresh enqueues an asynchronous refresh for one user
func (r *Router) triggerRefresh(c *gin.Context) {
	userID := c.Param("id")

	conn, err := r.connections.Get(c.Request.Context(), userID)
	if err != nil {
		r.logger.Error("Failed to load connection", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load user"})
		return
	}
	if conn == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "instagram account not connected"})
		return
	}

	jobID, err := r.publisher.EnqueueRefresh(c.Request.Context(), userID)
	if err != nil {
		r.logger.Error("Failed to enqueue refresh", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "refresh queue unavailable"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"job_id":  jobID,
		"user_id": userID,
	})
}

// syncStatus reports the stored outcome of the latest refresh
func (r *Router) syncStatus(c *gin.Context) {
	userID := c.Param("id")

	user, err := r.connections.GetUser(c.Request.Context(), userID)
	if err != nil {
		r.logger.Error("Failed to load user", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load user"})
		return
	}
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	status := gin.H{
		"user_id":   user.ID,
		"connected": user.InstagramConnected,
	}
	if user.LastSyncAttempt.Valid {
		status["last_sync_attempt"] = user.LastSyncAttempt.Time.UTC().Format(time.RFC3339)
	}
	if user.LastSyncSuccess.Valid {
		status["last_sync_success"] = user.LastSyncSuccess.Time.UTC().Format(time.RFC3339)
	}
	if user.SyncErrorMessage.Valid {
		status["sync_error_message"] = user.SyncErrorMessage.String
	}
	c.JSON(http.StatusOK, status)
}

// healthHandler handles health check requests
func (r *Router) healthHandler(c *gin.Context) {
	checks := gin.H{}
	healthy := true

	if err := r.db.Health(c.Request.Context()); err != nil {
		checks["database"] = err.Error()
		healthy = false
	} else {
		checks["database"] = "OK"
	}

	if err := r.cache.Health(c.Request.Context()); err != nil {
		checks["redis"] = err.Error()
		healthy = false
	} else {
		checks["redis"] = "OK"
	}

	status := http.StatusOK
	overall := "OK"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "DEGRADED"
	}
	c.JSON(status, gin.H{
		"status":  overall,
		"service": "gramsync-api",
		"checks":  checks,
	})
}
