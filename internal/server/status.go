package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stafflinehq/staffline/internal/engine"
	"go.uber.org/zap"
)

var (
	errMissingEngine    = errors.New("sync engine dependency required")
	errMissingScheduler = errors.New("scheduler dependency required")
)

// Dependencies wires the status server's collaborators.
type Dependencies struct {
	Engine    *engine.Engine
	Scheduler *engine.Scheduler
	Logger    *zap.Logger
}

type statusResponse struct {
	engine.Status
	SchedulerRunning bool `json:"schedulerRunning"`
}

// NewHTTPHandler builds the local status surface the UI polls for sync
// health.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Engine == nil {
		return nil, errMissingEngine
	}
	if deps.Scheduler == nil {
		return nil, errMissingScheduler
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodOptions},
		AllowHeaders: []string{"Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		engine:    deps.Engine,
		scheduler: deps.Scheduler,
		logger:    logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/status", handler.handleStatus)

	return router, nil
}

type httpHandler struct {
	engine    *engine.Engine
	scheduler *engine.Scheduler
	logger    *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleStatus(c *gin.Context) {
	status, err := h.engine.Status(c.Request.Context())
	if err != nil {
		h.logger.Error("status snapshot failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "status unavailable"})
		return
	}
	c.JSON(http.StatusOK, statusResponse{
		Status:           status,
		SchedulerRunning: h.scheduler.Running(),
	})
}
