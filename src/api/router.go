// Package api is the thin gin HTTP surface (C8) that dispatches onto the
// Island Kernel's public operations and maps its typed error taxonomy to
// HTTP status codes at this boundary only.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"islandctl/src/database"
	"islandctl/src/driver"
	"islandctl/src/fanout"
	"islandctl/src/islanderr"
	"islandctl/src/kernel"
	"islandctl/src/logging"
)

// Server wires the kernel and realtime registry onto a gin engine.
type Server struct {
	kernel *kernel.Kernel
	fanout *fanout.Registry
	db     *database.Database
	driver driver.Driver
	log    logging.Logger
}

func NewServer(k *kernel.Kernel, reg *fanout.Registry, db *database.Database, drv driver.Driver, log logging.Logger) *Server {
	return &Server{kernel: k, fanout: reg, db: db, driver: drv, log: log}
}

// Router builds the gin engine with every route and middleware attached.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestIDMiddleware(), corsMiddleware())

	r.GET("/healthz", s.healthz)
	r.GET("/readyz", s.readyz)

	islands := r.Group("/islands")
	islands.POST("", s.createIsland)
	islands.POST("/start", s.startIsland)
	islands.POST("/stop", s.stopIsland)
	islands.POST("/freeze", s.freezeIsland)
	islands.POST("/ready", s.markReady)
	islands.DELETE("/:id", s.deleteIsland)
	islands.GET("/:player_uuid", s.getIsland)

	r.POST("/teams/join", s.joinTeam)

	r.GET("/ws/:recipient_id", s.upgradeWebsocket)

	return r
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		ctx := logging.WithRequestID(c.Request.Context(), id)
		c.Request = c.Request.WithContext(ctx)
		c.Writer.Header().Set("X-Request-ID", id)
		c.Next()
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID, X-Admin-Key")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) readyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := s.db.HealthCheck(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "reason": "database: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// statusFor maps the kernel's typed error taxonomy to an HTTP status code.
func statusFor(err error) int {
	switch islanderr.KindOf(err) {
	case islanderr.KindNotFound:
		return http.StatusNotFound
	case islanderr.KindAlreadyExists:
		return http.StatusConflict
	case islanderr.KindInvalidState:
		return http.StatusConflict
	case islanderr.KindCapacityExhausted:
		return http.StatusServiceUnavailable
	case islanderr.KindDriverUnavailable, islanderr.KindDriverTimeout:
		return http.StatusBadGateway
	case islanderr.KindRetryExceeded:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func respondErr(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error(), "kind": islanderr.KindOf(err).String()})
}

func parseInt64(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}
