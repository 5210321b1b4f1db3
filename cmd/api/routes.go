package main

import (
	"context"
	"net/http"

	"videocall-platform/internal/signaling"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, ws signaling.WSHandler, dbStatus func(ctx context.Context) string) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"db":     dbStatus(c.Request.Context()),
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// The signaling socket carries every call event: ring, accept, reject,
	// cancel, end, heartbeat, reconnect.
	r.GET("/ws", ws.Handle)
}
