package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// BuildInfo identifies the running binary
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// RegisterHealth mounts GET /health on the router root
func RegisterHealth(router gin.IRoutes, info BuildInfo, driver string) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":     "ok",
			"version":    info.Version,
			"commit":     info.Commit,
			"build_time": info.BuildTime,
			"store":      driver,
			"time":       time.Now().Unix(),
		})
	})
}
