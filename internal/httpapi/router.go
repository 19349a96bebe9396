package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// NewEngine собирает gin-engine с общим набором middleware сервиса.
func NewEngine(component string) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), RequestID(), RequestLogger(component))
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return engine
}
