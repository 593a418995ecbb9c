package http

import (
	"github.com/gin-gonic/gin"

	"github.com/layer-3/openid/ports"
)

// SetupRouter sets up the Gin router. Either handler set may be nil
// when the process runs only one role.
func SetupRouter(op *OPHandlers, rp *RPHandlers, store ports.Store) *gin.Engine {
	router := gin.Default()

	// Provider routes
	if op != nil {
		router.GET("/openid", op.CheckID)
		router.POST("/openid", op.Direct)
	}

	// Relying-party routes
	if rp != nil {
		auth := router.Group("/auth")
		{
			auth.GET("/begin", rp.Begin)
			auth.GET("/complete", rp.Complete)
		}

		// Protected API routes
		api := router.Group("/api")
		api.Use(AuthMiddleware(store))
		{
			api.GET("/me", rp.Me)
		}
	}

	return router
}
