package router

import (
	"github.com/gin-gonic/gin"

	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware(deps.Auth.Header))

	ebookHandler := handler.NewEbookHandler(deps)

	// Public routes
	r.GET("/", ebookHandler.Root)
	r.GET("/health", ebookHandler.Health)
	r.GET("/api/test", ebookHandler.Test)

	ebooks := r.Group("/api/ebooks")
	{
		// GET /api/ebooks/files/:fileId - Download a generated ebook
		ebooks.GET("/files/:fileId", ebookHandler.DownloadFile)

		protected := ebooks.Group("", APIKeyMiddleware(deps.Auth.Header, deps.Auth.APIKey))
		{
			// POST /api/ebooks/generate - Queue a new ebook
			protected.POST("/generate", ebookHandler.Generate)

			// GET /api/ebooks/status/:jobId - Status of one job
			protected.GET("/status/:jobId", ebookHandler.GetStatus)

			// GET /api/ebooks/pipeline/:requestId - Status of every stage
			protected.GET("/pipeline/:requestId", ebookHandler.GetPipeline)
		}
	}

	return r
}
