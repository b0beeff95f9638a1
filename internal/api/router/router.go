package router

import (
	"github.com/gin-gonic/gin"

	"github.com/openreel/publisher-be/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	jobHandler := handler.NewJobHandler(deps)
	videoHandler := handler.NewVideoHandler(deps)
	creditHandler := handler.NewCreditHandler(deps)
	systemHandler := handler.NewSystemHandler(deps)

	r.GET("/health", systemHandler.Health)

	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			jobs.POST("", jobHandler.EnqueueJob)
			jobs.GET("/:job_id", jobHandler.GetJob)
			jobs.POST("/:job_id/retry", jobHandler.RetryJob)
		}

		videos := v1.Group("/videos")
		{
			videos.POST("", videoHandler.CreateVideos)
			videos.GET("", videoHandler.ListVideos)
			videos.GET("/:video_id", videoHandler.GetVideo)
			videos.POST("/:video_id/cancel", videoHandler.CancelVideo)
			videos.POST("/:video_id/destinations/:destination/retry", videoHandler.RetryDestination)
			videos.GET("/:video_id/destinations/:destination/status", videoHandler.RemoteDestinationStatus)
		}

		creditRoutes := v1.Group("/credits")
		{
			creditRoutes.GET("/balance", creditHandler.GetBalance)
			creditRoutes.GET("/transactions", creditHandler.ListTransactions)
		}

		destinations := v1.Group("/destinations")
		{
			destinations.GET("", videoHandler.ListDestinations)
			destinations.PUT("/:destination", videoHandler.SetDestination)
		}
	}

	return r
}
