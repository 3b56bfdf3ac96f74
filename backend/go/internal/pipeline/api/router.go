package api

import (
	"github.com/gin-gonic/gin"
)

// NewRouter creates a gin engine with all routes registered.
func NewRouter(api *API) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	RegisterRoutes(router, api)
	return router
}

// RegisterRoutes registers all the routes for the operational surface.
func RegisterRoutes(router *gin.Engine, api *API) {
	// All routes will be under /api/v1
	v1 := router.Group("/api/v1")

	v1.POST("/test/inject-flow", api.InjectFlowHandler)
	v1.GET("/health", api.HealthHandler)
	v1.GET("/signals", api.SignalsHandler)

	flows := v1.Group("/flows")
	{
		flows.GET("", api.ListFlowsHandler)
		flows.GET("/:flowId", api.GetFlowHandler)
		flows.POST("/:flowId/complete", api.CompleteFlowHandler)
	}
	v1.DELETE("/handler/clear-cache", api.ClearCacheHandler)

	controllers := v1.Group("/controllers")
	{
		controllers.GET("/available", api.AvailableControllersHandler)
		controllers.GET("/:name/executions", api.ControllerExecutionsHandler)
		controllers.GET("/:name/flows/:flowId", api.ControllerFlowHandler)
		controllers.GET("/:name/latest", api.ControllerLatestHandler)
	}

	ds := v1.Group("/datasource")
	{
		ds.GET("/status", api.DataSourceStatusHandler)
		ds.GET("/cursors", api.CursorsHandler)
		ds.DELETE("/cursors", api.ClearCursorsHandler)
		ds.GET("/entities", api.EntitiesHandler)
		ds.GET("/entities/:entityId", api.EntityHandler)
	}

	partitions := v1.Group("/similarity/partitions")
	{
		partitions.GET("", api.PartitionsHandler)
		partitions.DELETE("/:partition", api.ClearPartitionHandler)
		partitions.GET("/:partition/stats", api.PartitionStatsHandler)
		partitions.GET("/:partition/duplicates", api.DuplicatesHandler)
		partitions.GET("/:partition/entries", api.PartitionEntriesHandler)
		partitions.POST("/:partition/entries", api.ImportEntriesHandler)
		partitions.DELETE("/:partition/entries/:id", api.DeleteEntryHandler)
	}
}
