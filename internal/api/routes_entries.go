package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/dbcache/internal/handlers"
)

func registerEntryRoutes(api *gin.RouterGroup, handler *handlers.EntryHandler) {
	// Keys may contain slashes, so every key route ends in a catch-all.
	entries := api.Group("/entries")
	{
		entries.GET("/*key", handler.Get)
		entries.PUT("/*key", handler.Put)
		entries.DELETE("/*key", handler.Delete)
	}
	api.POST("/increment/*key", handler.Increment)

	batch := api.Group("/batch")
	{
		batch.POST("/get", handler.BatchGet)
		batch.POST("/set", handler.BatchSet)
		batch.POST("/touch", handler.BatchTouch)
		batch.POST("/delete-matched", handler.DeleteMatched)
	}
}
