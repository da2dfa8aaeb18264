package router

import (
	"github.com/labstack/echo/v4"

	"github.com/timeegg/timeegg-server/internal/handler"
)

// RegisterCapsules registers easter eggs and the waiting-room flow under
// /api/capsules. Every route requires a valid access token.
func RegisterCapsules(e *echo.Echo, rooms *handler.RoomHandler, eggs *handler.CapsuleHandler, g Guards) {
	c := e.Group("/api/capsules", g.auth())

	c.POST("", eggs.Create)
	c.GET("", eggs.Nearby)
	c.POST("/:id/view", eggs.View, g.limit())
	c.GET("/slots", eggs.Slots)
	c.POST("/slots/reset", eggs.ResetSlots)
	c.GET("/my-eggs", eggs.MyEggs)

	// Static segments win over :id in echo's router, so /step-rooms/create
	// never reaches the :id handlers.
	r := c.Group("/step-rooms")
	r.POST("/create", rooms.Create)
	r.GET("/:id", rooms.Get, g.cache())
	r.GET("/:id/settings", rooms.Settings, g.cache())
	r.POST("/:id/join", rooms.Join, g.limit())
	r.GET("/:id/my-content", rooms.MyContent)
	r.POST("/:id/my-content", rooms.CreateContent)
	r.PATCH("/:id/my-content", rooms.UpdateContent)
	r.POST("/:id/submit", rooms.Submit, g.limit())
}
