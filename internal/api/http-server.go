package api

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"propscraper/internal/api/handler"
	"propscraper/internal/scheduler"
	"propscraper/internal/store"
)

type APIServerConfig struct {
	Addr        string
	Coordinator *scheduler.Coordinator
	Properties  store.PropertyStore
}

func StartServer(config APIServerConfig) error {
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	h := &handler.Handler{
		Coordinator: config.Coordinator,
		Properties:  config.Properties,
	}

	e.POST("/jobs", h.CreateJob)
	e.GET("/jobs", h.ListJobs)
	e.GET("/jobs/:id", h.GetJob)
	e.PUT("/jobs/:id", h.UpdateJob)
	e.DELETE("/jobs/:id", h.DeleteJob)
	e.POST("/jobs/:id/run", h.RunJob)

	e.GET("/runs", h.ListRuns)
	e.GET("/stats", h.Stats)

	e.GET("/properties", h.SearchProperties)
	e.GET("/properties/recent", h.RecentProperties)
	e.GET("/properties/stats", h.PropertyStats)

	return e.Start(config.Addr)
}
