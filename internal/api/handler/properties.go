package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"propscraper/internal/types"
)

// For route GET '/properties?city=&min_price=&max_price=&property_type='
func (h *Handler) SearchProperties(ctx echo.Context) error {
	q := types.PropertyQuery{
		City:         ctx.QueryParam("city"),
		Province:     ctx.QueryParam("province"),
		PropertyType: ctx.QueryParam("property_type"),
	}
	if raw := ctx.QueryParam("min_price"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid min_price")
		}
		q.MinPrice = &v
	}
	if raw := ctx.QueryParam("max_price"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid max_price")
		}
		q.MaxPrice = &v
	}
	q.Limit, _ = strconv.Atoi(ctx.QueryParam("limit"))

	props, err := h.Properties.Search(ctx.Request().Context(), q)
	if err != nil {
		return mapError(err)
	}
	return ctx.JSON(http.StatusOK, map[string]any{"properties": props})
}

// For route GET '/properties/stats'
func (h *Handler) PropertyStats(ctx echo.Context) error {
	stats, err := h.Properties.Stats(ctx.Request().Context())
	if err != nil {
		return mapError(err)
	}
	return ctx.JSON(http.StatusOK, stats)
}

// For route GET '/properties/recent?days='
func (h *Handler) RecentProperties(ctx echo.Context) error {
	days, _ := strconv.Atoi(ctx.QueryParam("days"))
	limit, _ := strconv.Atoi(ctx.QueryParam("limit"))

	props, err := h.Properties.Recent(ctx.Request().Context(), days, limit)
	if err != nil {
		return mapError(err)
	}
	return ctx.JSON(http.StatusOK, map[string]any{"properties": props})
}
