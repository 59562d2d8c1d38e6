package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterOpsRoutes registers the unauthenticated health and metrics
// endpoints.
func RegisterOpsRoutes(app *fiber.App, gatherer prometheus.Gatherer) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}

// RegisterRoutes registers the /api routes. Reads need a valid token;
// changes need the admin role.
func RegisterRoutes(app *fiber.App, h *Handler, authMW, adminMW fiber.Handler) {
	api := app.Group("/api", authMW)

	api.Post("/selections", h.Select)

	api.Get("/tasks", h.ListTasks)
	api.Post("/tasks/:name/run", adminMW, h.RunTask)
	api.Put("/tasks/:name/watermark", adminMW, h.ResetWatermark)

	api.Get("/runs", h.ListRuns)

	api.Get("/selectors", h.ListSelectors)
	api.Get("/selectors/:name", h.GetSelector)
	api.Put("/selectors/:name", adminMW, h.PutSelector)
	api.Delete("/selectors/:name", adminMW, h.DeleteSelector)

	api.Post("/components", adminMW, h.PutComponent)
	api.Get("/components/:key", h.GetComponent)
	api.Delete("/components/:key", adminMW, h.DeleteComponent)
	api.Post("/assets/:repository", adminMW, h.UploadAsset)
}
