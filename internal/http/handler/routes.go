package handler

import (
	"database/sql"

	"github.com/gofiber/fiber/v2"

	"labcase/internal/service"
)

// RegisterRoutes attaches HTTP routes to the provided Fiber app.
// Handlers stay thin; lifecycle rules live in the service layer.
func RegisterRoutes(app *fiber.App, db *sql.DB, caseSvc service.CaseService) {
	// Serve OpenAPI spec and Swagger UI
	app.Get("/openapi.yaml", func(c *fiber.Ctx) error {
		c.Type("yaml")
		return c.SendFile("openapi.yaml")
	})
	app.Get("/docs", func(c *fiber.Ctx) error {
		html := `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>API Docs</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    window.ui = SwaggerUIBundle({
      url: '/openapi.yaml',
      dom_id: '#swagger-ui',
      presets: [SwaggerUIBundle.presets.apis],
      layout: 'BaseLayout'
    });
  </script>
</body>
</html>`
		return c.Type("html").SendString(html)
	})

	app.Get("/health", HealthCheck(db))
	app.Get("/healthz", LivenessProbe())

	app.Post("/cases/open", OpenCase(caseSvc))
	// Registered before /cases/:id/* so "active" is never captured as an id.
	app.Get("/cases/active", GetActiveCase(caseSvc))
	app.Post("/cases/:id/messages", AddMessage(caseSvc))
	app.Post("/cases/:id/files", AddFile(caseSvc))
	app.Post("/cases/:id/close", CloseCase(caseSvc))
	app.Get("/cases/:id/files", ListCaseFiles(caseSvc))
}
