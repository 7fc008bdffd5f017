package http

import (
	nethttp "net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/symphonia/preinvoice-api/internal/domain/entity"
)

// RouterDeps dependencias para el router.
type RouterDeps struct {
	PreInvoices *PreInvoiceHandler
	Metrics     nethttp.Handler // nil = sin /metrics
	ServiceName string
	JWTSecret   string
	JWTIssuer   string // vacío = no se verifica el emisor
}

// Router registra las rutas de la API.
func Router(app *fiber.App, deps RouterDeps) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "service": deps.ServiceName})
	})
	if deps.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(deps.Metrics))
	}

	api := app.Group("/api")

	// Rutas protegidas (requieren Bearer Token)
	protected := api.Group("/", AuthMiddleware(deps.JWTSecret, deps.JWTIssuer))

	h := deps.PreInvoices
	pre := protected.Group("/preinvoices")

	// Consultas: las rutas fijas van antes de /:ref
	pre.Get("/", h.List)
	pre.Get("/stats", h.Stats)
	pre.Get("/export", RequireRole(entity.RoleFinance, entity.RoleAdmin), h.Export)
	pre.Get("/carrier/:carrierId/pending", RequireRole(entity.RoleCarrier, entity.RoleAdmin), h.CarrierPending)
	pre.Get("/industrial/:industrialId/to-validate", RequireRole(entity.RoleIndustrial, entity.RoleAdmin), h.IndustrialToValidate)
	pre.Get("/:ref", h.Get)
	pre.Get("/:id/pdf", h.PDF)

	// Procesos (planificador externo o administrador)
	batch := RequireRole(entity.RoleAdmin, entity.RoleSystem)
	pre.Post("/aggregate", batch, h.Aggregate)
	pre.Post("/send-monthly", batch, h.SendMonthly)
	pre.Post("/update-countdowns", batch, h.UpdateCountdowns)

	// Acciones del ciclo de vida
	pre.Post("/:id/validate", RequireRole(entity.RoleIndustrial), h.Validate)
	pre.Post("/:id/upload-invoice", RequireRole(entity.RoleCarrier), h.UploadInvoice)
	pre.Post("/:id/mark-paid", RequireRole(entity.RoleFinance, entity.RoleAdmin), h.MarkPaid)
	pre.Post("/:id/dispute", h.Dispute)
}
