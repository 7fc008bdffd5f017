package http

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/symphonia/preinvoice-api/internal/application/billing"
	"github.com/symphonia/preinvoice-api/internal/application/dto"
	"github.com/symphonia/preinvoice-api/internal/domain/entity"
	"github.com/symphonia/preinvoice-api/internal/domain/preinvoice"
	"github.com/symphonia/preinvoice-api/internal/domain/repository"
)

// PreInvoiceHandler maneja las peticiones HTTP del ciclo de prefacturación (protegido).
type PreInvoiceHandler struct {
	query     *billing.QueryUseCase
	aggregate *billing.AggregateUseCase
	workflow  *billing.WorkflowUseCase
	countdown *billing.CountdownUseCase
	export    *billing.SettlementExportUseCase
	pdf       *billing.PDFUseCase
	now       billing.Clock
}

// NewPreInvoiceHandler construye el handler.
func NewPreInvoiceHandler(
	query *billing.QueryUseCase,
	aggregate *billing.AggregateUseCase,
	workflow *billing.WorkflowUseCase,
	countdown *billing.CountdownUseCase,
	export *billing.SettlementExportUseCase,
	pdf *billing.PDFUseCase,
	now billing.Clock,
) *PreInvoiceHandler {
	if now == nil {
		now = time.Now
	}
	return &PreInvoiceHandler{
		query:     query,
		aggregate: aggregate,
		workflow:  workflow,
		countdown: countdown,
		export:    export,
		pdf:       pdf,
		now:       now,
	}
}

// List godoc
// @Summary      Listar prefacturas
// @Description  Industrial y transportista solo ven las propias; los demás filtros son opcionales.
// @Tags         preinvoices
// @Security     Bearer
// @Produce      json
// @Param        industrialId  query  string  false  "Industrial"
// @Param        carrierId     query  string  false  "Transportista"
// @Param        status        query  string  false  "Estados separados por coma"
// @Param        month         query  int     false  "Mes (1-12)"
// @Param        year          query  int     false  "Año"
// @Param        limit         query  int     false  "Tamaño de página (default 20, máximo 100)"
// @Param        offset        query  int     false  "Desplazamiento"
// @Success      200  {object}  dto.PreInvoiceListResponse
// @Failure      400  {object}  dto.ErrorResponse
// @Router       /api/preinvoices [get]
func (h *PreInvoiceHandler) List(c *fiber.Ctx) error {
	var page dto.PageRequest
	if err := c.QueryParser(&page); err != nil {
		return badRequest(c, "INVALID_QUERY", "parámetros de paginación inválidos")
	}
	page.Normalize()

	f := repository.PreInvoiceFilter{
		IndustrialID: c.Query("industrialId"),
		CarrierID:    c.Query("carrierId"),
		Month:        c.QueryInt("month"),
		Year:         c.QueryInt("year"),
		Limit:        page.Limit,
		Offset:       page.Offset,
	}
	for _, s := range strings.Split(c.Query("status"), ",") {
		if s = strings.TrimSpace(s); s != "" {
			f.Statuses = append(f.Statuses, entity.PreInvoiceStatus(s))
		}
	}

	list, err := h.query.List(c.Context(), ActorFrom(c), f)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.PreInvoiceListResponse{
		Items: dto.ToPreInvoiceSummaries(list),
		Page:  page.Response(len(list)),
	})
}

// Stats godoc
// @Summary      Estadísticas anuales de prefacturación
// @Tags         preinvoices
// @Security     Bearer
// @Produce      json
// @Param        year          query  int     false  "Año (default: año en curso)"
// @Param        industrialId  query  string  false  "Industrial"
// @Param        carrierId     query  string  false  "Transportista"
// @Success      200  {object}  repository.PreInvoiceStats
// @Router       /api/preinvoices/stats [get]
func (h *PreInvoiceHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.query.Stats(c.Context(), ActorFrom(c), repository.StatsFilter{
		Year:         c.QueryInt("year", h.now().Year()),
		IndustrialID: c.Query("industrialId"),
		CarrierID:    c.Query("carrierId"),
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(stats)
}

// Export godoc
// @Summary      Exportación de pagos (CSV)
// @Description  Prefacturas en payment_pending ordenadas por vencimiento; separador ';' y BOM UTF-8.
// @Tags         preinvoices
// @Security     Bearer
// @Produce      text/csv
// @Success      200  {file}  file
// @Router       /api/preinvoices/export [get]
func (h *PreInvoiceHandler) Export(c *fiber.Ctx) error {
	filename, data, err := h.export.Export(c.Context())
	if err != nil {
		return writeError(c, err)
	}
	c.Set(fiber.HeaderContentType, "text/csv; charset=utf-8")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+filename+`"`)
	return c.Send(data)
}

// CarrierPending godoc
// @Summary      Prefacturas que esperan factura del transportista
// @Tags         preinvoices
// @Security     Bearer
// @Produce      json
// @Param        carrierId  path  string  true  "Transportista"
// @Success      200  {array}   dto.PreInvoiceSummary
// @Failure      403  {object}  dto.ErrorResponse
// @Router       /api/preinvoices/carrier/{carrierId}/pending [get]
func (h *PreInvoiceHandler) CarrierPending(c *fiber.Ctx) error {
	list, err := h.query.CarrierPending(c.Context(), ActorFrom(c), c.Params("carrierId"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.ToPreInvoiceSummaries(list))
}

// IndustrialToValidate godoc
// @Summary      Prefacturas pendientes de validación del industrial
// @Tags         preinvoices
// @Security     Bearer
// @Produce      json
// @Param        industrialId  path  string  true  "Industrial"
// @Success      200  {array}   dto.PreInvoiceSummary
// @Failure      403  {object}  dto.ErrorResponse
// @Router       /api/preinvoices/industrial/{industrialId}/to-validate [get]
func (h *PreInvoiceHandler) IndustrialToValidate(c *fiber.Ctx) error {
	list, err := h.query.IndustrialToValidate(c.Context(), ActorFrom(c), c.Params("industrialId"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.ToPreInvoiceSummaries(list))
}

// Get godoc
// @Summary      Detalle de una prefactura
// @Description  ref acepta el número PRE-YYYYMM-NNNNN o el id interno.
// @Tags         preinvoices
// @Security     Bearer
// @Produce      json
// @Param        ref  path  string  true  "Número o id"
// @Success      200  {object}  entity.PreInvoice
// @Failure      403  {object}  dto.ErrorResponse
// @Failure      404  {object}  dto.ErrorResponse
// @Router       /api/preinvoices/{ref} [get]
func (h *PreInvoiceHandler) Get(c *fiber.Ctx) error {
	p, err := h.query.Get(c.Context(), ActorFrom(c), c.Params("ref"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(p)
}

// PDF godoc
// @Summary      Descargar el PDF de una prefactura
// @Tags         preinvoices
// @Security     Bearer
// @Produce      application/pdf
// @Param        id  path  string  true  "Id de la prefactura"
// @Success      200  {file}    file
// @Failure      404  {object}  dto.ErrorResponse
// @Router       /api/preinvoices/{id}/pdf [get]
func (h *PreInvoiceHandler) PDF(c *fiber.Ctx) error {
	data, filename, err := h.pdf.DownloadPreInvoicePDF(c.Context(), ActorFrom(c), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	c.Set(fiber.HeaderContentType, "application/pdf")
	c.Set(fiber.HeaderContentDisposition, `inline; filename="`+filename+`"`)
	return c.Send(data)
}

// Aggregate godoc
// @Summary      Agregar los transportes de un periodo
// @Description  Con carrierId e industrialId agrega un par; sin ellos, todos los pares activos del periodo.
// @Tags         preinvoices
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  dto.AggregateRequest  true  "Periodo y par opcional"
// @Success      200   {object}  dto.AggregateResponse
// @Success      201   {object}  dto.AggregateResponse
// @Failure      409   {object}  dto.ErrorResponse
// @Router       /api/preinvoices/aggregate [post]
func (h *PreInvoiceHandler) Aggregate(c *fiber.Ctx) error {
	var in dto.AggregateRequest
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "INVALID_BODY", "cuerpo inválido")
	}
	period, err := entity.NewBillingPeriod(in.Year, in.Month)
	if err != nil {
		return badRequest(c, "VALIDATION", err.Error())
	}

	if in.CarrierID == "" && in.IndustrialID == "" {
		res, err := h.aggregate.AggregatePeriod(c.Context(), period)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(dto.PeriodAggregationResponse{
			Period:    res.Period.Label(),
			Created:   res.Created,
			Updated:   res.Updated,
			Conflicts: res.Conflicts,
			Failed:    res.Failed,
		})
	}

	res, err := h.aggregate.Aggregate(c.Context(), in.CarrierID, in.IndustrialID, period)
	if err != nil {
		return writeError(c, err)
	}
	status := fiber.StatusOK
	if res.Created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(dto.AggregateResponse{PreInvoice: res.PreInvoice, Created: res.Created})
}

// SendMonthly godoc
// @Summary      Enviar las prefacturas pending del mes a los industriales
// @Description  Sin cuerpo se usa el mes anterior.
// @Tags         preinvoices
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  dto.PeriodRequest  false  "Periodo"
// @Success      200   {object}  billing.SendMonthlyResult
// @Router       /api/preinvoices/send-monthly [post]
func (h *PreInvoiceHandler) SendMonthly(c *fiber.Ctx) error {
	var in dto.PeriodRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&in); err != nil {
			return badRequest(c, "INVALID_BODY", "cuerpo inválido")
		}
	}
	var period *entity.BillingPeriod
	if in.Month != 0 || in.Year != 0 {
		p, err := entity.NewBillingPeriod(in.Year, in.Month)
		if err != nil {
			return badRequest(c, "VALIDATION", err.Error())
		}
		period = &p
	}
	res, err := h.workflow.SendMonthly(c.Context(), period)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(res)
}

// UpdateCountdowns godoc
// @Summary      Recalcular los días restantes de pago
// @Tags         preinvoices
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  dto.CountdownResponse
// @Router       /api/preinvoices/update-countdowns [post]
func (h *PreInvoiceHandler) UpdateCountdowns(c *fiber.Ctx) error {
	n, err := h.countdown.UpdateCountdowns(c.Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.CountdownResponse{Updated: n})
}

// Validate godoc
// @Summary      Validación del industrial
// @Tags         preinvoices
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  string               true  "Id de la prefactura"
// @Param        body  body  dto.ValidateRequest  true  "Comentarios y ajustes"
// @Success      200   {object}  entity.PreInvoice
// @Failure      409   {object}  dto.ErrorResponse
// @Router       /api/preinvoices/{id}/validate [post]
func (h *PreInvoiceHandler) Validate(c *fiber.Ctx) error {
	var in dto.ValidateRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&in); err != nil {
			return badRequest(c, "INVALID_BODY", "cuerpo inválido")
		}
	}
	adjustments := make([]preinvoice.AdjustmentInput, 0, len(in.Adjustments))
	for _, a := range in.Adjustments {
		adjustments = append(adjustments, preinvoice.AdjustmentInput{
			LineIndex:      a.LineIndex,
			AdjustedAmount: a.AdjustedAmount,
			Reason:         a.Reason,
		})
	}
	p, err := h.workflow.Validate(c.Context(), c.Params("id"), ActorFrom(c), in.Comments, adjustments)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(p)
}

// UploadInvoice godoc
// @Summary      Declarar la factura del transportista
// @Description  Concilia de inmediato contra el TTC: acepta (payment_pending) o rechaza (invoice_rejected).
// @Tags         preinvoices
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  string                    true  "Id de la prefactura"
// @Param        body  body  dto.UploadInvoiceRequest  true  "Factura y coordenadas bancarias"
// @Success      200   {object}  entity.PreInvoice
// @Failure      400   {object}  dto.ErrorResponse
// @Failure      409   {object}  dto.ErrorResponse
// @Router       /api/preinvoices/{id}/upload-invoice [post]
func (h *PreInvoiceHandler) UploadInvoice(c *fiber.Ctx) error {
	var in dto.UploadInvoiceRequest
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "INVALID_BODY", "cuerpo inválido")
	}
	invoiceDate, err := time.Parse(time.DateOnly, in.InvoiceDate)
	if err != nil {
		return badRequest(c, "VALIDATION", "invoiceDate: formato YYYY-MM-DD")
	}
	p, err := h.workflow.DeclareInvoice(c.Context(), c.Params("id"), ActorFrom(c), preinvoice.DeclareInput{
		InvoiceNumber: in.InvoiceNumber,
		InvoiceDate:   invoiceDate,
		InvoiceAmount: in.InvoiceAmount,
		DocumentID:    in.DocumentID,
		BankDetails: entity.CarrierBankDetails{
			BankName:      in.BankDetails.BankName,
			IBAN:          in.BankDetails.IBAN,
			BIC:           in.BankDetails.BIC,
			AccountHolder: in.BankDetails.AccountHolder,
		},
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(p)
}

// MarkPaid godoc
// @Summary      Registrar el pago
// @Tags         preinvoices
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  string               true  "Id de la prefactura"
// @Param        body  body  dto.MarkPaidRequest  true  "Referencia e importe pagado"
// @Success      200   {object}  entity.PreInvoice
// @Failure      409   {object}  dto.ErrorResponse
// @Router       /api/preinvoices/{id}/mark-paid [post]
func (h *PreInvoiceHandler) MarkPaid(c *fiber.Ctx) error {
	var in dto.MarkPaidRequest
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "INVALID_BODY", "cuerpo inválido")
	}
	p, err := h.workflow.MarkPaid(c.Context(), c.Params("id"), ActorFrom(c), in.PaymentReference, in.PaidAmount)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(p)
}

// Dispute godoc
// @Summary      Escalar a litigio
// @Tags         preinvoices
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  string              true  "Id de la prefactura"
// @Param        body  body  dto.DisputeRequest  true  "Motivo obligatorio"
// @Success      200   {object}  entity.PreInvoice
// @Failure      400   {object}  dto.ErrorResponse
// @Failure      409   {object}  dto.ErrorResponse
// @Router       /api/preinvoices/{id}/dispute [post]
func (h *PreInvoiceHandler) Dispute(c *fiber.Ctx) error {
	var in dto.DisputeRequest
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "INVALID_BODY", "cuerpo inválido")
	}
	p, err := h.workflow.Escalate(c.Context(), c.Params("id"), ActorFrom(c), in.Reason)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(p)
}
