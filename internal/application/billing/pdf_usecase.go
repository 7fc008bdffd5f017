package billing

import (
	"context"
	"fmt"

	"github.com/symphonia/preinvoice-api/internal/domain"
	"github.com/symphonia/preinvoice-api/internal/domain/entity"
	"github.com/symphonia/preinvoice-api/internal/domain/repository"
)

// PDFUseCase genera el PDF de una prefactura para el industrial y el transportista.
type PDFUseCase struct {
	repo      repository.PreInvoiceRepository
	generator PreInvoicePDFGenerator
}

// NewPDFUseCase construye el caso de uso inyectando sus dependencias.
func NewPDFUseCase(repo repository.PreInvoiceRepository, generator PreInvoicePDFGenerator) *PDFUseCase {
	return &PDFUseCase{repo: repo, generator: generator}
}

// DownloadPreInvoicePDF carga la prefactura, verifica el acceso del actor y genera el PDF.
//
// Retorna:
//   - (pdfBytes, filename, nil)  si todo sale bien.
//   - *domain.NotFoundError      si la prefactura no existe.
//   - domain.ErrForbidden        si pertenece a otra parte.
func (uc *PDFUseCase) DownloadPreInvoicePDF(ctx context.Context, actor entity.Actor, id string) (pdfBytes []byte, filename string, err error) {
	// ── 1. Cargar prefactura ──────────────────────────────────────────────────
	p, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return nil, "", fmt.Errorf("pdf: obtener prefactura: %w", err)
	}
	if p == nil {
		return nil, "", &domain.NotFoundError{Resource: "prefactura", Key: id}
	}
	if !actor.CanAccess(p) {
		return nil, "", domain.ErrForbidden
	}

	// ── 2. Generar PDF ────────────────────────────────────────────────────────
	pdfBytes, err = uc.generator.GeneratePreInvoicePDF(ctx, p)
	if err != nil {
		return nil, "", fmt.Errorf("pdf: generación fallida: %w", err)
	}

	filename = fmt.Sprintf("prefacture_%s.pdf", p.Number)
	return pdfBytes, filename, nil
}
