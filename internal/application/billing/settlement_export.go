package billing

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/symphonia/preinvoice-api/internal/domain/entity"
	"github.com/symphonia/preinvoice-api/internal/domain/repository"
	"github.com/symphonia/preinvoice-api/pkg/money"
)

// SettlementHeader columnas de la exportación de pagos para el back-office de finanzas.
var SettlementHeader = []string{
	"Préfacture", "Transporteur", "SIRET", "N° Facture", "Date Facture", "Montant",
	"Échéance", "Jours restants", "Banque", "Titulaire", "IBAN", "BIC", "Industriel", "Période",
}

const (
	utf8BOM         = "\ufeff"
	settlementSep   = ';'
	notAvailable    = "N/A"
	frenchDateStyle = "02/01/2006"
)

// SettlementRow una prefactura en payment_pending lista para transferencia.
type SettlementRow struct {
	PreInvoiceNumber string
	CarrierName      string
	CarrierSIRET     string
	InvoiceNumber    string
	InvoiceDate      time.Time
	Amount           decimal.Decimal
	DueDate          time.Time
	DaysRemaining    int
	Bank             entity.CarrierBankDetails
	IndustrialName   string
	Period           string
}

// SettlementExportUseCase genera el listado de pagos pendientes. Solo lectura.
type SettlementExportUseCase struct {
	repo repository.PreInvoiceRepository
	now  Clock
}

// NewSettlementExportUseCase construye el caso de uso.
func NewSettlementExportUseCase(repo repository.PreInvoiceRepository, now Clock) *SettlementExportUseCase {
	return &SettlementExportUseCase{repo: repo, now: now}
}

// Rows devuelve las filas ordenadas por vencimiento ascendente.
func (uc *SettlementExportUseCase) Rows(ctx context.Context) ([]SettlementRow, error) {
	list, err := uc.repo.List(ctx, repository.PreInvoiceFilter{
		Statuses: []entity.PreInvoiceStatus{entity.StatusPaymentPending},
	})
	if err != nil {
		return nil, fmt.Errorf("exportación: listar payment_pending: %w", err)
	}
	rows := make([]SettlementRow, 0, len(list))
	for _, p := range list {
		rows = append(rows, settlementRow(p))
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].DueDate.Equal(rows[j].DueDate) {
			return rows[i].DueDate.Before(rows[j].DueDate)
		}
		return rows[i].PreInvoiceNumber < rows[j].PreInvoiceNumber
	})
	return rows, nil
}

func settlementRow(p *entity.PreInvoice) SettlementRow {
	r := SettlementRow{
		PreInvoiceNumber: p.Number,
		CarrierName:      p.Carrier.Name,
		CarrierSIRET:     p.Carrier.SIRET,
		Amount:           p.PayableAmount(),
		IndustrialName:   p.Industrial.Name,
		Period:           p.Period.Label(),
	}
	if ci := p.CarrierInvoice; ci != nil {
		r.InvoiceNumber = ci.InvoiceNumber
		r.InvoiceDate = ci.InvoiceDate
		r.Bank = ci.BankDetails
	}
	if pay := p.Payment; pay != nil {
		r.DueDate = pay.DueDate
		r.DaysRemaining = pay.DaysRemaining
		r.Bank = pay.BankDetails
	}
	return r
}

// Export devuelve el nombre de archivo reglements-YYYY-MM-DD.csv y su contenido.
func (uc *SettlementExportUseCase) Export(ctx context.Context) (filename string, data []byte, err error) {
	rows, err := uc.Rows(ctx)
	if err != nil {
		return "", nil, err
	}
	var buf bytes.Buffer
	if err := WriteSettlementCSV(&buf, rows); err != nil {
		return "", nil, err
	}
	return SettlementFilename(uc.now()), buf.Bytes(), nil
}

// SettlementFilename nombre del archivo para la fecha dada.
func SettlementFilename(t time.Time) string {
	return fmt.Sprintf("reglements-%s.csv", t.Format(time.DateOnly))
}

// WriteSettlementCSV escribe BOM UTF-8, cabecera y filas separadas por punto y coma.
func WriteSettlementCSV(w io.Writer, rows []SettlementRow) error {
	if _, err := io.WriteString(w, utf8BOM); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	cw.Comma = settlementSep
	if err := cw.Write(SettlementHeader); err != nil {
		return err
	}
	for _, r := range rows {
		record := []string{
			r.PreInvoiceNumber,
			orNA(r.CarrierName),
			orNA(r.CarrierSIRET),
			orNA(r.InvoiceNumber),
			frenchDate(r.InvoiceDate),
			money.Comma(r.Amount),
			frenchDate(r.DueDate),
			strconv.Itoa(r.DaysRemaining),
			orNA(r.Bank.BankName),
			orNA(r.Bank.AccountHolder),
			orNA(r.Bank.IBAN),
			orNA(r.Bank.BIC),
			orNA(r.IndustrialName),
			r.Period,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func orNA(s string) string {
	if s == "" {
		return notAvailable
	}
	return s
}

func frenchDate(t time.Time) string {
	if t.IsZero() {
		return notAvailable
	}
	return t.Format(frenchDateStyle)
}
