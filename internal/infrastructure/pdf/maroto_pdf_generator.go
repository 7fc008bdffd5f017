// Package pdf genera el documento PDF de una prefactura transportista.
//
// Layout de la página A4:
//
//	┌─────────────────────────────────────────────────────────────┐
//	│  HEADER: Transportista + SIRET  │  N° Prefactura + Periodo  │
//	│  ─────────────────────────────────────────────────────────  │
//	│  PARTES: Industrial (donneur d'ordre) / Transportista       │
//	│  ─────────────────────────────────────────────────────────  │
//	│  TABLA: Livraison | Ordre | Trajet | Base | Suppl. | Total  │
//	│  ─────────────────────────────────────────────────────────  │
//	│  TOTALES: Total HT / TVA / Total TTC                        │
//	│  ─────────────────────────────────────────────────────────  │
//	│  FOOTER: KPIs + estado + vencimiento + QR del número        │
//	└─────────────────────────────────────────────────────────────┘
package pdf

import (
	"context"
	"fmt"

	maroto "github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/code"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/row"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/consts/pagesize"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"

	appbilling "github.com/symphonia/preinvoice-api/internal/application/billing"
	"github.com/symphonia/preinvoice-api/internal/domain/entity"
	"github.com/symphonia/preinvoice-api/pkg/money"
)

var _ appbilling.PreInvoicePDFGenerator = (*MarotoPDFGenerator)(nil)

// ── Paleta de colores ─────────────────────────────────────────────────────────

var (
	colorPrimary = &props.Color{Red: 0, Green: 70, Blue: 127}
	colorGray    = &props.Color{Red: 100, Green: 100, Blue: 100}
	colorWhite   = &props.Color{Red: 255, Green: 255, Blue: 255}
)

// statusLabels rótulos en francés de los estados visibles en el documento.
var statusLabels = map[entity.PreInvoiceStatus]string{
	entity.StatusPending:             "En préparation",
	entity.StatusSentToIndustrial:    "Envoyée au donneur d'ordre",
	entity.StatusValidatedIndustrial: "Validée par le donneur d'ordre",
	entity.StatusInvoiceUploaded:     "Facture en contrôle",
	entity.StatusInvoiceAccepted:     "Facture acceptée",
	entity.StatusInvoiceRejected:     "Facture rejetée",
	entity.StatusPaymentPending:      "En attente de paiement",
	entity.StatusPaid:                "Payée",
	entity.StatusDisputed:            "En litige",
}

// ── Generator ─────────────────────────────────────────────────────────────────

// MarotoPDFGenerator implementa billing.PreInvoicePDFGenerator usando Maroto v2.
type MarotoPDFGenerator struct{}

// NewMarotoPDFGenerator construye el generador.
func NewMarotoPDFGenerator() *MarotoPDFGenerator { return &MarotoPDFGenerator{} }

// GeneratePreInvoicePDF genera el PDF y devuelve sus bytes.
func (g *MarotoPDFGenerator) GeneratePreInvoicePDF(_ context.Context, p *entity.PreInvoice) ([]byte, error) {
	cfg := config.NewBuilder().
		WithPageSize(pagesize.A4).
		WithLeftMargin(10).WithRightMargin(10).
		WithTopMargin(10).WithBottomMargin(10).
		WithDefaultFont(&props.Font{Family: "helvetica", Size: 9}).
		WithTitle("Préfacture "+p.Number, true).
		WithAuthor(p.Carrier.Name, true).
		Build()

	m := maroto.New(cfg)

	m.AddRows(headerRow(p))
	m.AddRows(line.NewRow(1, props.Line{Color: colorPrimary, Thickness: 0.5}))
	m.AddRows(partiesRow(p))
	m.AddRows(line.NewRow(1, props.Line{Color: colorPrimary, Thickness: 0.3}))

	m.AddRows(tableHeaderRow())
	m.AddRows(tableLineRows(p.Lines)...)

	m.AddRows(line.NewRow(1, props.Line{Color: colorPrimary, Thickness: 0.3}))
	m.AddRows(totalsRow(p.Totals))

	m.AddRows(line.NewRow(3))
	m.AddRows(line.NewRow(1, props.Line{Color: colorGray, Thickness: 0.3}))
	m.AddRows(footerRows(p)...)

	doc, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("pdf: generar documento: %w", err)
	}
	return doc.GetBytes(), nil
}

// ── Secciones ─────────────────────────────────────────────────────────────────

// headerRow: transportista + SIRET (izq) y número + periodo (der).
func headerRow(p *entity.PreInvoice) core.Row {
	return row.New(18).Add(
		col.New(7).Add(
			text.New(p.Carrier.Name, props.Text{
				Style: fontstyle.Bold, Size: 13, Color: colorPrimary, Top: 1,
			}),
			text.New("SIRET : "+nonEmpty(p.Carrier.SIRET, "N/A"), props.Text{
				Size: 9, Top: 9, Color: colorGray,
			}),
		),
		col.New(5).Add(
			text.New("PRÉFACTURE TRANSPORT", props.Text{
				Style: fontstyle.Bold, Size: 8, Align: align.Right,
				Color: colorPrimary, Top: 1,
			}),
			text.New(p.Number, props.Text{
				Style: fontstyle.Bold, Size: 12, Align: align.Right, Top: 7,
			}),
			text.New("Période : "+p.Period.Label(), props.Text{
				Size: 8, Align: align.Right, Top: 14, Color: colorGray,
			}),
		),
	)
}

// partiesRow: donneur d'ordre y transportista lado a lado.
func partiesRow(p *entity.PreInvoice) core.Row {
	party := func(title string, s entity.PartySnapshot) core.Col {
		return col.New(6).Add(
			text.New(title, props.Text{
				Style: fontstyle.Bold, Size: 8, Color: colorPrimary, Top: 1,
			}),
			text.New(s.Name, props.Text{Style: fontstyle.Bold, Size: 10, Top: 6}),
			text.New(nonEmpty(s.Email, "-"), props.Text{Size: 8, Top: 12, Color: colorGray}),
		)
	}
	return row.New(18).Add(
		party("DONNEUR D'ORDRE", p.Industrial),
		party("TRANSPORTEUR", p.Carrier),
	)
}

// tableHeaderRow: cabecera de la tabla de líneas.
func tableHeaderRow() core.Row {
	h := func(label string, size int, a align.Type) core.Col {
		return col.New(size).Add(text.New(label, props.Text{
			Style: fontstyle.Bold, Size: 8, Align: a,
			Color: colorWhite, Top: 2, Left: 1, Right: 1,
		}))
	}
	return row.New(8).WithStyle(&props.Cell{BackgroundColor: colorPrimary}).Add(
		h("Livraison", 2, align.Left),
		h("Ordre", 2, align.Left),
		h("Trajet", 3, align.Left),
		h("Base", 2, align.Right),
		h("Suppl.", 1, align.Right),
		h("Total", 2, align.Right),
	)
}

// tableLineRows: una fila por transporte. Suppl. agrupa espera, penalidad y cargos.
func tableLineRows(lines []entity.PreInvoiceLine) []core.Row {
	result := make([]core.Row, 0, len(lines))
	cell := func(s string, size int, a align.Type) core.Col {
		return col.New(size).Add(text.New(s, props.Text{Size: 8, Align: a, Top: 1, Left: 1, Right: 1}))
	}
	for _, l := range lines {
		extras := l.TotalAmount.Sub(l.BaseAmount)
		result = append(result, row.New(7).Add(
			cell(l.DeliveryDate.Format("02/01/2006"), 2, align.Left),
			cell(nonEmpty(l.OrderReference, l.OrderID), 2, align.Left),
			cell(l.PickupCity+" - "+l.DeliveryCity, 3, align.Left),
			cell(money.EUR(l.BaseAmount), 2, align.Right),
			cell(money.EUR(extras), 1, align.Right),
			cell(money.EUR(l.TotalAmount), 2, align.Right),
		))
	}
	return result
}

// totalsRow: bloque de totales alineado a la derecha.
func totalsRow(t entity.Totals) core.Row {
	label := func(s string) core.Component {
		return text.New(s, props.Text{
			Style: fontstyle.Bold, Size: 9, Align: align.Right, Right: 2,
		})
	}
	value := func(s string, top float64) core.Component {
		return text.New(s, props.Text{Size: 9, Align: align.Right, Right: 1, Top: top})
	}
	grand := func(s string, right, top float64) core.Component {
		return text.New(s, props.Text{
			Style: fontstyle.Bold, Size: 10, Align: align.Right,
			Color: colorPrimary, Right: right, Top: top,
		})
	}

	return row.New(26).Add(
		col.New(6),
		col.New(3).Add(
			label("Total HT :"),
			text.New("TVA ("+money.Percent(t.TVARate)+") :", props.Text{
				Style: fontstyle.Bold, Size: 9, Align: align.Right, Right: 2, Top: 6,
			}),
			grand("TOTAL TTC :", 2, 12),
		),
		col.New(3).Add(
			value(money.EUR(t.SubtotalHT), 0),
			value(money.EUR(t.TVAAmount), 6),
			grand(money.EUR(t.TotalTTC), 1, 12),
		),
	)
}

// footerRows: indicadores, estado, vencimiento y QR con el número.
func footerRows(p *entity.PreInvoice) []core.Row {
	k := p.KPIs
	kpis := fmt.Sprintf("Ordres : %d   |   Ponctualité enlèvement : %d %%   |   Ponctualité livraison : %d %%   |   Documents complets : %d %%   |   Sans incident : %d %%",
		k.TotalOrders, k.OnTimePickupRate, k.OnTimeDeliveryRate, k.DocumentsCompleteRate, k.IncidentFreeRate)

	status := "Statut : " + nonEmpty(statusLabels[p.Status], string(p.Status))
	if p.Payment != nil {
		status += "   |   Échéance : " + p.Payment.DueDate.Format("02/01/2006")
		if p.Payment.DaysRemaining < 0 {
			status += fmt.Sprintf(" (retard de %d jours)", -p.Payment.DaysRemaining)
		} else {
			status += fmt.Sprintf(" (%d jours restants)", p.Payment.DaysRemaining)
		}
	}

	return []core.Row{
		row.New(6).Add(col.New(12).Add(
			text.New("INDICATEURS DE PERFORMANCE", props.Text{
				Style: fontstyle.Bold, Size: 8, Color: colorPrimary, Top: 1,
			}),
		)),
		row.New(6).Add(col.New(12).Add(
			text.New(kpis, props.Text{Size: 7, Color: colorGray, Top: 1}),
		)),
		row.New(3),
		row.New(30).Add(
			col.New(3).Add(code.NewQr(p.Number, props.Rect{
				Percent: 95,
				Center:  true,
			})),
			col.New(9).Add(
				text.New(status, props.Text{Size: 8, Top: 4, Left: 3}),
				text.New("Document préparatoire : la facture du transporteur fait foi après contrôle.", props.Text{
					Size: 7, Top: 14, Left: 3, Color: colorGray,
				}),
			),
		),
	}
}

// ── helpers ───────────────────────────────────────────────────────────────────

func nonEmpty(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}
