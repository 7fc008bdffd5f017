package preinvoice

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/symphonia/preinvoice-api/internal/domain"
	"github.com/symphonia/preinvoice-api/internal/domain/entity"
)

// Action disparador de una transición; también es la acción registrada en la bitácora.
type Action string

const (
	ActionCreated          Action = "created"
	ActionRecomputed       Action = "recomputed"
	ActionSendToIndustrial Action = "sent_to_industrial"
	ActionValidate         Action = "validated_by_industrial"
	ActionDeclareInvoice   Action = "invoice_uploaded"
	ActionAcceptInvoice    Action = "invoice_accepted"
	ActionRejectInvoice    Action = "invoice_rejected"
	ActionMarkPaid         Action = "paid"
	ActionEscalate         Action = "disputed"
)

// TransitionActions acciones sujetas a la tabla de transiciones.
var TransitionActions = []Action{
	ActionSendToIndustrial,
	ActionValidate,
	ActionDeclareInvoice,
	ActionAcceptInvoice,
	ActionRejectInvoice,
	ActionMarkPaid,
	ActionEscalate,
}

type transition struct {
	from []entity.PreInvoiceStatus
	to   entity.PreInvoiceStatus
}

var nonTerminal = []entity.PreInvoiceStatus{
	entity.StatusPending,
	entity.StatusSentToIndustrial,
	entity.StatusValidatedIndustrial,
	entity.StatusInvoiceUploaded,
	entity.StatusInvoiceAccepted,
	entity.StatusInvoiceRejected,
	entity.StatusPaymentPending,
}

var transitions = map[Action]transition{
	ActionSendToIndustrial: {from: []entity.PreInvoiceStatus{entity.StatusPending}, to: entity.StatusSentToIndustrial},
	ActionValidate:         {from: []entity.PreInvoiceStatus{entity.StatusSentToIndustrial}, to: entity.StatusValidatedIndustrial},
	ActionDeclareInvoice:   {from: []entity.PreInvoiceStatus{entity.StatusValidatedIndustrial, entity.StatusInvoiceRejected}, to: entity.StatusInvoiceUploaded},
	ActionAcceptInvoice:    {from: []entity.PreInvoiceStatus{entity.StatusInvoiceUploaded}, to: entity.StatusPaymentPending},
	ActionRejectInvoice:    {from: []entity.PreInvoiceStatus{entity.StatusInvoiceUploaded}, to: entity.StatusInvoiceRejected},
	ActionMarkPaid:         {from: []entity.PreInvoiceStatus{entity.StatusPaymentPending}, to: entity.StatusPaid},
	ActionEscalate:         {from: nonTerminal, to: entity.StatusDisputed},
}

// Target devuelve el estado destino de action desde from, y false si la
// combinación no figura en la tabla.
func Target(from entity.PreInvoiceStatus, action Action) (entity.PreInvoiceStatus, bool) {
	t, ok := transitions[action]
	if !ok {
		return "", false
	}
	for _, s := range t.from {
		if s == from {
			return t.to, true
		}
	}
	return "", false
}

func guard(p *entity.PreInvoice, action Action) (entity.PreInvoiceStatus, error) {
	to, ok := Target(p.Status, action)
	if !ok {
		return "", &domain.InvalidTransitionError{ID: p.ID, From: string(p.Status), Action: string(action)}
	}
	return to, nil
}

func apply(p *entity.PreInvoice, action Action, to entity.PreInvoiceStatus, actor string, at time.Time, details string) {
	p.Status = to
	p.History.Append(entity.HistoryEntry{Date: at, Action: string(action), Actor: actor, Details: details})
	p.UpdatedAt = at
}

// SendToIndustrial pending → sent_to_industrial.
func SendToIndustrial(p *entity.PreInvoice, actor string, at time.Time) error {
	to, err := guard(p, ActionSendToIndustrial)
	if err != nil {
		return err
	}
	sent := at
	p.SentToIndustrialAt = &sent
	apply(p, ActionSendToIndustrial, to, actor, at, fmt.Sprintf("Préfacture envoyée à %s", p.Industrial.Name))
	return nil
}

// AdjustmentInput corrección solicitada sobre la línea LineIndex.
type AdjustmentInput struct {
	LineIndex      int
	AdjustedAmount decimal.Decimal
	Reason         string
}

// ValidationInput datos de la validación del industrial.
type ValidationInput struct {
	ValidatedBy string
	Comments    string
	Adjustments []AdjustmentInput
}

// Validate sent_to_industrial → validated_industrial. Los ajustes no reescriben
// la línea: se guarda el importe original y el delta entra en el subtotal.
func Validate(p *entity.PreInvoice, in ValidationInput, at time.Time) error {
	to, err := guard(p, ActionValidate)
	if err != nil {
		return err
	}
	if strings.TrimSpace(in.ValidatedBy) == "" {
		return domain.NewValidationError("validatedBy", "el validador es obligatorio")
	}

	seen := make(map[int]bool, len(in.Adjustments))
	adjustments := make([]entity.LineAdjustment, 0, len(in.Adjustments))
	for i, a := range in.Adjustments {
		field := fmt.Sprintf("adjustments[%d]", i)
		if a.LineIndex < 0 || a.LineIndex >= len(p.Lines) {
			return domain.NewValidationError(field+".lineIndex", fmt.Sprintf("línea %d inexistente", a.LineIndex))
		}
		if seen[a.LineIndex] {
			return domain.NewValidationError(field+".lineIndex", fmt.Sprintf("línea %d ajustada más de una vez", a.LineIndex))
		}
		if strings.TrimSpace(a.Reason) == "" {
			return domain.NewValidationError(field+".reason", "el motivo del ajuste es obligatorio")
		}
		if !cents(a.AdjustedAmount) {
			return domain.NewValidationError(field+".adjustedAmount", "máximo 2 decimales")
		}
		seen[a.LineIndex] = true
		adjustments = append(adjustments, entity.LineAdjustment{
			LineIndex:      a.LineIndex,
			OriginalAmount: p.Lines[a.LineIndex].TotalAmount,
			AdjustedAmount: a.AdjustedAmount,
			Reason:         a.Reason,
		})
	}

	p.IndustrialValidation = &entity.IndustrialValidation{
		ValidatedAt: at,
		ValidatedBy: in.ValidatedBy,
		Comments:    in.Comments,
		Adjustments: adjustments,
	}
	if len(adjustments) > 0 {
		Recalculate(p)
	}
	details := "Validée sans ajustement"
	if len(adjustments) > 0 {
		details = fmt.Sprintf("Validée avec %d ajustement(s), nouveau total TTC %s", len(adjustments), p.Totals.TotalTTC.StringFixed(2))
	}
	apply(p, ActionValidate, to, in.ValidatedBy, at, details)
	return nil
}

// DeclareInput factura declarada por el transportista.
type DeclareInput struct {
	InvoiceNumber string
	InvoiceDate   time.Time
	InvoiceAmount decimal.Decimal
	DocumentID    string
	BankDetails   entity.CarrierBankDetails
}

func (in DeclareInput) validate() error {
	switch {
	case strings.TrimSpace(in.InvoiceNumber) == "":
		return domain.NewValidationError("invoiceNumber", "el número de factura es obligatorio")
	case in.InvoiceDate.IsZero():
		return domain.NewValidationError("invoiceDate", "la fecha de factura es obligatoria")
	case !in.InvoiceAmount.IsPositive():
		return domain.NewValidationError("invoiceAmount", "el importe debe ser mayor que cero")
	case !cents(in.InvoiceAmount):
		return domain.NewValidationError("invoiceAmount", "máximo 2 decimales")
	case strings.TrimSpace(in.DocumentID) == "":
		return domain.NewValidationError("documentId", "el documento de la factura es obligatorio")
	}
	b := in.BankDetails
	switch {
	case strings.TrimSpace(b.BankName) == "":
		return domain.NewValidationError("bankDetails.bankName", "obligatorio")
	case strings.TrimSpace(b.IBAN) == "":
		return domain.NewValidationError("bankDetails.iban", "obligatorio")
	case strings.TrimSpace(b.BIC) == "":
		return domain.NewValidationError("bankDetails.bic", "obligatorio")
	case strings.TrimSpace(b.AccountHolder) == "":
		return domain.NewValidationError("bankDetails.accountHolder", "obligatorio")
	}
	return nil
}

// DeclareOutcome resultado de una declaración. Ambiguity no es nil cuando la
// conciliación se forzó a rechazo por un importe de plataforma no positivo.
type DeclareOutcome struct {
	Result    ReconciliationResult
	Ambiguity error
}

// DeclareInvoice validated_industrial|invoice_rejected → invoice_uploaded →
// payment_pending|invoice_rejected. La conciliación corre en la misma mutación,
// así invoice_uploaded nunca se persiste; se registra una entrada por transición.
func DeclareInvoice(p *entity.PreInvoice, in DeclareInput, actor string, rec Reconciler, at time.Time) (DeclareOutcome, error) {
	to, err := guard(p, ActionDeclareInvoice)
	if err != nil {
		return DeclareOutcome{}, err
	}
	if err := in.validate(); err != nil {
		return DeclareOutcome{}, err
	}
	p.CarrierInvoice = &entity.CarrierInvoice{
		InvoiceNumber: in.InvoiceNumber,
		InvoiceDate:   in.InvoiceDate,
		InvoiceAmount: in.InvoiceAmount.Round(2),
		DocumentID:    in.DocumentID,
		UploadedAt:    at,
		BankDetails:   in.BankDetails,
	}
	apply(p, ActionDeclareInvoice, to, actor, at,
		fmt.Sprintf("Facture %s déclarée: %s€", in.InvoiceNumber, p.CarrierInvoice.InvoiceAmount.StringFixed(2)))

	res, ambiguity := rec.Reconcile(p.Totals.TotalTTC, p.CarrierInvoice.InvoiceAmount)
	p.InvoiceControl = &entity.InvoiceControl{
		PreInvoiceAmount:     res.PreInvoiceAmount,
		CarrierInvoiceAmount: res.CarrierInvoiceAmount,
		Difference:           res.Difference,
		DifferencePercent:    res.DifferencePercent,
		AutoAccepted:         res.AutoAccepted,
		Ambiguous:            res.Ambiguous,
		ControlDate:          at,
		ControlNotes:         res.Notes,
	}

	if res.AutoAccepted {
		to, err = guard(p, ActionAcceptInvoice)
		if err != nil {
			return DeclareOutcome{}, err
		}
		due := DueDate(in.InvoiceDate, p.PaymentTermDays)
		p.Payment = &entity.Payment{
			DueDate:         due,
			PaymentTermDays: p.PaymentTermDays,
			DaysRemaining:   DaysRemaining(due, at),
			BankDetails:     in.BankDetails,
		}
		apply(p, ActionAcceptInvoice, to, SystemActor, at, res.Notes)
	} else {
		to, err = guard(p, ActionRejectInvoice)
		if err != nil {
			return DeclareOutcome{}, err
		}
		apply(p, ActionRejectInvoice, to, SystemActor, at, res.Notes)
	}
	return DeclareOutcome{Result: res, Ambiguity: ambiguity}, nil
}

// SystemActor actor de las acciones automáticas (conciliación, lotes).
const SystemActor = "system"

// MarkPaid payment_pending → paid.
func MarkPaid(p *entity.PreInvoice, reference string, amount decimal.Decimal, actor string, at time.Time) error {
	to, err := guard(p, ActionMarkPaid)
	if err != nil {
		return err
	}
	if strings.TrimSpace(reference) == "" {
		return domain.NewValidationError("paymentReference", "la referencia de pago es obligatoria")
	}
	if !amount.IsPositive() {
		return domain.NewValidationError("paidAmount", "el importe pagado debe ser mayor que cero")
	}
	if p.Payment == nil {
		return fmt.Errorf("prefactura %s en %s sin bloque de pago", p.ID, p.Status)
	}
	paidAt := at
	p.Payment.PaidAt = &paidAt
	p.Payment.PaidAmount = decimal.NewNullDecimal(amount.Round(2))
	p.Payment.PaymentReference = reference
	p.Payment.DaysRemaining = DaysRemaining(p.Payment.DueDate, at)
	apply(p, ActionMarkPaid, to, actor, at, fmt.Sprintf("Paiement %s de %s€", reference, amount.StringFixed(2)))
	return nil
}

// Escalate cualquier estado no terminal → disputed.
func Escalate(p *entity.PreInvoice, reason, actor string, at time.Time) error {
	to, err := guard(p, ActionEscalate)
	if err != nil {
		return err
	}
	if strings.TrimSpace(reason) == "" {
		return domain.NewValidationError("reason", "el motivo de la disputa es obligatorio")
	}
	if strings.TrimSpace(actor) == "" {
		return domain.NewValidationError("actor", "obligatorio")
	}
	apply(p, ActionEscalate, to, actor, at, reason)
	return nil
}

// cents indica si d no tiene más de 2 decimales significativos.
func cents(d decimal.Decimal) bool {
	return d.Equal(d.Round(2))
}
