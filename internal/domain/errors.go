package domain

import (
	"errors"
	"fmt"
)

// Errores de dominio (sin dependencias externas).
var (
	ErrNotFound                = errors.New("recurso no encontrado")
	ErrInvalidInput            = errors.New("entrada inválida")
	ErrDuplicate               = errors.New("recurso duplicado")
	ErrUnauthorized            = errors.New("no autorizado")
	ErrForbidden               = errors.New("acceso denegado")
	ErrConflict                = errors.New("conflicto con el estado actual")
	ErrInvalidTransition       = errors.New("transición de estado no permitida")
	ErrReconciliationAmbiguity = errors.New("importe de prefactura no comparable")
	ErrConcurrencyConflict     = errors.New("la prefactura fue modificada por otro proceso")
)

// ValidationError campo obligatorio ausente o mal formado. El llamador puede corregirlo.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// NewValidationError atajo para construir un ValidationError.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// NotFoundError id o número de prefactura desconocido.
type NotFoundError struct {
	Resource string
	Key      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q no encontrado", e.Resource, e.Key)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// InvalidTransitionError la acción no aplica al estado actual del registro.
type InvalidTransitionError struct {
	ID     string
	From   string
	Action string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("acción %q no permitida desde el estado %q (prefactura %s)", e.Action, e.From, e.ID)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// ReconciliationAmbiguityError el importe de la plataforma es cero o negativo:
// el porcentaje de diferencia no tiene sentido y la factura se rechaza siempre.
type ReconciliationAmbiguityError struct {
	Amount string
}

func (e *ReconciliationAmbiguityError) Error() string {
	return fmt.Sprintf("importe de prefactura %s no permite conciliación automática", e.Amount)
}

func (e *ReconciliationAmbiguityError) Unwrap() error { return ErrReconciliationAmbiguity }

// ConcurrencyConflictError una escritura perdió la carrera optimista; releer y reintentar.
type ConcurrencyConflictError struct {
	ID      string
	Version int64
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("prefactura %s: versión %d obsoleta", e.ID, e.Version)
}

func (e *ConcurrencyConflictError) Unwrap() error { return ErrConcurrencyConflict }

// IsBusinessError indica si err es un resultado de negocio para el llamador
// (y no un fallo de infraestructura que se deba reintentar).
func IsBusinessError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrReconciliationAmbiguity) ||
		errors.Is(err, ErrConcurrencyConflict) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrForbidden)
}
