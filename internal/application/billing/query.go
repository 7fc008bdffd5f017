package billing

import (
	"context"
	"fmt"
	"sort"

	"github.com/symphonia/preinvoice-api/internal/domain"
	"github.com/symphonia/preinvoice-api/internal/domain/entity"
	"github.com/symphonia/preinvoice-api/internal/domain/preinvoice"
	"github.com/symphonia/preinvoice-api/internal/domain/repository"
)

// QueryUseCase superficie de consulta para portales y API. Solo lectura.
type QueryUseCase struct {
	repo repository.PreInvoiceRepository
}

// NewQueryUseCase construye el caso de uso.
func NewQueryUseCase(repo repository.PreInvoiceRepository) *QueryUseCase {
	return &QueryUseCase{repo: repo}
}

// scope restringe el filtro a la parte del actor cuando no es admin ni finanzas.
func scope(actor entity.Actor, industrialID, carrierID *string) {
	switch actor.Role {
	case entity.RoleIndustrial:
		*industrialID = actor.PartyID
	case entity.RoleCarrier:
		*carrierID = actor.PartyID
	}
}

// List prefacturas por filtro (industrial, transportista, estado, mes, año).
func (uc *QueryUseCase) List(ctx context.Context, actor entity.Actor, f repository.PreInvoiceFilter) ([]*entity.PreInvoice, error) {
	for _, s := range f.Statuses {
		if !s.Valid() {
			return nil, domain.NewValidationError("status", fmt.Sprintf("estado desconocido %q", s))
		}
	}
	if f.Month < 0 || f.Month > 12 {
		return nil, domain.NewValidationError("month", "debe estar entre 1 y 12")
	}
	scope(actor, &f.IndustrialID, &f.CarrierID)
	list, err := uc.repo.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("listar prefacturas: %w", err)
	}
	return list, nil
}

// Get resuelve ref como número (PRE-...) o como id interno.
func (uc *QueryUseCase) Get(ctx context.Context, actor entity.Actor, ref string) (*entity.PreInvoice, error) {
	var (
		p   *entity.PreInvoice
		err error
	)
	if preinvoice.IsNumber(ref) {
		p, err = uc.repo.GetByNumber(ctx, ref)
	} else {
		p, err = uc.repo.GetByID(ctx, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("obtener prefactura: %w", err)
	}
	if p == nil {
		return nil, &domain.NotFoundError{Resource: "prefactura", Key: ref}
	}
	if !actor.CanAccess(p) {
		return nil, domain.ErrForbidden
	}
	return p, nil
}

// CarrierPending lista de trabajo del transportista: validadas por el industrial
// o con factura rechazada, del periodo más reciente al más antiguo.
func (uc *QueryUseCase) CarrierPending(ctx context.Context, actor entity.Actor, carrierID string) ([]*entity.PreInvoice, error) {
	if actor.Role == entity.RoleCarrier && actor.PartyID != carrierID {
		return nil, domain.ErrForbidden
	}
	list, err := uc.repo.List(ctx, repository.PreInvoiceFilter{
		CarrierID: carrierID,
		Statuses:  []entity.PreInvoiceStatus{entity.StatusValidatedIndustrial, entity.StatusInvoiceRejected},
	})
	if err != nil {
		return nil, fmt.Errorf("pendientes del transportista: %w", err)
	}
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i].Period, list[j].Period
		if a.Year != b.Year {
			return a.Year > b.Year
		}
		return a.Month > b.Month
	})
	return list, nil
}

// IndustrialToValidate lista de trabajo del industrial: enviadas y pendientes
// de validación, la más antigua primero.
func (uc *QueryUseCase) IndustrialToValidate(ctx context.Context, actor entity.Actor, industrialID string) ([]*entity.PreInvoice, error) {
	if actor.Role == entity.RoleIndustrial && actor.PartyID != industrialID {
		return nil, domain.ErrForbidden
	}
	list, err := uc.repo.List(ctx, repository.PreInvoiceFilter{
		IndustrialID: industrialID,
		Statuses:     []entity.PreInvoiceStatus{entity.StatusSentToIndustrial},
	})
	if err != nil {
		return nil, fmt.Errorf("por validar del industrial: %w", err)
	}
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i].SentToIndustrialAt, list[j].SentToIndustrialAt
		if a == nil || b == nil {
			return b == nil && a != nil
		}
		return a.Before(*b)
	})
	return list, nil
}

// Stats estadísticas del año por estado y por mes.
func (uc *QueryUseCase) Stats(ctx context.Context, actor entity.Actor, f repository.StatsFilter) (*repository.PreInvoiceStats, error) {
	if f.Year <= 0 {
		return nil, domain.NewValidationError("year", "obligatorio")
	}
	scope(actor, &f.IndustrialID, &f.CarrierID)
	stats, err := uc.repo.Stats(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("estadísticas: %w", err)
	}
	return stats, nil
}
