package postgres

import (
	"context"
	"fmt"

	"github.com/symphonia/preinvoice-api/internal/domain/repository"
)

var _ repository.SequenceAllocator = (*SequenceRepo)(nil)

// SequenceRepo consecutivos mensuales en preinvoice_sequences (una fila por YYYYMM).
type SequenceRepo struct {
	q Querier
}

// NewSequenceRepository construye el adaptador. Pasar pool o tx (Querier).
func NewSequenceRepository(q Querier) *SequenceRepo {
	return &SequenceRepo{q: q}
}

// Next incrementa y devuelve el consecutivo del mes en una sola sentencia.
// Dentro de una tx la fila queda bloqueada hasta el commit, lo que serializa
// a los emisores concurrentes del mismo mes.
func (r *SequenceRepo) Next(ctx context.Context, yearMonth string) (int64, error) {
	query := `
		INSERT INTO preinvoice_sequences (year_month, last_value, updated_at)
		VALUES ($1, 1, NOW())
		ON CONFLICT (year_month)
		DO UPDATE SET last_value = preinvoice_sequences.last_value + 1, updated_at = NOW()
		RETURNING last_value`
	var next int64
	if err := r.q.QueryRow(ctx, query, yearMonth).Scan(&next); err != nil {
		return 0, fmt.Errorf("next sequence %s: %w", yearMonth, err)
	}
	return next, nil
}
