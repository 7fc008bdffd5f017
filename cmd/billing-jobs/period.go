package main

import (
	"fmt"
	"time"

	"github.com/symphonia/preinvoice-api/internal/domain/entity"
)

// parsePeriod interpreta YYYY-MM; vacío es el mes anterior a now.
func parsePeriod(s string, now time.Time) (entity.BillingPeriod, error) {
	if s == "" {
		return entity.PreviousPeriod(now), nil
	}
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return entity.BillingPeriod{}, fmt.Errorf("periodo %q: se espera YYYY-MM", s)
	}
	return entity.NewBillingPeriod(t.Year(), int(t.Month()))
}
