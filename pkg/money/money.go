// Package money formatea importes para documentos y exportaciones en francés.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.French)

// Comma representa d con 2 decimales y coma decimal, sin separador de miles ("1234,50").
// Es el formato de la exportación de pagos: ParseComma lo revierte sin pérdida.
func Comma(d decimal.Decimal) string {
	return strings.Replace(d.StringFixed(2), ".", ",", 1)
}

// ParseComma interpreta un importe con coma decimal.
func ParseComma(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.Replace(strings.TrimSpace(s), ",", ".", 1))
	if err != nil {
		return decimal.Zero, fmt.Errorf("importe inválido %q: %w", s, err)
	}
	return d, nil
}

// EUR formato de presentación con separador de miles francés ("1 234,50 €").
// Solo para documentos legibles; nunca para datos que se vuelvan a leer.
func EUR(d decimal.Decimal) string {
	return printer.Sprintf("%.2f €", d.Round(2).InexactFloat64())
}

// Percent formato "12,5 %" con un decimal.
func Percent(d decimal.Decimal) string {
	return printer.Sprintf("%.1f %%", d.InexactFloat64())
}
