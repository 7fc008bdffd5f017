// Package preinvoice contiene las reglas puras del ciclo de prefacturación:
// cálculo de líneas y totales, máquina de estados, conciliación automática,
// cuenta regresiva de pago y numeración. No depende de infraestructura ni de reloj.
package preinvoice

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/symphonia/preinvoice-api/internal/domain/entity"
)

// NumberPrefix prefijo de todos los números de prefactura.
const NumberPrefix = "PRE-"

// MaxSequence último consecutivo representable con 5 dígitos.
const MaxSequence = 99999

var numberPattern = regexp.MustCompile(`^PRE-(\d{4})(\d{2})-(\d{5})$`)

// FormatNumber genera PRE-{YYYY}{MM}-{00000}.
func FormatNumber(period entity.BillingPeriod, seq int64) (string, error) {
	if seq < 1 || seq > MaxSequence {
		return "", fmt.Errorf("consecutivo %d fuera de rango (1-%d)", seq, MaxSequence)
	}
	return fmt.Sprintf("%s%04d%02d-%05d", NumberPrefix, period.Year, period.Month, seq), nil
}

// ParseNumber extrae año, mes y consecutivo de un número válido.
func ParseNumber(number string) (year, month int, seq int64, err error) {
	m := numberPattern.FindStringSubmatch(number)
	if m == nil {
		return 0, 0, 0, fmt.Errorf("número de prefactura mal formado: %q", number)
	}
	year, _ = strconv.Atoi(m[1])
	month, _ = strconv.Atoi(m[2])
	seq, _ = strconv.ParseInt(m[3], 10, 64)
	if month < 1 || month > 12 {
		return 0, 0, 0, fmt.Errorf("mes inválido en número %q", number)
	}
	return year, month, seq, nil
}

// IsNumber distingue una referencia por número (PRE-...) de un id interno.
func IsNumber(ref string) bool {
	return strings.HasPrefix(ref, NumberPrefix)
}
