package preinvoice

import (
	"math"
	"time"
)

const day = 24 * time.Hour

// DueDate fecha de la factura del transportista + plazo de pago en días.
func DueDate(invoiceDate time.Time, termDays int) time.Time {
	return invoiceDate.AddDate(0, 0, termDays)
}

// DaysRemaining ceil((due - now) / 1 día). Negativo si está vencida.
func DaysRemaining(due, now time.Time) int {
	return int(math.Ceil(float64(due.Sub(now)) / float64(day)))
}

// ReminderKind tipo de aviso de pago generado por la cuenta regresiva.
type ReminderKind string

const (
	ReminderNone     ReminderKind = ""
	ReminderUpcoming ReminderKind = "payment_reminder"
	ReminderOverdue  ReminderKind = "payment_overdue"
)

// Reminder decide si el paso de previous a days (días restantes) cruza un umbral:
// recordatorio al cruzar alguno de los días configurados antes del vencimiento y
// alerta de mora al cruzar el día 1, 3 o 7 de retraso y luego cada múltiplo de 7.
// Un cron que se saltó días sigue avisando una vez; una segunda corrida el mismo
// día no repite el aviso.
func Reminder(previous, days int, reminderDays []int) ReminderKind {
	if days >= previous {
		return ReminderNone
	}
	if days > 0 {
		for _, d := range reminderDays {
			if d > 0 && previous > d && days <= d {
				return ReminderUpcoming
			}
		}
		return ReminderNone
	}
	if days == 0 {
		return ReminderNone
	}
	from := 1
	if previous < 0 {
		from = -previous + 1
	}
	for o := from; o <= -days; o++ {
		if overdueAlertDay(o) {
			return ReminderOverdue
		}
	}
	return ReminderNone
}

func overdueAlertDay(o int) bool {
	return o == 1 || o == 3 || o%7 == 0
}
