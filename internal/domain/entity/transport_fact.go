package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransportFact hechos de un transporte completado, provistos por la fuente de tarifas/KPI.
// WaitingHours y DelayHours ya vienen netas de las tolerancias contractuales (análisis CMR).
type TransportFact struct {
	OrderID        string          `json:"orderId"`
	OrderReference string          `json:"orderReference"`
	CarrierID      string          `json:"carrierId"`
	IndustrialID   string          `json:"industrialId"`
	PickupCity     string          `json:"pickupCity"`
	DeliveryCity   string          `json:"deliveryCity"`
	PickupDate     time.Time       `json:"pickupDate"`
	DeliveryDate   time.Time       `json:"deliveryDate"`
	BaseAmount     decimal.Decimal `json:"baseAmount"`
	WaitingHours   decimal.Decimal `json:"waitingHours"`
	DelayHours     decimal.Decimal `json:"delayHours"`
	FuelSurcharge  decimal.Decimal `json:"fuelSurcharge"`
	Tolls          decimal.Decimal `json:"tolls"`
	OtherCharges   decimal.Decimal `json:"otherCharges"`
	CMRValidated   bool            `json:"cmrValidated"`
	KPI            LineKPI         `json:"kpiData"`
}
