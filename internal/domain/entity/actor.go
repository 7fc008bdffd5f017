package entity

// Roles de los actores del ciclo de prefacturación.
const (
	RoleAdmin      = "admin"
	RoleIndustrial = "industrial"
	RoleCarrier    = "carrier"
	RoleFinance    = "finance"
	RoleSystem     = "system"
)

// Actor identidad que ejecuta una acción: usuario del token o proceso por lotes.
// PartyID es el industrial o transportista al que pertenece el usuario.
type Actor struct {
	UserID  string
	PartyID string
	Role    string
}

// SystemActor actor de los procesos programados (envío mensual, cuenta regresiva).
var SystemActor = Actor{UserID: "system", Role: RoleSystem}

// IsPrivileged admin y system actúan sobre cualquier prefactura.
func (a Actor) IsPrivileged() bool {
	return a.Role == RoleAdmin || a.Role == RoleSystem
}

// CanAccess indica si el actor puede ver o actuar sobre p según su rol.
// Finanzas ve todas las prefacturas; industrial y transportista solo las propias.
func (a Actor) CanAccess(p *PreInvoice) bool {
	switch a.Role {
	case RoleAdmin, RoleSystem, RoleFinance:
		return true
	case RoleIndustrial:
		return p.Industrial.ID == a.PartyID
	case RoleCarrier:
		return p.Carrier.ID == a.PartyID
	}
	return false
}
