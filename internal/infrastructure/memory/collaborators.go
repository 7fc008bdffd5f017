package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/symphonia/preinvoice-api/internal/application/billing"
	"github.com/symphonia/preinvoice-api/internal/domain/entity"
	"github.com/symphonia/preinvoice-api/internal/domain/repository"
)

var (
	_ billing.TransportFactSource   = (*Directory)(nil)
	_ billing.PartyDirectory        = (*Directory)(nil)
	_ billing.ContractTermsProvider = (*Directory)(nil)
	_ billing.AggregationLocker     = (*KeyLocker)(nil)
)

// Directory colaboradores de solo lectura: hechos de transporte, partes y contratos.
type Directory struct {
	mu        sync.RWMutex
	facts     []entity.TransportFact
	parties   map[string]entity.PartySnapshot
	defaults  entity.ContractTerms
	contracts map[[2]string]entity.ContractTerms
}

// NewDirectory crea un directorio vacío con las condiciones por defecto dadas.
func NewDirectory(defaults entity.ContractTerms) *Directory {
	return &Directory{
		parties:   make(map[string]entity.PartySnapshot),
		defaults:  defaults,
		contracts: make(map[[2]string]entity.ContractTerms),
	}
}

// AddParty registra un industrial o transportista.
func (d *Directory) AddParty(p entity.PartySnapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.parties[p.ID] = p
}

// AddFacts agrega hechos de transporte completados.
func (d *Directory) AddFacts(facts ...entity.TransportFact) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.facts = append(d.facts, facts...)
}

// SetContract fija condiciones específicas para un par.
func (d *Directory) SetContract(carrierID, industrialID string, terms entity.ContractTerms) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.contracts[[2]string{carrierID, industrialID}] = terms
}

func (d *Directory) CompletedTransports(_ context.Context, carrierID, industrialID string, period entity.BillingPeriod) ([]entity.TransportFact, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]entity.TransportFact, 0)
	for _, f := range d.facts {
		if f.CarrierID == carrierID && f.IndustrialID == industrialID && period.Contains(f.DeliveryDate) {
			out = append(out, f)
		}
	}
	return out, nil
}

func (d *Directory) ActivePairs(_ context.Context, period entity.BillingPeriod) ([]repository.PreInvoiceKey, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	seen := make(map[repository.PreInvoiceKey]bool)
	out := make([]repository.PreInvoiceKey, 0)
	for _, f := range d.facts {
		if !period.Contains(f.DeliveryDate) {
			continue
		}
		k := repository.PreInvoiceKey{CarrierID: f.CarrierID, IndustrialID: f.IndustrialID, Year: period.Year, Month: period.Month}
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CarrierID != out[j].CarrierID {
			return out[i].CarrierID < out[j].CarrierID
		}
		return out[i].IndustrialID < out[j].IndustrialID
	})
	return out, nil
}

func (d *Directory) GetParty(_ context.Context, id string) (*entity.PartySnapshot, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.parties[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (d *Directory) Terms(_ context.Context, carrierID, industrialID string) (entity.ContractTerms, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if t, ok := d.contracts[[2]string{carrierID, industrialID}]; ok {
		return t, nil
	}
	return d.defaults, nil
}

// Seed contenido de un archivo JSON de arranque para STORAGE=memory.
type Seed struct {
	Parties []entity.PartySnapshot `json:"parties"`
	Facts   []entity.TransportFact `json:"facts"`
}

// LoadSeed carga partes y hechos desde path.
func (d *Directory) LoadSeed(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("leer semilla: %w", err)
	}
	var s Seed
	if err := json.Unmarshal(raw, &s); err != nil {
		return fmt.Errorf("decodificar semilla %s: %w", path, err)
	}
	for _, p := range s.Parties {
		d.AddParty(p)
	}
	d.AddFacts(s.Facts...)
	return nil
}

// KeyLocker bloqueo por clave dentro del proceso.
type KeyLocker struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewKeyLocker crea el bloqueador.
func NewKeyLocker() *KeyLocker {
	return &KeyLocker{locks: make(map[string]chan struct{})}
}

// Lock espera hasta obtener key o hasta que ctx se cancele.
func (l *KeyLocker) Lock(ctx context.Context, key string) (func(context.Context) error, error) {
	for {
		l.mu.Lock()
		held, busy := l.locks[key]
		if !busy {
			ch := make(chan struct{})
			l.locks[key] = ch
			l.mu.Unlock()
			return func(context.Context) error {
				l.mu.Lock()
				delete(l.locks, key)
				l.mu.Unlock()
				close(ch)
				return nil
			}, nil
		}
		l.mu.Unlock()

		select {
		case <-held:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
