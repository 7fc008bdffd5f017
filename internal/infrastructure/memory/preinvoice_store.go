// Package memory implementa los puertos de prefacturación en memoria del proceso.
// Mantiene el mismo contrato de concurrencia optimista que PostgreSQL; se usa con
// STORAGE=memory y en los tests de casos de uso.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/symphonia/preinvoice-api/internal/application/billing"
	"github.com/symphonia/preinvoice-api/internal/domain"
	"github.com/symphonia/preinvoice-api/internal/domain/entity"
	"github.com/symphonia/preinvoice-api/internal/domain/repository"
)

var (
	_ repository.PreInvoiceRepository = (*Store)(nil)
	_ repository.SequenceAllocator    = (*Store)(nil)
	_ billing.PreInvoiceTxRunner      = (*Store)(nil)
)

// Store almacén de prefacturas. Los registros se copian al entrar y al salir,
// nunca se comparten punteros con el llamador.
type Store struct {
	mu      sync.RWMutex
	records map[string]*entity.PreInvoice
	seq     map[string]int64

	// txMu serializa las transacciones; las lecturas fuera de tx no esperan.
	txMu sync.Mutex
}

// NewStore crea un almacén vacío.
func NewStore() *Store {
	return &Store{
		records: make(map[string]*entity.PreInvoice),
		seq:     make(map[string]int64),
	}
}

// RunPreInvoice ejecuta fn sobre una vista transaccional: las escrituras se
// acumulan y solo se publican si fn termina sin error.
func (s *Store) RunPreInvoice(ctx context.Context, fn func(
	repo repository.PreInvoiceRepository,
	seq repository.SequenceAllocator,
) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx := &txView{store: s, staged: make(map[string]*entity.PreInvoice)}
	if err := fn(tx, s); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range tx.staged {
		s.records[id] = p
	}
	return nil
}

// Next reserva el siguiente consecutivo del mes. No participa del rollback:
// un valor reservado nunca se reutiliza.
func (s *Store) Next(_ context.Context, yearMonth string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq[yearMonth]++
	return s.seq[yearMonth], nil
}

func (s *Store) Create(ctx context.Context, p *entity.PreInvoice) error {
	return s.RunPreInvoice(ctx, func(repo repository.PreInvoiceRepository, _ repository.SequenceAllocator) error {
		return repo.Create(ctx, p)
	})
}

func (s *Store) Update(ctx context.Context, p *entity.PreInvoice, expectedVersion int64) error {
	return s.RunPreInvoice(ctx, func(repo repository.PreInvoiceRepository, _ repository.SequenceAllocator) error {
		return repo.Update(ctx, p, expectedVersion)
	})
}

func (s *Store) get(id string) *entity.PreInvoice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[id].Clone()
}

func (s *Store) GetByID(_ context.Context, id string) (*entity.PreInvoice, error) {
	return s.get(id), nil
}

func (s *Store) GetByNumber(_ context.Context, number string) (*entity.PreInvoice, error) {
	return s.find(func(p *entity.PreInvoice) bool { return p.Number == number }), nil
}

func (s *Store) GetByKey(_ context.Context, key repository.PreInvoiceKey) (*entity.PreInvoice, error) {
	return s.find(matchesKey(key)), nil
}

func (s *Store) find(match func(*entity.PreInvoice) bool) *entity.PreInvoice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.records {
		if match(p) {
			return p.Clone()
		}
	}
	return nil
}

// List devuelve los registros del filtro, del periodo más reciente al más antiguo.
func (s *Store) List(_ context.Context, f repository.PreInvoiceFilter) ([]*entity.PreInvoice, error) {
	s.mu.RLock()
	out := make([]*entity.PreInvoice, 0)
	for _, p := range s.records {
		if matchesFilter(p, f) {
			out = append(out, p.Clone())
		}
	}
	s.mu.RUnlock()

	sortNewestFirst(out)
	return paginate(out, f.Limit, f.Offset), nil
}

func (s *Store) ListPaymentCountdowns(_ context.Context) ([]repository.PaymentCountdown, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]repository.PaymentCountdown, 0)
	for _, p := range s.records {
		if p.Status != entity.StatusPaymentPending || p.Payment == nil {
			continue
		}
		out = append(out, repository.PaymentCountdown{
			ID:            p.ID,
			Number:        p.Number,
			DueDate:       p.Payment.DueDate,
			DaysRemaining: p.Payment.DaysRemaining,
			IndustrialID:  p.Industrial.ID,
			CarrierID:     p.Carrier.ID,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (s *Store) UpdateDaysRemaining(_ context.Context, id string, days int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.records[id]
	if !ok || p.Status != entity.StatusPaymentPending || p.Payment == nil {
		return false, nil
	}
	next := p.Clone()
	next.Payment.DaysRemaining = days
	s.records[id] = next
	return true, nil
}

func (s *Store) Stats(_ context.Context, f repository.StatsFilter) (*repository.PreInvoiceStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := &repository.PreInvoiceStats{
		ByStatus: make(map[entity.PreInvoiceStatus]int),
		ByMonth:  make(map[int]repository.MonthStats),
	}
	for _, p := range s.records {
		if p.Period.Year != f.Year {
			continue
		}
		if f.IndustrialID != "" && p.Industrial.ID != f.IndustrialID {
			continue
		}
		if f.CarrierID != "" && p.Carrier.ID != f.CarrierID {
			continue
		}
		ttc := p.Totals.TotalTTC
		st.Total++
		st.TotalAmount = st.TotalAmount.Add(ttc)
		st.ByStatus[p.Status]++
		m := st.ByMonth[p.Period.Month]
		m.Count++
		m.Amount = m.Amount.Add(ttc)
		st.ByMonth[p.Period.Month] = m
		switch p.Status {
		case entity.StatusPaymentPending:
			st.PendingPayments++
			st.PendingAmount = st.PendingAmount.Add(p.PayableAmount())
		case entity.StatusPaid:
			st.PaidAmount = st.PaidAmount.Add(paidAmount(p))
		}
	}
	return st, nil
}

func paidAmount(p *entity.PreInvoice) decimal.Decimal {
	if p.Payment != nil && p.Payment.PaidAmount.Valid {
		return p.Payment.PaidAmount.Decimal
	}
	return p.Totals.TotalTTC
}

// txView vista de una transacción: lee primero lo escrito en la tx.
type txView struct {
	store  *Store
	staged map[string]*entity.PreInvoice
}

func (tx *txView) current(id string) *entity.PreInvoice {
	if p, ok := tx.staged[id]; ok {
		return p.Clone()
	}
	return tx.store.get(id)
}

func (tx *txView) Create(_ context.Context, p *entity.PreInvoice) error {
	if p.ID == "" {
		return domain.NewValidationError("id", "obligatorio")
	}
	if tx.current(p.ID) != nil {
		return fmt.Errorf("%w: prefactura %s", domain.ErrDuplicate, p.ID)
	}
	for _, other := range tx.all() {
		if other.Number == p.Number {
			return fmt.Errorf("%w: número %s", domain.ErrDuplicate, p.Number)
		}
		if matchesKey(keyOf(p))(other) {
			return fmt.Errorf("%w: periodo %s ya agregado", domain.ErrDuplicate, p.Period.Key())
		}
	}
	p.Version = 1
	tx.staged[p.ID] = p.Clone()
	return nil
}

func (tx *txView) Update(_ context.Context, p *entity.PreInvoice, expectedVersion int64) error {
	stored := tx.current(p.ID)
	if stored == nil || stored.Version != expectedVersion {
		return &domain.ConcurrencyConflictError{ID: p.ID, Version: expectedVersion}
	}
	p.Version = expectedVersion + 1
	tx.staged[p.ID] = p.Clone()
	return nil
}

func (tx *txView) GetByID(_ context.Context, id string) (*entity.PreInvoice, error) {
	return tx.current(id), nil
}

func (tx *txView) GetByNumber(_ context.Context, number string) (*entity.PreInvoice, error) {
	for _, p := range tx.all() {
		if p.Number == number {
			return p, nil
		}
	}
	return nil, nil
}

func (tx *txView) GetByKey(_ context.Context, key repository.PreInvoiceKey) (*entity.PreInvoice, error) {
	match := matchesKey(key)
	for _, p := range tx.all() {
		if match(p) {
			return p, nil
		}
	}
	return nil, nil
}

func (tx *txView) List(_ context.Context, f repository.PreInvoiceFilter) ([]*entity.PreInvoice, error) {
	out := make([]*entity.PreInvoice, 0)
	for _, p := range tx.all() {
		if matchesFilter(p, f) {
			out = append(out, p)
		}
	}
	sortNewestFirst(out)
	return paginate(out, f.Limit, f.Offset), nil
}

func (tx *txView) ListPaymentCountdowns(ctx context.Context) ([]repository.PaymentCountdown, error) {
	return tx.store.ListPaymentCountdowns(ctx)
}

func (tx *txView) UpdateDaysRemaining(_ context.Context, id string, days int) (bool, error) {
	p := tx.current(id)
	if p == nil || p.Status != entity.StatusPaymentPending || p.Payment == nil {
		return false, nil
	}
	p.Payment.DaysRemaining = days
	tx.staged[id] = p
	return true, nil
}

func (tx *txView) Stats(ctx context.Context, f repository.StatsFilter) (*repository.PreInvoiceStats, error) {
	return tx.store.Stats(ctx, f)
}

// all une lo almacenado con lo escrito en la tx (copias).
func (tx *txView) all() []*entity.PreInvoice {
	tx.store.mu.RLock()
	out := make([]*entity.PreInvoice, 0, len(tx.store.records)+len(tx.staged))
	for id, p := range tx.store.records {
		if _, ok := tx.staged[id]; !ok {
			out = append(out, p.Clone())
		}
	}
	tx.store.mu.RUnlock()
	for _, p := range tx.staged {
		out = append(out, p.Clone())
	}
	return out
}

func keyOf(p *entity.PreInvoice) repository.PreInvoiceKey {
	return repository.PreInvoiceKey{
		CarrierID:    p.Carrier.ID,
		IndustrialID: p.Industrial.ID,
		Year:         p.Period.Year,
		Month:        p.Period.Month,
	}
}

func matchesKey(key repository.PreInvoiceKey) func(*entity.PreInvoice) bool {
	return func(p *entity.PreInvoice) bool {
		return keyOf(p) == key
	}
}

func matchesFilter(p *entity.PreInvoice, f repository.PreInvoiceFilter) bool {
	if f.IndustrialID != "" && p.Industrial.ID != f.IndustrialID {
		return false
	}
	if f.CarrierID != "" && p.Carrier.ID != f.CarrierID {
		return false
	}
	if f.Month != 0 && p.Period.Month != f.Month {
		return false
	}
	if f.Year != 0 && p.Period.Year != f.Year {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, st := range f.Statuses {
		if p.Status == st {
			return true
		}
	}
	return false
}

func sortNewestFirst(list []*entity.PreInvoice) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.Period.Year != b.Period.Year {
			return a.Period.Year > b.Period.Year
		}
		if a.Period.Month != b.Period.Month {
			return a.Period.Month > b.Period.Month
		}
		return a.Number < b.Number
	})
}

func paginate(list []*entity.PreInvoice, limit, offset int) []*entity.PreInvoice {
	if offset > 0 {
		if offset >= len(list) {
			return []*entity.PreInvoice{}
		}
		list = list[offset:]
	}
	if limit > 0 && limit < len(list) {
		list = list[:limit]
	}
	return list
}
