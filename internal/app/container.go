// Package app arma las dependencias compartidas por la API y los procesos por lotes.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/symphonia/preinvoice-api/internal/application/billing"
	"github.com/symphonia/preinvoice-api/internal/domain/entity"
	"github.com/symphonia/preinvoice-api/internal/domain/preinvoice"
	"github.com/symphonia/preinvoice-api/internal/domain/repository"
	"github.com/symphonia/preinvoice-api/internal/infrastructure/memory"
	"github.com/symphonia/preinvoice-api/internal/infrastructure/metrics"
	"github.com/symphonia/preinvoice-api/internal/infrastructure/notify"
	infrapdf "github.com/symphonia/preinvoice-api/internal/infrastructure/pdf"
	"github.com/symphonia/preinvoice-api/internal/infrastructure/postgres"
	infraredis "github.com/symphonia/preinvoice-api/internal/infrastructure/redis"
	"github.com/symphonia/preinvoice-api/pkg/config"
)

// Container casos de uso listos para usar más los recursos que hay que cerrar.
type Container struct {
	Aggregate *billing.AggregateUseCase
	Workflow  *billing.WorkflowUseCase
	Countdown *billing.CountdownUseCase
	Query     *billing.QueryUseCase
	Export    *billing.SettlementExportUseCase
	PDF       *billing.PDFUseCase
	Metrics   *metrics.Prometheus
	Notifier  *billing.AsyncNotifier
	Clock     billing.Clock

	closers []func()
}

type storage struct {
	txRunner billing.PreInvoiceTxRunner
	repo     repository.PreInvoiceRepository
	facts    billing.TransportFactSource
	parties  billing.PartyDirectory
	terms    billing.ContractTermsProvider
}

// DefaultTerms condiciones contractuales por defecto tomadas de la configuración.
func DefaultTerms(cfg config.BillingConfig) entity.ContractTerms {
	return entity.ContractTerms{
		WaitingHourlyRate:   cfg.WaitingHourlyRate,
		DelayPenaltyPerHour: cfg.DelayPenaltyPerHour,
		TVARate:             cfg.TVARate,
		PaymentTermDays:     cfg.PaymentTermDays,
	}
}

// New conecta almacenamiento, bloqueo, notificaciones y métricas según cfg.
// El llamador debe invocar Close al terminar.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Container, error) {
	c := &Container{Clock: func() time.Time { return time.Now().UTC() }}

	st, err := c.openStorage(ctx, cfg, log)
	if err != nil {
		c.Close()
		return nil, err
	}

	var locker billing.AggregationLocker = memory.NewKeyLocker()
	if cfg.Redis.Addr != "" {
		client, err := infraredis.NewClient(cfg.Redis)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.closers = append(c.closers, func() { _ = client.Close() })
		locker = infraredis.NewAggregationLock(client, cfg.Redis.LockTTL)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("bloqueo de agregación en Redis")
	}

	var sink billing.Notifier = notify.NewLogNotifier(log)
	if cfg.RabbitMQ.URL != "" {
		rmq, err := notify.NewRabbitMQNotifier(cfg.RabbitMQ.URL, cfg.RabbitMQ.Queue)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.closers = append(c.closers, func() { _ = rmq.Close() })
		sink = rmq
		log.Info().Str("queue", cfg.RabbitMQ.Queue).Msg("notificaciones publicadas en RabbitMQ")
	}

	c.Metrics = metrics.New()
	c.Notifier = billing.NewAsyncNotifier(sink, log, c.Metrics, cfg.Billing.NotificationTimeout)
	reconciler := preinvoice.NewReconciler(cfg.Billing.AutoAcceptThresholdPct, cfg.Billing.AutoAcceptInclusive)
	workers := cfg.Billing.Workers

	c.Aggregate = billing.NewAggregateUseCase(st.txRunner, st.facts, st.parties, st.terms, locker, c.Metrics, log, c.Clock, workers)
	c.Workflow = billing.NewWorkflowUseCase(st.txRunner, st.repo, reconciler, c.Notifier, c.Metrics, log, c.Clock, workers)
	c.Countdown = billing.NewCountdownUseCase(st.repo, c.Notifier, c.Metrics, log, c.Clock, workers, cfg.Billing.ReminderDays)
	c.Query = billing.NewQueryUseCase(st.repo)
	c.Export = billing.NewSettlementExportUseCase(st.repo, c.Clock)
	c.PDF = billing.NewPDFUseCase(st.repo, infrapdf.NewMarotoPDFGenerator())
	return c, nil
}

func (c *Container) openStorage(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*storage, error) {
	defaults := DefaultTerms(cfg.Billing)

	if cfg.App.Storage == "memory" {
		store := memory.NewStore()
		dir := memory.NewDirectory(defaults)
		if cfg.App.SeedFile != "" {
			if err := dir.LoadSeed(cfg.App.SeedFile); err != nil {
				return nil, err
			}
		}
		log.Warn().Msg("almacenamiento en memoria: los datos se pierden al reiniciar")
		return &storage{txRunner: store, repo: store, facts: dir, parties: dir, terms: dir}, nil
	}

	if cfg.DB.Migrate {
		if err := postgres.Migrate(cfg.DB.ConnectionString()); err != nil {
			return nil, err
		}
		log.Info().Msg("migraciones aplicadas")
	}
	pool, err := postgres.NewPool(ctx, cfg.DB, cfg.Billing.Workers)
	if err != nil {
		return nil, fmt.Errorf("conexión a PostgreSQL: %w", err)
	}
	c.closers = append(c.closers, pool.Close)
	return pgStorage(pool, defaults), nil
}

func pgStorage(pool *pgxpool.Pool, defaults entity.ContractTerms) *storage {
	return &storage{
		txRunner: postgres.NewTxRunner(pool),
		repo:     postgres.NewPreInvoiceRepository(pool),
		facts:    postgres.NewTransportFactReader(pool),
		parties:  postgres.NewPartyReader(pool),
		terms:    postgres.NewContractTermsReader(pool, defaults),
	}
}

// Close espera las notificaciones pendientes y libera conexiones en orden inverso.
func (c *Container) Close() {
	c.Notifier.Wait()
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}
