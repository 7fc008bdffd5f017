// Command billing-jobs ejecuta una vez los procesos programados de prefacturación.
//
//	billing-jobs aggregate [YYYY-MM]
//	billing-jobs send-monthly [YYYY-MM]
//	billing-jobs update-countdowns
//	billing-jobs export [dir]
//	billing-jobs system-token
//	billing-jobs -migrate-only
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/symphonia/preinvoice-api/internal/app"
	"github.com/symphonia/preinvoice-api/internal/domain/entity"
	"github.com/symphonia/preinvoice-api/internal/infrastructure/postgres"
	httpRouter "github.com/symphonia/preinvoice-api/internal/interfaces/http"
	"github.com/symphonia/preinvoice-api/pkg/config"
	"github.com/symphonia/preinvoice-api/pkg/logger"
)

var migrateOnlyFlag = flag.Bool("migrate-only", false, "aplicar migraciones y salir")

func main() {
	flag.Usage = func() {
		fmt.Fprintln(flag.CommandLine.Output(), "uso: billing-jobs [-migrate-only] aggregate|send-monthly [YYYY-MM] | update-countdowns | export [dir] | system-token")
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic("cargar configuración: " + err.Error())
	}
	log := logger.New(logger.Config{
		Env:     cfg.App.Env,
		Level:   cfg.App.LogLevel,
		Service: "billing-jobs",
	})

	if *migrateOnlyFlag {
		if err := postgres.Migrate(cfg.DB.ConnectionString()); err != nil {
			log.Fatal().Err(err).Msg("migraciones")
		}
		log.Info().Msg("migraciones aplicadas")
		return
	}
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	// token para que un planificador externo invoque los procesos por HTTP
	if flag.Arg(0) == "system-token" {
		tok, err := systemToken(cfg.JWT)
		if err != nil {
			log.Fatal().Err(err).Msg("emitir token de sistema")
		}
		fmt.Println(tok)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.New(ctx, cfg, log.Zerolog())
	if err != nil {
		log.Fatal().Err(err).Msg("inicializar dependencias")
	}

	job, arg := flag.Arg(0), flag.Arg(1)
	err = run(ctx, deps, job, arg, log)
	deps.Close()
	if err != nil {
		log.Error().Err(err).Str("job", job).Msg("proceso fallido")
		os.Exit(1)
	}
}

func run(ctx context.Context, deps *app.Container, job, arg string, log *logger.Logger) error {
	switch job {
	case "aggregate":
		period, err := parsePeriod(arg, deps.Clock())
		if err != nil {
			return err
		}
		res, err := deps.Aggregate.AggregatePeriod(ctx, period)
		if err != nil {
			return err
		}
		log.Info().
			Str("period", res.Period.Key()).
			Int("created", res.Created).
			Int("updated", res.Updated).
			Int("conflicts", res.Conflicts).
			Int("failed", res.Failed).
			Msg("agregación del periodo terminada")
		return nil

	case "send-monthly":
		var period *entity.BillingPeriod
		if arg != "" {
			p, err := parsePeriod(arg, deps.Clock())
			if err != nil {
				return err
			}
			period = &p
		}
		res, err := deps.Workflow.SendMonthly(ctx, period)
		if err != nil {
			return err
		}
		log.Info().Str("period", res.Period.Key()).Int("sent", res.Sent).Int("failed", res.Failed).Msg("envío mensual terminado")
		return nil

	case "update-countdowns":
		n, err := deps.Countdown.UpdateCountdowns(ctx)
		if err != nil {
			return err
		}
		log.Info().Int("updated", n).Msg("cuenta regresiva actualizada")
		return nil

	case "export":
		dir := arg
		if dir == "" {
			dir = "."
		}
		name, data, err := deps.Export.Export(ctx)
		if err != nil {
			return err
		}
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("escribir %s: %w", path, err)
		}
		log.Info().Str("file", path).Int("bytes", len(data)).Msg("exportación de pagos escrita")
		return nil
	}
	return fmt.Errorf("proceso desconocido %q", job)
}

func systemToken(cfg config.JWTConfig) (string, error) {
	ttl := time.Duration(cfg.Expiration) * time.Minute
	return httpRouter.IssueToken(cfg.Secret, cfg.Issuer, entity.SystemActor, ttl)
}
