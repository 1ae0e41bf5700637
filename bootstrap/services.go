package bootstrap

import (
	"context"
	"fmt"
	"time"

	"crits/config"
	"crits/core"
	"crits/notify"
	"crits/service"
	"crits/triage"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

const tracerName = "crits/service"

// ServiceComponents holds the indicator services and their collaborators
type ServiceComponents struct {
	Indicators     *service.IndicatorService
	Importer       *service.ImportService
	Notifier       *notify.Notifier
	Queue          *triage.RedisQueue
	Dispatcher     *triage.Dispatcher
	TracerProvider *sdktrace.TracerProvider
}

// InitServices builds the indicator and import services over the repositories.
// The triage dispatcher is created only when triage is enabled; a Redis
// outage at startup disables triage instead of failing the server.
func InitServices(ctx context.Context, cfg *config.Config, sc *StorageComponents, sugar *zap.SugaredLogger) (*ServiceComponents, error) {
	parser, err := core.NewDomainParser(cfg.DomainParser.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create domain parser: %w", err)
	}

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)

	out := &ServiceComponents{
		Notifier:       notify.NewNotifier(sc.Notifications, sc.Users, sugar),
		TracerProvider: tp,
	}

	deps := service.IndicatorServiceDeps{
		Indicators:     sc.Indicators,
		Authorizer:     sc.Users,
		Domains:        sc.Domains,
		IPs:            sc.IPs,
		HostParser:     parser,
		DomainUpserter: service.NewDomainService(sc.Domains, sugar),
		IPUpserter:     service.NewIPService(sc.IPs, sugar),
		Objects:        sc.Objects,
		Registries:     sc.Registries,
		Notifications:  out.Notifier,
		Tracer:         tp.Tracer(tracerName),
	}

	if cfg.Triage.Enabled {
		if err := out.initTriage(ctx, cfg, sugar); err != nil {
			sugar.Warnw("Triage disabled", "error", err)
		} else {
			deps.Trigger = out.Dispatcher
		}
	}

	out.Indicators = service.NewIndicatorService(deps, sugar)
	out.Importer = service.NewImportService(out.Indicators, sc.Registries, sugar,
		service.WithBucketListColumn(cfg.Import.BucketListColumn),
		service.WithTicketColumn(cfg.Import.TicketColumn),
	)
	return out, nil
}

func (s *ServiceComponents) initTriage(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) error {
	queue := triage.NewRedisQueue(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize, cfg.Triage.QueueKey, sugar)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := queue.Ping(pingCtx); err != nil {
		sugar.Warn(ClassifyConnectionError(err, "Redis", cfg.Redis.Addr))
		_ = queue.Close()
		return err
	}

	dispatcher, err := triage.NewDispatcher(queue, triage.DispatcherConfig{
		Workers:        cfg.Triage.Workers,
		Backlog:        cfg.Triage.Backlog,
		EnqueueTimeout: cfg.Triage.EnqueueTimeout,
		Breaker: triage.BreakerConfig{
			MaxFailures: cfg.Triage.CircuitBreaker.MaxFailures,
			Cooldown:    cfg.Triage.CircuitBreaker.Cooldown,
		},
	}, sugar)
	if err != nil {
		_ = queue.Close()
		return err
	}

	s.Queue = queue
	s.Dispatcher = dispatcher
	sugar.Infow("Triage queue connected", "addr", cfg.Redis.Addr, "key", cfg.Triage.QueueKey)
	return nil
}

// Shutdown stops the dispatcher, closes the queue and flushes the tracer
func (s *ServiceComponents) Shutdown(ctx context.Context, sugar *zap.SugaredLogger) {
	if s == nil {
		return
	}
	if s.Dispatcher != nil {
		if err := s.Dispatcher.Stop(ctx); err != nil {
			sugar.Errorw("Triage dispatcher shutdown timed out", "error", err)
		}
	}
	if s.Queue != nil {
		if err := s.Queue.Close(); err != nil {
			sugar.Errorw("Failed to close triage queue", "error", err)
		}
	}
	if s.TracerProvider != nil {
		if err := s.TracerProvider.Shutdown(ctx); err != nil {
			sugar.Errorw("Failed to shut down tracer provider", "error", err)
		}
	}
}
