package main

import (
	"context"
	"fmt"
	"log"
	"time"

	common_api "crm-sync/internal/common/api"
	common_models "crm-sync/internal/common/models"
	"crm-sync/internal/config"
	"crm-sync/internal/database"
	"crm-sync/internal/features/connection"
	"crm-sync/internal/features/correlation"
	"crm-sync/internal/features/entity"
	"crm-sync/internal/features/mapping"
	"crm-sync/internal/features/scheduler"
	sync_feature "crm-sync/internal/features/sync"
	"crm-sync/internal/features/system"
	"crm-sync/internal/features/webhook"
	"crm-sync/internal/logger"
	"crm-sync/internal/middleware"
	"crm-sync/internal/providers"
	"crm-sync/pkg/utils"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// NewFiberServer creates a new Fiber app instance
func NewFiberServer() *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	app.Use(middleware.CORSMiddleware())

	return app
}

// AsRoute is a helper function to reduce boilerplate.
// It tags the constructor so Fx knows to add it to the "routes" group.
func AsRoute(f any) any {
	return fx.Annotate(
		f,
		fx.As(new(common_api.Route)),
		fx.ResultTags(`group:"routes"`),
	)
}

// RegisterAllRoutes takes the group "routes" (slice of interfaces)
// and calls Setup() on each one.
func RegisterAllRoutes(app *fiber.App, routes []common_api.Route) {
	for _, route := range routes {
		route.Setup(app)
	}
	log.Printf("Registered %d routes\n", len(routes))
}

var RegisterAllRoutesWithAnnotation = fx.Annotate(
	RegisterAllRoutes,
	fx.ParamTags(``, `group:"routes"`),
)

// StartServer creates a lifecycle hook to start Fiber in a goroutine
// and shut it down when the app exits.
func StartServer(lc fx.Lifecycle, app *fiber.App, cfg *config.Config) {
	utils.SetSecret(cfg.JWTSecret)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				port := fmt.Sprintf(":%s", cfg.Port)
				if err := app.Listen(port); err != nil {
					log.Fatalf("Server failed to start: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return app.Shutdown()
		},
	})
}

// InitializeIndexes ensures that necessary database indexes are created
func InitializeIndexes(lc fx.Lifecycle, mappingRepo mapping.EntityMappingRepository, correlationRepo correlation.ExternalIDRepository, logRepo sync_feature.SyncLogRepository) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()

				if err := mappingRepo.EnsureIndexes(ctx); err != nil {
					log.Printf("Failed to ensure mapping indexes: %v", err)
				}
				if err := correlationRepo.EnsureIndexes(ctx); err != nil {
					log.Printf("Failed to ensure correlation indexes: %v", err)
				}
				if err := logRepo.EnsureIndexes(ctx); err != nil {
					log.Printf("Failed to ensure sync log indexes: %v", err)
				}
			}()
			return nil
		},
	})
}

// outboundTriggerAdapter lets the entity store kick outbound pushes without
// importing the sync feature.
type outboundTriggerAdapter struct {
	svc    sync_feature.SyncService
	logger *zap.Logger
}

func (a *outboundTriggerAdapter) TriggerOutbound(ctx context.Context, entityType common_models.EntityType, platformID string) {
	if _, err := a.svc.TriggerOutboundSync(ctx, entityType, platformID); err != nil {
		a.logger.Error("outbound trigger failed",
			zap.String("entity", string(entityType)),
			zap.String("platformId", platformID),
			zap.Error(err))
	}
}

func main() {
	app := fx.New(
		fx.Provide(
			config.LoadConfig,
			logger.NewLogger,
			NewFiberServer,
			database.NewDatabase,
			providers.NewRegistry,

			connection.NewConnectionRepository,
			mapping.NewEntityMappingRepository,
			correlation.NewExternalIDRepository,
			entity.NewPlatformRecordRepository,
			sync_feature.NewSyncLogRepository,

			// Cascade purgers run on connection delete.
			func(m mapping.EntityMappingRepository, c correlation.ExternalIDRepository, l sync_feature.SyncLogRepository) []connection.CascadePurger {
				return []connection.CascadePurger{m, c, l}
			},

			connection.NewConnectionService,
			mapping.NewMappingService,
			entity.NewEntityService,
			sync_feature.NewSyncService,
			sync_feature.NewLogArchiver,
			sync_feature.NewSyncLogService,
			sync_feature.NewDiagnosticsService,
			webhook.NewIngestService,
			system.NewHub,
			scheduler.NewScheduler,

			connection.NewConnectionController,
			mapping.NewMappingController,
			entity.NewEntityController,
			sync_feature.NewSyncController,
			webhook.NewWebhookController,

			AsRoute(connection.NewConnectionApi),
			AsRoute(mapping.NewMappingApi),
			AsRoute(entity.NewEntityApi),
			AsRoute(sync_feature.NewSyncApi),
			AsRoute(webhook.NewWebhookApi),
			AsRoute(system.NewWebSocketApi),
			AsRoute(system.NewHealthApi),
		),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
		fx.Invoke(
			RegisterAllRoutesWithAnnotation,
			StartServer,
			InitializeIndexes,
			func(svc sync_feature.SyncService, hub *system.Hub) {
				svc.SetProgressSink(hub)
			},
			func(entityService entity.EntityService, syncService sync_feature.SyncService, logger *zap.Logger) {
				entityService.SetOutboundTrigger(&outboundTriggerAdapter{svc: syncService, logger: logger})
			},
			func(lc fx.Lifecycle, sched *scheduler.Scheduler) {
				lc.Append(fx.Hook{
					OnStart: func(ctx context.Context) error {
						return sched.Start()
					},
					OnStop: func(ctx context.Context) error {
						sched.Stop()
						return nil
					},
				})
			},
		),
	)

	app.Run()
}
