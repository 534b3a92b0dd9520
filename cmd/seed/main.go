package main

import (
	"context"

	common_models "crm-sync/internal/common/models"
	"crm-sync/internal/config"
	"crm-sync/internal/database"
	"crm-sync/internal/features/connection"
	"crm-sync/internal/features/mapping"
	"crm-sync/internal/logger"
	"crm-sync/internal/providers"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// Seed creates a demo Dynamics connection with a contact -> user mapping so
// a fresh environment has something to sync against.
func Seed(
	lc fx.Lifecycle,
	connRepo connection.ConnectionRepository,
	mappingRepo mapping.EntityMappingRepository,
	logger *zap.Logger,
	shutdowner fx.Shutdowner,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				defer func() {
					if err := shutdowner.Shutdown(); err != nil {
						logger.Error("Failed to shutdown", zap.Error(err))
					}
				}()

				logger.Info("Seeding demo connection and mappings...")

				demoName := "Demo Dynamics 365"
				existing, err := connRepo.List(ctx)
				if err == nil {
					for i := range existing {
						if existing[i].Name == demoName {
							logger.Info("Demo connection exists, skipping")
							return
						}
					}
				}

				conn := &connection.Connection{
					Name:                demoName,
					ProviderType:        providers.ProviderDynamics365,
					EnvironmentURL:      "https://demo.crm.dynamics.com",
					WebhookSecret:       "demo-webhook-secret",
					DefaultDirection:    common_models.DirectionBidirectional,
					SyncIntervalMinutes: 15,
					IsEnabled:           false,
				}
				if err := connRepo.Create(ctx, conn); err != nil {
					logger.Error("Failed to seed connection", zap.Error(err))
					return
				}

				contactMapping := &mapping.EntityMapping{
					ConnectionID:       conn.ID,
					CrmEntityName:      "contact",
					PlatformEntityType: common_models.EntityTypeUser,
					PrimaryKeyField:    "contactid",
					ModifiedDateField:  "modifiedon",
					IsEnabled:          true,
					DisplayOrder:       1,
					FieldMappings: []mapping.FieldMapping{
						{PlatformField: "first_name", CrmField: "firstname", IsRequired: true, DisplayOrder: 1},
						{PlatformField: "last_name", CrmField: "lastname", DisplayOrder: 2},
						{PlatformField: "email", CrmField: "emailaddress1", DisplayOrder: 3},
						{PlatformField: "phone", CrmField: "telephone1", DisplayOrder: 4},
					},
					RelationshipMappings: []mapping.RelationshipMapping{
						{
							PlatformField:       "company_id",
							RelatedPlatformType: common_models.EntityTypeCompany,
							CrmLookupField:      "parentcustomerid",
							CrmRelatedEntity:    "account",
							Direction:           common_models.DirectionOutbound,
							AutoCreateRelated:   true,
						},
					},
				}
				if err := mappingRepo.Create(ctx, contactMapping); err != nil {
					logger.Error("Failed to seed contact mapping", zap.Error(err))
					return
				}

				accountMapping := &mapping.EntityMapping{
					ConnectionID:       conn.ID,
					CrmEntityName:      "account",
					PlatformEntityType: common_models.EntityTypeCompany,
					PrimaryKeyField:    "accountid",
					ModifiedDateField:  "modifiedon",
					IsEnabled:          true,
					DisplayOrder:       2,
					FieldMappings: []mapping.FieldMapping{
						{PlatformField: "name", CrmField: "name", IsRequired: true, DisplayOrder: 1},
						{PlatformField: "website", CrmField: "websiteurl", DisplayOrder: 2},
					},
				}
				if err := mappingRepo.Create(ctx, accountMapping); err != nil {
					logger.Error("Failed to seed account mapping", zap.Error(err))
					return
				}

				logger.Info("Seeding complete",
					zap.String("connectionId", conn.ID.Hex()))
			}()
			return nil
		},
	})
}

func main() {
	app := fx.New(
		fx.Provide(
			config.LoadConfig,
			logger.NewLogger,
			database.NewDatabase,
			connection.NewConnectionRepository,
			mapping.NewEntityMappingRepository,
		),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
		fx.Invoke(Seed),
	)

	app.Run()
}
