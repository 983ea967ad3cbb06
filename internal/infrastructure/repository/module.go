package repository

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"sign-vrtl/internal/config"
	"sign-vrtl/internal/domain/repository"
	"sign-vrtl/internal/infrastructure/database"
	"sign-vrtl/internal/infrastructure/memstore"
)

var Module = fx.Module("repository",
	fx.Provide(NewRepositories),
)

// Repositories is the persistence set selected by database.driver
type Repositories struct {
	fx.Out

	Requests   repository.SignRequestRepository
	Items      repository.SignRequestItemRepository
	Logs       repository.SignLogRepository
	Deliveries repository.MailDeliveryRepository
	Transactor repository.Transactor
}

func NewRepositories(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (Repositories, error) {
	if cfg.Database.Driver == config.DriverMemory {
		logger.Warn("Using in-memory storage, data is lost on restart")
		store := memstore.NewStore()
		return Repositories{
			Requests:   memstore.NewSignRequestRepository(store),
			Items:      memstore.NewSignRequestItemRepository(store),
			Logs:       memstore.NewSignLogRepository(store),
			Deliveries: memstore.NewMailDeliveryRepository(store),
			Transactor: memstore.NewTransactor(store),
		}, nil
	}

	db, err := database.NewDatabase(cfg, logger)
	if err != nil {
		return Repositories{}, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return db.Close()
		},
	})

	return Repositories{
		Requests:   NewSignRequestRepository(db, logger),
		Items:      NewSignRequestItemRepository(db, logger),
		Logs:       NewSignLogRepository(db, logger),
		Deliveries: NewMailDeliveryRepository(db, logger),
		Transactor: db,
	}, nil
}
