package fx

import (
	"battle-session/internal/api"
	"battle-session/internal/config"
	"battle-session/internal/database"
	"battle-session/internal/logger"
	"battle-session/internal/repository"
	"battle-session/internal/server"
	"battle-session/internal/service"
	"battle-session/internal/store"

	"go.uber.org/fx"
)

var Module = fx.Options(
	fx.Provide(logger.New),
	fx.Provide(config.Load),
	fx.Provide(database.New),
	// store
	fx.Provide(fx.Annotate(store.NewSQLite, fx.As(new(store.Store)))),
	// repos
	fx.Provide(repository.NewSessionRepository),
	fx.Provide(fx.Annotate(repository.NewActionRepository, fx.As(new(service.ActionStore)))),
	fx.Provide(fx.Annotate(repository.NewSummaryRepository, fx.As(new(service.SummaryStore)))),
	// api client
	fx.Provide(api.NewArtworkClient),
	// svc
	fx.Provide(service.NewStatsAggregator),
	fx.Provide(service.NewPresenceTracker),
	fx.Provide(service.NewSessionService),
	fx.Provide(service.NewActionPipeline),
	// server
	fx.Provide(server.NewBattleServer),
)
