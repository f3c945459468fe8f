//go:build wireinject
// +build wireinject

package di

import (
	"TransitWatch/pkg/config"
	"TransitWatch/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		// Infrastructure clients
		ProvideKafkaProducer,
		ProvideLogger,
		ProvideMetrics,
		ProvideRedisCache,
		ProvideClickHouseClient,

		// Domain inputs
		ProvideChart,
		ProvideEphemeris,

		// Repositories
		ProvideBlobStore,
		ProvideDedupStore,
		ProvideAlertArchive,
		ProvideWSHub,
		ProvideRedisQueue,
		ProvideNotificationSink,
		ProvideResponseCache,

		// Use cases
		ProvidePositionTracker,
		ProvidePositionMonitor,
		ProvideTransitAnalyzer,
		ProvideAlertEngine,
		ProvideRulesWatcher,
		ProvideTransitAnalysis,
		ProvideAlertArchiveHandler,
		ProvideKafkaConsumer,

		// HTTP
		ProvideHTTPHandler,
		ProvideHTTPServer,

		// Application server
		ProvideApp,
	)
	return nil, nil, nil
}
