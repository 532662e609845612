package recorder

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/do/v2"

	"github.com/calldeck/callscribe/internal/config"
	"github.com/calldeck/callscribe/internal/recorder"
)

const databaseInitTimeout = 15 * time.Second

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (recorder.EventStore, error) {
		cfg := do.MustInvoke[*config.Config](i)
		switch cfg.EventStore {
		case config.StoreDynamoDB:
			ac := do.MustInvoke[aws.Config](i)
			return NewDynamoEventStore(dynamodb.NewFromConfig(ac), cfg.EventTableName), nil
		case config.StorePostgres:
			return newPostgresStore(cfg)
		default:
			return nil, fmt.Errorf("unknown event store %q", cfg.EventStore)
		}
	})
	do.Provide(injector, func(i do.Injector) (recorder.EventBus, error) {
		cfg := do.MustInvoke[*config.Config](i)
		ac := do.MustInvoke[aws.Config](i)
		return NewEventBridgeBus(eventbridge.NewFromConfig(ac), cfg.EventBusName), nil
	})
}

func newPostgresStore(cfg *config.Config) (recorder.EventStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), databaseInitTimeout)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := RunMigration(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migration: %w", err)
	}
	return NewPostgresEventStore(pool), nil
}
