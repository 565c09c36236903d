package main

import (
	"context"
	"fmt"

	"ttlpaste/internal/config"
	"ttlpaste/internal/id"
	"ttlpaste/internal/paste"
	"ttlpaste/internal/storage"
	"ttlpaste/internal/storage/boltstore"
	"ttlpaste/internal/storage/dynamostore"
	"ttlpaste/internal/storage/memstore"
	"ttlpaste/internal/storage/mongostore"
	"ttlpaste/internal/storage/pgstore"
	"ttlpaste/internal/storage/redisstore"
	"ttlpaste/internal/storage/sqlitestore"
)

func openStore(ctx context.Context, cfg config.Storage) (storage.Store, error) {
	switch cfg.Driver {
	case config.DriverBolt:
		return boltstore.Open(cfg.Path)
	case config.DriverSQLite:
		return sqlitestore.Open(cfg.Path)
	case config.DriverPostgres:
		return pgstore.Open(ctx, cfg.DatabaseURL,
			pgstore.WithMaxOpenConns(cfg.Postgres.MaxOpenConns),
			pgstore.WithConnMaxIdleTime(cfg.Postgres.ConnMaxIdleTime),
			pgstore.WithConnMaxLifetime(cfg.Postgres.ConnMaxLifetime),
		)
	case config.DriverMongo:
		return mongostore.Open(ctx, cfg.Mongo.URI, cfg.Mongo.Database, cfg.Mongo.Collection)
	case config.DriverDynamoDB:
		return dynamostore.Open(ctx, cfg.Dynamo.Table, cfg.Dynamo.Region, cfg.Dynamo.Endpoint)
	case config.DriverRedis:
		return redisstore.Open(ctx, cfg.Redis.URL)
	case config.DriverMemory:
		return memstore.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func newIDGenerator(cfg config.ID) paste.IDGenerator {
	if cfg.Strategy == config.IDUUID {
		return id.NewUUID(cfg.Length)
	}
	return id.New(cfg.Length)
}
