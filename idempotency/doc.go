// Package idempotency provides shared backends for the write gateway's
// idempotency records.
//
// # Overview
//
// The gateway keeps one PendingWrite per request fingerprint. The default
// gamefi.InMemoryStore only deduplicates within a single process; the stores
// in this package let several gateway instances share write history:
//   - RedisStore: records as JSON values, terminal records expire on their own
//   - PostgresStore: records in the asset_writes table, pruned on a schedule
//
// # Usage
//
// Redis backend:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	store := idempotency.NewRedisStore(client,
//	    idempotency.WithRetention(24 * time.Hour),
//	)
//	gateway := gamefi.NewWriteGateway(ledger, gamefi.WithIdempotencyStore(store))
//
// Postgres backend with scheduled pruning:
//
//	store, err := idempotency.OpenPostgres(ctx, dsn)
//	pruner := idempotency.NewPruner(store, idempotency.WithSchedule("@every 1h"))
//	pruner.Start()
//	defer pruner.Stop()
//
// # Retention
//
// Confirmed and failed records are kept for the retention window so repeat
// submissions replay the stored outcome. Queued and submitted records are
// never removed while active.
package idempotency
