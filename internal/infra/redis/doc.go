// Package redis provides the Redis adapters of the membership service.
//
//   - Client: connection management with TLS, pooling and connect retries
//   - Cache[T]: type-safe JSON cache with TTL and batch get/set
//   - TwoFactorCache: caches two-step login status in front of a user directory
//   - KeySyncPublisher: publishes organization key sync pushes over pub/sub
//
// Metrics for operations, cache hits and pool usage are exported under the
// membership_redis_* names.
package redis
