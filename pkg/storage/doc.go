// Package storage holds persistence configuration shared by the database,
// Redis and S3 clients.
//
// Backends live in subpackages:
//
//   - storage/postgres: primary/replica connection manager, embedded schema
//     migrations, the Redis client used for dedup markers and rate limits, and
//     the S3 client used to archive purged analytics events
//   - storage/sqlite: single-file database for local development with the
//     same schema
//
// All SQL issued by newswire uses numbered placeholders ($1, $2, ...) and
// passes timestamps as parameters, so the same statements run on both
// drivers.
package storage
