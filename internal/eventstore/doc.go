// Package eventstore provides domain.EventStore backends.
//
// Drivers:
//   - "memory": in-process maps, optionally seeded from a YAML or JSON fixture
//   - "sqlite": SQLite database file (modernc.org/sqlite, pure Go)
//   - "postgres": PostgreSQL through a pgx connection pool
//
// Any driver can be fronted by a Redis read-through cache.
package eventstore
