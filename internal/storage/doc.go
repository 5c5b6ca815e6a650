// Package storage persists the session state as opaque keyed blobs.
//
// Drivers:
//   - "memory": process-local map, lost on exit
//   - "file": one JSON file per key under a directory
//   - "sqlite": single table in a SQLite database file
//   - "redis": string keys on a Redis server, optionally prefixed
package storage
