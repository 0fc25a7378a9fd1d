// Package storage persists employees, broadcasts, message contexts and the
// responses that resolve them.
//
// The only backend is SQLite (modernc.org/sqlite, accessed through sqlx).
// The schema lives in migrations/ and is applied on open; each file runs
// once and is recorded in schema_migrations.
//
// Besides pipeline state the store keeps a compact audit log of finished
// dispatches and routed replies.
package storage
